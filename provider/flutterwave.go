package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const flutterwaveBaseURL = "https://api.flutterwave.com/v3"

// flutterwaveProvider talks to the Flutterwave v3 REST API, the same
// initialize/verify/resolve/transfer shape as paystackProvider but
// against Flutterwave's endpoints and envelope ("status"/"message"/
// "data" with a string status field rather than a bool).
type flutterwaveProvider struct {
	secretKey string
	baseURL   string
	http      *http.Client
}

func newFlutterwaveProvider(secretKey string) *flutterwaveProvider {
	return &flutterwaveProvider{
		secretKey: secretKey,
		baseURL:   flutterwaveBaseURL,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *flutterwaveProvider) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	if envelope.Status != "success" {
		return fmt.Errorf("flutterwave: %s", envelope.Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

func (p *flutterwaveProvider) Initialize(ctx context.Context, email string, amountKobo int64, reference, method string, metadata map[string]interface{}) (*InitializeResult, error) {
	var data struct {
		Link string `json:"link"`
	}
	err := p.do(ctx, http.MethodPost, "/payments", map[string]interface{}{
		"tx_ref":          reference,
		"amount":          amountKobo / 100,
		"currency":        "NGN",
		"payment_options": method,
		"customer": map[string]interface{}{
			"email": email,
		},
		"meta": metadata,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &InitializeResult{
		PaymentURL: data.Link,
		AccessCode: reference,
		Reference:  reference,
	}, nil
}

func (p *flutterwaveProvider) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	var data struct {
		Status      string `json:"status"`
		Amount      int64  `json:"amount"`
		TxRef       string `json:"tx_ref"`
		CreatedAt   string `json:"created_at"`
		PaymentType string `json:"payment_type"`
	}
	path := "/transactions/verify_by_reference?tx_ref=" + reference
	if err := p.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	var paidAt *time.Time
	if data.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, data.CreatedAt); err == nil {
			paidAt = &ts
		}
	}
	return &VerifyResult{
		Status:           data.Status,
		AmountKobo:       data.Amount * 100,
		GatewayReference: data.TxRef,
		PaidAt:           paidAt,
		Channel:          data.PaymentType,
	}, nil
}

func (p *flutterwaveProvider) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*AccountResult, error) {
	var data struct {
		AccountName string `json:"account_name"`
	}
	err := p.do(ctx, http.MethodPost, "/accounts/resolve", map[string]interface{}{
		"account_number": accountNumber,
		"account_bank":   bankCode,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &AccountResult{Name: data.AccountName}, nil
}

func (p *flutterwaveProvider) InitiateTransfer(ctx context.Context, accountNumber, bankCode string, amountKobo int64, reference, narration string) (*TransferResult, error) {
	var data struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}
	err := p.do(ctx, http.MethodPost, "/transfers", map[string]interface{}{
		"account_bank":   bankCode,
		"account_number": accountNumber,
		"amount":         amountKobo / 100,
		"currency":       "NGN",
		"reference":      reference,
		"narration":      narration,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &TransferResult{Reference: data.Reference, Status: data.Status}, nil
}

var _ PaymentProvider = (*flutterwaveProvider)(nil)
