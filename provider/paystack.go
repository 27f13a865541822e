package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const paystackBaseURL = "https://api.paystack.co"

// paystackProvider talks to the Paystack REST API directly, grounded
// on the request/response shapes used throughout the retrieved
// marketplace payment service (transaction/initialize, transaction/
// verify, bank/resolve, transfer).
type paystackProvider struct {
	secretKey string
	baseURL   string
	http      *http.Client
}

func newPaystackProvider(secretKey string) *paystackProvider {
	return &paystackProvider{
		secretKey: secretKey,
		baseURL:   paystackBaseURL,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *paystackProvider) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
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
		Status  bool            `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	if !envelope.Status {
		return fmt.Errorf("paystack: %s", envelope.Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

func (p *paystackProvider) Initialize(ctx context.Context, email string, amountKobo int64, reference, method string, metadata map[string]interface{}) (*InitializeResult, error) {
	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	err := p.do(ctx, http.MethodPost, "/transaction/initialize", map[string]interface{}{
		"email":     email,
		"amount":    amountKobo,
		"reference": reference,
		"channels":  []string{method},
		"metadata":  metadata,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &InitializeResult{
		PaymentURL: data.AuthorizationURL,
		AccessCode: data.AccessCode,
		Reference:  data.Reference,
	}, nil
}

func (p *paystackProvider) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	var data struct {
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
		PaidAt    string `json:"paid_at"`
		Channel   string `json:"channel"`
	}
	if err := p.do(ctx, http.MethodGet, "/transaction/verify/"+reference, nil, &data); err != nil {
		return nil, err
	}
	var paidAt *time.Time
	if data.PaidAt != "" {
		if ts, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
			paidAt = &ts
		}
	}
	return &VerifyResult{
		Status:           data.Status,
		AmountKobo:       data.Amount,
		GatewayReference: data.Reference,
		PaidAt:           paidAt,
		Channel:          data.Channel,
	}, nil
}

func (p *paystackProvider) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*AccountResult, error) {
	var data struct {
		AccountName string `json:"account_name"`
	}
	path := fmt.Sprintf("/bank/resolve?account_number=%s&bank_code=%s", accountNumber, bankCode)
	if err := p.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return &AccountResult{Name: data.AccountName}, nil
}

func (p *paystackProvider) InitiateTransfer(ctx context.Context, accountNumber, bankCode string, amountKobo int64, reference, narration string) (*TransferResult, error) {
	var recipient struct {
		RecipientCode string `json:"recipient_code"`
	}
	err := p.do(ctx, http.MethodPost, "/transferrecipient", map[string]interface{}{
		"type":           "nuban",
		"account_number": accountNumber,
		"bank_code":      bankCode,
		"currency":       "NGN",
	}, &recipient)
	if err != nil {
		return nil, err
	}
	if recipient.RecipientCode == "" {
		return nil, errors.New("paystack: transfer recipient resolution returned no recipient code")
	}

	var data struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}
	err = p.do(ctx, http.MethodPost, "/transfer", map[string]interface{}{
		"source":    "balance",
		"amount":    amountKobo,
		"recipient": recipient.RecipientCode,
		"reference": reference,
		"reason":    narration,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &TransferResult{Reference: data.Reference, Status: data.Status}, nil
}

var _ PaymentProvider = (*paystackProvider)(nil)
