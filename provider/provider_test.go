package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chigozirigeorge/verinest/verrors"
)

var errAlwaysFails = errors.New("always fails")

func TestPaystackProviderInitializeAndVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/transaction/initialize":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true, "message": "ok",
				"data": map[string]interface{}{
					"authorization_url": "https://paystack.test/pay/abc",
					"access_code":       "abc",
					"reference":         "ref-1",
				},
			})
		case "/transaction/verify/ref-1":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true, "message": "ok",
				"data": map[string]interface{}{
					"status":    "success",
					"amount":    50000,
					"reference": "ref-1",
					"channel":   "card",
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]interface{}{"status": false, "message": "not found"})
		}
	}))
	defer srv.Close()

	p := newPaystackProvider("sk_test")
	p.baseURL = srv.URL

	init, err := p.Initialize(context.Background(), "a@b.com", 50000, "ref-1", "card", nil)
	require.NoError(t, err)
	require.Equal(t, "ref-1", init.Reference)
	require.Equal(t, "https://paystack.test/pay/abc", init.PaymentURL)

	verify, err := p.Verify(context.Background(), "ref-1")
	require.NoError(t, err)
	require.Equal(t, "success", verify.Status)
	require.Equal(t, int64(50000), verify.AmountKobo)
}

func TestPaystackProviderSurfacesGatewayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": false, "message": "invalid reference"})
	}))
	defer srv.Close()

	p := newPaystackProvider("sk_test")
	p.baseURL = srv.URL

	_, err := p.Verify(context.Background(), "bogus")
	require.Error(t, err)
}

func TestFlutterwaveProviderInitializeAndVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer flw_test", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/payments":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "success", "message": "ok",
				"data": map[string]interface{}{
					"link": "https://flutterwave.test/pay/xyz",
				},
			})
		case "/transactions/verify_by_reference":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "success", "message": "ok",
				"data": map[string]interface{}{
					"status":       "successful",
					"amount":       500,
					"tx_ref":       "ref-2",
					"payment_type": "card",
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]interface{}{"status": "error", "message": "not found"})
		}
	}))
	defer srv.Close()

	p := newFlutterwaveProvider("flw_test")
	p.baseURL = srv.URL

	init, err := p.Initialize(context.Background(), "a@b.com", 50000, "ref-2", "card", nil)
	require.NoError(t, err)
	require.Equal(t, "https://flutterwave.test/pay/xyz", init.PaymentURL)

	verify, err := p.Verify(context.Background(), "ref-2")
	require.NoError(t, err)
	require.Equal(t, "successful", verify.Status)
	require.Equal(t, "ref-2", verify.GatewayReference)
}

func TestRegistryWrapsExhaustedRetriesAsProviderUnavailable(t *testing.T) {
	reg := &Registry{
		name:   "paystack",
		active: failingProvider{},
	}
	_, err := reg.Verify(context.Background(), "whatever")
	require.Error(t, err)
	require.Equal(t, verrors.KindProviderUnavailable, verrors.KindOf(err))
}

// failingProvider always fails, letting the retry/backoff wrapping in
// Registry be exercised without a real network dependency.
type failingProvider struct{}

func (failingProvider) Initialize(ctx context.Context, email string, amountKobo int64, reference, method string, metadata map[string]interface{}) (*InitializeResult, error) {
	return nil, errAlwaysFails
}
func (failingProvider) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	return nil, errAlwaysFails
}
func (failingProvider) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*AccountResult, error) {
	return nil, errAlwaysFails
}
func (failingProvider) InitiateTransfer(ctx context.Context, accountNumber, bankCode string, amountKobo int64, reference, narration string) (*TransferResult, error) {
	return nil, errAlwaysFails
}
