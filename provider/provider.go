// Package provider defines the PaymentProvider collaborator interface
// spec §6 names and a Registry that selects between the Paystack and
// Flutterwave backends by ACTIVE_PAYMENT_PROVIDER, wrapping every call
// in exponential backoff per spec §5's retry rule. The core never talks
// to a payment gateway's REST API directly — only through this
// interface — the same posture chainregistry.go takes toward multiple
// chain backends, selected once at startup by name rather than
// special-cased at every call site.
package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/chigozirigeorge/verinest/config"
	"github.com/chigozirigeorge/verinest/metrics"
	"github.com/chigozirigeorge/verinest/verrors"
)

var log = logrus.WithField("subsystem", "provider")

// InitializeResult is the outcome of starting a hosted payment, per
// spec §6's `initialize` return shape.
type InitializeResult struct {
	PaymentURL string
	AccessCode string
	Reference  string
}

// VerifyResult is the outcome of checking a payment's settlement
// state, per spec §6's `verify` return shape.
type VerifyResult struct {
	Status           string
	AmountKobo       int64
	GatewayReference string
	PaidAt           *time.Time
	Channel          string
}

// AccountResult resolves a bank account number to the name on file,
// per spec §6's `resolve_account` return shape.
type AccountResult struct {
	Name string
}

// TransferResult is the outcome of initiating a payout, per spec §6's
// `initiate_transfer` return shape.
type TransferResult struct {
	Reference string
	Status    string
}

// PaymentProvider is the narrow collaborator interface spec §6 names.
// No business logic lives behind it in this repo beyond the HTTP
// translation to a specific gateway's API and the retry policy a
// Registry wraps around it.
type PaymentProvider interface {
	Initialize(ctx context.Context, email string, amountKobo int64, reference, method string, metadata map[string]interface{}) (*InitializeResult, error)
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*AccountResult, error)
	InitiateTransfer(ctx context.Context, accountNumber, bankCode string, amountKobo int64, reference, narration string) (*TransferResult, error)
}

// maxAttempts matches spec §5's "retried with exponential backoff up
// to 3 attempts" rule: one initial call plus two retries.
const maxAttempts = 3

// Registry selects one active backend by name and wraps every call to
// it in the retry policy, surfacing ProviderUnavailable on exhaustion
// per spec §5/§6.
type Registry struct {
	name   config.PaymentProviderKind
	active PaymentProvider
	m      *metrics.Metrics
}

// WithMetrics attaches a Metrics collector so each method call is
// counted under verinest_payment_provider_calls_total. Optional.
func (r *Registry) WithMetrics(m *metrics.Metrics) *Registry {
	r.m = m
	return r
}

func (r *Registry) recordCall(method string, err error) {
	if r.m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.m.ProviderCalls.WithLabelValues(method, outcome).Inc()
}

// NewRegistry builds both backends but only ever calls the one
// selected by cfg.ActivePaymentProvider; the other is kept constructed
// so switching ACTIVE_PAYMENT_PROVIDER at next startup needs no code
// change.
func NewRegistry(cfg *config.Config) *Registry {
	backends := map[config.PaymentProviderKind]PaymentProvider{
		config.ProviderPaystack:    newPaystackProvider(cfg.PaystackSecretKey),
		config.ProviderFlutterwave: newFlutterwaveProvider(cfg.FlutterwaveSecretKey),
	}
	return &Registry{
		name:   cfg.ActivePaymentProvider,
		active: backends[cfg.ActivePaymentProvider],
	}
}

func retryPolicy() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxAttempts-1)
}

func (r *Registry) Initialize(ctx context.Context, email string, amountKobo int64, reference, method string, metadata map[string]interface{}) (*InitializeResult, error) {
	var out *InitializeResult
	err := backoff.Retry(func() error {
		res, err := r.active.Initialize(ctx, email, amountKobo, reference, method, metadata)
		if err != nil {
			return err
		}
		out = res
		return nil
	}, backoff.WithContext(retryPolicy(), ctx))
	r.recordCall("initialize", err)
	if err != nil {
		log.WithError(err).WithField("provider", r.name).Warn("initialize exhausted retries")
		return nil, verrors.Wrap(verrors.KindProviderUnavailable, "payment provider unavailable", err)
	}
	return out, nil
}

func (r *Registry) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	var out *VerifyResult
	err := backoff.Retry(func() error {
		res, err := r.active.Verify(ctx, reference)
		if err != nil {
			return err
		}
		out = res
		return nil
	}, backoff.WithContext(retryPolicy(), ctx))
	r.recordCall("verify", err)
	if err != nil {
		log.WithError(err).WithField("provider", r.name).Warn("verify exhausted retries")
		return nil, verrors.Wrap(verrors.KindProviderUnavailable, "payment provider unavailable", err)
	}
	return out, nil
}

func (r *Registry) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*AccountResult, error) {
	var out *AccountResult
	err := backoff.Retry(func() error {
		res, err := r.active.ResolveAccount(ctx, accountNumber, bankCode)
		if err != nil {
			return err
		}
		out = res
		return nil
	}, backoff.WithContext(retryPolicy(), ctx))
	r.recordCall("resolve_account", err)
	if err != nil {
		log.WithError(err).WithField("provider", r.name).Warn("resolve_account exhausted retries")
		return nil, verrors.Wrap(verrors.KindProviderUnavailable, "payment provider unavailable", err)
	}
	return out, nil
}

func (r *Registry) InitiateTransfer(ctx context.Context, accountNumber, bankCode string, amountKobo int64, reference, narration string) (*TransferResult, error) {
	var out *TransferResult
	err := backoff.Retry(func() error {
		res, err := r.active.InitiateTransfer(ctx, accountNumber, bankCode, amountKobo, reference, narration)
		if err != nil {
			return err
		}
		out = res
		return nil
	}, backoff.WithContext(retryPolicy(), ctx))
	r.recordCall("initiate_transfer", err)
	if err != nil {
		log.WithError(err).WithField("provider", r.name).Warn("initiate_transfer exhausted retries")
		return nil, verrors.Wrap(verrors.KindProviderUnavailable, "payment provider unavailable", err)
	}
	return out, nil
}

var _ PaymentProvider = (*Registry)(nil)
