// Package config loads the environment variables the core reads once
// at startup (spec §6). It is a deliberately thin translation of the
// shape in the original service's config module: required variables
// fail startup immediately, optional ones carry the same defaults.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
)

// PaymentProviderKind selects which payment backend provider.Registry
// dispatches to.
type PaymentProviderKind string

const (
	ProviderPaystack     PaymentProviderKind = "paystack"
	ProviderFlutterwave  PaymentProviderKind = "flutterwave"
	defaultPort                              = 8000
	defaultSMTPHost                          = "localhost"
	defaultSMTPPort                          = 587
	defaultPaymentStub                       = "test_secret_key"
)

// Config holds every environment-derived setting the core and its
// cmd/ binaries consume. Collaborator-only settings (SMTP, payment
// provider keys) are carried here because the core constructs the
// collaborator clients at startup, even though their internals live
// outside the core (spec §1).
type Config struct {
	DatabaseURL string
	RedisURL    string

	JWTSecretKey string
	JWTMaxAgeSec int64

	AppURL string
	Port   uint16

	PaystackSecretKey     string
	FlutterwaveSecretKey  string
	ActivePaymentProvider PaymentProviderKind

	SMTPHost     string
	SMTPUsername string
	SMTPPassword string
	SMTPPort     int
	FromEmail    string

	// PlatformWalletID/PlatformOwnerID identify the wallet that
	// receives platform_fee credits out of job and order escrow
	// (spec §4.2). It is provisioned once, out of band, like any
	// other wallet, and referenced here by ID rather than looked up
	// by convention so escrow never has to special-case it.
	PlatformWalletID uuid.UUID
	PlatformOwnerID  uuid.UUID
}

// required fetches an env var or returns a descriptive error, mirroring
// the original's ".expect(...) must be set" semantics without panicking.
func required(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", fmt.Errorf("%s must be set", name)
	}
	return v, nil
}

func optional(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return fallback
}

// Load reads and validates the process environment. It is called
// exactly once, at daemon startup, per spec §6.
func Load() (*Config, error) {
	databaseURL, err := required("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := required("JWT_SECRET_KEY")
	if err != nil {
		return nil, err
	}
	jwtMaxAgeRaw, err := required("JWT_MAXAGE")
	if err != nil {
		return nil, err
	}
	jwtMaxAge, err := strconv.ParseInt(jwtMaxAgeRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("JWT_MAXAGE must be an integer: %w", err)
	}
	appURL, err := required("APP_URL")
	if err != nil {
		return nil, err
	}

	redisURL := optional("REDIS_URL", "redis://127.0.0.1:6379/0")

	port := defaultPort
	if raw := os.Getenv("PORT"); raw != "" {
		if p, perr := strconv.Atoi(raw); perr == nil {
			port = p
		}
	}

	smtpPort := defaultSMTPPort
	if raw := os.Getenv("SMTP_PORT"); raw != "" {
		if p, perr := strconv.Atoi(raw); perr == nil {
			smtpPort = p
		}
	}

	activeProvider := PaymentProviderKind(optional("ACTIVE_PAYMENT_PROVIDER", string(ProviderPaystack)))
	if activeProvider != ProviderPaystack && activeProvider != ProviderFlutterwave {
		return nil, fmt.Errorf("ACTIVE_PAYMENT_PROVIDER must be %q or %q, got %q",
			ProviderPaystack, ProviderFlutterwave, activeProvider)
	}

	platformWalletRaw, err := required("PLATFORM_WALLET_ID")
	if err != nil {
		return nil, err
	}
	platformWalletID, err := uuid.Parse(platformWalletRaw)
	if err != nil {
		return nil, fmt.Errorf("PLATFORM_WALLET_ID must be a UUID: %w", err)
	}
	platformOwnerRaw, err := required("PLATFORM_OWNER_ID")
	if err != nil {
		return nil, err
	}
	platformOwnerID, err := uuid.Parse(platformOwnerRaw)
	if err != nil {
		return nil, fmt.Errorf("PLATFORM_OWNER_ID must be a UUID: %w", err)
	}

	return &Config{
		DatabaseURL:  databaseURL,
		RedisURL:     redisURL,
		JWTSecretKey: jwtSecret,
		JWTMaxAgeSec: jwtMaxAge,
		AppURL:       appURL,
		Port:         uint16(port),

		PaystackSecretKey:     optional("PAYSTACK_SECRET_KEY", defaultPaymentStub),
		FlutterwaveSecretKey:  optional("FLUTTERWAVE_SECRET_KEY", defaultPaymentStub),
		ActivePaymentProvider: activeProvider,

		SMTPHost:     optional("SMTP_HOST", defaultSMTPHost),
		SMTPUsername: optional("SMTP_USERNAME", ""),
		SMTPPassword: optional("SMTP_PASSWORD", ""),
		SMTPPort:     smtpPort,
		FromEmail:    optional("FROM_EMAIL", "no-reply@verinest.ng"),

		PlatformWalletID: platformWalletID,
		PlatformOwnerID:  platformOwnerID,
	}, nil
}
