package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_DATABASE_DSN": "postgres://shopforge:pw@localhost:5432/shopforge?sslmode=disable",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.MaxOpenConns != defaultDBMaxOpenConns {
		t.Errorf("unexpected default max open conns: %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.ConnMaxLifetime != defaultDBConnMaxLifetime {
		t.Errorf("unexpected default conn max lifetime: %s", cfg.Database.ConnMaxLifetime)
	}
	if cfg.Pricing.TaxRate != defaultTaxRate {
		t.Errorf("unexpected default tax rate: %f", cfg.Pricing.TaxRate)
	}
	if cfg.Pricing.FreeShippingThreshold != defaultShippingThreshold {
		t.Errorf("unexpected default free shipping threshold: %f", cfg.Pricing.FreeShippingThreshold)
	}
	if cfg.Pricing.Currency != "usd" {
		t.Errorf("expected default currency usd, got %s", cfg.Pricing.Currency)
	}
	if cfg.Events.Exchange != defaultEventsExchange {
		t.Errorf("unexpected default events exchange: %s", cfg.Events.Exchange)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != defaultIdempotencyInterval {
		t.Errorf("unexpected default cleanup interval: %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                     "9090",
		"API_SERVER_READ_TIMEOUT":             "20s",
		"API_SERVER_WRITE_TIMEOUT":            "25s",
		"API_SERVER_IDLE_TIMEOUT":             "2m",
		"API_DATABASE_DSN":                    "secret://db/dsn",
		"API_DATABASE_MAX_OPEN_CONNS":         "50",
		"API_DATABASE_MAX_IDLE_CONNS":         "10",
		"API_DATABASE_CONN_MAX_LIFETIME":      "10m",
		"API_FIREBASE_PROJECT_ID":             "sf-prod",
		"API_FIREBASE_CREDENTIALS_FILE":       "/etc/firebase/creds.json",
		"API_PSP_STRIPE_API_KEY":              "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRET":       "secret://stripe/webhook",
		"API_PRICING_TAX_RATE":                "0.2",
		"API_PRICING_FREE_SHIPPING_THRESHOLD": "75",
		"API_PRICING_FLAT_SHIPPING_FEE":       "5",
		"API_PRICING_CURRENCY":                "EUR",
		"API_EVENTS_AMQP_URL":                 "secret://amqp/url",
		"API_EVENTS_EXCHANGE":                 "shopforge.prod",
		"API_SECURITY_ENVIRONMENT":            "prod",
		"API_IDEMPOTENCY_HEADER":              "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":                 "48h",
		"API_IDEMPOTENCY_CLEANUP_INTERVAL":    "30m",
		"API_IDEMPOTENCY_CLEANUP_BATCH":       "500",
	}

	secrets := map[string]string{
		"secret://db/dsn":         "postgres://prod",
		"secret://stripe/api":     "stripe-key",
		"secret://stripe/webhook": "stripe-webhook",
		"secret://amqp/url":       "amqp://broker",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Database.DSN != "postgres://prod" {
		t.Errorf("expected resolved database dsn, got %s", cfg.Database.DSN)
	}
	if cfg.Database.MaxOpenConns != 50 || cfg.Database.MaxIdleConns != 10 {
		t.Errorf("unexpected database pool sizes: %d/%d", cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime != 10*time.Minute {
		t.Errorf("unexpected conn max lifetime: %s", cfg.Database.ConnMaxLifetime)
	}
	if cfg.Firebase.ProjectID != "sf-prod" {
		t.Errorf("unexpected firebase project %s", cfg.Firebase.ProjectID)
	}
	if cfg.Firebase.CredentialsFile != "/etc/firebase/creds.json" {
		t.Errorf("unexpected firebase credentials file %s", cfg.Firebase.CredentialsFile)
	}
	if cfg.PSP.StripeAPIKey != "stripe-key" {
		t.Errorf("expected resolved stripe api key, got %s", cfg.PSP.StripeAPIKey)
	}
	if cfg.PSP.StripeWebhookSecret != "stripe-webhook" {
		t.Errorf("expected resolved stripe webhook secret, got %s", cfg.PSP.StripeWebhookSecret)
	}
	if cfg.Pricing.TaxRate != 0.2 {
		t.Errorf("unexpected tax rate %f", cfg.Pricing.TaxRate)
	}
	if cfg.Pricing.FreeShippingThreshold != 75 {
		t.Errorf("unexpected free shipping threshold %f", cfg.Pricing.FreeShippingThreshold)
	}
	if cfg.Pricing.FlatShippingFee != 5 {
		t.Errorf("unexpected flat shipping fee %f", cfg.Pricing.FlatShippingFee)
	}
	if cfg.Pricing.Currency != "eur" {
		t.Errorf("expected currency lowercased to eur, got %s", cfg.Pricing.Currency)
	}
	if cfg.Events.AMQPURL != "amqp://broker" {
		t.Errorf("expected resolved amqp url, got %s", cfg.Events.AMQPURL)
	}
	if cfg.Events.Exchange != "shopforge.prod" {
		t.Errorf("unexpected events exchange %s", cfg.Events.Exchange)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected security environment prod, got %s", cfg.Security.Environment)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" {
		t.Errorf("unexpected idempotency header %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != 30*time.Minute {
		t.Errorf("unexpected cleanup interval %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected cleanup batch size %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_DATABASE_DSN=postgres://dot\nAPI_FIREBASE_PROJECT_ID=sf-dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Database.DSN != "postgres://dot" {
		t.Errorf("expected database dsn from dotenv, got %s", cfg.Database.DSN)
	}
	if cfg.Firebase.ProjectID != "sf-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validationErr.Fields()
	found := false
	for _, field := range fields {
		if field == "Database.DSN" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Database.DSN among missing fields, got %v", fields)
	}
}

func TestLoadRejectsInvalidTaxRate(t *testing.T) {
	env := map[string]string{
		"API_DATABASE_DSN":     "postgres://local",
		"API_PRICING_TAX_RATE": "1.5",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_DATABASE_DSN":       "postgres://local",
		"API_PSP_STRIPE_API_KEY": "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_DATABASE_DSN=postgres://dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_EVENTS_EXCHANGE", "shopforge.staging")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SERVER_PORT":         "9999",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_DATABASE_DSN"]; got != "postgres://dot" {
		t.Fatalf("expected dotenv dsn, got %s", got)
	}
	if got := values["API_EVENTS_EXCHANGE"]; got != "shopforge.staging" {
		t.Fatalf("expected system env exchange, got %s", got)
	}
	if got := values["API_SERVER_PORT"]; got != "9999" {
		t.Fatalf("expected override port, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_DATABASE_DSN": "postgres://local",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeAPIKey"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("PSP.StripeAPIKey")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	env := map[string]string{
		"API_DATABASE_DSN": "postgres://local",
	}

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "PSP.StripeWebhookSecret" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeWebhookSecret"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_DATABASE_DSN":              "postgres://local",
		"API_PSP_STRIPE_WEBHOOK_SECRET": "sm://stripe/webhook",
	}

	secrets := map[string]string{
		"secret://stripe/webhook": "legacy-secret",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.PSP.StripeWebhookSecret != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.PSP.StripeWebhookSecret)
	}
}
