package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile               = ".env"
	defaultPort                  = "8080"
	defaultReadTimeout           = 15 * time.Second
	defaultWriteTimeout          = 30 * time.Second
	defaultIdleTimeout           = 120 * time.Second
	defaultRequestTimeout        = 20 * time.Second
	defaultTransactionTopic      = "register-transactions"
	defaultShiftTopic            = "register-shifts"
	defaultPricingModel          = "STANDARD"
	defaultSurchargeType         = "PERCENTAGE"
	defaultSurcharge             = "3.99"
	defaultTaxRate               = "0"
	defaultPromotionTimeout      = 2 * time.Second
	defaultVarianceNoteThreshold = "5.00"
	defaultCurrency              = "usd"
	defaultCardConfirmTimeout    = 15 * time.Second
	defaultIdempotencyHeader     = "Idempotency-Key"
	defaultIdempotencyTTL        = 24 * time.Hour
	defaultIdempotencyInterval   = time.Hour
	defaultScanRateLimit         = 10
	defaultScanRateWindow        = time.Second
	defaultHealthCheckTimeout    = 1500 * time.Millisecond
	defaultBuildVersion          = "dev"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	Pricing     PricingConfig
	Promotions  PromotionsConfig
	Shift       ShiftConfig
	Payments    PaymentsConfig
	Idempotency IdempotencyConfig
	Build       BuildConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	ScanRateLimit  int
	ScanRateWindow time.Duration
	HealthTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topics completed transactions and closed shifts are published to.
type PubSubConfig struct {
	ProjectID        string
	TransactionTopic string
	ShiftTopic       string
}

// StorageConfig lists buckets used by the service.
type StorageConfig struct {
	ReportsBucket string
}

// PricingConfig holds store-wide pricing defaults applied to every station.
type PricingConfig struct {
	Model           string
	SurchargeType   string
	Surcharge       decimal.Decimal
	DefaultTaxRate  decimal.Decimal
	ShowDualPricing bool
}

// PromotionsConfig points at the remote promotion evaluation service.
type PromotionsConfig struct {
	Endpoint  string
	Timeout   time.Duration
	AuthToken string
}

// ShiftConfig controls shift close rules.
type ShiftConfig struct {
	VarianceNoteThreshold decimal.Decimal
}

// PaymentsConfig collects card processor settings.
type PaymentsConfig struct {
	StripeAPIKey   string
	StripeAccount  string
	// StripeReaders maps station ids to Stripe Terminal reader ids ("lane-1=tmr_1,lane-2=tmr_2").
	StripeReaders  map[string]string
	Currency       string
	// ConfirmTimeout bounds the wait for the customer to present a card at the reader.
	ConfirmTimeout time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header          string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// BuildConfig identifies the running build for health endpoints.
type BuildConfig struct {
	Version   string
	CommitSHA string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Lookup returns the effective value of a single key using the same precedence as Load
// (dotenv < OS env < explicit map). It lets callers bootstrap dependencies such as the
// secret resolver before the full configuration is loaded.
func Lookup(key string, opts ...Option) (string, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	lookup, err := newLookup(options)
	if err != nil {
		return "", err
	}
	value, _ := lookup(key)
	return value, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	lookup, err := newLookup(options)
	if err != nil {
		return Config{}, err
	}

	var invalid []string
	decimalField := func(key, fallback, field string) decimal.Decimal {
		value, ok := decimalWithDefault(lookup, key, fallback)
		if !ok {
			invalid = append(invalid, field)
		}
		return value
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "REGISTER_SERVER_PORT", defaultPort),
			ReadTimeout:    durationWithDefault(lookup, "REGISTER_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "REGISTER_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "REGISTER_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: durationWithDefault(lookup, "REGISTER_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
			ScanRateLimit:  intWithDefault(lookup, "REGISTER_SERVER_SCAN_RATE_LIMIT", defaultScanRateLimit),
			ScanRateWindow: durationWithDefault(lookup, "REGISTER_SERVER_SCAN_RATE_WINDOW", defaultScanRateWindow),
			HealthTimeout:  durationWithDefault(lookup, "REGISTER_SERVER_HEALTH_TIMEOUT", defaultHealthCheckTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "REGISTER_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "REGISTER_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "REGISTER_PUBSUB_PROJECT_ID", ""),
			TransactionTopic: stringWithDefault(lookup, "REGISTER_PUBSUB_TRANSACTION_TOPIC", defaultTransactionTopic),
			ShiftTopic:       stringWithDefault(lookup, "REGISTER_PUBSUB_SHIFT_TOPIC", defaultShiftTopic),
		},
		Storage: StorageConfig{
			ReportsBucket: stringWithDefault(lookup, "REGISTER_STORAGE_REPORTS_BUCKET", ""),
		},
		Pricing: PricingConfig{
			Model:           strings.ToUpper(stringWithDefault(lookup, "REGISTER_PRICING_MODEL", defaultPricingModel)),
			SurchargeType:   strings.ToUpper(stringWithDefault(lookup, "REGISTER_PRICING_SURCHARGE_TYPE", defaultSurchargeType)),
			Surcharge:       decimalField("REGISTER_PRICING_SURCHARGE", defaultSurcharge, "Pricing.Surcharge"),
			DefaultTaxRate:  decimalField("REGISTER_PRICING_TAX_RATE", defaultTaxRate, "Pricing.DefaultTaxRate"),
			ShowDualPricing: boolWithDefault(lookup, "REGISTER_PRICING_SHOW_DUAL", false),
		},
		Promotions: PromotionsConfig{
			Endpoint:  stringWithDefault(lookup, "REGISTER_PROMOTIONS_ENDPOINT", ""),
			Timeout:   durationWithDefault(lookup, "REGISTER_PROMOTIONS_TIMEOUT", defaultPromotionTimeout),
			AuthToken: stringWithDefault(lookup, "REGISTER_PROMOTIONS_AUTH_TOKEN", ""),
		},
		Shift: ShiftConfig{
			VarianceNoteThreshold: decimalField("REGISTER_SHIFT_VARIANCE_NOTE_THRESHOLD", defaultVarianceNoteThreshold, "Shift.VarianceNoteThreshold"),
		},
		Payments: PaymentsConfig{
			StripeAPIKey:   stringWithDefault(lookup, "REGISTER_PAYMENTS_STRIPE_API_KEY", ""),
			StripeAccount:  stringWithDefault(lookup, "REGISTER_PAYMENTS_STRIPE_ACCOUNT", ""),
			StripeReaders:  keyValueList(stringWithDefault(lookup, "REGISTER_PAYMENTS_STRIPE_READERS", "")),
			Currency:       strings.ToLower(stringWithDefault(lookup, "REGISTER_PAYMENTS_CURRENCY", defaultCurrency)),
			ConfirmTimeout: durationWithDefault(lookup, "REGISTER_PAYMENTS_CONFIRM_TIMEOUT", defaultCardConfirmTimeout),
		},
		Idempotency: IdempotencyConfig{
			Header:          stringWithDefault(lookup, "REGISTER_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:             durationWithDefault(lookup, "REGISTER_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval: durationWithDefault(lookup, "REGISTER_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
		},
		Build: BuildConfig{
			Version:   stringWithDefault(lookup, "REGISTER_BUILD_VERSION", defaultBuildVersion),
			CommitSHA: stringWithDefault(lookup, "REGISTER_BUILD_COMMIT_SHA", "unknown"),
		},
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	secretFields := []*string{
		&cfg.Promotions.AuthToken,
		&cfg.Payments.StripeAPIKey,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
}

func newLookup(options loaderOptions) (func(string) (string, bool), error) {
	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	switch cfg.Pricing.Model {
	case "STANDARD", "DUAL_PRICING":
	default:
		missing = append(missing, "Pricing.Model")
	}
	switch cfg.Pricing.SurchargeType {
	case "PERCENTAGE", "FLAT_AMOUNT":
	default:
		missing = append(missing, "Pricing.SurchargeType")
	}
	if cfg.Pricing.Surcharge.IsNegative() {
		missing = append(missing, "Pricing.Surcharge")
	}
	if cfg.Pricing.DefaultTaxRate.IsNegative() {
		missing = append(missing, "Pricing.DefaultTaxRate")
	}
	if cfg.Shift.VarianceNoteThreshold.IsNegative() {
		missing = append(missing, "Shift.VarianceNoteThreshold")
	}
	if cfg.Promotions.Timeout <= 0 {
		missing = append(missing, "Promotions.Timeout")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Server.ScanRateLimit < 0 {
		missing = append(missing, "Server.ScanRateLimit")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return n
		}
	}
	return fallback
}

// keyValueList parses "a=1,b=2". Entries without a key or value are skipped.
func keyValueList(raw string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func decimalWithDefault(lookup func(string) (string, bool), key, fallback string) (decimal.Decimal, bool) {
	raw := fallback
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		raw = strings.TrimSpace(value)
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.RequireFromString(fallback), false
	}
	return parsed, true
}
