// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// SupabaseConfig provides settings for the Supabase REST event store.
type SupabaseConfig interface {
	GetSupabaseURL() string
	GetSupabaseServiceKey() string
	IsSupabaseEnabled() bool
}

// VapiConfig provides settings for the outbound calling API client.
type VapiConfig interface {
	GetVapiAPIKey() string
	GetVapiBaseURL() string
	GetVapiAssistantID() string
	GetVapiPhoneNumberID() string
	IsVapiEnabled() bool
}

// RelayConfig provides settings for the webhook relay module.
type RelayConfig interface {
	GetWebhookSecret() string
	GetDryRun() bool
	GetDialFormat() string
	GetStrictStoreErrors() bool
	GetStrictDispatchErrors() bool
	GetExtraPhoneFields() []string
	GetExtraPlaceholderPatterns() []string
}

// RedisConfig provides settings for the replay-suppression cache.
type RedisConfig interface {
	GetRedisURL() string
	IsRedisEnabled() bool
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetEnv() string
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// Dial format modes for outbound call destinations.
const (
	DialFormatInternational = "international"
	DialFormatNational      = "national"
	DialFormatDigits        = "digits"
)

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env      string
	HTTPAddr string

	DatabaseURL string

	SupabaseURL        string
	SupabaseServiceKey string

	VapiAPIKey        string
	VapiBaseURL       string
	VapiAssistantID   string
	VapiPhoneNumberID string

	WebhookSecret        string
	DryRun               bool
	DialFormat           string
	StrictStoreErrors    bool
	StrictDispatchErrors bool

	RedisURL string

	CORSAllowAll bool
	CORSOrigins  []string

	// Overlay values from the optional relay config file.
	ExtraPhoneFields         []string
	ExtraPlaceholderPatterns []string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// SupabaseConfig implementation
func (c *Config) GetSupabaseURL() string        { return c.SupabaseURL }
func (c *Config) GetSupabaseServiceKey() string { return c.SupabaseServiceKey }
func (c *Config) IsSupabaseEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

// VapiConfig implementation
func (c *Config) GetVapiAPIKey() string        { return c.VapiAPIKey }
func (c *Config) GetVapiBaseURL() string       { return c.VapiBaseURL }
func (c *Config) GetVapiAssistantID() string   { return c.VapiAssistantID }
func (c *Config) GetVapiPhoneNumberID() string { return c.VapiPhoneNumberID }
func (c *Config) IsVapiEnabled() bool          { return c.VapiAPIKey != "" }

// RelayConfig implementation
func (c *Config) GetWebhookSecret() string              { return c.WebhookSecret }
func (c *Config) GetDryRun() bool                       { return c.DryRun }
func (c *Config) GetDialFormat() string                 { return c.DialFormat }
func (c *Config) GetStrictStoreErrors() bool            { return c.StrictStoreErrors }
func (c *Config) GetStrictDispatchErrors() bool         { return c.StrictDispatchErrors }
func (c *Config) GetExtraPhoneFields() []string         { return c.ExtraPhoneFields }
func (c *Config) GetExtraPlaceholderPatterns() []string { return c.ExtraPlaceholderPatterns }

// RedisConfig implementation
func (c *Config) GetRedisURL() string  { return c.RedisURL }
func (c *Config) IsRedisEnabled() bool { return c.RedisURL != "" }

// HTTPConfig implementation
func (c *Config) GetEnv() string           { return c.Env }
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// Load reads configuration from environment variables and, when
// RELAY_CONFIG_FILE is set, merges the YAML overlay on top.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", ""))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                  getEnv("APP_ENV", "development"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		SupabaseURL:          strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseServiceKey:   getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		VapiAPIKey:           getEnv("VAPI_API_KEY", ""),
		VapiBaseURL:          getEnv("VAPI_BASE_URL", "https://api.vapi.ai"),
		VapiAssistantID:      getEnv("VAPI_ASSISTANT_ID", ""),
		VapiPhoneNumberID:    getEnv("VAPI_PHONE_NUMBER_ID", ""),
		WebhookSecret:        getEnv("ARGUS_WEBHOOK_SECRET", ""),
		DryRun:               strings.EqualFold(getEnv("RELAY_DRY_RUN", "false"), "true"),
		DialFormat:           getEnv("RELAY_DIAL_FORMAT", DialFormatInternational),
		StrictStoreErrors:    strings.EqualFold(getEnv("RELAY_STRICT_STORE_ERRORS", "false"), "true"),
		StrictDispatchErrors: strings.EqualFold(getEnv("RELAY_STRICT_DISPATCH_ERRORS", "false"), "true"),
		RedisURL:             getEnv("REDIS_URL", ""),
		CORSAllowAll:         corsAllowAll,
		CORSOrigins:          corsOrigins,
	}

	if file := getEnv("RELAY_CONFIG_FILE", ""); file != "" {
		if err := applyOverlay(cfg, file); err != nil {
			return nil, fmt.Errorf("relay config file: %w", err)
		}
	}

	if cfg.DatabaseURL == "" && !cfg.IsSupabaseEnabled() {
		return nil, fmt.Errorf("either DATABASE_URL or SUPABASE_URL + SUPABASE_SERVICE_ROLE_KEY is required")
	}
	if !cfg.IsVapiEnabled() && !cfg.DryRun {
		return nil, fmt.Errorf("VAPI_API_KEY is required unless RELAY_DRY_RUN is true")
	}
	switch cfg.DialFormat {
	case DialFormatInternational, DialFormatNational, DialFormatDigits:
	default:
		return nil, fmt.Errorf("RELAY_DIAL_FORMAT must be one of international, national, digits")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
