package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	AuthMode      string   `mapstructure:"AUTH_MODE"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer    string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL   string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience  string   `mapstructure:"AUTH_AUDIENCE"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	// Access broker tuning.
	AccessCodeTTL     time.Duration `mapstructure:"ACCESS_CODE_TTL"`
	AccessMaxAttempts int           `mapstructure:"ACCESS_MAX_ATTEMPTS"`

	// Mutation dispatcher tuning.
	DispatchShards    int `mapstructure:"DISPATCH_SHARDS"`
	DispatchQueueSize int `mapstructure:"DISPATCH_QUEUE_SIZE"`

	// Credential slots that must all be verified before a clinician profile
	// is considered trusted.
	RequiredCredentialSlots []string `mapstructure:"REQUIRED_CREDENTIAL_SLOTS"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("ACCESS_CODE_TTL", "10m")
	v.SetDefault("ACCESS_MAX_ATTEMPTS", 5)
	v.SetDefault("DISPATCH_SHARDS", 4)
	v.SetDefault("DISPATCH_QUEUE_SIZE", 256)
	v.SetDefault("REQUIRED_CREDENTIAL_SLOTS", "medical_license")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("DEFAULT_TENANT")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("ACCESS_CODE_TTL")
	v.BindEnv("ACCESS_MAX_ATTEMPTS")
	v.BindEnv("DISPATCH_SHARDS")
	v.BindEnv("DISPATCH_QUEUE_SIZE")
	v.BindEnv("REQUIRED_CREDENTIAL_SLOTS")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.RequiredCredentialSlots == nil {
		slots := v.GetString("REQUIRED_CREDENTIAL_SLOTS")
		if slots != "" {
			cfg.RequiredCredentialSlots = strings.Split(slots, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development → "development" (no auth, all requests get admin)
//   - Otherwise       → "external" (Keycloak, Auth0, etc.)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// Validate checks that the configuration is safe to run. In non-development
// modes an identity provider must be configured so that real JWT
// authentication is enforced.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "external" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}
	if mode == "external" && c.AuthIssuer == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_JWKS_URL must be set when AUTH_MODE is \"external\" (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}

	if c.AccessCodeTTL <= 0 {
		return fmt.Errorf("ACCESS_CODE_TTL must be positive, got %s", c.AccessCodeTTL)
	}
	if c.AccessMaxAttempts < 1 {
		return fmt.Errorf("ACCESS_MAX_ATTEMPTS must be at least 1, got %d", c.AccessMaxAttempts)
	}
	if c.DispatchShards < 1 {
		return fmt.Errorf("DISPATCH_SHARDS must be at least 1, got %d", c.DispatchShards)
	}
	if c.DispatchQueueSize < 1 {
		return fmt.Errorf("DISPATCH_QUEUE_SIZE must be at least 1, got %d", c.DispatchQueueSize)
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
