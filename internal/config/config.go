package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Services a process can run as.
const (
	ServiceAuth     = "auth"
	ServiceResource = "resource"
)

// Validator modes for the resource service.
const (
	ValidatorRemote      = "remote"
	ValidatorUnavailable = "unavailable"
)

// MinSecretBytes is the minimum decoded length of JWT_SECRET.
const MinSecretBytes = 32

// MaxValidateTimeout caps AUTH_VALIDATE_TIMEOUT.
const MaxValidateTimeout = 10 * time.Second

type Config struct {
	Port                   string        `mapstructure:"PORT"`
	Env                    string        `mapstructure:"ENV"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	DBSchema               string        `mapstructure:"DB_SCHEMA"`
	DBMaxConns             int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32         `mapstructure:"DB_MIN_CONNS"`
	JWTSecret              string        `mapstructure:"JWT_SECRET"`
	JWTIssuer              string        `mapstructure:"JWT_ISSUER"`
	JWTAccessTTL           time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL          time.Duration `mapstructure:"JWT_REFRESH_TTL"`
	AuthServiceURL         string        `mapstructure:"AUTH_SERVICE_URL"`
	AuthValidator          string        `mapstructure:"AUTH_VALIDATOR"`
	AuthValidateTimeout    time.Duration `mapstructure:"AUTH_VALIDATE_TIMEOUT"`
	AuthValidationCacheTTL time.Duration `mapstructure:"AUTH_VALIDATION_CACHE_TTL"`
	CORSOrigins            []string      `mapstructure:"CORS_ORIGINS"`
	LoginRateLimitRPS      float64       `mapstructure:"LOGIN_RATE_LIMIT_RPS"`
	LoginRateLimitBurst    int           `mapstructure:"LOGIN_RATE_LIMIT_BURST"`
	LogLevel               string        `mapstructure:"LOG_LEVEL"`
	LogFile                string        `mapstructure:"LOG_FILE"`
	// TrustProxyHeaders takes the client IP from X-Forwarded-For/X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool `mapstructure:"TRUST_PROXY_HEADERS"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_SCHEMA", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"JWT_SECRET", "JWT_ISSUER", "JWT_ACCESS_TTL", "JWT_REFRESH_TTL",
	"AUTH_SERVICE_URL", "AUTH_VALIDATOR", "AUTH_VALIDATE_TIMEOUT", "AUTH_VALIDATION_CACHE_TTL",
	"CORS_ORIGINS", "LOGIN_RATE_LIMIT_RPS", "LOGIN_RATE_LIMIT_BURST", "LOG_LEVEL", "LOG_FILE",
	"TRUST_PROXY_HEADERS",
}

// Load reads configuration from the environment and an optional .env file.
// It does not check per-service requirements; call Validate for that.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("JWT_ISSUER", "ehr-auth")
	v.SetDefault("JWT_ACCESS_TTL", "24h")
	v.SetDefault("JWT_REFRESH_TTL", "168h")
	v.SetDefault("AUTH_VALIDATOR", ValidatorRemote)
	v.SetDefault("AUTH_VALIDATE_TIMEOUT", "2s")
	v.SetDefault("AUTH_VALIDATION_CACHE_TTL", "0s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("LOGIN_RATE_LIMIT_RPS", 5)
	v.SetDefault("LOGIN_RATE_LIMIT_BURST", 10)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TRUST_PROXY_HEADERS", false)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	cfg.AuthServiceURL = strings.TrimRight(strings.TrimSpace(cfg.AuthServiceURL), "/")
	cfg.AuthValidator = strings.ToLower(strings.TrimSpace(cfg.AuthValidator))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey decodes JWT_SECRET. In development an empty secret yields a
// random key, which means tokens do not survive a restart.
func (c *Config) SigningKey() (key []byte, generated bool, err error) {
	if c.JWTSecret == "" {
		if !c.IsDev() {
			return nil, false, fmt.Errorf("JWT_SECRET is required outside development")
		}
		key = make([]byte, MinSecretBytes)
		if _, err := rand.Read(key); err != nil {
			return nil, false, fmt.Errorf("generate signing key: %w", err)
		}
		return key, true, nil
	}
	key, err = hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, false, fmt.Errorf("JWT_SECRET is not valid hex: %w", err)
	}
	if len(key) < MinSecretBytes {
		return nil, false, fmt.Errorf("JWT_SECRET must decode to at least %d bytes, got %d", MinSecretBytes, len(key))
	}
	return key, false, nil
}

// Validate checks that the configuration is safe to run the given service.
func (c *Config) Validate(service string) error {
	switch service {
	case ServiceAuth:
		return c.validateAuth()
	case ServiceResource:
		return c.validateResource()
	default:
		return fmt.Errorf("unknown service %q (want %q or %q)", service, ServiceAuth, ServiceResource)
	}
}

func (c *Config) validateAuth() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the auth service")
	}
	if _, _, err := c.SigningKey(); err != nil {
		return err
	}
	if c.JWTAccessTTL <= 0 {
		return fmt.Errorf("JWT_ACCESS_TTL must be positive, got %s", c.JWTAccessTTL)
	}
	if c.JWTRefreshTTL < c.JWTAccessTTL {
		return fmt.Errorf("JWT_REFRESH_TTL (%s) must not be shorter than JWT_ACCESS_TTL (%s)", c.JWTRefreshTTL, c.JWTAccessTTL)
	}
	if c.LoginRateLimitRPS < 0 || c.LoginRateLimitBurst < 0 {
		return fmt.Errorf("LOGIN_RATE_LIMIT_RPS and LOGIN_RATE_LIMIT_BURST must not be negative")
	}
	return nil
}

func (c *Config) validateResource() error {
	switch c.AuthValidator {
	case ValidatorRemote:
		if c.AuthServiceURL == "" {
			return fmt.Errorf("AUTH_SERVICE_URL is required when AUTH_VALIDATOR is %q", ValidatorRemote)
		}
		if !strings.HasPrefix(c.AuthServiceURL, "http://") && !strings.HasPrefix(c.AuthServiceURL, "https://") {
			return fmt.Errorf("AUTH_SERVICE_URL must be an http(s) URL, got %q", c.AuthServiceURL)
		}
	case ValidatorUnavailable:
	default:
		return fmt.Errorf("AUTH_VALIDATOR must be %q or %q, got %q", ValidatorRemote, ValidatorUnavailable, c.AuthValidator)
	}
	if c.AuthValidateTimeout <= 0 || c.AuthValidateTimeout > MaxValidateTimeout {
		return fmt.Errorf("AUTH_VALIDATE_TIMEOUT must be in (0, %s], got %s", MaxValidateTimeout, c.AuthValidateTimeout)
	}
	if c.AuthValidationCacheTTL < 0 {
		return fmt.Errorf("AUTH_VALIDATION_CACHE_TTL must not be negative, got %s", c.AuthValidationCacheTTL)
	}
	return nil
}
