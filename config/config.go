package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/nestlease/kyc/errors"
)

// Session store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
)

// ServerConfig holds all configuration for the verification service.
// Tags use mapstructure for Viper unmarshalling and env binding.
type ServerConfig struct {
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Identity provider (relying-party) settings.
	ClientID              string `mapstructure:"CLIENT_ID"`
	RedirectURI           string `mapstructure:"REDIRECT_URI"`
	AuthorizationEndpoint string `mapstructure:"AUTHORIZATION_ENDPOINT"`
	TokenEndpoint         string `mapstructure:"TOKEN_ENDPOINT"`
	UserInfoEndpoint      string `mapstructure:"USERINFO_ENDPOINT"`
	JWKSEndpoint          string `mapstructure:"JWKS_ENDPOINT"`
	UserInfoIssuer        string `mapstructure:"USERINFO_ISSUER"`

	// PrivateSigningKey is PEM (or base64-wrapped PEM) material for the
	// private_key_jwt client assertion. Never logged.
	PrivateSigningKey string `mapstructure:"PRIVATE_SIGNING_KEY"`
	SigningAlgorithm  string `mapstructure:"SIGNING_ALGORITHM"`

	Scopes          string `mapstructure:"SCOPES"`
	EssentialClaims string `mapstructure:"ESSENTIAL_CLAIMS"`
	VoluntaryClaims string `mapstructure:"VOLUNTARY_CLAIMS"`
	ClaimsLocales   string `mapstructure:"CLAIMS_LOCALES"`

	SessionTTLMin   int `mapstructure:"SESSION_TTL_MIN"`
	AssertionTTLMin int `mapstructure:"ASSERTION_TTL_MIN"`
	HTTPTimeoutSec  int `mapstructure:"HTTP_TIMEOUT_SEC"`

	// SessionStore selects the pending-session backend: memory, redis or
	// mongo.
	SessionStore string `mapstructure:"SESSION_STORE"`
	RedisAddr    string `mapstructure:"REDIS_ADDR"`
	RedisPrefix  string `mapstructure:"REDIS_PREFIX"`
	MongoURI     string `mapstructure:"MONGO_URI"`
	MongoDBName  string `mapstructure:"MONGO_DB_NAME"`
}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/nestlease-kyc/")
	v.AddConfigPath("$HOME/.nestlease-kyc")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// AutomaticEnv only resolves keys viper already knows about, so keys
	// without a default would never reach Unmarshal when supplied purely via
	// environment. Bind them explicitly.
	for _, key := range []string{
		"CLIENT_ID",
		"REDIRECT_URI",
		"AUTHORIZATION_ENDPOINT",
		"TOKEN_ENDPOINT",
		"USERINFO_ENDPOINT",
		"JWKS_ENDPOINT",
		"USERINFO_ISSUER",
		"PRIVATE_SIGNING_KEY",
		"ESSENTIAL_CLAIMS",
		"VOLUNTARY_CLAIMS",
		"CLAIMS_LOCALES",
		"REDIS_ADDR",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("OTEL_SERVICE_NAME", "nestlease-kyc")
	v.SetDefault("SIGNING_ALGORITHM", "RS256")
	v.SetDefault("SCOPES", "openid profile")
	v.SetDefault("SESSION_TTL_MIN", 10)
	v.SetDefault("ASSERTION_TTL_MIN", 5)
	v.SetDefault("HTTP_TIMEOUT_SEC", 10)
	v.SetDefault("SESSION_STORE", StoreMemory)
	v.SetDefault("REDIS_PREFIX", "nestlease")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/nestlease_dev")
	v.SetDefault("MONGO_DB_NAME", "nestlease_dev")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and env take over; any
		// other read error is real.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}

// Validate checks the fields that have no usable default. Errors name the
// offending field, never its value.
func (c *ServerConfig) Validate() error {
	required := []struct{ field, value string }{
		{"CLIENT_ID", c.ClientID},
		{"REDIRECT_URI", c.RedirectURI},
		{"AUTHORIZATION_ENDPOINT", c.AuthorizationEndpoint},
		{"TOKEN_ENDPOINT", c.TokenEndpoint},
		{"USERINFO_ENDPOINT", c.UserInfoEndpoint},
		{"JWKS_ENDPOINT", c.JWKSEndpoint},
		{"PRIVATE_SIGNING_KEY", c.PrivateSigningKey},
	}
	for _, r := range required {
		if r.value == "" {
			return apperrors.NewConfiguration(r.field, "must not be empty")
		}
	}

	switch c.SessionStore {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return apperrors.NewConfiguration("REDIS_ADDR", "required when SESSION_STORE=redis")
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return apperrors.NewConfiguration("MONGO_URI", "required when SESSION_STORE=mongo")
		}
	default:
		return apperrors.NewConfiguration("SESSION_STORE", "must be one of memory, redis, mongo")
	}
	return nil
}

// SessionTTL returns the verification session lifetime.
func (c *ServerConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMin) * time.Minute
}

// AssertionTTL returns the client assertion lifetime.
func (c *ServerConfig) AssertionTTL() time.Duration {
	return time.Duration(c.AssertionTTLMin) * time.Minute
}

// HTTPTimeout returns the provider round-trip deadline.
func (c *ServerConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

// ScopeList splits the space-separated SCOPES value.
func (c *ServerConfig) ScopeList() []string { return splitList(c.Scopes) }

// EssentialClaimList splits the space-separated ESSENTIAL_CLAIMS value.
func (c *ServerConfig) EssentialClaimList() []string { return splitList(c.EssentialClaims) }

// VoluntaryClaimList splits the space-separated VOLUNTARY_CLAIMS value.
func (c *ServerConfig) VoluntaryClaimList() []string { return splitList(c.VoluntaryClaims) }

// ClaimsLocaleList splits the space-separated CLAIMS_LOCALES value, in
// preference order.
func (c *ServerConfig) ClaimsLocaleList() []string { return splitList(c.ClaimsLocales) }

func splitList(raw string) []string {
	return strings.Fields(raw)
}
