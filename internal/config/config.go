// Package config provides configuration management for the authentication
// gateway. Configuration is loaded from a YAML file with environment
// variable overrides for secrets and deployment-specific values.
package config

import (
	"fmt"
	"time"
)

// Config holds all configuration settings for the gateway.
type Config struct {
	// ServiceName identifies the service in logs and traces.
	ServiceName string `json:"serviceName" yaml:"serviceName"`

	Server    ServerConfig    `json:"server" yaml:"server"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Tracing   TracingConfig   `json:"tracing" yaml:"tracing"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Provider  ProviderConfig  `json:"provider" yaml:"provider"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	RateLimit RateLimitConfig `json:"rateLimit" yaml:"rateLimit"`
	Emergency EmergencyConfig `json:"emergency" yaml:"emergency"`
	SMTP      SMTPConfig      `json:"smtp" yaml:"smtp"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int      `json:"port" yaml:"port"`
	Address         string   `json:"address" yaml:"address"`
	ReadTimeout     Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout    Duration `json:"writeTimeout" yaml:"writeTimeout"`
	IdleTimeout     Duration `json:"idleTimeout" yaml:"idleTimeout"`
	ShutdownTimeout Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`

	// TrustedProxies lists CIDRs whose forwarded-for headers are honored
	// when resolving client addresses. Empty means only the peer address
	// is trusted.
	TrustedProxies []string `json:"trustedProxies" yaml:"trustedProxies"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	Output string `json:"output" yaml:"output"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	OTLPEndpoint string  `json:"otlpEndpoint" yaml:"otlpEndpoint"`
	SamplingRate float64 `json:"samplingRate" yaml:"samplingRate"`
}

// RedisConfig holds settings for the shared cache.
type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`

	// Connection pool settings.
	PoolSize     int `json:"poolSize" yaml:"poolSize"`
	MinIdleConns int `json:"minIdleConns" yaml:"minIdleConns"`

	// Connect and read/write timeouts are configured separately so each
	// phase bounds its own share of worst-case added latency.
	ConnectTimeout Duration `json:"connectTimeout" yaml:"connectTimeout"`
	ReadTimeout    Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout   Duration `json:"writeTimeout" yaml:"writeTimeout"`

	// ReconnectInterval throttles reconnection attempts after the cache
	// has been marked unavailable.
	ReconnectInterval Duration `json:"reconnectInterval" yaml:"reconnectInterval"`

	// HealthCheckInterval is the period of the background PING probe.
	HealthCheckInterval Duration `json:"healthCheckInterval" yaml:"healthCheckInterval"`
}

// DatabaseConfig holds settings for the durable user store.
type DatabaseConfig struct {
	// DSN is the Postgres connection string.
	DSN string `json:"dsn" yaml:"dsn"`

	MaxOpenConns    int      `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int      `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}

// ProviderConfig holds identity provider settings.
type ProviderConfig struct {
	// Issuer is the OIDC issuer URL; the discovery document is fetched
	// from <issuer>/.well-known/openid-configuration.
	Issuer string `json:"issuer" yaml:"issuer"`

	// Audience is the expected token audience. Empty disables the check.
	Audience string `json:"audience" yaml:"audience"`

	// JWKSRefreshInterval is the minimum interval between JWKS refreshes.
	JWKSRefreshInterval Duration `json:"jwksRefreshInterval" yaml:"jwksRefreshInterval"`

	// RequestTimeout bounds each provider HTTP call.
	RequestTimeout Duration `json:"requestTimeout" yaml:"requestTimeout"`

	// Introspection credentials for the revocation check.
	ClientID     string `json:"clientID" yaml:"clientID"`
	ClientSecret string `json:"clientSecret" yaml:"clientSecret"`

	// Breaker settings protect the gateway from a flapping provider.
	BreakerThreshold int      `json:"breakerThreshold" yaml:"breakerThreshold"`
	BreakerTimeout   Duration `json:"breakerTimeout" yaml:"breakerTimeout"`
}

// AuthConfig holds token verification and caching settings.
type AuthConfig struct {
	// MinCredentialLength is the minimum plausible credential length;
	// shorter strings are rejected without any network call.
	MinCredentialLength int `json:"minCredentialLength" yaml:"minCredentialLength"`

	// TokenCacheTTL caps how long a verified credential is cached. The
	// effective TTL is the smaller of this and the remaining token
	// lifetime.
	TokenCacheTTL Duration `json:"tokenCacheTTL" yaml:"tokenCacheTTL"`

	// UserCacheTTL bounds how long a resolved user record is cached.
	UserCacheTTL Duration `json:"userCacheTTL" yaml:"userCacheTTL"`
}

// RateLimitConfig holds fixed-window rate limiter settings for the auth
// path.
type RateLimitConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// MaxAttempts is the number of attempts allowed per client per window.
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts"`

	// Window is the fixed window length.
	Window Duration `json:"window" yaml:"window"`
}

// EmergencyConfig holds emergency access settings.
type EmergencyConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// TokenTTL is the lifetime of a one-time recovery token.
	TokenTTL Duration `json:"tokenTTL" yaml:"tokenTTL"`

	// SessionTTL is the lifetime of the session credential issued when a
	// recovery token is consumed.
	SessionTTL Duration `json:"sessionTTL" yaml:"sessionTTL"`
}

// SMTPConfig holds the out-of-band email channel settings.
type SMTPConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Host     string   `json:"host" yaml:"host"`
	Port     int      `json:"port" yaml:"port"`
	Username string   `json:"username" yaml:"username"`
	Password string   `json:"password" yaml:"password"`
	From     string   `json:"from" yaml:"from"`
	FromName string   `json:"fromName" yaml:"fromName"`
	UseTLS   bool     `json:"useTLS" yaml:"useTLS"`
	Timeout  Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "authgate",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(120 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			SamplingRate: 0.1,
		},
		Redis: RedisConfig{
			Address:             "localhost:6379",
			KeyPrefix:           "authgate:",
			PoolSize:            20,
			MinIdleConns:        2,
			ConnectTimeout:      Duration(5 * time.Second),
			ReadTimeout:         Duration(3 * time.Second),
			WriteTimeout:        Duration(3 * time.Second),
			ReconnectInterval:   Duration(30 * time.Second),
			HealthCheckInterval: Duration(30 * time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: Duration(time.Hour),
		},
		Provider: ProviderConfig{
			JWKSRefreshInterval: Duration(15 * time.Minute),
			RequestTimeout:      Duration(5 * time.Second),
			BreakerThreshold:    5,
			BreakerTimeout:      Duration(30 * time.Second),
		},
		Auth: AuthConfig{
			MinCredentialLength: 100,
			TokenCacheTTL:       Duration(5 * time.Minute),
			UserCacheTTL:        Duration(10 * time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			MaxAttempts: 30,
			Window:      Duration(time.Minute),
		},
		Emergency: EmergencyConfig{
			Enabled:    true,
			TokenTTL:   Duration(15 * time.Minute),
			SessionTTL: Duration(time.Hour),
		},
		SMTP: SMTPConfig{
			Port:    587,
			UseTLS:  true,
			Timeout: Duration(10 * time.Second),
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.Provider.Issuer == "" {
		return fmt.Errorf("provider issuer is required")
	}
	if c.Auth.MinCredentialLength <= 0 {
		return fmt.Errorf("auth minCredentialLength must be positive, got %d", c.Auth.MinCredentialLength)
	}
	if c.Auth.TokenCacheTTL <= 0 {
		return fmt.Errorf("auth tokenCacheTTL must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxAttempts <= 0 {
			return fmt.Errorf("rateLimit maxAttempts must be positive, got %d", c.RateLimit.MaxAttempts)
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rateLimit window must be positive")
		}
	}
	if c.Emergency.Enabled {
		if c.Emergency.TokenTTL <= 0 {
			return fmt.Errorf("emergency tokenTTL must be positive")
		}
		if c.Emergency.SessionTTL <= 0 {
			return fmt.Errorf("emergency sessionTTL must be positive")
		}
	}
	if c.SMTP.Enabled && c.SMTP.Host == "" {
		return fmt.Errorf("smtp host is required when smtp is enabled")
	}
	return nil
}
