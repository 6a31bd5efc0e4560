package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from the YAML file at path, applies
// environment variable overrides and validates the result. An empty
// path yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFile unmarshals the YAML file at path over cfg.
func loadFile(cfg *Config, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file does not exist: %s", path)
		}
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path is a directory, not a file: %s", path)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variables over the loaded
// configuration. Only secrets and deployment-specific values are
// overridable; the full structure stays in the file.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Redis.Address, "AUTHGATE_REDIS_ADDRESS")
	setString(&cfg.Redis.Password, "AUTHGATE_REDIS_PASSWORD")
	setString(&cfg.Database.DSN, "AUTHGATE_DATABASE_DSN")
	setString(&cfg.Provider.Issuer, "AUTHGATE_PROVIDER_ISSUER")
	setString(&cfg.Provider.Audience, "AUTHGATE_PROVIDER_AUDIENCE")
	setString(&cfg.Provider.ClientID, "AUTHGATE_PROVIDER_CLIENT_ID")
	setString(&cfg.Provider.ClientSecret, "AUTHGATE_PROVIDER_CLIENT_SECRET")
	setString(&cfg.SMTP.Host, "AUTHGATE_SMTP_HOST")
	setString(&cfg.SMTP.Username, "AUTHGATE_SMTP_USERNAME")
	setString(&cfg.SMTP.Password, "AUTHGATE_SMTP_PASSWORD")
	setString(&cfg.Log.Level, "AUTHGATE_LOG_LEVEL")
	setString(&cfg.Tracing.OTLPEndpoint, "AUTHGATE_OTLP_ENDPOINT")
	setInt(&cfg.Server.Port, "AUTHGATE_SERVER_PORT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}
