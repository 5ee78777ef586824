// Package config loads the application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/greencycle-id/rewards-core/internal/app/domain/exchange"
)

// Config is the full application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	DocumentStore DocumentStoreConfig `yaml:"document_store"`
	Auth          AuthConfig          `yaml:"auth"`
	Logging       LoggingConfig       `yaml:"logging"`
	Methods       []exchange.Method   `yaml:"exchange_methods"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds SQL database settings. Driver selects the backend:
// "postgres" uses the SQL store, "docstore" the PostgREST store, and empty
// falls back to the in-memory store.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// DocumentStoreConfig holds PostgREST endpoint settings.
type DocumentStoreConfig struct {
	URL            string `yaml:"url"`
	ServiceKey     string `yaml:"service_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// AuthConfig holds the bearer token verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

// Load reads the configuration file named by CONFIG_PATH (default
// config/config.yaml), then applies environment overrides. A missing file is
// not an error; defaults plus environment carry a dev setup.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to env
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if len(cfg.Methods) == 0 {
		cfg.Methods = defaultMethods()
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth jwt secret is required (auth.jwt_secret or JWT_SECRET)")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("DOCSTORE_URL"); v != "" {
		cfg.DocumentStore.URL = v
	}
	if v := os.Getenv("DOCSTORE_SERVICE_KEY"); v != "" {
		cfg.DocumentStore.ServiceKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func defaultMethods() []exchange.Method {
	return []exchange.Method{
		{Type: "gopay", Name: "GoPay", MinAmount: 100, MaxAmount: 100000, ConversionRate: 100, AdminFee: 1000},
		{Type: "ovo", Name: "OVO", MinAmount: 100, MaxAmount: 100000, ConversionRate: 100, AdminFee: 1000},
		{Type: "dana", Name: "DANA", MinAmount: 100, MaxAmount: 100000, ConversionRate: 100, AdminFee: 1000},
		{Type: "bank_transfer", Name: "Bank Transfer", MinAmount: 500, MaxAmount: 500000, ConversionRate: 100, AdminFee: 2500},
	}
}
