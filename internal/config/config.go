// Package config provides application configuration management.
// Configuration is loaded from environment variables when a command runs;
// command line flags given explicitly take precedence.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Server holds the configuration of the gRPC server.
type Server struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:"0.0.0.0:9090"`

	// Backend is one of memory, redis or postgres.
	Backend       string `env:"STORE_BACKEND" envDefault:"redis"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	DatabaseURL   string `env:"DATABASE_URL"`

	// SeedFile, when set, names a JSON array of users inserted at startup.
	SeedFile string `env:"SEED_FILE"`

	// APIKeys is a comma separated list of accepted keys.
	APIKeys []string `env:"API_KEYS" envSeparator:","`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	EnableMTLS bool   `env:"MTLS_ENABLED" envDefault:"false"`
	CertFile   string `env:"TLS_CERT_FILE"`
	KeyFile    string `env:"TLS_KEY_FILE"`
	CAFile     string `env:"TLS_CA_FILE"`
}

// Client holds the configuration of the command line client.
type Client struct {
	Addr       string `env:"USER_SERVICE_ADDR" envDefault:"127.0.0.1:9090"`
	APIKey     string `env:"USER_SERVICE_API_KEY"`
	Insecure   bool   `env:"USER_SERVICE_INSECURE" envDefault:"false"`
	CAFile     string `env:"USER_SERVICE_TLS_CA"`
	CertFile   string `env:"USER_SERVICE_TLS_CERT"`
	KeyFile    string `env:"USER_SERVICE_TLS_KEY"`
	AuthHeader bool   `env:"USER_SERVICE_AUTH_HEADER" envDefault:"false"`
}

// LoadServer parses the server configuration from the environment.
func LoadServer() (*Server, error) {
	cfg := &Server{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse server config: %w", err)
	}
	return cfg, nil
}

// LoadClient parses the client configuration from the environment.
func LoadClient() (*Client, error) {
	cfg := &Client{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the settings required by the chosen backend and
// transport are present.
func (c *Server) Validate() error {
	switch c.Backend {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("store backend %q requires a database url", c.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Backend)
	}
	if c.EnableMTLS && (c.CertFile == "" || c.KeyFile == "" || c.CAFile == "") {
		return fmt.Errorf("mtls mode requires --cert, --key, and --ca")
	}
	nonEmpty := 0
	for _, k := range c.APIKeys {
		if k != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return fmt.Errorf("at least one api key must be configured")
	}
	return nil
}
