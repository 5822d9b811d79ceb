package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := LoadServer()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, StoreRedis, cfg.Backend)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.APIKeys)
}

func TestLoadServerFromEnv(t *testing.T) {
	t.Setenv("API_KEYS", "654321,abc")
	t.Setenv("STORE_BACKEND", StorePostgres)
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/users")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("SEED_FILE", "/etc/user-service/user_db.json")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, "/etc/user-service/user_db.json", cfg.SeedFile)
	assert.Equal(t, []string{"654321", "abc"}, cfg.APIKeys)
	assert.Equal(t, StorePostgres, cfg.Backend)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadServerRejectsBadDuration(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "soon")
	_, err := LoadServer()
	assert.Error(t, err)
}

func TestServerValidate(t *testing.T) {
	base := func() *Server {
		return &Server{Backend: StoreMemory, APIKeys: []string{"k"}}
	}

	tests := []struct {
		name    string
		mutate  func(*Server)
		wantErr bool
	}{
		{"valid memory", func(*Server) {}, false},
		{"unknown backend", func(c *Server) { c.Backend = "mongo" }, true},
		{"postgres without url", func(c *Server) { c.Backend = StorePostgres }, true},
		{"no keys", func(c *Server) { c.APIKeys = nil }, true},
		{"only empty keys", func(c *Server) { c.APIKeys = []string{""} }, true},
		{"mtls without files", func(c *Server) { c.EnableMTLS = true }, true},
		{"mtls with files", func(c *Server) {
			c.EnableMTLS = true
			c.CertFile, c.KeyFile, c.CAFile = "c", "k", "ca"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadClientFromEnv(t *testing.T) {
	t.Setenv("USER_SERVICE_API_KEY", "654321")
	t.Setenv("USER_SERVICE_AUTH_HEADER", "true")

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr)
	assert.Equal(t, "654321", cfg.APIKey)
	assert.True(t, cfg.AuthHeader)
}
