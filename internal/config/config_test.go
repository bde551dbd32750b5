package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEnvOverrides(t *testing.T) {
	t.Setenv("CONVO_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("CONVO_DATABASE_DRIVER", "memory")
	t.Setenv("CONVO_HUB_ACK_TIMEOUT", "2s")
	t.Setenv("CONVO_HUB_READ_RECEIPTS", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 2*time.Second, cfg.Hub.AckTimeout)
	assert.True(t, cfg.Hub.ReadReceipts)
	assert.Equal(t, ":8083", cfg.Server.HTTPAddr)
	assert.Equal(t, 128, cfg.Hub.SendBuffer)
	assert.Equal(t, "conversation.events", cfg.AMQP.Exchange)
	assert.Equal(t, 24*time.Hour, cfg.Redis.IdempotencyTTL)
}

func TestLoadFromFileEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_addr: ":9999"
database:
  driver: postgres
  dsn: postgres://localhost/convo
auth:
  jwt_secret: from-file
hub:
  send_buffer: 16
`), 0o600))
	t.Setenv("CONVO_AUTH_JWT_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.HTTPAddr)
	assert.Equal(t, "postgres://localhost/convo", cfg.Database.DSN)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 16, cfg.Hub.SendBuffer)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	t.Setenv("CONVO_AUTH_JWT_SECRET", "x")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Database: DatabaseConfig{Driver: DriverMemory},
			Auth:     AuthConfig{JWTSecret: "x", TokenTTL: time.Hour},
			Hub:      HubConfig{AckTimeout: time.Second, WriteWait: time.Second, PongWait: time.Second, SendBuffer: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, errMsg: "auth.jwt_secret"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, errMsg: "database.driver"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Database.Driver = DriverPostgres }, errMsg: "database.dsn"},
		{name: "zero ack timeout", mutate: func(c *Config) { c.Hub.AckTimeout = 0 }, errMsg: "hub.ack_timeout"},
		{name: "zero buffer", mutate: func(c *Config) { c.Hub.SendBuffer = 0 }, errMsg: "hub.send_buffer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
