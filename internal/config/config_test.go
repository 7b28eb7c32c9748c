package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("STORE", StoreMemory)
	t.Setenv("JWT_SECRET", "0123456789abcdef")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "9090", cfg.PrometheusPort)
	assert.Equal(t, 365*24*time.Hour, cfg.GuestTokenTTL)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 3*time.Second, cfg.LockTimeout)
	assert.Equal(t, uint(3), cfg.LockRetries)
	assert.Equal(t, 24*time.Hour, cfg.LinkPreviewCacheTTL)
	assert.Equal(t, 2.0, cfg.LinkPreviewRPS)
	assert.Equal(t, 10*time.Minute, cfg.SessionSweepInterval)
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORE", StorePostgres)
	t.Setenv("DATABASE_URL", "postgres://localhost/wishlist?sslmode=disable")
	t.Setenv("GUEST_TOKEN_TTL_DAYS", "30")
	t.Setenv("LOCK_TIMEOUT", "750ms")
	t.Setenv("LOCK_RETRIES", "0")
	t.Setenv("LINK_PREVIEW_RPS", "0.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, cfg.GuestTokenTTL)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, uint(0), cfg.LockRetries)
	assert.Equal(t, 0.5, cfg.LinkPreviewRPS)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"postgres without url", map[string]string{"STORE": StorePostgres, "DATABASE_URL": ""}, "DATABASE_URL"},
		{"unknown store", map[string]string{"STORE": "redis"}, "STORE must be"},
		{"short secret", map[string]string{"JWT_SECRET": "short"}, "JWT_SECRET"},
		{"bad ttl", map[string]string{"GUEST_TOKEN_TTL_DAYS": "0"}, "must be positive"},
		{"non-numeric retries", map[string]string{"LOCK_RETRIES": "many"}, "LOCK_RETRIES must be an integer"},
		{"negative retries", map[string]string{"LOCK_RETRIES": "-1"}, "LOCK_RETRIES"},
		{"bad duration", map[string]string{"LOCK_TIMEOUT": "soon"}, "LOCK_TIMEOUT"},
		{"bad rps", map[string]string{"LINK_PREVIEW_RPS": "-2"}, "LINK_PREVIEW_RPS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
