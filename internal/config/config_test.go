package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_PORT", "STORE_BACKEND", "QUEUE_BACKEND", "RATE_LIMIT_BACKEND", "RATE_LIMIT_PER_MIN", "SHUTDOWN_TIMEOUT", "MIGRATE_ON_START"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.MigrateOnStart)
	assert.True(t, cfg.UsesRedis())
	assert.Empty(t, cfg.Warnings)
}

func TestLoadOverridesAndWarnings(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("QUEUE_BACKEND", "memory")
	t.Setenv("RATE_LIMIT_BACKEND", "memory")
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("MIGRATE_ON_START", "maybe")

	cfg := Load()
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.False(t, cfg.UsesRedis())
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.MigrateOnStart)
	assert.Len(t, cfg.Warnings, 2)
}
