package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "APP_ENV", "REDIS_DB", "LOCK_TTL_SECONDS", "REFUND_PAYMENT_ATTEMPTS", "DEBUG_LOGGING", "SERVICE_NAME"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, ":8080", cfg.Address())
	assert.False(t, cfg.Development())
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, 5, cfg.LockTTLSeconds)
	assert.Equal(t, 3, cfg.RefundAttempts)
	assert.Equal(t, "barpos-backend", cfg.ServiceName)
	assert.False(t, cfg.DebugLogging)
}

func TestLoadFallsBackOnBadNumbers(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "soon")
	t.Setenv("RECIPE_CACHE_TTL_SECONDS", "0")
	t.Setenv("REFUND_PAYMENT_ATTEMPTS", "7")
	t.Setenv("APP_ENV", "Development")
	t.Setenv("DEBUG_LOGGING", "true")

	cfg := Load()
	assert.Equal(t, 480, cfg.AccessTokenTTLMinutes)
	assert.Equal(t, 300, cfg.RecipeCacheTTLSeconds)
	assert.Equal(t, 7, cfg.RefundAttempts)
	assert.True(t, cfg.Development())
	assert.True(t, cfg.DebugLogging)
}
