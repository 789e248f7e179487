package config

import (
	"testing"
	"time"

	"livequeue/queue-service/internal/models"

	"github.com/stretchr/testify/assert"
)

var keys = []string{
	"PORT", "DB_DSN", "STORE_DRIVER", "ISSUE_MODE", "SEED_LOCATIONS", "RUN_MIGRATIONS",
	"IMAGE_BASE_URL", "STATIC_DIR", "CORS_ALLOWED_ORIGINS", "RATE_LIMIT_PER_MIN",
	"RATE_LIMIT_BURST", "MAX_CONFLICT_RETRIES", "ADMIN_JWT_SECRET",
	"ADMIN_TOKEN_TTL_SECONDS", "AMQP_URL", "AMQP_EXCHANGE", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, models.IssueModeDirect, cfg.IssueMode)
	assert.True(t, cfg.SeedLocations)
	assert.True(t, cfg.RunMigrations)
	assert.Equal(t, "images", cfg.StaticDir)
	assert.Equal(t, defaultAllowedOrigins, cfg.AllowedOrigins)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Equal(t, 30, cfg.RateLimitBurst)
	assert.Equal(t, 5, cfg.MaxConflictRetries)
	assert.Equal(t, 12*time.Hour, cfg.AdminTokenTTL)
	assert.Equal(t, "livequeue.events", cfg.AMQPExchange)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DSN", "postgres://queue@localhost/queue")
	t.Setenv("ISSUE_MODE", "Approval")
	t.Setenv("SEED_LOCATIONS", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RATE_LIMIT_PER_MIN", "not-a-number")
	t.Setenv("MAX_CONFLICT_RETRIES", "9")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, models.IssueModeApproval, cfg.IssueMode)
	assert.False(t, cfg.SeedLocations)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Equal(t, 9, cfg.MaxConflictRetries)
}

func TestExplicitMemoryDriverWinsOverDSN(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_DSN", "postgres://queue@localhost/queue")
	t.Setenv("STORE_DRIVER", "memory")
	assert.Equal(t, DriverMemory, Load().StoreDriver)
}
