package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requiredEnv(t *testing.T) {
	t.Setenv("QUEUE_CONFIG", "")
	t.Setenv("DB_DSN", "postgres://localhost/queue")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	requiredEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, SequencerPostgres, cfg.TicketSequencer)
	assert.Equal(t, "A", cfg.DefaultTicketPrefix)
	assert.Equal(t, AuditSinkDB, cfg.AuditSink)
	assert.Equal(t, 300*time.Second, cfg.NoShowGrace)
	assert.Equal(t, 30*time.Second, cfg.NoShowInterval)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoadFileThenEnv(t *testing.T) {
	requiredEnv(t)
	path := filepath.Join(t.TempDir(), "queue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
ticket_sequencer: redis
redis_url: redis://localhost:6379/0
default_ticket_prefix: Q
no_show_grace_seconds: 0
rate_limit_burst: 5
`), 0o600))
	t.Setenv("RATE_LIMIT_BURST", "7")
	t.Setenv("NO_SHOW_BATCH_SIZE", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, SequencerRedis, cfg.TicketSequencer)
	assert.Equal(t, "Q", cfg.DefaultTicketPrefix)
	assert.Zero(t, cfg.NoShowGrace)
	assert.Equal(t, 7, cfg.RateLimitBurst)
	assert.Equal(t, 100, cfg.NoShowBatchSize)
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DSN is required")
	assert.Contains(t, err.Error(), "JWT_SECRET is required")

	cfg.DatabaseURL = "postgres://localhost/queue"
	cfg.JWTSecret = "secret"
	cfg.TicketSequencer = SequencerRedis
	assert.ErrorContains(t, cfg.Validate(), "REDIS_URL")

	cfg.TicketSequencer = "sqlite"
	assert.ErrorContains(t, cfg.Validate(), "unknown TICKET_SEQUENCER")

	cfg.TicketSequencer = SequencerCount
	cfg.AuditSink = "kafka"
	assert.ErrorContains(t, cfg.Validate(), "unknown AUDIT_SINK")

	cfg.AuditSink = AuditSinkLog
	cfg.ClinicTimezone = "Nowhere/City"
	assert.ErrorContains(t, cfg.Validate(), "CLINIC_TIMEZONE")
}

func TestLoadMissingFile(t *testing.T) {
	requiredEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
