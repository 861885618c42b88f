package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_Validate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "nonsense"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Server.Port = 0
	cfg.Watcher.BatchSize = 0

	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "unknown mode")
	assert.Contains(t, msg, "unknown log_level")
	assert.Contains(t, msg, "redis: addr")
	// Section checks are not gated on a recognized mode.
	assert.Contains(t, msg, "server: port")
	assert.Contains(t, msg, "watcher: batch_size")
}

func TestValidate_S3OnlyWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.S3.Bucket = ""
	require.NoError(t, cfg.Validate(), "disabled archiver should not require s3 settings")

	cfg.S3.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestValidate_WatcherSettings(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "watcher"
	cfg.Watcher.ConsumerName = ""
	cfg.Watcher.BatchSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watcher: consumer_name")
	assert.Contains(t, err.Error(), "watcher: batch_size")
}

func TestValidate_DSNSkipsHostChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://u:p@db:5432/auctiond"
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUCTIOND_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("AUCTIOND_SERVER_PORT", "9001")
	t.Setenv("AUCTIOND_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("AUCTIOND_WATCHER_POLL_INTERVAL", "500ms")
	t.Setenv("AUCTIOND_POSTGRES_RUN_MIGRATIONS", "false")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "500ms", cfg.Watcher.PollInterval.Duration.String())
	assert.False(t, cfg.Postgres.RunMigrations)
}

func TestDuration_TextRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))

	require.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}
