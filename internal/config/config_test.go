package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", "/home/tester")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://ml.googleapis.com", cfg.API.MLURL)
	assert.Equal(t, "https://logging.googleapis.com", cfg.API.LoggingURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, "python", cfg.Tools.PackagerCmd)
	assert.Equal(t, "gsutil", cfg.Tools.UploaderCmd)
	assert.True(t, cfg.Tools.LocalExec)
	assert.Equal(t, "us-central1", cfg.Defaults.Region)
	assert.Equal(t, "BASIC", cfg.Defaults.ScaleTier)
	assert.Equal(t, "@every 1s", cfg.Tail.PollSchedule)
	assert.Equal(t, os.TempDir(), cfg.Session.StagingRoot)
	assert.Equal(t, filepath.Join("/home/tester", ".mlmagic", "sessions.db"), cfg.Session.DBPath)
}

func TestNewFromEnv_FromEnvAndOptions(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MLMAGIC_ML_API_URL", "http://ml.local/")
	t.Setenv("MLMAGIC_API_TIMEOUT", "5s")
	t.Setenv("MLMAGIC_LOCAL_EXEC", "false")
	t.Setenv("MLMAGIC_DEFAULT_SCALE_TIER", "standard_1")

	cfg, err := NewFromEnv(WithStagingRoot("/tmp/stage"), WithDBPath("/tmp/db.sqlite"))
	require.NoError(t, err)

	assert.Equal(t, "http://ml.local", cfg.API.MLURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.False(t, cfg.Tools.LocalExec)
	assert.Equal(t, "/tmp/stage", cfg.Session.StagingRoot)
	assert.Equal(t, "/tmp/db.sqlite", cfg.Session.DBPath)
}

func TestNewFromEnv_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MLMAGIC_UPLOADER_CMD=gcloud-cp\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("MLMAGIC_UPLOADER_CMD") })

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "gcloud-cp", cfg.Tools.UploaderCmd)
}

func TestNewFromEnv_InvalidPollSchedule(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MLMAGIC_POLL_SCHEDULE", "every second please")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLL_SCHEDULE")
}

func TestNewFromEnv_InvalidScaleTier(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MLMAGIC_DEFAULT_SCALE_TIER", "HUGE")

	_, err := NewFromEnv()
	require.Error(t, err)
}
