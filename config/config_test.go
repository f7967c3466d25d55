package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
server:
  port: 9000
training:
  poll_interval: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Training.PollInterval)
	assert.Equal(t, "training_jobs", cfg.Queue.TrainingQueue)
	assert.Equal(t, 1, cfg.Queue.MaxWorkers)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, "datasets", cfg.Training.DatasetsDir)
	assert.Equal(t, "training_runs", cfg.Training.RunsDir)
	assert.Equal(t, "3h", cfg.Training.Remote.Timeout)
	assert.Equal(t, "t4-small", cfg.Training.Remote.DefaultHardware)
	assert.False(t, cfg.Training.RemoteEnabled())
}

func TestLoad_PrefersLocalConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "server:\n  port: 8080\n")
	writeConfig(t, dir, "config.local.yaml", "server:\n  port: 8181\ntraining:\n  remote:\n    endpoint: http://runner\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.True(t, cfg.Training.RemoteEnabled())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		Queue:    QueueConfig{TrainingQueue: "q", MaxWorkers: 4},
		Training: TrainingConfig{PollInterval: time.Minute},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, "q", cfg.Queue.TrainingQueue)
	assert.Equal(t, 4, cfg.Queue.MaxWorkers)
	assert.Equal(t, time.Minute, cfg.Training.PollInterval)
}

func TestLoad_RemoteSecrets(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
training:
  remote:
    endpoint: http://runner
    secrets:
      storage_bucket: corpora
      storage_access_key: ak
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"storage_bucket":     "corpora",
		"storage_access_key": "ak",
	}, cfg.Training.Remote.Secrets)
}
