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

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
database:
  driver: sqlite
  path: /tmp/jobs.db
redis:
  host: redis.local
queue:
  analysis_queue: jobs_test
  max_workers: 4
worker:
  stale_after_minutes: 30
  analyzers:
    frequency: /usr/local/bin/freq
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/jobs.db", cfg.Database.Path)
	assert.Equal(t, "redis.local:6379", cfg.Redis.Addr())
	assert.Equal(t, "jobs_test", cfg.Queue.AnalysisQueue)
	assert.Equal(t, 4, cfg.Queue.MaxWorkers)
	assert.Equal(t, 5*time.Second, cfg.Queue.PopTimeout())
	assert.Equal(t, 30*time.Minute, cfg.Worker.StaleAfter())
	assert.Equal(t, time.Hour, cfg.Worker.LockTTL())
	assert.Equal(t, "/usr/local/bin/freq", cfg.Worker.Analyzers["frequency"])
	assert.Equal(t, "db", cfg.Storage.PayloadBackend)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_PrefersLocalConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
database:
  driver: sqlite
  path: /tmp/public.db
`)
	writeConfig(t, dir, "config.local.yaml", `
database:
  driver: sqlite
  path: /tmp/local.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/local.db", cfg.Database.Path)
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
database:
  driver: sqlite
  path: /tmp/jobs.db
redis:
  port: 6379
`)
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6380, cfg.Redis.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "mysql without host",
			cfg:     Config{Database: DatabaseConfig{Driver: "mysql"}, Storage: StorageConfig{PayloadBackend: "db"}, Queue: QueueConfig{AnalysisQueue: "q"}},
			wantErr: true,
		},
		{
			name:    "unknown driver",
			cfg:     Config{Database: DatabaseConfig{Driver: "postgres"}, Storage: StorageConfig{PayloadBackend: "db"}, Queue: QueueConfig{AnalysisQueue: "q"}},
			wantErr: true,
		},
		{
			name:    "oss without bucket",
			cfg:     Config{Database: DatabaseConfig{Driver: "sqlite", Path: "x.db"}, Storage: StorageConfig{PayloadBackend: "oss"}, Queue: QueueConfig{AnalysisQueue: "q"}},
			wantErr: true,
		},
		{
			name:    "missing queue name",
			cfg:     Config{Database: DatabaseConfig{Driver: "sqlite", Path: "x.db"}, Storage: StorageConfig{PayloadBackend: "db"}},
			wantErr: true,
		},
		{
			name: "valid mysql",
			cfg: Config{
				Database: DatabaseConfig{Driver: "mysql", Host: "db", Database: "nkp"},
				Storage:  StorageConfig{PayloadBackend: "db"},
				Queue:    QueueConfig{AnalysisQueue: "q"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, 1, tt.cfg.Queue.MaxWorkers)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{Username: "u", Password: "p", Host: "h", Port: 3306, Database: "d"}
	assert.Equal(t, "u:p@tcp(h:3306)/d?charset=utf8mb4&parseTime=True&loc=Local", cfg.DSN())
}
