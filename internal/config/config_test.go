package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := FromViper(newViper())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "./data", cfg.Store.SQLiteDir)
	assert.Equal(t, DriverMemory, cfg.Queue.Driver)
	assert.Equal(t, "docindex:tasks", cfg.Queue.Name)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.Equal(t, 100, cfg.Embedding.BatchSize)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, 30*time.Minute, cfg.Worker.TaskTimeout)
	assert.Equal(t, time.Minute, cfg.Worker.ReapInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.MCP.ServerMode)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/docindex")
	t.Setenv("QUEUE_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_SECURE", "true")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("TASK_TIMEOUT", "90s")
	t.Setenv("MCP_OWNER", "alice")
	t.Setenv("WORKER_ID", "worker-a")

	cfg, err := FromViper(newViper())
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/docindex", cfg.Store.DatabaseURL)
	assert.Equal(t, DriverRedis, cfg.Queue.Driver)
	assert.Equal(t, "redis:6379", cfg.Queue.RedisAddr)
	assert.Equal(t, "minio:9000", cfg.Minio.Endpoint)
	assert.True(t, cfg.Minio.Secure)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.Worker.TaskTimeout)
	assert.Equal(t, "alice", cfg.MCP.Owner)
	assert.Equal(t, "worker-a", cfg.Queue.ConsumerID)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"unknown store", map[string]string{"STORE_DRIVER": "mongo"}, `unknown STORE_DRIVER "mongo"`},
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres"}, "DATABASE_URL is required"},
		{"unknown queue", map[string]string{"QUEUE_DRIVER": "kafka"}, `unknown QUEUE_DRIVER "kafka"`},
		{"zero workers", map[string]string{"WORKER_CONCURRENCY": "0"}, "WORKER_CONCURRENCY must be at least 1"},
		{"negative timeout", map[string]string{"TASK_TIMEOUT": "-1s"}, "TASK_TIMEOUT must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromViper(newViper())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("QUEUE_DRIVER", "kafka")

	_, err := FromViper(newViper())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER")
	assert.Contains(t, err.Error(), "QUEUE_DRIVER")
}
