// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store and queue drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the full service configuration.
type Config struct {
	App       AppConfig
	Store     StoreConfig
	Queue     QueueConfig
	Minio     MinioConfig
	Qdrant    QdrantConfig
	Embedding EmbeddingConfig
	GitHub    GitHubConfig
	Worker    WorkerConfig
	Log       LogConfig
	MCP       MCPConfig
}

type AppConfig struct {
	Port string
}

type StoreConfig struct {
	Driver      string // sqlite, postgres or memory
	SQLiteDir   string
	DatabaseURL string
}

type QueueConfig struct {
	Driver        string // redis or memory
	RedisAddr     string
	RedisPassword string
	Name          string

	// ConsumerID names this process's in-flight list. It must stay stable
	// across restarts and be unique among live workers.
	ConsumerID string
}

// MinioConfig is optional; without an endpoint only uploads by URL work.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// QdrantConfig is optional; without a host chunks are not mirrored.
type QdrantConfig struct {
	Host string
	Port int
}

// EmbeddingConfig is optional; without an API key chunks are stored
// without embeddings.
type EmbeddingConfig struct {
	OpenAIKey string
	BatchSize int
}

type GitHubConfig struct {
	Token string
}

type WorkerConfig struct {
	Concurrency  int
	MaxChars     int
	TaskTimeout  time.Duration
	ReapInterval time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type MCPConfig struct {
	Owner      string
	ServerMode bool
}

// Load reads .env (if present) into the process environment and then
// resolves every key from the environment with defaults.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("PORT", "8080")

	v.SetDefault("STORE_DRIVER", DriverSQLite)
	v.SetDefault("SQLITE_DIR", "./data")
	v.SetDefault("DATABASE_URL", "")

	v.SetDefault("QUEUE_DRIVER", DriverMemory)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_QUEUE", "docindex:tasks")
	host, _ := os.Hostname()
	v.SetDefault("WORKER_ID", host)

	v.SetDefault("MINIO_ENDPOINT", "")
	v.SetDefault("MINIO_ACCESS_KEY", "")
	v.SetDefault("MINIO_SECRET_KEY", "")
	v.SetDefault("MINIO_BUCKET", "docindex")
	v.SetDefault("MINIO_SECURE", false)

	v.SetDefault("QDRANT_HOST", "")
	v.SetDefault("QDRANT_PORT", 6334)

	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("EMBEDDING_BATCH_SIZE", 100)

	v.SetDefault("GITHUB_TOKEN", "")

	v.SetDefault("WORKER_CONCURRENCY", 2)
	v.SetDefault("CHUNK_MAX_CHARS", 2000)
	v.SetDefault("TASK_TIMEOUT", "30m")
	v.SetDefault("REAP_INTERVAL", "1m")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	v.SetDefault("MCP_OWNER", "")
	v.SetDefault("SERVER_MODE", false)

	v.AutomaticEnv()
	return v
}

// FromViper maps and validates a populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	c := &Config{
		App: AppConfig{Port: v.GetString("PORT")},
		Store: StoreConfig{
			Driver:      strings.ToLower(v.GetString("STORE_DRIVER")),
			SQLiteDir:   v.GetString("SQLITE_DIR"),
			DatabaseURL: v.GetString("DATABASE_URL"),
		},
		Queue: QueueConfig{
			Driver:        strings.ToLower(v.GetString("QUEUE_DRIVER")),
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			Name:          v.GetString("REDIS_QUEUE"),
			ConsumerID:    v.GetString("WORKER_ID"),
		},
		Minio: MinioConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			Bucket:    v.GetString("MINIO_BUCKET"),
			Secure:    v.GetBool("MINIO_SECURE"),
		},
		Qdrant: QdrantConfig{
			Host: v.GetString("QDRANT_HOST"),
			Port: v.GetInt("QDRANT_PORT"),
		},
		Embedding: EmbeddingConfig{
			OpenAIKey: v.GetString("OPENAI_API_KEY"),
			BatchSize: v.GetInt("EMBEDDING_BATCH_SIZE"),
		},
		GitHub: GitHubConfig{Token: v.GetString("GITHUB_TOKEN")},
		Worker: WorkerConfig{
			Concurrency:  v.GetInt("WORKER_CONCURRENCY"),
			MaxChars:     v.GetInt("CHUNK_MAX_CHARS"),
			TaskTimeout:  v.GetDuration("TASK_TIMEOUT"),
			ReapInterval: v.GetDuration("REAP_INTERVAL"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		MCP: MCPConfig{
			Owner:      v.GetString("MCP_OWNER"),
			ServerMode: v.GetBool("SERVER_MODE"),
		},
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLiteDir == "" {
			errs = append(errs, errors.New("SQLITE_DIR is required for the sqlite store"))
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}

	switch c.Queue.Driver {
	case DriverRedis:
		if c.Queue.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis queue"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_DRIVER %q", c.Queue.Driver))
	}

	if c.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be at least 1"))
	}
	if c.Worker.TaskTimeout <= 0 {
		errs = append(errs, errors.New("TASK_TIMEOUT must be positive"))
	}
	if c.Worker.ReapInterval <= 0 {
		errs = append(errs, errors.New("REAP_INTERVAL must be positive"))
	}
	if c.Minio.Endpoint != "" && c.Minio.Bucket == "" {
		errs = append(errs, errors.New("MINIO_BUCKET is required when MINIO_ENDPOINT is set"))
	}
	return errors.Join(errs...)
}
