// Package app wires configured infrastructure into the indexing services
// shared by the docindex and mcp-server binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"

	"github.com/bull/docindex/internal/config"
	"github.com/bull/docindex/internal/embedding"
	"github.com/bull/docindex/internal/extract"
	"github.com/bull/docindex/internal/indexer"
	"github.com/bull/docindex/internal/queue"
	"github.com/bull/docindex/internal/source"
	"github.com/bull/docindex/internal/storage"
	"github.com/bull/docindex/internal/storage/memory"
	"github.com/bull/docindex/internal/storage/postgres"
	"github.com/bull/docindex/internal/storage/sqlite"
	"github.com/bull/docindex/internal/upload"
	"github.com/bull/docindex/internal/vectorindex"
	"github.com/bull/docindex/internal/worker"
)

// queueDriver is what both sides of a queue implementation provide.
type queueDriver interface {
	queue.Dispatcher
	queue.Consumer
}

// App holds the long-lived components of a process.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Store       storage.Store
	Queue       queueDriver
	Coordinator *indexer.Coordinator

	minio   *minio.Client
	closers []func() error
}

// New connects the store, queue and optional object storage and vector
// mirror. Close releases everything opened so far, also after an error.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if a.Store, err = openStore(ctx, cfg.Store); err != nil {
		return a, err
	}
	a.closers = append(a.closers, a.Store.Close)
	logger.Info("Store ready", "driver", cfg.Store.Driver)

	if a.Queue, err = a.openQueue(ctx); err != nil {
		return a, err
	}
	logger.Info("Queue ready", "driver", cfg.Queue.Driver)

	if cfg.Minio.Endpoint != "" {
		if a.minio, err = openMinio(ctx, cfg.Minio); err != nil {
			return a, err
		}
		logger.Info("Object storage ready", "endpoint", cfg.Minio.Endpoint, "bucket", cfg.Minio.Bucket)
	}

	var mirror indexer.ChunkMirror
	if cfg.Qdrant.Host != "" {
		m, err := vectorindex.NewQdrantMirror(ctx, cfg.Qdrant.Host, cfg.Qdrant.Port, logger)
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, m.Close)
		if err := m.EnsureCollection(ctx); err != nil {
			return a, fmt.Errorf("ensure qdrant collection: %w", err)
		}
		mirror = m
		logger.Info("Vector mirror ready", "host", cfg.Qdrant.Host, "port", cfg.Qdrant.Port)
	}

	a.Coordinator = indexer.NewCoordinator(a.Store, a.Queue, mirror, logger)
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.NewStore(cfg.SQLiteDir)
	case config.DriverPostgres:
		return postgres.NewStore(ctx, cfg.DatabaseURL)
	case config.DriverMemory:
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (a *App) openQueue(ctx context.Context) (queueDriver, error) {
	cfg := a.Config.Queue
	switch cfg.Driver {
	case config.DriverMemory:
		return queue.NewMemoryQueue(0), nil
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		a.closers = append(a.closers, client.Close)
		q := queue.NewRedisQueue(client, cfg.Name, cfg.ConsumerID, a.Logger)
		if err := q.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return q, nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

func openMinio(ctx context.Context, cfg config.MinioConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	if err := upload.EnsureBucket(ctx, client, cfg.Bucket); err != nil {
		return nil, err
	}
	return client, nil
}

// Uploads returns the upload service. Without object storage only uploads
// by URL are accepted.
func (a *App) Uploads() *upload.Service {
	if a.minio == nil {
		return upload.NewService(nil, "", a.Coordinator)
	}
	return upload.NewService(a.minio, a.Config.Minio.Bucket, a.Coordinator)
}

// Worker builds an indexing worker consuming the app's queue.
func (a *App) Worker() (*worker.Worker, error) {
	router := source.NewRouter().
		Register("http", source.NewHTTPFetcher(nil)).
		Register("https", source.NewHTTPFetcher(nil))
	if a.minio != nil {
		router.Register("s3", source.NewS3Fetcher(a.minio))
	}
	gh, err := source.NewGitHubFetcher(a.Config.GitHub.Token)
	if err != nil {
		return nil, fmt.Errorf("create github fetcher: %w", err)
	}
	router.Register("github", gh)

	cfg := worker.Config{
		Coordinator: a.Coordinator,
		Consumer:    a.Queue,
		Fetcher:     router,
		Extractor:   extract.New(),
		MaxChars:    a.Config.Worker.MaxChars,
		Logger:      a.Logger,
	}
	if key := a.Config.Embedding.OpenAIKey; key != "" {
		client, err := embedding.NewClient(key)
		if err != nil {
			return nil, err
		}
		cfg.Embedder = embedding.NewEmbedder(client, a.Config.Embedding.BatchSize)
	} else {
		a.Logger.Warn("OPENAI_API_KEY not set, chunks will be stored without embeddings")
	}
	return worker.New(cfg), nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
