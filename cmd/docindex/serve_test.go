package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docindex/internal/app"
	"github.com/bull/docindex/internal/config"
	"github.com/bull/docindex/internal/indexer"
	"github.com/bull/docindex/internal/storage"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	cfg := &config.Config{
		App:   config.AppConfig{Port: "0"},
		Store: config.StoreConfig{Driver: config.DriverMemory},
		Queue: config.QueueConfig{Driver: config.DriverMemory},
		Worker: config.WorkerConfig{
			Concurrency:  1,
			MaxChars:     200,
			TaskTimeout:  time.Minute,
			ReapInterval: 10 * time.Millisecond,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	return a
}

func TestServe_EmbeddedWorkerIndexesAndStops(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "release notes\n\nfixed the importer")
	}))
	defer files.Close()

	a := newTestApp(t)
	w, err := a.Worker()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, a, w) }()

	doc, _, err := a.Coordinator.CreateDocument(context.Background(), indexer.NewDocument{
		Owner:    "alice",
		Title:    "Notes",
		FileRef:  files.URL + "/notes.txt",
		MimeType: "text/plain",
	})
	require.NoError(t, err)
	_, err = a.Coordinator.RequestIndex(context.Background(), doc.ID, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := a.Coordinator.GetDocument(context.Background(), doc.ID, "alice")
		return err == nil && got.Status == storage.DocumentIndexed
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServe_WithoutWorkerReturnsOnCancel(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, a, nil) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
