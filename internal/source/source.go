// Package source resolves a document's file reference to its bytes.
//
// Supported references:
//
//	s3://bucket/key                                  object storage (MinIO)
//	github://owner/repo/path/to/file[@ref]           GitHub repository contents
//	https://github.com/owner/repo/blob/ref/path      same, from a browser URL
//	http(s)://host/path                              plain download
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
)

// MaxSize is the largest file accepted, matching the upload limit.
const MaxSize = 50 << 20

var (
	// ErrUnsupportedScheme indicates a reference with no registered fetcher.
	ErrUnsupportedScheme = errors.New("unsupported file reference")

	// ErrTooLarge indicates a file above MaxSize.
	ErrTooLarge = errors.New("file exceeds maximum size")
)

// Fetcher reads the file behind a parsed reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref *url.URL) ([]byte, error)
}

// Router dispatches references to fetchers by URL scheme.
type Router struct {
	fetchers map[string]Fetcher
	github   Fetcher
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{fetchers: make(map[string]Fetcher)}
}

// Register sets the fetcher for a scheme. A GitHubFetcher registered for
// "github" also serves https://github.com/.../blob/... references.
func (r *Router) Register(scheme string, f Fetcher) *Router {
	r.fetchers[scheme] = f
	if scheme == "github" {
		r.github = f
	}
	return r
}

// Fetch resolves ref and returns at most MaxSize bytes.
func (r *Router) Fetch(ctx context.Context, ref string) ([]byte, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, ref)
	}

	if r.github != nil && u.Host == "github.com" {
		if gh, ok := githubFromBrowserURL(u); ok {
			return r.github.Fetch(ctx, gh)
		}
	}

	f, ok := r.fetchers[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedScheme, u.Scheme)
	}
	return f.Fetch(ctx, u)
}

// readLimited reads rc fully, failing with ErrTooLarge beyond MaxSize.
func readLimited(rc io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(rc, MaxSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxSize {
		return nil, ErrTooLarge
	}
	return data, nil
}
