package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
)

// GitHubFetcher reads files from GitHub repositories through the contents API.
type GitHubFetcher struct {
	client *github.Client
}

// NewGitHubFetcher creates a fetcher with rate limiting support.
// A non-empty token authenticates for higher rate limits.
func NewGitHubFetcher(token string) (*GitHubFetcher, error) {
	// Handles primary and secondary rate limits by waiting and retrying
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, err
	}
	return newGitHubFetcher(github.NewClient(rateLimiter), token), nil
}

func newGitHubFetcher(client *github.Client, token string) *GitHubFetcher {
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubFetcher{client: client}
}

// githubRef is a parsed github://owner/repo/path[@ref] reference.
type githubRef struct {
	owner, repo, path, ref string
}

func parseGitHubRef(u *url.URL) (githubRef, error) {
	p := strings.TrimPrefix(u.Path, "/")
	var r githubRef
	if i := strings.LastIndex(p, "@"); i >= 0 {
		p, r.ref = p[:i], p[i+1:]
	}
	repo, filePath, ok := strings.Cut(p, "/")
	if u.Host == "" || !ok || repo == "" || filePath == "" {
		return r, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.String())
	}
	r.owner, r.repo, r.path = u.Host, repo, filePath
	return r, nil
}

// githubFromBrowserURL rewrites https://github.com/owner/repo/blob/ref/path
// into a github:// reference.
func githubFromBrowserURL(u *url.URL) (*url.URL, bool) {
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 5)
	if len(parts) < 5 || parts[2] != "blob" {
		return nil, false
	}
	return &url.URL{
		Scheme: "github",
		Host:   parts[0],
		Path:   "/" + parts[1] + "/" + parts[4] + "@" + parts[3],
	}, true
}

func (f *GitHubFetcher) Fetch(ctx context.Context, ref *url.URL) ([]byte, error) {
	r, err := parseGitHubRef(ref)
	if err != nil {
		return nil, err
	}

	var opts *github.RepositoryContentGetOptions
	if r.ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: r.ref}
	}

	rc, resp, err := f.client.Repositories.DownloadContents(ctx, r.owner, r.repo, r.path, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s/%s/%s not found", r.owner, r.repo, r.path)
		}
		return nil, fmt.Errorf("failed to get content of %s: %w", r.path, err)
	}
	defer rc.Close()

	return readLimited(rc)
}
