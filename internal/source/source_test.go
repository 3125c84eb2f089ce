package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFetcher struct {
	got *url.URL
}

func (f *recordingFetcher) Fetch(_ context.Context, ref *url.URL) ([]byte, error) {
	f.got = ref
	return []byte("ok"), nil
}

func TestRouter_DispatchesByScheme(t *testing.T) {
	s3 := &recordingFetcher{}
	r := NewRouter().Register("s3", s3)

	data, err := r.Fetch(context.Background(), "s3://documents/documents/abc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, "documents", s3.got.Host)
	assert.Equal(t, "/documents/abc.pdf", s3.got.Path)

	_, err = r.Fetch(context.Background(), "ftp://host/file.txt")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)

	_, err = r.Fetch(context.Background(), "no-scheme")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestRouter_RewritesGitHubBrowserURL(t *testing.T) {
	gh := &recordingFetcher{}
	web := &recordingFetcher{}
	r := NewRouter().Register("github", gh).Register("https", web)

	_, err := r.Fetch(context.Background(), "https://github.com/acme/handbook/blob/main/docs/intro.md")
	require.NoError(t, err)
	require.NotNil(t, gh.got)
	assert.Nil(t, web.got)

	ref, err := parseGitHubRef(gh.got)
	require.NoError(t, err)
	assert.Equal(t, githubRef{owner: "acme", repo: "handbook", path: "docs/intro.md", ref: "main"}, ref)

	_, err = r.Fetch(context.Background(), "https://github.com/acme/handbook")
	require.NoError(t, err)
	assert.NotNil(t, web.got, "non-blob GitHub URLs are plain downloads")
}

func TestParseGitHubRef(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		want    githubRef
		wantErr bool
	}{
		{"with ref", "github://acme/repo/a/b.md@v1.2", githubRef{"acme", "repo", "a/b.md", "v1.2"}, false},
		{"default branch", "github://acme/repo/README.md", githubRef{"acme", "repo", "README.md", ""}, false},
		{"missing path", "github://acme/repo", githubRef{}, true},
		{"missing owner", "github:///repo/file.md", githubRef{}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			u, err := url.Parse(tc.ref)
			require.NoError(t, err)
			got, err := parseGitHubRef(u)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedScheme)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/doc.txt":
			_, _ = w.Write([]byte("hello"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := NewRouter().Register("http", NewHTTPFetcher(srv.Client()))

	data, err := r.Fetch(context.Background(), srv.URL+"/doc.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = r.Fetch(context.Background(), srv.URL+"/missing.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestReadLimited(t *testing.T) {
	data, err := readLimited(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}
