package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docindex/internal/indexer"
	"github.com/bull/docindex/internal/storage"
)

type fakeObjects struct {
	bucket, key string
	body        string
	contentType string
	removed     []string
	err         error
}

func (f *fakeObjects) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	b, _ := io.ReadAll(r)
	f.bucket, f.key, f.body, f.contentType = bucket, key, string(b), opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: key}, nil
}

func (f *fakeObjects) RemoveObject(_ context.Context, bucket, key string, _ minio.RemoveObjectOptions) error {
	f.removed = append(f.removed, bucket+"/"+key)
	return nil
}

type fakeCreator struct {
	got indexer.NewDocument
	err error
}

func (c *fakeCreator) CreateDocument(_ context.Context, in indexer.NewDocument) (*storage.Document, *storage.IndexingTask, error) {
	c.got = in
	if c.err != nil {
		return nil, nil, c.err
	}
	doc := &storage.Document{ID: "doc-1", Owner: in.Owner, Title: in.Title, FileRef: in.FileRef, Status: storage.DocumentUploaded}
	return doc, &storage.IndexingTask{ID: "task-1", DocumentID: doc.ID, Status: storage.TaskPending}, nil
}

func TestFormatFileSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0.0 B"},
		{512, "512.0 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{50 << 20, "50.0 MB"},
		{3 << 30, "3.0 GB"},
		{2 << 40, "2.0 TB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatFileSize(tt.size), "size %d", tt.size)
	}
}

func TestValidateFilename(t *testing.T) {
	ext, err := ValidateFilename("Report.PDF")
	require.NoError(t, err)
	assert.Equal(t, "pdf", ext)
	assert.Equal(t, "application/pdf", MimeType(ext))

	_, err = ValidateFilename("image.png")
	require.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.Contains(t, err.Error(), "Only PDF, DOCX, TXT, MD allowed.")

	_, err = ValidateFilename("noext")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantExt string
		wantErr bool
	}{
		{url: "https://example.com/files/guide.docx", wantExt: "docx"},
		{url: "http://example.com/notes.TXT?download=1", wantExt: "txt"},
		{url: "https://example.com/page.html", wantErr: true},
		{url: "ftp://example.com/a.pdf", wantErr: true},
		{url: "not a url", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			ext, err := ValidateURL(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, storage.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantExt, ext)
		})
	}
}

func TestUpload_StoresObjectAndCreatesDocument(t *testing.T) {
	objects := &fakeObjects{}
	creator := &fakeCreator{}
	svc := NewService(objects, "docs", creator)

	doc, err := svc.Upload(context.Background(), "alice", File{
		Title:    "Notes",
		Filename: "notes.txt",
		Size:     2048,
		Content:  strings.NewReader("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)

	assert.Equal(t, "docs", objects.bucket)
	assert.True(t, strings.HasPrefix(objects.key, "documents/"))
	assert.True(t, strings.HasSuffix(objects.key, ".txt"))
	assert.Equal(t, "hello", objects.body)
	assert.Equal(t, "text/plain", objects.contentType)

	assert.Equal(t, "s3://docs/"+objects.key, creator.got.FileRef)
	assert.Equal(t, "2.0 KB", creator.got.FileSize)
	assert.Equal(t, "text/plain", creator.got.MimeType)
	assert.Equal(t, "alice", creator.got.Owner)
	assert.Empty(t, objects.removed)
}

func TestUpload_Rejections(t *testing.T) {
	svc := NewService(&fakeObjects{}, "docs", &fakeCreator{})
	ctx := context.Background()

	_, err := svc.Upload(ctx, "alice", File{Title: "", Filename: "a.txt", Content: strings.NewReader("")})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = svc.Upload(ctx, "alice", File{Title: "Big", Filename: "a.pdf", Size: MaxFileSize + 1, Content: strings.NewReader("")})
	require.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.Contains(t, err.Error(), "50MB")
}

func TestUpload_ObjectStoreFailureIsTransient(t *testing.T) {
	creator := &fakeCreator{}
	svc := NewService(&fakeObjects{err: errors.New("connection refused")}, "docs", creator)

	_, err := svc.Upload(context.Background(), "alice", File{Title: "A", Filename: "a.md", Size: 1, Content: strings.NewReader("#")})
	assert.ErrorIs(t, err, storage.ErrTransient)
	assert.Empty(t, creator.got.Title, "no document is created without its file")
}

func TestUpload_RemovesObjectWhenDocumentIsNotRecorded(t *testing.T) {
	objects := &fakeObjects{}
	creator := &fakeCreator{err: fmt.Errorf("create document: %w", storage.ErrTransient)}
	svc := NewService(objects, "docs", creator)

	_, err := svc.Upload(context.Background(), "alice", File{Title: "A", Filename: "a.txt", Size: 5, Content: strings.NewReader("hello")})
	require.ErrorIs(t, err, storage.ErrTransient)
	require.NotEmpty(t, objects.key)
	assert.Equal(t, []string{"docs/" + objects.key}, objects.removed)
}

func TestUploadByURL(t *testing.T) {
	creator := &fakeCreator{}
	svc := NewService(&fakeObjects{}, "docs", creator)

	_, err := svc.UploadByURL(context.Background(), "bob", "Manual", "https://example.com/manual.pdf", "remote")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/manual.pdf", creator.got.FileRef)
	assert.Equal(t, "https://example.com/manual.pdf", creator.got.SourceURL)
	assert.Equal(t, "application/pdf", creator.got.MimeType)
	assert.Equal(t, "remote", creator.got.Description)
	assert.Empty(t, creator.got.FileSize)
}
