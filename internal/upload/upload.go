// Package upload validates incoming documents, stores file content in object
// storage and records the document through the coordinator.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/bull/docindex/internal/indexer"
	"github.com/bull/docindex/internal/storage"
)

// MaxFileSize is the largest accepted upload.
const MaxFileSize = 50 << 20

// objectPrefix is the key prefix of uploaded files in the bucket.
const objectPrefix = "documents/"

// allowedExtensions lists accepted file extensions with their content types,
// in the order they appear in validation messages.
var allowedExtensions = []struct {
	ext      string
	mimeType string
}{
	{"pdf", "application/pdf"},
	{"docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	{"txt", "text/plain"},
	{"md", "text/markdown"},
}

// ObjectStore is the subset of *minio.Client used to store files.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// DocumentCreator records a new document; implemented by *indexer.Coordinator.
type DocumentCreator interface {
	CreateDocument(ctx context.Context, in indexer.NewDocument) (*storage.Document, *storage.IndexingTask, error)
}

// File is an uploaded file with its document attributes.
type File struct {
	Title       string
	Description string
	Filename    string
	Size        int64
	Content     io.Reader
}

// Service stores uploads and creates their documents.
type Service struct {
	objects ObjectStore
	bucket  string
	docs    DocumentCreator
}

// NewService creates an upload service writing to bucket. With nil objects
// only uploads by URL are accepted.
func NewService(objects ObjectStore, bucket string, docs DocumentCreator) *Service {
	return &Service{objects: objects, bucket: bucket, docs: docs}
}

// Upload validates f, puts it under documents/<uuid><ext> and records the
// document with file reference s3://bucket/key. If the document cannot be
// recorded the stored object is removed again.
func (s *Service) Upload(ctx context.Context, owner string, f File) (*storage.Document, error) {
	if strings.TrimSpace(f.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", storage.ErrInvalidInput)
	}
	ext, err := ValidateFilename(f.Filename)
	if err != nil {
		return nil, err
	}
	if err := ValidateSize(f.Size); err != nil {
		return nil, err
	}

	if s.objects == nil {
		return nil, fmt.Errorf("%w: file storage is not configured", storage.ErrTransient)
	}

	mimeType := MimeType(ext)
	key := objectPrefix + uuid.New().String() + "." + ext
	_, err = s.objects.PutObject(ctx, s.bucket, key, f.Content, f.Size, minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("store file: %w: %w", storage.ErrTransient, err)
	}

	doc, _, err := s.docs.CreateDocument(ctx, indexer.NewDocument{
		Owner:       owner,
		Title:       f.Title,
		Description: f.Description,
		FileRef:     fmt.Sprintf("s3://%s/%s", s.bucket, key),
		FileSize:    FormatFileSize(f.Size),
		MimeType:    mimeType,
	})
	if err != nil {
		if rerr := s.objects.RemoveObject(context.WithoutCancel(ctx), s.bucket, key, minio.RemoveObjectOptions{}); rerr != nil {
			return nil, errors.Join(err, fmt.Errorf("remove orphaned object %s: %w", key, rerr))
		}
		return nil, err
	}
	return doc, nil
}

// UploadByURL records a document whose file stays at rawURL.
func (s *Service) UploadByURL(ctx context.Context, owner, title, rawURL, description string) (*storage.Document, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title is required", storage.ErrInvalidInput)
	}
	ext, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	doc, _, err := s.docs.CreateDocument(ctx, indexer.NewDocument{
		Owner:       owner,
		Title:       title,
		Description: description,
		FileRef:     rawURL,
		MimeType:    MimeType(ext),
		SourceURL:   rawURL,
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ValidateFilename returns the lowercased extension of name without the dot,
// or an error wrapping storage.ErrInvalidInput if it is not allowed.
func ValidateFilename(name string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if !allowed(ext) {
		return "", fmt.Errorf("%w: Unsupported file type. Only %s allowed.", storage.ErrInvalidInput, allowedList())
	}
	return ext, nil
}

// ValidateSize rejects files larger than MaxFileSize.
func ValidateSize(size int64) error {
	if size > MaxFileSize {
		return fmt.Errorf("%w: File size must not exceed 50MB.", storage.ErrInvalidInput)
	}
	return nil
}

// ValidateURL checks that rawURL is an absolute http(s) URL whose path ends
// with an allowed extension, and returns that extension.
func ValidateURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: Enter a valid URL.", storage.ErrInvalidInput)
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	if !allowed(ext) {
		return "", fmt.Errorf("%w: URL must point to a %s file.", storage.ErrInvalidInput, allowedList())
	}
	return ext, nil
}

// MimeType maps an allowed extension to its content type.
func MimeType(ext string) string {
	for _, a := range allowedExtensions {
		if a.ext == ext {
			return a.mimeType
		}
	}
	return "application/octet-stream"
}

// FormatFileSize renders a byte count as "1.5 MB".
func FormatFileSize(size int64) string {
	value := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if value < 1024 {
			return fmt.Sprintf("%.1f %s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.1f TB", value)
}

// EnsureBucket creates bucket if it does not exist.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

func allowed(ext string) bool {
	for _, a := range allowedExtensions {
		if a.ext == ext {
			return true
		}
	}
	return false
}

func allowedList() string {
	names := make([]string, len(allowedExtensions))
	for i, a := range allowedExtensions {
		names[i] = strings.ToUpper(a.ext)
	}
	return strings.Join(names, ", ")
}
