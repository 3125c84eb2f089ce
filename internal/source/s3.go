package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
)

// S3Fetcher reads s3://bucket/key references from MinIO.
type S3Fetcher struct {
	client *minio.Client
}

// NewS3Fetcher creates a fetcher on an initialized MinIO client.
func NewS3Fetcher(client *minio.Client) *S3Fetcher {
	return &S3Fetcher{client: client}
}

func (f *S3Fetcher) Fetch(ctx context.Context, ref *url.URL) ([]byte, error) {
	bucket, key := ref.Host, strings.TrimPrefix(ref.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, ref.String())
	}

	obj, err := f.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	data, err := readLimited(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}
