// Package blob stores thumbnail images in an S3-compatible bucket and
// resolves stored references to display URLs.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// PlaceholderURL is shown for canvases that have no preview yet.
const PlaceholderURL = "https://via.placeholder.com/1280x720?text=No+Preview"

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL is the externally reachable prefix for stored objects.
	PublicBaseURL string
}

// Store wraps a MinIO bucket holding thumbnail JPEGs.
type Store struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

func New(ctx context.Context, opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}

	return &Store{
		client:        client,
		bucket:        opts.Bucket,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
	}, nil
}

// Put writes a thumbnail under key and returns the key as the reference to
// persist on the canvas.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

// Delete removes a stored thumbnail. Literal URLs are not ours to delete.
func (s *Store) Delete(ctx context.Context, reference string) error {
	if IsExternalURL(reference) {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, reference, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", reference, err)
	}
	return nil
}

// ResolveURL turns a stored thumbnail reference into a displayable URL.
// References can be literal external URLs; nil yields the placeholder.
func (s *Store) ResolveURL(reference *string) string {
	if reference == nil || *reference == "" {
		return PlaceholderURL
	}
	if IsExternalURL(*reference) {
		return *reference
	}
	return s.publicBaseURL + "/" + *reference
}

// IsExternalURL reports whether a thumbnail reference is a literal URL rather
// than a storage key.
func IsExternalURL(reference string) bool {
	return strings.HasPrefix(reference, "http://") || strings.HasPrefix(reference, "https://")
}
