package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/jonesrussell/ocrbase/internal/domain"
)

// GCS stores objects in a bucket, optionally under a key prefix.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

func NewGCS(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCS{client: client, bucket: client.Bucket(bucket), prefix: prefix}, nil
}

func (g *GCS) object(key string) (*storage.ObjectHandle, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	if g.prefix != "" {
		k = path.Join(g.prefix, k)
	}
	return g.bucket.Object(k), nil
}

func (g *GCS) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	obj, err := g.object(key)
	if err != nil {
		return err
	}
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err = io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gcs object: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("finalize gcs object: %w", err)
	}
	return nil
}

func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := g.object(key)
	if err != nil {
		return nil, err
	}
	rd, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, domain.NotFound("file")
	}
	if err != nil {
		return nil, fmt.Errorf("open gcs object: %w", err)
	}
	defer func() { _ = rd.Close() }()

	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("read gcs object: %w", err)
	}
	return data, nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	obj, err := g.object(key)
	if err != nil {
		return err
	}
	if err = obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete gcs object: %w", err)
	}
	return nil
}

func (g *GCS) Close() error { return g.client.Close() }
