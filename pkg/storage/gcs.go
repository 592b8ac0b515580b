//go:build gcp

package storage

import (
	"context"
	"errors"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/jacktea/sumgate/pkg/xerrors"
)

// GCSConfig describes a Google Cloud Storage target. Credentials come from
// Application Default Credentials.
type GCSConfig struct {
	Endpoint string // optional, for emulators
}

// GCSStore writes objects to Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
}

// NewGCS creates a GCS-backed store.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInvalid, "storage.gcs", "client", err)
	}
	return &GCSStore{client: client}, nil
}

// Put streams data into a new object generation.
func (g *GCSStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	w := g.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return g.wrap(bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return g.wrap(bucket, key, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

func (g *GCSStore) wrap(bucket, key string, err error) error {
	kind := xerrors.KindOf(err)
	if errors.Is(err, storage.ErrBucketNotExist) {
		kind = xerrors.KindNotFound
	}
	return xerrors.Wrap(kind, "gcs.put", bucket+"/"+key, err)
}
