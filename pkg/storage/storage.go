// Package storage holds the object storage clients the validator writes to.
//
// Every Client must be safe for concurrent use: a single instance is shared by
// all in-flight requests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jacktea/sumgate/pkg/xerrors"
)

// Client persists a payload under bucket/key, overwriting any existing object.
type Client interface {
	Put(ctx context.Context, bucket, key string, data []byte) error
}

// Provider names accepted by New.
const (
	ProviderMinio  = "minio"
	ProviderS3     = "s3"
	ProviderGCS    = "gcs"
	ProviderOSS    = "oss"
	ProviderCOS    = "cos"
	ProviderLocal  = "local"
	ProviderBolt   = "bolt"
	ProviderMemory = "memory"
)

// Options carries provider configuration. Not every field applies to every
// provider.
type Options struct {
	Provider     string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	// Root is the directory (local) or database file (bolt).
	Root string
	// Buckets are created at startup by the local and bolt providers.
	Buckets []string
	// Timeout bounds each Put. Zero leaves the call unbounded.
	Timeout time.Duration
}

// New builds the client selected by opts.Provider.
func New(ctx context.Context, opts Options) (Client, error) {
	client, err := newClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		client = WithTimeout(client, opts.Timeout)
	}
	return client, nil
}

func newClient(ctx context.Context, opts Options) (Client, error) {
	switch strings.ToLower(opts.Provider) {
	case "", ProviderMinio:
		if opts.Endpoint == "" {
			return nil, xerrors.E(xerrors.KindInvalid, "storage.minio", "minio config requires endpoint")
		}
		return NewMinio(MinioConfig{
			Endpoint:     opts.Endpoint,
			Region:       opts.Region,
			AccessKey:    opts.AccessKey,
			SecretKey:    opts.SecretKey,
			SessionToken: opts.SessionToken,
		})
	case ProviderS3:
		if opts.Region == "" {
			return nil, xerrors.E(xerrors.KindInvalid, "storage.s3", "s3 config requires region")
		}
		return NewS3(ctx, S3Config{
			Endpoint:     opts.Endpoint,
			Region:       opts.Region,
			AccessKey:    opts.AccessKey,
			SecretKey:    opts.SecretKey,
			SessionToken: opts.SessionToken,
		})
	case ProviderGCS:
		return NewGCS(ctx, GCSConfig{Endpoint: opts.Endpoint})
	case ProviderOSS:
		if opts.Endpoint == "" || opts.AccessKey == "" || opts.SecretKey == "" {
			return nil, xerrors.E(xerrors.KindInvalid, "storage.oss", "oss config requires endpoint, access key, and secret key")
		}
		return NewOSS(OSSConfig{
			RemoteConfig: RemoteConfig{Endpoint: opts.Endpoint},
			AccessKey:    opts.AccessKey,
			SecretKey:    opts.SecretKey,
		})
	case ProviderCOS:
		if opts.Endpoint == "" || opts.AccessKey == "" || opts.SecretKey == "" {
			return nil, xerrors.E(xerrors.KindInvalid, "storage.cos", "cos config requires endpoint, access key, and secret key")
		}
		return NewCOS(COSConfig{
			RemoteConfig: RemoteConfig{Endpoint: opts.Endpoint},
			AccessKey:    opts.AccessKey,
			SecretKey:    opts.SecretKey,
		})
	case ProviderLocal:
		store, err := NewPathStore(opts.Root)
		if err != nil {
			return nil, err
		}
		for _, bucket := range opts.Buckets {
			if err := store.MakeBucket(bucket); err != nil {
				return nil, err
			}
		}
		return store, nil
	case ProviderBolt:
		db, err := OpenBolt(opts.Root)
		if err != nil {
			return nil, err
		}
		for _, bucket := range opts.Buckets {
			if err := db.MakeBucket(bucket); err != nil && !errors.Is(err, ErrBucketExists) {
				db.Close()
				return nil, err
			}
		}
		return db, nil
	case ProviderMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", opts.Provider)
	}
}

// Close releases resources held by client when it owns any.
func Close(client Client) error {
	if closer, ok := client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

type timeoutClient struct {
	Client
	timeout time.Duration
}

// WithTimeout bounds every Put on client to d.
func WithTimeout(client Client, d time.Duration) Client {
	if d <= 0 {
		return client
	}
	return &timeoutClient{Client: client, timeout: d}
}

func (t *timeoutClient) Put(ctx context.Context, bucket, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	err := t.Client.Put(ctx, bucket, key, data)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && xerrors.KindOf(err) != xerrors.KindTimeout {
		return xerrors.Wrap(xerrors.KindTimeout, "storage.put", bucket+"/"+key, err)
	}
	return err
}

func (t *timeoutClient) Close() error {
	return Close(t.Client)
}
