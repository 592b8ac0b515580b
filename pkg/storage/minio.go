package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jacktea/sumgate/pkg/xerrors"
)

// MinioConfig describes a MinIO (or any S3 compatible) endpoint.
type MinioConfig struct {
	// Endpoint is host:port, optionally prefixed with http:// or https://.
	// A bare host:port is dialed without TLS.
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	Transport    http.RoundTripper
}

// MinioStore writes objects with the MinIO client.
type MinioStore struct {
	client *minio.Client
}

// NewMinio builds a MinioStore. The underlying client pools connections and is
// safe for concurrent use.
func NewMinio(cfg MinioConfig) (*MinioStore, error) {
	host, secure, err := splitEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInvalid, "storage.minio", cfg.Endpoint, err)
	}
	client, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
		Transport:    cfg.Transport,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInvalid, "storage.minio", cfg.Endpoint, err)
	}
	return &MinioStore{client: client}, nil
}

// Put uploads data in a single PUT request.
func (m *MinioStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err == nil {
		return nil
	}
	kind := kindForCode(minio.ToErrorResponse(err).Code)
	if kind == xerrors.KindInternal {
		kind = xerrors.KindOf(err)
	}
	return xerrors.Wrap(kind, "minio.put", bucket+"/"+key, err)
}

func splitEndpoint(endpoint string) (string, bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}
	if !strings.Contains(endpoint, "://") {
		return strings.TrimSuffix(endpoint, "/"), false, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, err
	}
	switch u.Scheme {
	case "http":
		return u.Host, false, nil
	case "https":
		return u.Host, true, nil
	default:
		return "", false, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

// kindForCode maps S3 style error codes onto error kinds.
func kindForCode(code string) xerrors.Kind {
	switch code {
	case "NoSuchBucket":
		return xerrors.KindNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
		return xerrors.KindPermission
	case "InvalidBucketName", "InvalidArgument", "EntityTooLarge", "KeyTooLongError":
		return xerrors.KindInvalid
	case "SlowDown", "ServiceUnavailable", "XMinioServerNotInitialized":
		return xerrors.KindUnavailable
	case "RequestTimeout":
		return xerrors.KindTimeout
	default:
		return xerrors.KindInternal
	}
}
