//go:build !gcp

package storage

import (
	"context"
	"errors"

	"github.com/jacktea/sumgate/pkg/xerrors"
)

// GCSConfig describes a Google Cloud Storage target.
type GCSConfig struct {
	Endpoint string
}

// NewGCS reports that GCS support was compiled out.
func NewGCS(ctx context.Context, cfg GCSConfig) (Client, error) {
	return nil, xerrors.Wrap(xerrors.KindInvalid, "storage.gcs", "",
		errors.New("GCS storage is not enabled in this build (use -tags gcp)"))
}
