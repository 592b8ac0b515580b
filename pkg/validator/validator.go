// Package validator implements the checksum validation handler: fingerprint
// the payload, compare it with the caller's expectation and, on a match,
// persist it under a content-addressed name.
package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jacktea/sumgate/pkg/checksum"
	"github.com/jacktea/sumgate/pkg/metrics"
	"github.com/jacktea/sumgate/pkg/storage"
	"github.com/jacktea/sumgate/pkg/xerrors"
)

// Outcome is the terminal state of a validation.
type Outcome string

const (
	Mismatch      Outcome = "mismatch"
	Stored        Outcome = "stored"
	StorageFailed Outcome = "storage_failed"
	Rejected      Outcome = "rejected"
)

var tracer = otel.Tracer("github.com/jacktea/sumgate/pkg/validator")

type (
	// Request is a payload to validate. A nil ExpectedChecksum skips the
	// comparison; a non-nil empty string is compared like any other value.
	Request struct {
		Data             []byte
		ExpectedChecksum *string
		Bucket           string
	}

	// Response is the result of a validation that did not fail at the
	// storage layer.
	Response struct {
		Success         bool
		Checksum        string
		ObjectPath      string
		ValidationError string
	}

	// Options configures a Validator.
	Options struct {
		Logger logr.Logger
		// RejectEmptyBucket fails requests without a bucket before storage is
		// contacted. Mismatches are still reported first.
		RejectEmptyBucket bool
	}

	// Validator handles validation requests. It holds no per-request state
	// and is safe for concurrent use.
	Validator struct {
		store  storage.Client
		logger logr.Logger
		opts   Options
	}
)

// StorageError reports a failed upload. It is never turned into a success
// response.
type StorageError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage upload failed: %v", e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrEmptyBucket is returned when a request names no bucket and the
// validator is configured to reject it.
var ErrEmptyBucket = xerrors.E(xerrors.KindInvalid, "validate", "bucket must not be empty")

// New returns a validator writing to store.
func New(store storage.Client, opts Options) *Validator {
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &Validator{store: store, logger: logger, opts: opts}
}

// Validate fingerprints req.Data and stores it unless the caller's expected
// checksum disagrees. A mismatch is reported in the response and never
// touches storage. A failed upload is returned as a *StorageError.
func (v *Validator) Validate(ctx context.Context, req Request) (Response, error) {
	ctx, span := tracer.Start(ctx, "validator.Validate", trace.WithAttributes(
		attribute.String("bucket", req.Bucket),
		attribute.Int("size", len(req.Data)),
	))
	defer span.End()

	sum := checksum.Sum(req.Data)
	span.SetAttributes(attribute.String("checksum", sum))

	if req.ExpectedChecksum != nil && *req.ExpectedChecksum != sum {
		v.record(span, Mismatch)
		v.logger.V(1).Info("checksum mismatch", "expected", *req.ExpectedChecksum, "actual", sum)
		return Response{
			Success:         false,
			Checksum:        sum,
			ValidationError: fmt.Sprintf("Checksum mismatch: expected %s, got %s", *req.ExpectedChecksum, sum),
		}, nil
	}

	if v.opts.RejectEmptyBucket && req.Bucket == "" {
		v.record(span, Rejected)
		span.SetStatus(otelcodes.Error, ErrEmptyBucket.Error())
		return Response{}, ErrEmptyBucket
	}

	key := checksum.ObjectName(sum)
	start := time.Now()
	err := v.store.Put(ctx, req.Bucket, key, req.Data)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.StoragePutDuration.WithLabelValues("error").Observe(elapsed)
		v.record(span, StorageFailed)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		v.logger.Error(err, "storing payload", "bucket", req.Bucket, "key", key)
		return Response{}, &StorageError{Bucket: req.Bucket, Key: key, Err: err}
	}
	metrics.StoragePutDuration.WithLabelValues("ok").Observe(elapsed)
	metrics.StoredBytes.Add(float64(len(req.Data)))
	v.record(span, Stored)

	path := checksum.ObjectPath(req.Bucket, key)
	v.logger.V(1).Info("stored payload", "path", path, "size", len(req.Data))
	return Response{
		Success:    true,
		Checksum:   sum,
		ObjectPath: path,
	}, nil
}

func (v *Validator) record(span trace.Span, outcome Outcome) {
	metrics.Validations.WithLabelValues(string(outcome)).Inc()
	span.SetAttributes(attribute.String("outcome", string(outcome)))
}

// IsStorageError reports whether err came from a failed upload.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
