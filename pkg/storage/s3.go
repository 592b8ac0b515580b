package storage

import (
	"bytes"
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/jacktea/sumgate/pkg/xerrors"
)

// S3Config describes an AWS S3 (or compatible) target. Static credentials are
// optional; without them the default AWS credential chain applies.
type S3Config struct {
	Endpoint     string // optional, for MinIO or LocalStack
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	HTTPClient   aws.HTTPClient
}

// S3Store writes objects with the AWS SDK.
type S3Store struct {
	client *s3.Client
}

// NewS3 loads AWS configuration and builds an S3Store.
func NewS3(ctx context.Context, cfg S3Config) (*S3Store, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		))
	}
	if cfg.HTTPClient != nil {
		loadOpts = append(loadOpts, config.WithHTTPClient(cfg.HTTPClient))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInvalid, "storage.s3", "config", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		}
	})
	return &S3Store{client: client}, nil
}

// Put uploads data with a single PutObject call.
func (s *S3Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err == nil {
		return nil
	}
	kind := xerrors.KindOf(err)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if k := kindForCode(apiErr.ErrorCode()); k != xerrors.KindInternal {
			kind = k
		}
	}
	return xerrors.Wrap(kind, "s3.put", bucket+"/"+key, err)
}
