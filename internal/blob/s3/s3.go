// Package s3 stores uploads in an AWS S3 bucket, or an S3-compatible service
// when an endpoint is configured.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"tabimport/internal/blob"
	"tabimport/internal/errs"
)

func init() {
	blob.Register("s3", func(ctx context.Context, cfg blob.Config) (blob.Store, error) {
		return New(ctx, cfg)
	})
}

// Store is an S3-backed blob.Store.
type Store struct {
	client *s3.Client
	bucket string
}

// New loads the default AWS config chain. Static keys, when set, take
// precedence over the chain's credentials.
func New(ctx context.Context, cfg blob.Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("blob/s3: bucket is required")
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errs.E(errs.KindStorage, "blob.s3", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
			// Third-party S3 implementations often reject the default
			// flexible checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
	})
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *Store) Download(ctx context.Context, ref string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return nil, errs.E(errs.KindStorage, "blob.download", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.E(errs.KindStorage, "blob.download", err)
	}
	return data, nil
}

func (s *Store) Upload(ctx context.Context, name string, data []byte) (string, error) {
	key := blob.ObjectKey(name, time.Now().UTC())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(blob.ContentType(path.Ext(key))),
	})
	if err != nil {
		return "", errs.E(errs.KindStorage, "blob.upload", err)
	}
	return key, nil
}
