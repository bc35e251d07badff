// Package minio stores uploads in a MinIO (or any S3-compatible) bucket
// through minio-go.
package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"tabimport/internal/blob"
	"tabimport/internal/errs"
)

func init() {
	blob.Register("minio", func(ctx context.Context, cfg blob.Config) (blob.Store, error) {
		return New(ctx, cfg)
	})
}

// Store is a bucket-backed blob.Store.
type Store struct {
	client *minio.Client
	bucket string
}

// New builds the client and creates the bucket when it does not exist yet.
func New(ctx context.Context, cfg blob.Config) (*Store, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.E(errs.KindStorage, "blob.minio", err)
	}

	ok, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errs.E(errs.KindStorage, "blob.minio", err)
	}
	if !ok {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, errs.E(errs.KindStorage, "blob.minio", err)
		}
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func validate(cfg blob.Config) error {
	switch {
	case cfg.Endpoint == "":
		return errors.New("blob/minio: endpoint is required")
	case cfg.Bucket == "":
		return errors.New("blob/minio: bucket is required")
	}
	return nil
}

func (s *Store) Download(ctx context.Context, ref string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, errs.E(errs.KindStorage, "blob.download", err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, errs.E(errs.KindStorage, "blob.download", err)
	}
	return data, nil
}

func (s *Store) Upload(ctx context.Context, name string, data []byte) (string, error) {
	key := blob.ObjectKey(name, time.Now().UTC())
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: blob.ContentType(path.Ext(key)),
	})
	if err != nil {
		return "", errs.E(errs.KindStorage, "blob.upload", err)
	}
	return key, nil
}
