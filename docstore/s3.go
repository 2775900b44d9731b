package docstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/warp/sales-engine/sales"
)

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	Prefix          string
}

// S3 stores receipts in an S3-compatible bucket through minio-go.
type S3 struct {
	raw    *minio.Client
	bucket string
	prefix string
}

var _ sales.DocumentStore = (*S3)(nil)

func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}

	s := &S3{raw: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
	if err := s.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *S3) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.raw.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.raw.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("creating bucket %q: %w", s.bucket, err)
	}
	return nil
}

func (s *S3) Store(ctx context.Context, data []byte, meta sales.DocumentMeta) (sales.ReceiptRef, error) {
	key := s.prefix + ObjectKey(meta)
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.raw.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"sale-id":    string(meta.SaleID),
			"payment-id": string(meta.PaymentID),
		},
	})
	if err != nil {
		return "", fmt.Errorf("put object %q: %w", key, err)
	}
	return sales.ReceiptRef(key), nil
}

// PresignedURL returns a temporary download link for a stored receipt.
func (s *S3) PresignedURL(ctx context.Context, ref sales.ReceiptRef, ttl time.Duration) (string, error) {
	u, err := s.raw.PresignedGetObject(ctx, s.bucket, string(ref), ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign get object %q: %w", ref, err)
	}
	return u.String(), nil
}
