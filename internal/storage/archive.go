package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/mkandie/artifact-triage-api/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive is the long-term store for raw artifacts. The pipeline hands it an
// opaque key; the on-demand-search upgrade and any later audit retrieve by
// the same key.
type Archive interface {
	Store(ctx context.Context, key string, data []byte, contentType string) error
	Retrieve(ctx context.Context, key string) ([]byte, error)
}

// SubmissionKey is the canonical archive location for a submission's raw
// bytes. The packager and the on-demand-search path must agree on it.
func SubmissionKey(submissionID, declaredName string) string {
	if declaredName == "" {
		declaredName = "artifact"
	}
	return path.Join("submissions", submissionID, declaredName)
}

type s3Archive struct {
	client     *minio.Client
	bucketName string
}

func NewS3Archive(cfg *config.Config) (Archive, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	// Ensure bucket exists
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.S3BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.S3BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &s3Archive{client: client, bucketName: cfg.S3BucketName}, nil
}

func (s *s3Archive) Store(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(
		ctx,
		s.bucketName,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return fmt.Errorf("failed to archive artifact: %w", err)
	}
	return nil
}

func (s *s3Archive) Retrieve(ctx context.Context, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get archived artifact: %w", err)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(object); err != nil {
		return nil, fmt.Errorf("failed to read archived artifact: %w", err)
	}
	return buf.Bytes(), nil
}
