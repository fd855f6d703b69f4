// Package backup uploads retention backups to S3-compatible storage. With no
// bucket configured the NoopUploader keeps the client in local-only mode.
package backup

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dexsync/dexsync/internal/config"
)

// Uploader stores a retention backup file under an object name.
type Uploader interface {
	Upload(ctx context.Context, objectName, filePath string) error
}

// s3Client is the minimal minio.Client surface used by S3Uploader.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Uploader uploads backups to S3-compatible storage under backups/{name}.
type S3Uploader struct {
	client s3Client
	bucket string
}

// Upload stores the backup file at filePath under objectName.
func (u *S3Uploader) Upload(ctx context.Context, objectName, filePath string) error {
	opts := minio.PutObjectOptions{ContentType: "application/json"}
	if _, err := u.client.FPutObject(ctx, u.bucket, objectKey(objectName), filePath, opts); err != nil {
		return fmt.Errorf("upload backup to S3: %w", err)
	}
	return nil
}

// NoopUploader is used when S3 storage is not configured.
type NoopUploader struct{}

// Upload is a no-op when S3 is not configured.
func (u *NoopUploader) Upload(ctx context.Context, objectName, filePath string) error {
	return nil
}

// NewUploader creates the appropriate Uploader for the configuration.
// Returns NoopUploader when bucket is empty, S3Uploader otherwise.
func NewUploader(cfg config.BackupConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{client: client, bucket: cfg.Bucket}, nil
}

// objectKey namespaces retention backups inside the bucket.
func objectKey(name string) string {
	return "backups/" + name
}
