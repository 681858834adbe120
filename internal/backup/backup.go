// Package backup copies the location store to S3-compatible object storage.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/internal/storage"
)

// ObjectStore is the subset of *minio.Client used for uploads.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Uploader pushes snapshots of the store to a bucket, retrying transient
// failures with exponential backoff.
type Uploader struct {
	store    ObjectStore
	bucket   string
	logger   *slog.Logger
	now      func() time.Time
	maxTries uint
	backOff  func() backoff.BackOff
}

// NewUploader wraps an existing object store client.
func NewUploader(store ObjectStore, bucket string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		store:    store,
		bucket:   bucket,
		logger:   logger,
		now:      time.Now,
		maxTries: 5,
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

// New creates an uploader for the configured endpoint.
func New(cfg config.BackupConfig, logger *slog.Logger) (*Uploader, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("backup: endpoint, access key and secret key are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return NewUploader(client, cfg.Bucket, logger), nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.store.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("error checking bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := u.store.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("error creating bucket %s: %w", u.bucket, err)
	}
	u.logger.Info("Backup bucket created", "bucket", u.bucket)
	return nil
}

// ObjectKey names the object a file uploaded at t is stored under.
func ObjectKey(file string, t time.Time) string {
	t = t.UTC()
	name := filepath.Base(file)
	stem, ext := name, ""
	if i := strings.Index(name, "."); i > 0 {
		stem, ext = name[:i], name[i:]
	}
	return path.Join("locations", t.Format("2006/01/02"), fmt.Sprintf("%s-%s%s", stem, t.Format("20060102T150405Z"), ext))
}

// UploadFile stores file in the bucket and returns its key.
func (u *Uploader) UploadFile(ctx context.Context, file string) (string, error) {
	key := ObjectKey(file, u.now())
	contentType := "application/json"
	switch {
	case storage.IsGzipPath(file):
		contentType = "application/gzip"
	case strings.HasSuffix(file, ".db"):
		contentType = "application/vnd.sqlite3"
	}

	attempt := 0
	info, err := backoff.Retry(ctx, func() (minio.UploadInfo, error) {
		attempt++
		info, err := u.store.FPutObject(ctx, u.bucket, key, file, minio.PutObjectOptions{ContentType: contentType})
		if err != nil && errors.Is(err, os.ErrNotExist) {
			return info, backoff.Permanent(err)
		}
		return info, err
	},
		backoff.WithBackOff(u.backOff()),
		backoff.WithMaxTries(u.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			u.logger.Warn("Backup upload failed, retrying", "key", key, "attempt", attempt, "retryIn", next, "error", err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", file, err)
	}
	u.logger.Info("Backup uploaded", "bucket", u.bucket, "key", key, "bytes", info.Size)
	return key, nil
}

// Run snapshots b and uploads the result. Backends that cannot snapshot
// themselves are exported to a temporary gzip file first.
func (u *Uploader) Run(ctx context.Context, b storage.Backend) (string, error) {
	if s, ok := b.(storage.Snapshotter); ok {
		file, err := s.Snapshot(ctx)
		if err == nil {
			return u.UploadFile(ctx, file)
		}
		u.logger.Debug("Snapshot unavailable, exporting instead", "error", err)
	}

	dir, err := os.MkdirTemp("", "parkd-backup-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, "locations.json.gz")
	n, err := storage.ExportBackend(ctx, b, file)
	if err != nil {
		return "", fmt.Errorf("failed to export store: %w", err)
	}
	u.logger.Debug("Store exported for backup", "records", n)
	return u.UploadFile(ctx, file)
}
