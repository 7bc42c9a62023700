// Package storage copies the local cache to an S3 bucket for offsite
// backup. It never touches the ledger; the filesystem is its only input.
package storage

import (
	"context"
	stderrors "errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/metabrainz/caa-backup/pkg/errors"
	"github.com/metabrainz/caa-backup/pkg/security"
)

// Client provides S3 backup operations.
type Client struct {
	s3Client *s3.Client
	bucket   string
}

// NewClient creates an S3 client from the ambient AWS configuration.
func NewClient(ctx context.Context, bucket, region string) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region)

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return &Client{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucket,
	}, nil
}

// Exists checks whether a key is already present in the bucket.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if stderrors.As(err, &notFound) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to check %s", key)
	}
	return true, nil
}

// Upload stores one local file under key.
func (c *Client) Upload(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", localPath)
	}
	defer f.Close()

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to upload %s", key)
	}
	return nil
}

// BackupCache walks the cache root and uploads every file not yet in the
// bucket, keyed by its cache-relative path. A single file's failure is
// logged and skipped; the walk continues.
func (c *Client) BackupCache(ctx context.Context, cacheRoot string) error {
	slog.Info("backup_start", "cache_root", cacheRoot, "bucket", c.bucket)

	var uploaded, skipped, failed int64
	err := filepath.WalkDir(cacheRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := security.EnsureWithinRoot(cacheRoot, path); err != nil {
			slog.Warn("backup_path_skipped", "path", path, "error", err)
			skipped++
			return nil
		}

		key, err := filepath.Rel(cacheRoot, path)
		if err != nil {
			return errors.Wrapf(err, "failed to relativize %s", path)
		}
		key = filepath.ToSlash(key)

		exists, err := c.Exists(ctx, key)
		if err != nil {
			slog.Warn("backup_head_failed", "key", key, "error", err)
			failed++
			return nil
		}
		if exists {
			skipped++
			return nil
		}

		if err := c.Upload(ctx, key, path); err != nil {
			slog.Warn("backup_upload_failed", "key", key, "error", err)
			failed++
			return nil
		}
		uploaded++
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "backup walk failed")
	}

	slog.Info("backup_complete", "uploaded", uploaded, "skipped", skipped, "failed", failed)
	return nil
}
