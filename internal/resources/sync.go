// Package resources uploads the bootstrap scripts and other static assets
// that launched instances download from the resource bucket.
package resources

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"cloudcubes/internal/logging"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3API is the subset of the S3 client used for uploads.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Sync uploads every regular file under dir to the bucket, keyed by its
// path relative to dir, so server-startup/startup.sh lands exactly where
// the generated user data expects it. Returns the uploaded keys.
func Sync(ctx context.Context, client S3API, bucket, dir string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)

		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer file.Close()

		_, err = client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   file,
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}

		logging.Logger().Info("uploaded resource",
			zap.String("bucket", bucket),
			zap.String("key", key))
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return keys, err
	}
	return keys, nil
}
