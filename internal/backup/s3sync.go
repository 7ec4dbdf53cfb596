package backup

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/charmbracelet/log"
)

// S3Uploader copies finished backup directories to an S3 bucket for offsite
// retention. Uploads are best-effort: a failure never fails the backup.
type S3Uploader struct {
	client *s3.Client
	bucket string
	prefix string
	logger *log.Logger
}

// NewS3Uploader builds an uploader from the ambient AWS configuration.
func NewS3Uploader(ctx context.Context, bucket, prefix string, logger *log.Logger) (*S3Uploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 uploader: bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("s3 uploader: load AWS config: %w", err)
	}
	return &S3Uploader{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
		logger: logger.With("component", "s3sync"),
	}, nil
}

func (u *S3Uploader) key(backupID, rel string) string {
	key := backupID + "/" + filepath.ToSlash(rel)
	if u.prefix != "" {
		key = u.prefix + "/" + key
	}
	return key
}

// UploadDir puts every file in the backup directory under
// {prefix}/{backupID}/ in the bucket, manifest last so a complete manifest
// implies a complete upload.
func (u *S3Uploader) UploadDir(ctx context.Context, dir, backupID string) error {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk backup dir: %w", err)
	}

	var manifest string
	for _, rel := range files {
		if rel == manifestFile {
			manifest = rel
			continue
		}
		if err := u.putFile(ctx, dir, backupID, rel); err != nil {
			return err
		}
	}
	if manifest != "" {
		if err := u.putFile(ctx, dir, backupID, manifest); err != nil {
			return err
		}
	}
	u.logger.Info("backup uploaded", "backupId", backupID, "bucket", u.bucket, "files", len(files))
	return nil
}

func (u *S3Uploader) putFile(ctx context.Context, dir, backupID, rel string) error {
	f, err := os.Open(filepath.Join(dir, rel))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(u.key(backupID, rel)),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", rel, err)
	}
	return nil
}
