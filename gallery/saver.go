// Package gallery saves generated images to disk, optionally mirrors them to
// S3, and records each result in the generation history.
package gallery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// ErrNoData is returned when asked to save an empty image.
var ErrNoData = errors.New("gallery: image data is empty")

// SaveParams describes one image to persist.
type SaveParams struct {
	Dir         string
	Name        string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

// Saver persists an image and returns where it was written.
type Saver interface {
	Save(ctx context.Context, params SaveParams) (string, error)
}

// FileSaver writes images into SaveParams.Dir, creating it if missing.
type FileSaver struct{}

// Save implements Saver.
func (FileSaver) Save(ctx context.Context, params SaveParams) (string, error) {
	if len(params.Data) == 0 {
		return "", ErrNoData
	}
	dir := params.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("gallery: creating output directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, params.Name)
	if err := os.WriteFile(path, params.Data, 0644); err != nil {
		return "", fmt.Errorf("gallery: writing %s: %w", path, err)
	}
	return path, nil
}

// PutObjectAPI is the subset of the S3 client used by S3Saver.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Saver uploads images to a bucket under Prefix.
type S3Saver struct {
	Client PutObjectAPI
	Bucket string
	Prefix string
	Logger *zap.Logger
}

// Save implements Saver. The returned location is an s3:// URI.
func (u *S3Saver) Save(ctx context.Context, params SaveParams) (string, error) {
	if len(params.Data) == 0 {
		return "", ErrNoData
	}
	key := params.Name
	if u.Prefix != "" {
		key = u.Prefix + "/" + params.Name
	}

	if u.Logger != nil {
		u.Logger.Debug("Uploading to S3",
			zap.String("bucket", u.Bucket),
			zap.String("key", key),
			zap.Int("bytes", len(params.Data)))
	}

	_, err := u.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(params.ContentType),
		Body:        bytes.NewReader(params.Data),
		Metadata:    params.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("gallery: uploading s3://%s/%s: %w", u.Bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", u.Bucket, key), nil
}
