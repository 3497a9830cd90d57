package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	UsePathStyle  bool
	Prefix        string
}

// Uploader stores generated artifacts in an S3-compatible bucket, keyed by
// their filename under a fixed prefix.
type Uploader struct {
	cfg    Config
	client *s3.Client
}

func NewUploader(cfg Config) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, fmt.Errorf("s3 public base url is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "generated"
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &Uploader{
		cfg:    cfg,
		client: s3.New(options),
	}, nil
}

func (u *Uploader) Upload(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no data to upload")
	}
	if contentType == "" {
		contentType = "image/png"
	}

	key := u.key(filename)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	return u.PublicURL(filename), nil
}

func (u *Uploader) Delete(ctx context.Context, filename string) error {
	_, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(u.key(filename)),
	})
	if err != nil {
		return fmt.Errorf("delete from s3: %w", err)
	}
	return nil
}

// Rename copies the object to the new key and removes the old one; S3 has no
// native rename.
func (u *Uploader) Rename(ctx context.Context, oldFilename, newFilename string) error {
	source := u.cfg.Bucket + "/" + u.key(oldFilename)
	_, err := u.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(u.cfg.Bucket),
		CopySource: aws.String(source),
		Key:        aws.String(u.key(newFilename)),
		ACL:        types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return fmt.Errorf("copy s3 object: %w", err)
	}
	if err := u.Delete(ctx, oldFilename); err != nil {
		return fmt.Errorf("remove old s3 object: %w", err)
	}
	return nil
}

func (u *Uploader) PublicURL(filename string) string {
	return strings.TrimRight(u.cfg.PublicBaseURL, "/") + "/" + u.key(filename)
}

func (u *Uploader) key(filename string) string {
	return path.Join(strings.Trim(u.cfg.Prefix, "/"), filename)
}
