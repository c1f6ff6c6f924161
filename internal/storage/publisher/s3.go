package publisher

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/models"
)

// s3Backend stores images in an S3 (or S3-compatible) bucket fronted by a
// public distribution at the configured public base URL.
type s3Backend struct {
	client     *s3.Client
	bucket     string
	prefix     string
	publicBase string
}

func newS3Backend(ctx context.Context, cfg config.PublisherConfig) (*s3Backend, error) {
	if cfg.S3.Bucket == "" {
		return nil, fmt.Errorf("publisher.s3.bucket must be provided for s3 storage")
	}

	opts := []func(*awscfg.LoadOptions) error{}
	if cfg.S3.Region != "" {
		opts = append(opts, awscfg.WithRegion(cfg.S3.Region))
	}
	if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, "")))
	}
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
		o.UsePathStyle = cfg.S3.UsePathStyle
	})

	return &s3Backend{
		client:     client,
		bucket:     cfg.S3.Bucket,
		prefix:     strings.Trim(cfg.S3.Prefix, "/"),
		publicBase: cfg.PublicBaseURL,
	}, nil
}

func (b *s3Backend) upload(ctx context.Context, img models.GeneratedImage, filename string) (string, error) {
	key := filename
	if b.prefix != "" {
		key = b.prefix + "/" + filename
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &b.bucket,
		Key:         &key,
		Body:        bytes.NewReader(img.Bytes),
		ContentType: aws.String(img.ContentType),
	})
	if err != nil {
		return "", err
	}
	publicURL, ok := joinPublicURL(b.publicBase, key)
	if !ok {
		return "", fmt.Errorf("object key %q resolves outside the public base", key)
	}
	return publicURL, nil
}
