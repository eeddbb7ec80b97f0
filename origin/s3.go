package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config describes how to reach the bucket. Endpoint is for S3-compatible
// servers (MinIO, localstack) and switches to path-style addressing.
type S3Config struct {
	Region    string
	Endpoint  string
	Bucket    string // default bucket for locators without s3://
	AccessKey string
	SecretKey string
	MaxBytes  int64
}

// S3 fetches locators of the form s3://bucket/key, or a bare key in the
// default bucket.
type S3 struct {
	client   *s3.Client
	bucket   string
	maxBytes int64
}

var _ Fetcher = (*S3)(nil)

func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("origin: load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}
	return NewS3FromClient(client, cfg.Bucket, cfg.MaxBytes), nil
}

func NewS3FromClient(client *s3.Client, bucket string, maxBytes int64) *S3 {
	return &S3{client: client, bucket: bucket, maxBytes: maxBytes}
}

var ErrLocator = errors.New("origin: invalid s3 locator")

// ParseS3Locator splits s3://bucket/key. A locator without the scheme is a
// key in def.
func ParseS3Locator(locator, def string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(locator, "s3://")
	if !ok {
		if def == "" || locator == "" {
			return "", "", ErrLocator
		}
		return def, strings.TrimPrefix(locator, "/"), nil
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", ErrLocator
	}
	return bucket, key, nil
}

func (s *S3) Fetch(ctx context.Context, locator string, w io.Writer) error {
	bucket, key, err := ParseS3Locator(locator, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: %q", err, locator)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("origin: s3 get %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()
	return copyLimited(w, out.Body, s.maxBytes)
}
