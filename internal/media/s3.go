package media

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the S3 resolver. Endpoint points at LocalStack or any
// S3-compatible store; empty uses AWS.
type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 fetches s3://bucket/key references.
type S3 struct {
	client objectGetter
}

func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3{client: client}, nil
}

func (s *S3) Fetch(ctx context.Context, ref string) (*Asset, error) {
	bucket, key, err := parseS3Ref(ref)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3 object %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := readLimited(out.Body)
	if err != nil {
		return nil, err
	}
	mime := aws.ToString(out.ContentType)
	if mime == "" || mime == "binary/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return &Asset{Data: data, MimeType: mime}, nil
}

func parseS3Ref(ref string) (string, string, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 reference %q", ref)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 reference %q has no key", ref)
	}
	return u.Host, key, nil
}
