package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3RetentionConfig configures optional upload of a job's final output
// artifact to S3 once the pipeline reaches finalize.
type S3RetentionConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Retention uploads output/final.<ext> artifacts to S3 for jobs configured
// to retain output beyond local disk cleanup.
type S3Retention struct {
	client *s3.Client
	bucket string
	region string
}

// NewS3Retention builds an S3Retention from cfg.
func NewS3Retention(ctx context.Context, cfg S3RetentionConfig) (*S3Retention, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Retention{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// UploadOutput uploads the file at localPath under key jobID/filename and
// returns its public URL.
func (r *S3Retention) UploadOutput(ctx context.Context, jobID, localPath string) (string, error) {
	f, err := os.Open(localPath) // #nosec G304 - path is engine-owned, not user input
	if err != nil {
		return "", fmt.Errorf("open output artifact: %w", err)
	}
	defer f.Close()

	key := jobID + "/" + filepath.Base(localPath)
	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("upload output to S3: %w", err)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", r.bucket, r.region, key), nil
}
