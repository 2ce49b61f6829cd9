package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/lamim/dermaforge/internal/config"
)

// S3Backend keeps checkpoints as objects under bucket/prefix. A PutObject
// replaces the whole object, so readers never see a partial write.
type S3Backend struct {
	client s3iface.S3API
	bucket string
	prefix string
}

// NewS3Backend wraps an existing client
func NewS3Backend(client s3iface.S3API, bucket, prefix string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket, prefix: prefix}
}

// NewS3BackendFromConfig builds a client from configuration. Static keys
// from secrets take precedence; otherwise the default AWS credential chain
// is used.
func NewS3BackendFromConfig(cfg config.S3Config, secrets *config.Secrets) (*S3Backend, error) {
	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
	}
	if cfg.EndpointURL != "" {
		awsCfg.Endpoint = aws.String(cfg.EndpointURL)
	}
	if secrets != nil && secrets.HasStaticAWSCredentials() {
		awsCfg.Credentials = credentials.NewStaticCredentials(
			secrets.AWSAccessKeyID, secrets.AWSSecretAccessKey, secrets.AWSSessionToken)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewS3Backend(s3.New(sess), cfg.Bucket, cfg.Prefix), nil
}

func (b *S3Backend) key(name string) string {
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

func (b *S3Backend) Location(name string) string {
	return "s3://" + b.bucket + "/" + b.key(name)
}

func (b *S3Backend) Put(ctx context.Context, name string, data []byte) error {
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", b.Location(name), err)
	}
	return nil
}

func (b *S3Backend) Get(ctx context.Context, name string) ([]byte, error) {
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("object %s: %w", b.Location(name), fs.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", b.Location(name), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", b.Location(name), err)
	}
	return data, nil
}

func (b *S3Backend) Delete(ctx context.Context, name string) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object %s: %w", b.Location(name), err)
	}
	return nil
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}
