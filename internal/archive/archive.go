// Package archive keeps a copy of generated exports in S3
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
)

// Sink stores an export and returns the key it was written under
type Sink interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink writes exports under {prefix}/{yyyy}/{mm}/{name}
type S3Sink struct {
	client objectPutter
	bucket string
	prefix string
	now    func() time.Time
	logger *logrus.Logger
}

// NopSink discards exports; used when no bucket is configured
type NopSink struct{}

func (NopSink) Put(context.Context, string, string, []byte) (string, error) {
	return "", nil
}

// NewSink builds an S3 sink from the default AWS credential chain, or a NopSink
// when no bucket is configured.
func NewSink(ctx context.Context, config domain.ArchiveConfig, logger *logrus.Logger) (Sink, error) {
	if config.Bucket == "" {
		logger.Info("Export archive disabled, no bucket configured")
		return NopSink{}, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	region := cfg.Region
	if config.Region != "" {
		region = config.Region
	}
	endpoint := cfg.BaseEndpoint
	if config.Endpoint != "" {
		endpoint = aws.String(config.Endpoint)
	}

	client := s3.New(s3.Options{
		Region:       region,
		Credentials:  cfg.Credentials,
		HTTPClient:   cfg.HTTPClient,
		BaseEndpoint: endpoint,
		UsePathStyle: config.UsePathStyle,
	})
	return newS3Sink(client, config.Bucket, config.Prefix, logger), nil
}

func newS3Sink(client objectPutter, bucket, prefix string, logger *logrus.Logger) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix, now: time.Now, logger: logger}
}

// Key is the object key an export named name gets at t
func (s *S3Sink) Key(name string, t time.Time) string {
	return path.Join(s.prefix, fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", int(t.Month())), name)
}

// Put uploads data as a private object
func (s *S3Sink) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	key := s.Key(name, s.now().UTC())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s to s3://%s: %w", key, s.bucket, err)
	}

	s.logger.WithFields(logrus.Fields{
		"bucket": s.bucket,
		"key":    key,
		"bytes":  len(data),
	}).Info("Export archived")
	return key, nil
}
