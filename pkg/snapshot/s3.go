package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// PutObjectAPI is the slice of the S3 client the sink needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures the S3 sink.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	// Endpoint targets S3-compatible stores such as MinIO.
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3 writes snapshots to a bucket. Each save replaces prefix/parsed_data.json
// and keeps a copy under prefix/history/<uuid>.json.
type S3 struct {
	client PutObjectAPI
	bucket string
	prefix string
	newID  func() (uuid.UUID, error)
}

// NewS3 loads AWS configuration and creates the sink. Static credentials
// are used when both keys are given, the default chain otherwise.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3WithClient(client, opts.Bucket, opts.Prefix), nil
}

// NewS3WithClient creates a sink over an existing client.
func NewS3WithClient(client PutObjectAPI, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix, newID: uuid.NewV7}
}

// Key is the object key of the latest snapshot.
func (s *S3) Key() string { return path.Join(s.prefix, FileName) }

// Save uploads docs.
func (s *S3) Save(ctx context.Context, docs []Record) error {
	data, err := Encode(docs)
	if err != nil {
		return err
	}
	id, err := s.newID()
	if err != nil {
		return fmt.Errorf("snapshot: id: %w", err)
	}
	for _, key := range []string{path.Join(s.prefix, "history", id.String()+".json"), s.Key()} {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return fmt.Errorf("snapshot: put s3://%s/%s: %w", s.bucket, key, err)
		}
	}
	return nil
}
