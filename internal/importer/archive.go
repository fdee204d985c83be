package importer

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver stores exported pages for audit and replay.
type Archiver interface {
	Put(ctx context.Context, key string, records any) error
}

// PutObjectAPI is the part of *s3.Client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
}

func NewS3Archiver(client PutObjectAPI, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// DialS3 builds an archiver from the default AWS credential chain.
func DialS3(ctx context.Context, bucket, region, prefix string) (*S3Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3Archiver(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// Put writes records as gzipped JSON under prefix/key.json.gz.
func (a *S3Archiver) Put(ctx context.Context, key string, records any) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(records); err != nil {
		return fmt.Errorf("encode archive %s: %w", key, err)
	}
	if err := zw.Close(); err != nil {
		return err
	}
	objectKey := path.Join(a.prefix, key) + ".json.gz"
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(objectKey),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", objectKey, err)
	}
	return nil
}
