// Package storage keeps user avatar images in an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// AvatarStore stores and removes avatar images.
type AvatarStore interface {
	Put(ctx context.Context, key string, body []byte) (string, error)
	Delete(ctx context.Context, location string) error
}

// objectAPI is the subset of the S3 client the store uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options configures an S3AvatarStore.
type S3Options struct {
	Bucket        string
	Region        string
	BaseEndpoint  string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
}

// S3AvatarStore is an AvatarStore backed by S3 or MinIO.
type S3AvatarStore struct {
	client  objectAPI
	bucket  string
	baseURL string
}

// NewS3AvatarStore builds a store from static credentials. An empty
// BaseEndpoint uses AWS endpoint resolution.
func NewS3AvatarStore(ctx context.Context, opts S3Options) (*S3AvatarStore, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	baseURL := opts.PublicBaseURL
	if baseURL == "" && opts.BaseEndpoint != "" {
		baseURL = strings.TrimRight(opts.BaseEndpoint, "/") + "/" + opts.Bucket
	}
	return newS3AvatarStore(client, opts.Bucket, baseURL), nil
}

func newS3AvatarStore(client objectAPI, bucket, baseURL string) *S3AvatarStore {
	return &S3AvatarStore{client: client, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}
}

// Put uploads body under key and returns the location to store on the user.
func (s *S3AvatarStore) Put(ctx context.Context, key string, body []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(http.DetectContentType(body)),
	})
	if err != nil {
		return "", fmt.Errorf("put avatar: %w", err)
	}
	return s.location(key), nil
}

// Delete removes the object behind a location previously returned by Put.
// Locations outside this store are ignored.
func (s *S3AvatarStore) Delete(ctx context.Context, location string) error {
	key, ok := s.key(location)
	if !ok {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete avatar: %w", err)
	}
	return nil
}

func (s *S3AvatarStore) location(key string) string {
	if s.baseURL == "" {
		return key
	}
	return s.baseURL + "/" + key
}

func (s *S3AvatarStore) key(location string) (string, bool) {
	if location == "" {
		return "", false
	}
	if s.baseURL == "" {
		return location, true
	}
	key, ok := strings.CutPrefix(location, s.baseURL+"/")
	return key, ok && key != ""
}
