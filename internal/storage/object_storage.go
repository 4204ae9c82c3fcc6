package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultObjectStorageRequestTimeout = 30 * time.Second

// ObjectStorageConfig points the S3 client at AWS or any S3-compatible store.
type ObjectStorageConfig struct {
	Endpoint              string
	Region                string
	AccessKey             string
	SecretKey             string
	PublicEndpoint        string
	UsePathStyle          bool
	ArticleImagesBucket   string
	VideoThumbnailsBucket string
	RequestTimeout        time.Duration
}

func (cfg ObjectStorageConfig) requestTimeout() time.Duration {
	if cfg.RequestTimeout <= 0 {
		return defaultObjectStorageRequestTimeout
	}
	return cfg.RequestTimeout
}

func (cfg ObjectStorageConfig) bucketName(bucket Bucket) string {
	switch bucket {
	case BucketArticleImages:
		if name := strings.TrimSpace(cfg.ArticleImagesBucket); name != "" {
			return name
		}
	case BucketVideoThumbnails:
		if name := strings.TrimSpace(cfg.VideoThumbnailsBucket); name != "" {
			return name
		}
	}
	return string(bucket)
}

// S3ObjectStore implements ObjectStore with the AWS SDK.
type S3ObjectStore struct {
	cfg    ObjectStorageConfig
	client *s3.Client
}

func NewS3ObjectStore(ctx context.Context, cfg ObjectStorageConfig) (*S3ObjectStore, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	accessKey := strings.TrimSpace(cfg.AccessKey)
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if accessKey != "" && secretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	cfg.Endpoint = endpoint
	cfg.Region = region
	return &S3ObjectStore{cfg: cfg, client: client}, nil
}

func (s *S3ObjectStore) Upload(ctx context.Context, bucket Bucket, key string, body []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.requestTimeout())
	defer cancel()
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.bucketName(bucket)),
		Key:           aws.String(strings.TrimLeft(key, "/")),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("upload object %s: %w", key, err)
	}
	return nil
}

// PublicURL prefers the configured public endpoint and falls back to the
// API endpoint in path style.
func (s *S3ObjectStore) PublicURL(bucket Bucket, key string) string {
	name := s.cfg.bucketName(bucket)
	trimmedKey := strings.TrimLeft(key, "/")
	if base := strings.TrimRight(strings.TrimSpace(s.cfg.PublicEndpoint), "/"); base != "" {
		return base + "/" + name + "/" + trimmedKey
	}
	if base := strings.TrimRight(s.cfg.Endpoint, "/"); base != "" {
		return base + "/" + name + "/" + trimmedKey
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", name, s.cfg.Region, (&url.URL{Path: trimmedKey}).EscapedPath())
}

// Ping checks that both buckets are reachable.
func (s *S3ObjectStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.requestTimeout())
	defer cancel()
	var errs []error
	for _, bucket := range []Bucket{BucketArticleImages, BucketVideoThumbnails} {
		name := s.cfg.bucketName(bucket)
		if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)}); err != nil {
			errs = append(errs, fmt.Errorf("bucket %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// MemoryObjectStore keeps uploaded objects in memory and serves URLs below
// baseURL.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]StoredObject
}

type StoredObject struct {
	Data        []byte
	ContentType string
}

func NewMemoryObjectStore(baseURL string) *MemoryObjectStore {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "http://localhost/storage"
	}
	return &MemoryObjectStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]StoredObject),
	}
}

func (m *MemoryObjectStore) Upload(ctx context.Context, bucket Bucket, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[string(bucket)+"/"+key] = StoredObject{
		Data:        append([]byte(nil), body...),
		ContentType: contentType,
	}
	return nil
}

func (m *MemoryObjectStore) PublicURL(bucket Bucket, key string) string {
	return m.baseURL + "/" + string(bucket) + "/" + strings.TrimLeft(key, "/")
}

func (m *MemoryObjectStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Object returns a stored object, if any.
func (m *MemoryObjectStore) Object(bucket Bucket, key string) (StoredObject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[string(bucket)+"/"+key]
	if !ok {
		return StoredObject{}, false
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, true
}

func (m *MemoryObjectStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
