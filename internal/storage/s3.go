package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"blitztrack/internal/jobstore"
	logx "blitztrack/pkg/logx"
)

const (
	s3JobsKey    = "jobs.json"
	s3WinnersKey = "winners.json"

	s3MaxObjectSize int64 = 64 << 20
)

// S3Client is the subset of *s3.Client the store uses.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type s3Store struct {
	log    logx.Logger
	client S3Client
	bucket string
	prefix string

	mu sync.Mutex
}

func openS3(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
	}
	client := cfg.S3Client
	if client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if region := strings.TrimSpace(cfg.Region); region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("storage/s3: load aws config: %w", err)
		}
		endpoint := strings.TrimSpace(cfg.Endpoint)
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if endpoint != "" {
				// S3-compatible stores (minio, localstack) need path-style addressing.
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		})
	}
	return &s3Store{
		log:    log,
		client: client,
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
	}, nil
}

func (s *s3Store) Driver() string { return DriverS3 }
func (s *s3Store) Close() error   { return nil }

func (s *s3Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *s3Store) Save(ctx context.Context, snap jobstore.Snapshot) error {
	jobs, winners, err := encodeDocs(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.put(ctx, s3WinnersKey, winners); err != nil {
		return err
	}
	return s.put(ctx, s3JobsKey, jobs)
}

func (s *s3Store) Load(ctx context.Context) (jobstore.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.get(ctx, s3JobsKey)
	if err != nil {
		return jobstore.Snapshot{}, false, err
	}
	winners, err := s.get(ctx, s3WinnersKey)
	if err != nil {
		return jobstore.Snapshot{}, false, err
	}
	if jobs == nil && winners == nil {
		return jobstore.Snapshot{}, false, nil
	}
	snap, err := decodeDocs(jobs, winners)
	if err != nil {
		return jobstore.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *s3Store) put(ctx context.Context, name string, payload []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("storage/s3: put %q: %w", name, err)
	}
	return nil
}

// get returns nil, nil when the object does not exist.
func (s *s3Store) get(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage/s3: get %q: %w", name, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, s3MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("storage/s3: read %q: %w", name, err)
	}
	if int64(len(data)) > s3MaxObjectSize {
		return nil, fmt.Errorf("%w: %q exceeds %d bytes", ErrCorrupt, name, s3MaxObjectSize)
	}
	return data, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "404":
		return true
	default:
		return false
	}
}
