package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/zeebo/blake3"

	"github.com/triggerkit/triggerkit/internal/config"
)

// ArtifactStore keeps provisioning artifacts (creation log snapshots, runner
// request captures) in S3, content-addressed by blake3 digest. Identical
// payloads dedupe to one object.
type ArtifactStore struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewArtifactStore(ctx context.Context, cfg config.S3Config) (*ArtifactStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &ArtifactStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Put stores one artifact and returns its content-addressed key.
func (s *ArtifactStore) Put(ctx context.Context, data []byte) (string, error) {
	key := s.keyFor(data)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("storing artifact %s: %w", key, err)
	}
	return key, nil
}

// PutProvisionLog snapshots a runtime's creation logs as a JSON artifact.
func (s *ArtifactStore) PutProvisionLog(ctx context.Context, configHash string, logs []string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"configHash": configHash,
		"logs":       logs,
	})
	if err != nil {
		return "", fmt.Errorf("encoding provision log: %w", err)
	}
	return s.Put(ctx, payload)
}

func (s *ArtifactStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching artifact %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// keyFor shards objects by the digest's first two hex characters to keep
// listings balanced.
func (s *ArtifactStore) keyFor(data []byte) string {
	digest := blake3.Sum256(data)
	hexDigest := hex.EncodeToString(digest[:])
	return path.Join(s.prefix, hexDigest[:2], hexDigest)
}
