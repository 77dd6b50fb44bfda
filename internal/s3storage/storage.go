// Package s3storage keeps copies of uploaded datasets and applied batches in
// MinIO/S3 so the pending queue and applied pool can be audited later.
package s3storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/VoteDrop/internal/config"
	"github.com/dharsanguruparan/VoteDrop/internal/model"
)

// Storage wraps MinIO/S3 interactions for raw uploads and applied batches.
type Storage struct {
	client          *minio.Client
	rawBucket       string
	processedBucket string
	region          string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:          client,
		rawBucket:       cfg.RawBucket,
		processedBucket: cfg.ProcessedBucket,
		region:          cfg.S3Region,
	}, nil
}

// EnsureBuckets makes sure the raw/processed buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.rawBucket, s.processedBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// UploadKey is where the raw bytes of an upload are stored.
func UploadKey(datasetID, name string) string {
	// path.Base drops any directories a client put in the file name.
	return path.Join("uploads", datasetID, path.Base(name))
}

// AppliedKey is where the votes applied from a dataset are stored.
func AppliedKey(datasetID string) string {
	return path.Join("applied", datasetID+".json")
}

// ArchiveUpload stores the file exactly as it was uploaded.
func (s *Storage) ArchiveUpload(ctx context.Context, datasetID, name string, data []byte) error {
	opts := minio.PutObjectOptions{ContentType: contentType(name)}
	_, err := s.client.PutObject(ctx, s.rawBucket, UploadKey(datasetID, name), bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("upload raw object: %w", err)
	}
	return nil
}

// ArchiveApplied writes the applied votes of one dataset as a JSON array.
func (s *Storage) ArchiveApplied(ctx context.Context, datasetID string, votes []model.AppliedVote) error {
	data, err := json.Marshal(votes)
	if err != nil {
		return fmt.Errorf("encode applied votes: %w", err)
	}
	opts := minio.PutObjectOptions{ContentType: "application/json"}
	_, err = s.client.PutObject(ctx, s.processedBucket, AppliedKey(datasetID), bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("upload applied object: %w", err)
	}
	return nil
}

// DownloadUpload fetches the archived bytes of an upload.
func (s *Storage) DownloadUpload(ctx context.Context, datasetID, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.rawBucket, UploadKey(datasetID, name), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get raw object: %w", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read raw object: %w", err)
	}
	return buf, nil
}

// PresignUploadURL returns a signed GET URL for an archived upload.
func (s *Storage) PresignUploadURL(ctx context.Context, datasetID, name string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.rawBucket, UploadKey(datasetID, name), expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign raw object: %w", err)
	}
	return u.String(), nil
}

func contentType(name string) string {
	if path.Ext(name) == ".xlsx" {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/json"
}
