// Package storage uploads ledger backups to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"lukechampine.com/blake3"
)

// ErrStorage wraps every upload failure.
var ErrStorage = errors.New("storage: backup upload failed")

// ChecksumMetadata is the object metadata key holding the payload checksum.
const ChecksumMetadata = "Blake3"

// Checksum returns the hex BLAKE3-256 digest of payload.
func Checksum(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Store receives backup payloads.
type Store interface {
	PutBackup(ctx context.Context, key string, payload []byte, contentType string) error
}

// Config describes the S3 endpoint.
type Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectStore uploads through minio-go. The bucket is created on first use.
type ObjectStore struct {
	client objectClient
	bucket string
	region string

	mu    sync.Mutex
	ready bool
}

// NewObjectStore connects to the configured endpoint.
func NewObjectStore(cfg Config) (*ObjectStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("storage: endpoint required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("storage: bucket required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: client: %w", err)
	}
	return &ObjectStore{client: client, bucket: bucket, region: cfg.Region}, nil
}

// PutBackup uploads payload under key.
func (s *ObjectStore) PutBackup(ctx context.Context, key string, payload []byte, contentType string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	opts := minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{ChecksumMetadata: Checksum(payload)},
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)), opts)
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrStorage, key, err)
	}
	return nil
}

func (s *ObjectStore) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket: %w", err)
		}
	}
	s.ready = true
	return nil
}

// Memory keeps uploads in process.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	keys    []string
	Err     error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// PutBackup implements Store.
func (m *Memory) PutBackup(_ context.Context, key string, payload []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, m.Err)
	}
	if _, ok := m.objects[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.objects[key] = append([]byte(nil), payload...)
	return nil
}

// Keys lists stored keys in upload order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}

// Object returns a stored payload.
func (m *Memory) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.objects[key]
	return v, ok
}

// BackupKey names a threshold or shutdown backup.
func BackupKey(prefix string, at time.Time, ext string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "backups"
	}
	return path.Join(prefix, fmt.Sprintf("nft_records_%s.%s", at.UTC().Format("20060102_150405"), extOrCSV(ext)))
}

// ReportKey names the daily export for day.
func ReportKey(day time.Time, ext string) string {
	return path.Join("reports", fmt.Sprintf("nft_records_%s.%s", day.UTC().Format("20060102"), extOrCSV(ext)))
}

// UnrecordedKey names the object holding an attempt the ledger rejected.
func UnrecordedKey(prefix, attemptID, ext string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "backups"
	}
	return path.Join(prefix, "unrecorded", fmt.Sprintf("%s.%s", attemptID, extOrCSV(ext)))
}

func extOrCSV(ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return "csv"
	}
	return ext
}
