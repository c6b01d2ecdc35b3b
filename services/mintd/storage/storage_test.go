package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	exists    bool
	made      int
	puts      map[string][]byte
	meta      map[string]map[string]string
	putErr    error
	existsErr error
}

func (f *fakeObjects) BucketExists(context.Context, string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeObjects) MakeBucket(context.Context, string, minio.MakeBucketOptions) error {
	f.made++
	f.exists = true
	return nil
}

func (f *fakeObjects) PutObject(_ context.Context, _ string, object string, reader io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[object] = data
	if f.meta == nil {
		f.meta = make(map[string]map[string]string)
	}
	f.meta[object] = opts.UserMetadata
	return minio.UploadInfo{Key: object, Size: int64(len(data))}, nil
}

func TestObjectStoreCreatesBucketOnce(t *testing.T) {
	fake := &fakeObjects{}
	store := &ObjectStore{client: fake, bucket: "mint-backups"}
	ctx := context.Background()
	require.NoError(t, store.PutBackup(ctx, "backups/a.csv", []byte("a"), "text/csv"))
	require.NoError(t, store.PutBackup(ctx, "backups/b.csv", []byte("b"), "text/csv"))
	require.Equal(t, 1, fake.made)
	require.Equal(t, []byte("b"), fake.puts["backups/b.csv"])
	require.Equal(t, Checksum([]byte("b")), fake.meta["backups/b.csv"][ChecksumMetadata])
}

func TestObjectStoreWrapsErrors(t *testing.T) {
	fake := &fakeObjects{exists: true, putErr: errors.New("access denied")}
	store := &ObjectStore{client: fake, bucket: "mint-backups"}
	err := store.PutBackup(context.Background(), "k", nil, "text/csv")
	require.ErrorIs(t, err, ErrStorage)

	fake = &fakeObjects{existsErr: errors.New("dns")}
	store = &ObjectStore{client: fake, bucket: "mint-backups"}
	require.ErrorIs(t, store.PutBackup(context.Background(), "k", nil, "text/csv"), ErrStorage)
}

func TestChecksum(t *testing.T) {
	require.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", Checksum(nil))
	require.Len(t, Checksum([]byte("nft_records")), 64)
	require.NotEqual(t, Checksum([]byte("a")), Checksum([]byte("b")))
}

func TestKeys(t *testing.T) {
	at := time.Date(2024, 7, 9, 23, 5, 1, 0, time.UTC)
	require.Equal(t, "backups/nft_records_20240709_230501.csv", BackupKey("", at, ""))
	require.Equal(t, "archive/nft_records_20240709_230501.parquet", BackupKey("/archive/", at, ".parquet"))
	require.Equal(t, "reports/nft_records_20240709.csv", ReportKey(at, "csv"))
}

func TestMemoryStore(t *testing.T) {
	mem := NewMemory()
	require.NoError(t, mem.PutBackup(context.Background(), "x", []byte("1"), ""))
	payload, ok := mem.Object("x")
	require.True(t, ok)
	require.Equal(t, []byte("1"), payload)
	require.Equal(t, []string{"x"}, mem.Keys())

	mem.Err = errors.New("offline")
	require.ErrorIs(t, mem.PutBackup(context.Background(), "y", nil, ""), ErrStorage)
}

func TestNewObjectStoreValidates(t *testing.T) {
	_, err := NewObjectStore(Config{Bucket: "b"})
	require.Error(t, err)
	_, err = NewObjectStore(Config{Endpoint: "localhost:9000"})
	require.Error(t, err)
	store, err := NewObjectStore(Config{Endpoint: "localhost:9000", Bucket: "b", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	require.NotNil(t, store)
}
