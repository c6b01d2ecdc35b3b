package mintd

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mintbot/services/mintd/ledger"
	"mintbot/services/mintd/storage"
)

func openTestLedger(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(ledger.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "mints.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedAttempt(t *testing.T, store *ledger.Store, id, network, recipient string, at time.Time) {
	t.Helper()
	tx := "0x" + strings.Repeat("a", 64)
	require.NoError(t, store.Append(context.Background(), ledger.Attempt{
		AttemptID:           id,
		Timestamp:           at,
		Network:             network,
		RecipientAddress:    recipient,
		RecipientPrivateKey: "0x01",
		TxIdentifier:        &tx,
		Status:              ledger.StatusSuccess,
	}))
}

func TestBackupThresholdCounter(t *testing.T) {
	b := NewBackupManager(openTestLedger(t), storage.NewMemory(), BackupConfig{Every: 2}, NewMetrics(), nil)
	require.False(t, b.RecordSuccess())
	require.Equal(t, 1, b.SinceLast())
	require.True(t, b.RecordSuccess())
	require.Zero(t, b.SinceLast())
	require.False(t, b.RecordSuccess())
	require.True(t, b.RecordSuccess())
}

func TestBackupExportUploadsEveryFormat(t *testing.T) {
	store := openTestLedger(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedAttempt(t, store, "a1", "primary", "0x0000000000000000000000000000000000000001", at)
	seedAttempt(t, store, "a2", "secondary", "0x0000000000000000000000000000000000000002", at.Add(time.Minute))

	mem := storage.NewMemory()
	b := NewBackupManager(store, mem, BackupConfig{Formats: []string{ledger.FormatCSV, ledger.FormatParquet}}, NewMetrics(), nil)
	keys, err := b.Export(context.Background(), TriggerThreshold, at.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{
		"backups/nft_records_20240301_130000.csv",
		"backups/nft_records_20240301_130000.parquet",
	}, keys)

	csvBody, ok := mem.Object(keys[0])
	require.True(t, ok)
	lines := strings.Split(strings.TrimSpace(string(csvBody)), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, strings.Join(ledger.Header, ","), lines[0])
	require.True(t, strings.HasPrefix(lines[1], "a1,"))

	parquetBody, ok := mem.Object(keys[1])
	require.True(t, ok)
	require.Equal(t, "PAR1", string(parquetBody[:4]))

	keys, err = b.ExportDaily(context.Background(), at)
	require.NoError(t, err)
	require.Equal(t, []string{"reports/nft_records_20240301.csv", "reports/nft_records_20240301.parquet"}, keys)
}

func TestBackupErrors(t *testing.T) {
	store := openTestLedger(t)
	disabled := NewBackupManager(store, nil, BackupConfig{}, NewMetrics(), nil)
	_, err := disabled.Export(context.Background(), TriggerShutdown, time.Now())
	require.ErrorIs(t, err, ErrBackupDisabled)

	mem := storage.NewMemory()
	mem.Err = context.DeadlineExceeded
	failing := NewBackupManager(store, mem, BackupConfig{}, NewMetrics(), nil)
	keys, err := failing.Export(context.Background(), TriggerShutdown, time.Now())
	require.ErrorIs(t, err, storage.ErrStorage)
	require.Empty(t, keys)
}
