package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "ledger.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

func sampleAttempt(i int, at time.Time) Attempt {
	a := Attempt{
		AttemptID:           fmt.Sprintf("00000000-0000-7000-8000-%012d", i),
		Timestamp:           at,
		Network:             "primary",
		RecipientAddress:    fmt.Sprintf("0x%040d", i),
		RecipientPrivateKey: fmt.Sprintf("0x%064d", i),
		Status:              StatusSuccess,
		TxIdentifier:        strPtr(fmt.Sprintf("0x%064x", i)),
		GasUsed:             int64Ptr(51000),
	}
	return a
}

func TestAppendAndListInOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		require.NoError(t, store.Append(ctx, sampleAttempt(i, base.Add(time.Duration(i)*time.Minute))))
	}
	rows, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for i := 1; i < len(rows); i++ {
		require.Greater(t, rows[i].Seq, rows[i-1].Seq)
		require.False(t, rows[i].Timestamp.Before(rows[i-1].Timestamp))
	}

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, sampleAttempt(5, base).AttemptID, latest.AttemptID)
}

func TestLatestEmpty(t *testing.T) {
	store := openTestStore(t)
	latest, err := store.Latest(context.Background())
	require.NoError(t, err)
	require.Nil(t, latest)
}

func TestAppendRejectsDuplicates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, sampleAttempt(1, now)))

	sameID := sampleAttempt(2, now)
	sameID.AttemptID = sampleAttempt(1, now).AttemptID
	require.ErrorIs(t, store.Append(ctx, sameID), ErrDuplicate)

	sameAddress := sampleAttempt(3, now)
	sameAddress.RecipientAddress = sampleAttempt(1, now).RecipientAddress
	require.ErrorIs(t, store.Append(ctx, sameAddress), ErrDuplicate)
}

func TestAppendValidates(t *testing.T) {
	store := openTestStore(t)
	bad := sampleAttempt(1, time.Now())
	bad.Status = "pending"
	require.ErrorIs(t, store.Append(context.Background(), bad), ErrInvalid)
}

func TestRowsAreImmutable(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, sampleAttempt(1, time.Now())))

	err := store.db.Exec("UPDATE mint_attempts SET status = ?", StatusFailed).Error
	require.Error(t, err)
	err = store.db.Exec("DELETE FROM mint_attempts").Error
	require.Error(t, err)

	rows, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, StatusSuccess, rows[0].Status)
}

func TestCountSinceAndCounts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	day := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	yesterday := sampleAttempt(1, day.Add(-time.Hour))
	require.NoError(t, store.Append(ctx, yesterday))
	today := sampleAttempt(2, day.Add(time.Hour))
	require.NoError(t, store.Append(ctx, today))
	secondary := sampleAttempt(3, day.Add(2*time.Hour))
	secondary.Network = "secondary"
	secondary.Status = StatusFailed
	secondary.TxIdentifier = nil
	secondary.GasUsed = nil
	secondary.Error = strPtr("rpc down")
	require.NoError(t, store.Append(ctx, secondary))

	n, err := store.CountSince(ctx, "primary", day)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, Counts{Total: 3, Success: 2, Failed: 1}, counts)
}

func TestEncodeCSVColumnOrder(t *testing.T) {
	failed := sampleAttempt(2, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	failed.Status = StatusFailed
	failed.TxIdentifier = nil
	failed.GasUsed = nil
	failed.Error = strPtr("confirmation timeout, tx 0xabc")
	payload, err := EncodeCSV([]Attempt{sampleAttempt(1, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)), failed})
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(payload)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, Header, records[0])
	require.Equal(t, "2024-05-01T09:00:00Z", records[1][1])
	require.Equal(t, "51000", records[1][7])
	require.Equal(t, "", records[2][5])
	require.Equal(t, "failed", records[2][6])
	require.Equal(t, "", records[2][7])
	require.Equal(t, "confirmation timeout, tx 0xabc", records[2][8])
}

func TestEncodeParquet(t *testing.T) {
	payload, contentType, err := Encode(FormatParquet, []Attempt{sampleAttempt(1, time.Now())})
	require.NoError(t, err)
	require.Equal(t, "application/vnd.apache.parquet", contentType)
	require.True(t, bytes.HasPrefix(payload, []byte("PAR1")))
	require.True(t, bytes.HasSuffix(payload, []byte("PAR1")))

	_, _, err = Encode("xml", nil)
	require.Error(t, err)
}
