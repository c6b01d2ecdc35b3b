package mintd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mintbot/services/mintd/randomness"
)

func TestQuotaNeverExceedsLimit(t *testing.T) {
	q, err := NewQuotaTracker(randomness.NewSeeded(1), 3, 3)
	require.NoError(t, err)
	rolled, _ := q.Roll(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC))
	require.False(t, rolled, "first roll only initialises")

	for i := 0; i < 3; i++ {
		require.True(t, q.Allow())
		require.NoError(t, q.Consume())
	}
	require.False(t, q.Allow())
	require.ErrorIs(t, q.Consume(), ErrQuotaExhausted)
	require.Equal(t, 3, q.Counters().PrimaryCount)
	require.Zero(t, q.Counters().Remaining())
}

func TestQuotaRollsAtUTCMidnight(t *testing.T) {
	q, err := NewQuotaTracker(randomness.NewSeeded(2), 4000, 6300)
	require.NoError(t, err)
	q.Roll(time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC))
	require.NoError(t, q.Consume())

	rolled, _ := q.Roll(time.Date(2024, 1, 1, 23, 59, 59, 0, time.UTC))
	require.False(t, rolled)

	// 01:00 in UTC+2 is still the previous UTC day.
	rolled, _ = q.Roll(time.Date(2024, 1, 2, 1, 0, 0, 0, time.FixedZone("EET", 2*3600)))
	require.False(t, rolled)

	rolled, previous := q.Roll(time.Date(2024, 1, 2, 0, 0, 1, 0, time.UTC))
	require.True(t, rolled)
	require.Equal(t, "2024-01-01", previous.Date)
	require.Equal(t, 1, previous.PrimaryCount)

	counters := q.Counters()
	require.Equal(t, "2024-01-02", counters.Date)
	require.Zero(t, counters.PrimaryCount)
	require.GreaterOrEqual(t, counters.PrimaryLimit, 4000)
	require.LessOrEqual(t, counters.PrimaryLimit, 6300)
}

func TestQuotaSeedClamps(t *testing.T) {
	q, err := NewQuotaTracker(randomness.NewSeeded(3), 10, 10)
	require.NoError(t, err)
	q.Roll(time.Now())
	q.Seed(25)
	require.Equal(t, 10, q.Counters().PrimaryCount)
	require.False(t, q.Allow())
	q.Seed(-1)
	require.Zero(t, q.Counters().PrimaryCount)
}

func TestQuotaValidatesRange(t *testing.T) {
	_, err := NewQuotaTracker(randomness.Crypto{}, 10, 5)
	require.Error(t, err)
}
