package randomness_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mintbot/services/mintd/randomness"
)

func TestCryptoStaysInBounds(t *testing.T) {
	src := randomness.Crypto{}
	seen := make(map[int]bool)
	for i := 0; i < 2000; i++ {
		v := src.NextInt(7)
		require.GreaterOrEqual(t, v, 0)
		require.Less(t, v, 7)
		seen[v] = true
	}
	require.Len(t, seen, 7, "every value should appear over 2000 draws")
}

func TestNextChoiceMembership(t *testing.T) {
	set := []time.Duration{63 * time.Second, 127 * time.Second, 1800 * time.Second}
	for _, src := range []randomness.Source{randomness.Crypto{}, randomness.NewSeeded(42)} {
		for i := 0; i < 500; i++ {
			require.Contains(t, set, randomness.NextChoice(src, set))
		}
	}
}

func TestNextIntRangeInclusive(t *testing.T) {
	src := randomness.NewSeeded(7)
	lo, hi := 4000, 4003
	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		v := randomness.NextIntRange(src, lo, hi)
		require.GreaterOrEqual(t, v, lo)
		require.LessOrEqual(t, v, hi)
		seen[v] = true
	}
	require.Len(t, seen, 4)
	require.Equal(t, 5, randomness.NextIntRange(src, 5, 5))
}

func TestSeededIsDeterministic(t *testing.T) {
	a, b := randomness.NewSeeded(99), randomness.NewSeeded(99)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.NextInt(1000), b.NextInt(1000))
	}
}

func TestFixedReplaysScript(t *testing.T) {
	src := randomness.NewFixed(1, 9, -1)
	require.Equal(t, 1, src.NextInt(3))
	require.Equal(t, 0, src.NextInt(3))
	require.Equal(t, 2, src.NextInt(3))
	require.Equal(t, 2, src.NextInt(3), "last value repeats")
}

func TestEmptyChoicePanics(t *testing.T) {
	require.Panics(t, func() { randomness.NextChoice[int](randomness.Crypto{}, nil) })
}
