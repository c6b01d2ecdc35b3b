// Package randomness supplies the unbiased random draws used for pacing and
// network selection.
package randomness

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand/v2"
	"sync"
)

// Source draws uniform integers in [0, n).
type Source interface {
	NextInt(n int) int
}

// NextChoice returns a uniformly chosen member of set. It panics on an empty set.
func NextChoice[T any](src Source, set []T) T {
	if len(set) == 0 {
		panic("randomness: choice from empty set")
	}
	return set[src.NextInt(len(set))]
}

// NextIntRange returns a uniform integer in the closed range [lo, hi].
func NextIntRange(src Source, lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + src.NextInt(hi-lo+1)
}

// Crypto reads from crypto/rand. The zero value is ready to use.
type Crypto struct{}

// NextInt implements Source. crypto/rand.Int rejects modulo bias internally.
func (Crypto) NextInt(n int) int {
	if n <= 0 {
		panic(fmt.Sprintf("randomness: invalid bound %d", n))
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(fmt.Sprintf("randomness: read entropy: %v", err))
	}
	return int(v.Int64())
}

// Seeded is a deterministic source for tests and replays. It is safe for
// concurrent use.
type Seeded struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeeded returns a deterministic source for the given seed.
func NewSeeded(seed uint64) *Seeded {
	return &Seeded{rng: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NextInt implements Source.
func (s *Seeded) NextInt(n int) int {
	if n <= 0 {
		panic(fmt.Sprintf("randomness: invalid bound %d", n))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Fixed replays a scripted sequence of values, wrapping each into [0, n). When the
// script runs out it keeps returning the last value.
type Fixed struct {
	mu     sync.Mutex
	values []int
	next   int
}

// NewFixed returns a scripted source.
func NewFixed(values ...int) *Fixed {
	return &Fixed{values: values}
}

// NextInt implements Source.
func (f *Fixed) NextInt(n int) int {
	if n <= 0 {
		panic(fmt.Sprintf("randomness: invalid bound %d", n))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.values) == 0 {
		return 0
	}
	idx := f.next
	if idx >= len(f.values) {
		idx = len(f.values) - 1
	} else {
		f.next++
	}
	v := f.values[idx] % n
	if v < 0 {
		v += n
	}
	return v
}
