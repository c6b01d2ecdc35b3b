package mintd

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"mintbot/services/mintd/randomness"
)

// ErrQuotaExhausted is returned when the day's primary limit has been reached.
var ErrQuotaExhausted = errors.New("mintd: primary daily quota exhausted")

// DailyCounters tracks primary usage for one UTC day.
type DailyCounters struct {
	Date         string `json:"date"`
	PrimaryCount int    `json:"primary_count"`
	PrimaryLimit int    `json:"primary_limit"`
}

// Remaining returns how many primary attempts are left today.
func (c DailyCounters) Remaining() int {
	if c.PrimaryCount >= c.PrimaryLimit {
		return 0
	}
	return c.PrimaryLimit - c.PrimaryCount
}

// QuotaTracker enforces the per-day primary limit. A fresh limit is drawn from
// [min, max] every UTC day.
type QuotaTracker struct {
	mu       sync.Mutex
	src      randomness.Source
	min      int
	max      int
	counters DailyCounters
}

// NewQuotaTracker validates the limit range.
func NewQuotaTracker(src randomness.Source, min, max int) (*QuotaTracker, error) {
	if src == nil {
		return nil, fmt.Errorf("mintd: quota requires a randomness source")
	}
	if min < 0 || max < min {
		return nil, fmt.Errorf("mintd: invalid primary daily range [%d, %d]", min, max)
	}
	return &QuotaTracker{src: src, min: min, max: max}, nil
}

// Roll starts a new day when now falls on a different UTC date. It reports
// whether an existing day was closed and returns that day's counters.
func (q *QuotaTracker) Roll(now time.Time) (bool, DailyCounters) {
	q.mu.Lock()
	defer q.mu.Unlock()
	day := dayBucket(now)
	if q.counters.Date == day {
		return false, q.counters
	}
	previous := q.counters
	q.counters = DailyCounters{
		Date:         day,
		PrimaryLimit: randomness.NextIntRange(q.src, q.min, q.max),
	}
	return previous.Date != "", previous
}

// Allow reports whether another primary attempt fits today's limit.
func (q *QuotaTracker) Allow() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counters.PrimaryCount < q.counters.PrimaryLimit
}

// Consume records one primary attempt.
func (q *QuotaTracker) Consume() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.counters.PrimaryCount >= q.counters.PrimaryLimit {
		return ErrQuotaExhausted
	}
	q.counters.PrimaryCount++
	return nil
}

// Seed restores today's count, clamped to the limit.
func (q *QuotaTracker) Seed(count int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if count < 0 {
		count = 0
	}
	if count > q.counters.PrimaryLimit {
		count = q.counters.PrimaryLimit
	}
	q.counters.PrimaryCount = count
}

// Counters returns a snapshot.
func (q *QuotaTracker) Counters() DailyCounters {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counters
}

func dayBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
