package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
)

// RetryClient retries mints that failed before their transaction was
// broadcast. Anything that may have reached the mempool is returned as is.
type RetryClient struct {
	next     Client
	attempts int
	initial  time.Duration
}

// WithRetry wraps next with a bounded pre-broadcast retry. attempts counts the
// first try; values below two return next unchanged.
func WithRetry(next Client, attempts int, initial time.Duration) Client {
	if attempts <= 1 || next == nil {
		return next
	}
	if initial <= 0 {
		initial = time.Second
	}
	return &RetryClient{next: next, attempts: attempts, initial: initial}
}

// Balance is not retried; the engine skips the iteration instead.
func (r *RetryClient) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return r.next.Balance(ctx, owner)
}

// SubmitMint implements Client.
func (r *RetryClient) SubmitMint(ctx context.Context, owner *ecdsa.PrivateKey, recipient common.Address) (Receipt, error) {
	var receipt Receipt
	op := func() error {
		rec, err := r.next.SubmitMint(ctx, owner, recipient)
		receipt = rec
		if err == nil {
			return nil
		}
		var netErr *NetworkError
		if errors.As(err, &netErr) && netErr.BeforeBroadcast() {
			return err
		}
		return backoff.Permanent(err)
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.initial
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.attempts-1)), ctx)
	err := backoff.Retry(op, policy)
	return receipt, err
}
