package mintd

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"mintbot/services/mintd/ledger"
	"mintbot/services/mintd/wallet"
)

// Failure reasons used in metrics and alerts.
const (
	ReasonReverted            = "reverted"
	ReasonConfirmationTimeout = "confirmation_timeout"
	ReasonNetwork             = "network"
	ReasonUnclassified        = "unclassified"
)

// ErrMintPanicked marks a submission whose client panicked.
var ErrMintPanicked = errors.New("mintd: mint panicked")

// Outcome is a classified mint result ready to be recorded.
type Outcome struct {
	Status       string
	TxIdentifier *string
	GasUsed      *int64
	Err          error
	Reason       string
	Latency      time.Duration
}

// Succeeded reports whether the mint was confirmed.
func (o Outcome) Succeeded() bool { return o.Status == ledger.StatusSuccess }

// Submitter invokes mints and classifies their results. It never retries;
// retries live in the client decorator.
type Submitter struct {
	clients map[Network]wallet.Client
	timeout time.Duration
	now     func() time.Time
}

// NewSubmitter returns a submitter bounded by timeout per mint.
func NewSubmitter(clients map[Network]wallet.Client, timeout time.Duration, now func() time.Time) *Submitter {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Submitter{clients: clients, timeout: timeout, now: now}
}

// Submit mints one token to recipient on network with owner paying fees. A
// panic in the client is reported as an unclassified failure so the attempt
// is still recorded.
func (s *Submitter) Submit(ctx context.Context, network Network, owner *ecdsa.PrivateKey, recipient common.Address) (out Outcome) {
	client, ok := s.clients[network]
	if !ok || client == nil {
		return Classify(wallet.Receipt{}, fmt.Errorf("mintd: no client for %s", network))
	}
	mintCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	started := s.now()
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{
				Status:  ledger.StatusFailed,
				Err:     fmt.Errorf("%w: %v", ErrMintPanicked, r),
				Reason:  ReasonUnclassified,
				Latency: s.now().Sub(started),
			}
		}
	}()
	receipt, err := client.SubmitMint(mintCtx, owner, recipient)
	if err != nil && receipt.TxHash != "" && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: tx %s after %s", wallet.ErrConfirmationTimeout, receipt.TxHash, s.timeout)
	}
	out = Classify(receipt, err)
	out.Latency = s.now().Sub(started)
	return out
}

// Classify maps a client result to an Outcome.
func Classify(receipt wallet.Receipt, err error) Outcome {
	if err == nil {
		if receipt.Status != 1 {
			err = fmt.Errorf("%w: tx %s", wallet.ErrReverted, receipt.TxHash)
		} else {
			return Outcome{
				Status:       ledger.StatusSuccess,
				TxIdentifier: stringPtr(receipt.TxHash),
				GasUsed:      gasPtr(receipt.GasUsed),
			}
		}
	}
	out := Outcome{Status: ledger.StatusFailed, Err: err}
	var netErr *wallet.NetworkError
	switch {
	case errors.Is(err, wallet.ErrReverted):
		out.Reason = ReasonReverted
		if receipt.TxHash != "" {
			out.TxIdentifier = stringPtr(receipt.TxHash)
			out.GasUsed = gasPtr(receipt.GasUsed)
		}
	case errors.Is(err, wallet.ErrConfirmationTimeout):
		out.Reason = ReasonConfirmationTimeout
	case errors.As(err, &netErr):
		out.Reason = ReasonNetwork
	default:
		out.Reason = ReasonUnclassified
	}
	return out
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func gasPtr(v uint64) *int64 {
	g := int64(v)
	return &g
}
