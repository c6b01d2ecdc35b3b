package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrReverted reports a mint that was mined with a failed status.
	ErrReverted = errors.New("wallet: mint reverted")
	// ErrConfirmationTimeout reports a broadcast mint that was not mined in time.
	ErrConfirmationTimeout = errors.New("wallet: confirmation timeout")
)

// Network operations. Only failures in the stages before OpSend are known not
// to have reached the mempool.
const (
	OpBalance     = "balance"
	OpChainID     = "chain_id"
	OpNonce       = "nonce"
	OpEstimateGas = "estimate_gas"
	OpGasPrice    = "gas_price"
	OpSign        = "sign"
	OpSend        = "send"
)

// NetworkError is a transient RPC failure.
type NetworkError struct {
	Network string
	Op      string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Network, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// BeforeBroadcast reports whether the failure happened before the transaction
// was handed to the node.
func (e *NetworkError) BeforeBroadcast() bool {
	switch e.Op {
	case OpChainID, OpNonce, OpEstimateGas, OpGasPrice, OpSign:
		return true
	default:
		return false
	}
}

// Receipt summarises a mined mint.
type Receipt struct {
	TxHash  string
	GasUsed uint64
	Status  uint64
}

// Client captures what the engine needs from a mint network.
type Client interface {
	Balance(ctx context.Context, owner common.Address) (*big.Int, error)
	SubmitMint(ctx context.Context, owner *ecdsa.PrivateKey, recipient common.Address) (Receipt, error)
}

// FuncClient adapts callback functions to the Client interface.
type FuncClient struct {
	BalanceFunc func(ctx context.Context, owner common.Address) (*big.Int, error)
	MintFunc    func(ctx context.Context, owner *ecdsa.PrivateKey, recipient common.Address) (Receipt, error)
}

// Balance delegates to the configured callback.
func (c FuncClient) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	if c.BalanceFunc == nil {
		return new(big.Int), nil
	}
	return c.BalanceFunc(ctx, owner)
}

// SubmitMint delegates to the configured callback.
func (c FuncClient) SubmitMint(ctx context.Context, owner *ecdsa.PrivateKey, recipient common.Address) (Receipt, error) {
	if c.MintFunc == nil {
		return Receipt{}, nil
	}
	return c.MintFunc(ctx, owner, recipient)
}
