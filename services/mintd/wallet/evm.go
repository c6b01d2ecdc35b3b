package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// MintABI is the ERC-1155 style mint entry point invoked for every attempt.
const MintABI = `[{"inputs":[{"internalType":"address","name":"account","type":"address"},{"internalType":"uint256","name":"id","type":"uint256"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"bytes","name":"data","type":"bytes"}],"name":"mint","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

const (
	defaultGasHeadroom    = 10_000
	defaultConfirmTimeout = 300 * time.Second
	defaultReceiptPoll    = 2 * time.Second
)

// Backend is the subset of the Ethereum RPC used to mint.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// NetworkConfig describes one mint network.
type NetworkConfig struct {
	Name           string
	RPCURL         string
	ChainID        int64
	Contract       string
	TokenID        int64
	Amount         int64
	GasHeadroom    uint64
	ConfirmTimeout time.Duration
	ReceiptPoll    time.Duration
}

// EVMClient mints through an EVM JSON-RPC endpoint.
type EVMClient struct {
	cfg      NetworkConfig
	backend  Backend
	contract common.Address
	abi      abi.ABI

	mu      sync.Mutex
	chainID *big.Int
}

// Dial connects to the network's RPC endpoint.
func Dial(ctx context.Context, cfg NetworkConfig) (*EVMClient, error) {
	endpoint := strings.TrimSpace(cfg.RPCURL)
	if endpoint == "" {
		return nil, fmt.Errorf("%s: rpc url required", cfg.Name)
	}
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, &NetworkError{Network: cfg.Name, Op: "dial", Err: err}
	}
	return NewEVMClient(cfg, client)
}

// NewEVMClient wraps an existing backend.
func NewEVMClient(cfg NetworkConfig, backend Backend) (*EVMClient, error) {
	if backend == nil {
		return nil, fmt.Errorf("%s: backend required", cfg.Name)
	}
	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("%s: invalid contract address %q", cfg.Name, cfg.Contract)
	}
	parsed, err := abi.JSON(strings.NewReader(MintABI))
	if err != nil {
		return nil, fmt.Errorf("parse mint abi: %w", err)
	}
	if cfg.TokenID <= 0 {
		cfg.TokenID = 1
	}
	if cfg.Amount <= 0 {
		cfg.Amount = 1
	}
	if cfg.GasHeadroom == 0 {
		cfg.GasHeadroom = defaultGasHeadroom
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = defaultReceiptPoll
	}
	c := &EVMClient{
		cfg:      cfg,
		backend:  backend,
		contract: common.HexToAddress(cfg.Contract),
		abi:      parsed,
	}
	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	}
	return c, nil
}

// Close releases the underlying connection when it has one.
func (c *EVMClient) Close() {
	if closer, ok := c.backend.(interface{ Close() }); ok {
		closer.Close()
	}
}

// Balance returns the owner's native balance in wei.
func (c *EVMClient) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, c.netErr(OpBalance, err)
	}
	return balance, nil
}

// PackMint encodes the mint call for recipient.
func (c *EVMClient) PackMint(recipient common.Address) ([]byte, error) {
	return c.abi.Pack("mint", recipient, big.NewInt(c.cfg.TokenID), big.NewInt(c.cfg.Amount), []byte{})
}

// SubmitMint signs, broadcasts and waits for a mint paid for by owner.
func (c *EVMClient) SubmitMint(ctx context.Context, owner *ecdsa.PrivateKey, recipient common.Address) (Receipt, error) {
	if owner == nil {
		return Receipt{}, fmt.Errorf("%s: owner key required", c.cfg.Name)
	}
	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return Receipt{}, err
	}
	data, err := c.PackMint(recipient)
	if err != nil {
		return Receipt{}, fmt.Errorf("pack mint: %w", err)
	}
	from := gethcrypto.PubkeyToAddress(owner.PublicKey)
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return Receipt{}, c.netErr(OpNonce, err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &c.contract, Data: data})
	if err != nil {
		return Receipt{}, c.netErr(OpEstimateGas, err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return Receipt{}, c.netErr(OpGasPrice, err)
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    new(big.Int),
		Gas:      gas + c.cfg.GasHeadroom,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(chainID), owner)
	if err != nil {
		return Receipt{}, c.netErr(OpSign, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return Receipt{}, c.netErr(OpSend, err)
	}
	return c.waitMined(ctx, signed.Hash())
}

func (c *EVMClient) waitMined(ctx context.Context, hash common.Hash) (Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(c.cfg.ReceiptPoll)
	defer ticker.Stop()
	var lastErr error
	for {
		receipt, err := c.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			out := Receipt{TxHash: hash.Hex(), GasUsed: receipt.GasUsed, Status: receipt.Status}
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return out, fmt.Errorf("%w: tx %s", ErrReverted, hash.Hex())
			}
			return out, nil
		}
		// NotFound means pending; other read errors are retried until the deadline.
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			lastErr = err
		}
		select {
		case <-waitCtx.Done():
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Receipt{TxHash: hash.Hex()}, fmt.Errorf("wait for %s: %w", hash.Hex(), ctxErr)
			}
			if lastErr != nil {
				return Receipt{TxHash: hash.Hex()}, fmt.Errorf("%w: tx %s after %s (last error: %v)", ErrConfirmationTimeout, hash.Hex(), c.cfg.ConfirmTimeout, lastErr)
			}
			return Receipt{TxHash: hash.Hex()}, fmt.Errorf("%w: tx %s after %s", ErrConfirmationTimeout, hash.Hex(), c.cfg.ConfirmTimeout)
		case <-ticker.C:
		}
	}
}

func (c *EVMClient) resolveChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, c.netErr(OpChainID, err)
	}
	c.chainID = id
	return id, nil
}

func (c *EVMClient) netErr(op string, err error) error {
	return &NetworkError{Network: c.cfg.Name, Op: op, Err: err}
}
