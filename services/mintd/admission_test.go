package mintd

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"mintbot/services/mintd/randomness"
	"mintbot/services/mintd/wallet"
)

func balanceClient(balance *big.Int, err error) wallet.Client {
	return wallet.FuncClient{
		BalanceFunc: func(context.Context, common.Address) (*big.Int, error) { return balance, err },
		MintFunc: func(context.Context, *ecdsa.PrivateKey, common.Address) (wallet.Receipt, error) {
			return wallet.Receipt{}, errors.New("unused")
		},
	}
}

func ether(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(params.Ether))
}

func halfEther(t *testing.T) *uint256.Int {
	t.Helper()
	wei, err := ParseNativeAmount("0.5")
	require.NoError(t, err)
	return wei
}

func TestAdmissionForcesSecondaryWhenQuotaSpent(t *testing.T) {
	quota, err := NewQuotaTracker(randomness.NewSeeded(1), 1, 1)
	require.NoError(t, err)
	quota.Roll(time.Now())
	clients := map[Network]wallet.Client{
		NetworkPrimary:   balanceClient(ether(5), nil),
		NetworkSecondary: balanceClient(ether(5), nil),
	}
	thresholds := map[Network]*uint256.Int{NetworkPrimary: halfEther(t), NetworkSecondary: halfEther(t)}
	ctrl := NewAdmissionController(quota, clients, thresholds)

	result := ctrl.Check(context.Background(), NetworkPrimary, common.Address{})
	require.Equal(t, Admit, result.Decision)
	require.Equal(t, NetworkPrimary, result.Network)
	require.False(t, result.Forced)

	require.NoError(t, quota.Consume())
	result = ctrl.Check(context.Background(), NetworkPrimary, common.Address{})
	require.Equal(t, Admit, result.Decision)
	require.Equal(t, NetworkSecondary, result.Network)
	require.True(t, result.Forced)

	result = ctrl.Check(context.Background(), NetworkSecondary, common.Address{})
	require.Equal(t, NetworkSecondary, result.Network)
	require.False(t, result.Forced)
}

func TestAdmissionGasAndRemoteDenials(t *testing.T) {
	quota, err := NewQuotaTracker(randomness.NewSeeded(1), 10, 10)
	require.NoError(t, err)
	quota.Roll(time.Now())
	rpcErr := &wallet.NetworkError{Network: "secondary", Op: wallet.OpBalance, Err: errors.New("dial tcp: refused")}
	clients := map[Network]wallet.Client{
		NetworkPrimary:   balanceClient(big.NewInt(1), nil),
		NetworkSecondary: balanceClient(nil, rpcErr),
	}
	ctrl := NewAdmissionController(quota, clients, map[Network]*uint256.Int{NetworkPrimary: halfEther(t)})

	result := ctrl.Check(context.Background(), NetworkPrimary, common.Address{})
	require.Equal(t, DenyGas, result.Decision)
	require.Equal(t, 0, result.Balance.Cmp(big.NewInt(1)))
	require.Zero(t, quota.Counters().PrimaryCount, "admission never consumes quota")

	result = ctrl.Check(context.Background(), NetworkSecondary, common.Address{})
	require.Equal(t, DenyRemote, result.Decision)
	require.ErrorIs(t, result.Err, rpcErr)
}

func TestFundedBoundary(t *testing.T) {
	threshold := halfEther(t)
	ctrl := NewAdmissionController(nil, nil, map[Network]*uint256.Int{NetworkPrimary: threshold})
	require.True(t, ctrl.Funded(NetworkPrimary, threshold.ToBig()), "balance equal to the minimum is enough")
	require.False(t, ctrl.Funded(NetworkPrimary, new(big.Int).Sub(threshold.ToBig(), big.NewInt(1))))
	require.False(t, ctrl.Funded(NetworkPrimary, nil))
	require.True(t, ctrl.Funded(NetworkSecondary, big.NewInt(0)), "no threshold means always funded")
}

func TestParseNativeAmount(t *testing.T) {
	cases := map[string]string{
		"0.5":                  "500000000000000000",
		"1":                    "1000000000000000000",
		" 2.25 ":               "2250000000000000000",
		"0.000000000000000001": "1",
		"":                     "0",
	}
	for raw, want := range cases {
		got, err := ParseNativeAmount(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got.Dec(), raw)
	}
	for _, raw := range []string{"abc", "-1", "0.0000000000000000001"} {
		_, err := ParseNativeAmount(raw)
		require.Error(t, err, raw)
	}
	require.Equal(t, "0.5", FormatNativeAmount(halfEther(t).ToBig()))
	require.Equal(t, "3", FormatNativeAmount(ether(3)))
	require.Equal(t, "0", FormatNativeAmount(nil))
}
