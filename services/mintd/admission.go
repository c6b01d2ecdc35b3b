package mintd

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"mintbot/services/mintd/wallet"
)

// Decision is the admission outcome for one iteration.
type Decision string

// Admission outcomes.
const (
	Admit      Decision = "admit"
	DenyQuota  Decision = "deny_quota"
	DenyGas    Decision = "deny_gas"
	DenyRemote Decision = "deny_network_error"
)

// AdmissionResult carries the decision and the network that was finally chosen.
type AdmissionResult struct {
	Decision Decision
	Network  Network
	Balance  *big.Int
	// Forced is set when a quota denial moved the iteration to the secondary network.
	Forced bool
	Err    error
}

// AdmissionController applies the quota and gas gates.
type AdmissionController struct {
	quota      *QuotaTracker
	clients    map[Network]wallet.Client
	thresholds map[Network]*uint256.Int
}

// NewAdmissionController wires the gates.
func NewAdmissionController(quota *QuotaTracker, clients map[Network]wallet.Client, thresholds map[Network]*uint256.Int) *AdmissionController {
	return &AdmissionController{quota: quota, clients: clients, thresholds: thresholds}
}

// Check runs the quota gate for primary and then the gas gate for whichever
// network is left.
func (a *AdmissionController) Check(ctx context.Context, network Network, owner common.Address) AdmissionResult {
	result := AdmissionResult{Network: network}
	if network == NetworkPrimary && !a.quota.Allow() {
		result.Network = NetworkSecondary
		result.Forced = true
	}
	client, ok := a.clients[result.Network]
	if !ok || client == nil {
		result.Decision = DenyRemote
		result.Err = fmt.Errorf("mintd: no client for %s", result.Network)
		return result
	}
	balance, err := client.Balance(ctx, owner)
	if err != nil {
		result.Decision = DenyRemote
		result.Err = err
		return result
	}
	result.Balance = balance
	if !a.Funded(result.Network, balance) {
		result.Decision = DenyGas
		return result
	}
	result.Decision = Admit
	return result
}

// Funded reports whether balance meets the network's gas threshold.
func (a *AdmissionController) Funded(network Network, balance *big.Int) bool {
	threshold := a.thresholds[network]
	if threshold == nil || threshold.IsZero() {
		return true
	}
	if balance == nil || balance.Sign() < 0 {
		return false
	}
	have, overflow := uint256.FromBig(balance)
	if overflow {
		return true
	}
	return !have.Lt(threshold)
}

// ParseNativeAmount converts a decimal native-currency amount such as "0.5"
// into wei.
func ParseNativeAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must be non-negative", raw)
	}
	rat.Mul(rat, new(big.Rat).SetInt(big.NewInt(params.Ether)))
	if !rat.IsInt() {
		return nil, fmt.Errorf("amount %q has more than 18 decimals", raw)
	}
	wei, overflow := uint256.FromBig(rat.Num())
	if overflow {
		return nil, fmt.Errorf("amount %q overflows", raw)
	}
	return wei, nil
}

// FormatNativeAmount renders wei as a decimal native-currency amount.
func FormatNativeAmount(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	rat := new(big.Rat).SetFrac(wei, big.NewInt(params.Ether))
	return strings.TrimRight(strings.TrimRight(rat.FloatString(18), "0"), ".")
}
