// Package wallet generates recipient wallets and talks to the mint networks.
package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Record is a freshly generated recipient wallet.
type Record struct {
	Address    common.Address
	PrivateKey string
	CreatedAt  time.Time
}

// Generator produces recipient wallets. Generate must never return the same
// address twice.
type Generator interface {
	Generate(now time.Time) (Record, error)
}

// KeyGenerator creates secp256k1 keypairs from the operating system entropy pool.
type KeyGenerator struct{}

// Generate implements Generator.
func (KeyGenerator) Generate(now time.Time) (Record, error) {
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		return Record{}, fmt.Errorf("generate key: %w", err)
	}
	return RecordFromKey(key, now), nil
}

// RecordFromKey builds a record for an existing key.
func RecordFromKey(key *ecdsa.PrivateKey, now time.Time) Record {
	return Record{
		Address:    gethcrypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: "0x" + hex.EncodeToString(gethcrypto.FromECDSA(key)),
		CreatedAt:  now.UTC(),
	}
}
