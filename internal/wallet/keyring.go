// Package wallet holds the signing keys the pipeline executes with.
//
// Wallets are provisioned from config as hex-encoded ECDSA private keys
// keyed by a wallet ID. The executor asks the keyring to sign the bytes of
// a built transaction; a request naming a wallet ID that was never
// provisioned fails with ErrUnknownWallet and settles as Failed.
package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrUnknownWallet is returned when a wallet ID is not provisioned.
var ErrUnknownWallet = errors.New("unknown wallet")

// Keyring maps wallet IDs to signing keys.
type Keyring struct {
	keys map[string]*ecdsa.PrivateKey
}

// NewKeyring parses the configured wallet keys. Keys may carry a 0x prefix.
func NewKeyring(wallets map[string]string) (*Keyring, error) {
	keys := make(map[string]*ecdsa.PrivateKey, len(wallets))
	for id, keyHex := range wallets {
		if len(keyHex) >= 2 && keyHex[:2] == "0x" {
			keyHex = keyHex[2:]
		}
		key, err := crypto.HexToECDSA(keyHex)
		if err != nil {
			return nil, fmt.Errorf("parse key for wallet %q: %w", id, err)
		}
		keys[id] = key
	}
	return &Keyring{keys: keys}, nil
}

// Has reports whether the wallet ID is provisioned.
func (k *Keyring) Has(walletID string) bool {
	_, ok := k.keys[walletID]
	return ok
}

// Address returns the on-chain address for a wallet ID.
func (k *Keyring) Address(walletID string) (common.Address, error) {
	key, ok := k.keys[walletID]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownWallet, walletID)
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// Sign signs the keccak hash of payload with the wallet's key and returns
// the signature hex-encoded.
func (k *Keyring) Sign(walletID string, payload []byte) (string, error) {
	key, ok := k.keys[walletID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownWallet, walletID)
	}

	sig, err := crypto.Sign(crypto.Keccak256(payload), key)
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	return hex.EncodeToString(sig), nil
}
