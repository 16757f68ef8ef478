// Package wallet - Ethereum address derivation.
package wallet

import (
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/crypto"
)

// EVMAddress converts a secp256k1 public key to an EIP-55 checksummed
// Ethereum address. The same address receives native ETH and ERC-20
// deposits.
func EVMAddress(pubKey *btcec.PublicKey) string {
	ecdsaKey := pubKey.ToECDSA()
	return crypto.PubkeyToAddress(*ecdsaKey).Hex()
}

// ValidateEVMAddress checks that an address is 20 hex bytes with 0x prefix.
func ValidateEVMAddress(address string) bool {
	if !strings.HasPrefix(address, "0x") || len(address) != 42 {
		return false
	}
	for _, c := range address[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
