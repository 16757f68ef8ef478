// Package wallet - Tron address derivation.
package wallet

import (
	"crypto/sha256"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

// tronAddressPrefix is the mainnet version byte; it makes base58check
// addresses start with "T".
const tronAddressPrefix = 0x41

// TronAddress converts a secp256k1 public key to a Tron base58check
// address. The payload is the same keccak-derived 20 bytes Ethereum uses,
// prefixed with 0x41 and wrapped in double-sha256 checksum encoding.
func TronAddress(pubKey *secp256k1.PublicKey) string {
	uncompressed := pubKey.SerializeUncompressed()

	h := sha3.NewLegacyKeccak256()
	h.Write(uncompressed[1:]) // drop the 0x04 marker
	hash := h.Sum(nil)

	payload := make([]byte, 0, 21)
	payload = append(payload, tronAddressPrefix)
	payload = append(payload, hash[12:]...)

	return base58CheckEncode(payload)
}

// base58CheckEncode appends a 4-byte double-sha256 checksum and encodes.
func base58CheckEncode(payload []byte) string {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])

	full := make([]byte, 0, len(payload)+4)
	full = append(full, payload...)
	full = append(full, second[:4]...)

	return base58.Encode(full)
}

// TronAddressToEVMHex decodes a base58check Tron address into the
// 21-byte hex form (41...) the Tron HTTP API expects.
func TronAddressToEVMHex(address string) ([]byte, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, err
	}
	if len(raw) < 5 {
		return nil, errors.New("tron address too short")
	}
	return raw[:len(raw)-4], nil
}
