// Package wallet - reverse address lookup for recovery and debugging.
package wallet

import (
	"fmt"

	"github.com/coinharbor/harbor/internal/chain"
)

// FoundKey is the result of a reverse address lookup.
type FoundKey struct {
	Network string
	Index   uint32
	Address string
	Path    string

	// PrivateKeyHex is the raw private key material for the address.
	// Solana keys are the 64-byte ed25519 form; everything else is the
	// 32-byte secp256k1 scalar.
	PrivateKeyHex string
}

// FindKeyForAddress scans derivation indices 0..maxIndex looking for the
// key behind an address. This is a brute-force O(N) walk intended for
// recovery and debugging only; maxIndex bounds the loop so a typo'd
// address cannot spin forever.
func (w *Wallet) FindKeyForAddress(code, address string, maxIndex uint32) (*FoundKey, error) {
	params, ok := chain.Get(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, code)
	}

	for index := uint32(0); index <= maxIndex; index++ {
		derived, err := w.DeriveAddress(params.Code, index)
		if err != nil {
			return nil, err
		}
		if derived != address {
			continue
		}

		found := &FoundKey{
			Network: params.Code,
			Index:   index,
			Address: address,
			Path:    params.DerivationPathString(index),
		}

		if params.Family == chain.FamilySolana {
			key, err := w.DeriveSolanaKey(index)
			if err != nil {
				return nil, err
			}
			found.PrivateKeyHex = fmt.Sprintf("%x", key.PrivateKey)
		} else {
			priv, err := w.DerivePrivateKey(params, index)
			if err != nil {
				return nil, err
			}
			found.PrivateKeyHex = fmt.Sprintf("%x", priv.Serialize())
		}

		return found, nil
	}

	return nil, fmt.Errorf("address %s not found on %s within %d indices", address, params.Code, maxIndex)
}
