// Package wallet holds the process-wide HD wallet. All keys and deposit
// addresses are derived from a single BIP-39 mnemonic; nothing in this
// package performs network I/O.
package wallet

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"

	"github.com/coinharbor/harbor/internal/chain"
)

// ErrUnsupportedNetwork is returned for network codes outside the
// registered set.
var ErrUnsupportedNetwork = fmt.Errorf("unsupported network")

// Wallet manages HD keys derived from a BIP-39 seed.
type Wallet struct {
	seed      []byte
	masterKey *hdkeychain.ExtendedKey

	mu    sync.Mutex
	cache map[string]*hdkeychain.ExtendedKey // path string -> derived key
}

// ValidateMnemonic checks the BIP-39 checksum of a mnemonic.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// New creates a wallet from a BIP-39 mnemonic. The mnemonic is validated
// here; callers must treat a failure as fatal since every address in the
// system depends on this seed.
func New(mnemonic string) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic: checksum validation failed")
	}

	seed := bip39.NewSeed(mnemonic, "")

	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	return &Wallet{
		seed:      seed,
		masterKey: masterKey,
		cache:     make(map[string]*hdkeychain.ExtendedKey),
	}, nil
}

// DeriveKey derives a secp256k1 key at m/purpose'/coin'/0'/0/index.
// Derived keys are memoized for the process lifetime.
func (w *Wallet) DeriveKey(params *chain.Params, index uint32) (*hdkeychain.ExtendedKey, error) {
	if params.Family == chain.FamilySolana {
		return nil, fmt.Errorf("solana keys are not BIP-32 derived; use DeriveSolanaKey")
	}

	path := params.DerivationPathString(index)

	w.mu.Lock()
	defer w.mu.Unlock()

	if key, ok := w.cache[path]; ok {
		return key, nil
	}

	key := w.masterKey
	var err error
	for _, step := range params.DerivationPath(index) {
		key, err = key.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("failed to derive %s: %w", path, err)
		}
	}

	w.cache[path] = key
	return key, nil
}

// DerivePrivateKey derives the secp256k1 private key for (network, index).
func (w *Wallet) DerivePrivateKey(params *chain.Params, index uint32) (*btcec.PrivateKey, error) {
	key, err := w.DeriveKey(params, index)
	if err != nil {
		return nil, err
	}

	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}
	return privKey, nil
}

// DerivePublicKey derives the secp256k1 public key for (network, index).
func (w *Wallet) DerivePublicKey(params *chain.Params, index uint32) (*btcec.PublicKey, error) {
	key, err := w.DeriveKey(params, index)
	if err != nil {
		return nil, err
	}

	pubKey, err := key.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	return pubKey, nil
}

// DeriveAddress derives the deposit address for (network, index). The
// result is a pure function of the seed and the derivation path: the same
// pair always yields the same address.
func (w *Wallet) DeriveAddress(code string, index uint32) (string, error) {
	params, ok := chain.Get(code)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedNetwork, code)
	}

	switch params.Family {
	case chain.FamilyBitcoin:
		pubKey, err := w.DerivePublicKey(params, index)
		if err != nil {
			return "", err
		}
		return P2WPKHAddress(pubKey)

	case chain.FamilyEVM:
		privKey, err := w.DerivePrivateKey(params, index)
		if err != nil {
			return "", err
		}
		return EVMAddress(privKey.PubKey()), nil

	case chain.FamilyTron:
		pubKey, err := w.DerivePublicKey(params, index)
		if err != nil {
			return "", err
		}
		return TronAddress(pubKey), nil

	case chain.FamilySolana:
		derived, err := w.DeriveSolanaKey(index)
		if err != nil {
			return "", err
		}
		return derived.Address, nil

	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedNetwork, code)
	}
}
