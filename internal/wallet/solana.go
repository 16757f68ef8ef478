// Package wallet - Solana key derivation.
//
// Solana uses SLIP-0010 ed25519 derivation directly from the seed with a
// fully hardened path (m/44'/501'/index'). This is a different curve and a
// different algorithm from the BIP-32 secp256k1 tree used by the other
// networks and deliberately shares no code with it.
package wallet

import (
	"crypto/ed25519"
	"fmt"

	slip10 "github.com/anyproto/go-slip10"
	"github.com/mr-tron/base58"

	"github.com/coinharbor/harbor/internal/chain"
)

// SolanaKey is a derived ed25519 keypair with its base58 address.
type SolanaKey struct {
	Address    string
	PrivateKey ed25519.PrivateKey // 64 bytes
	PublicKey  ed25519.PublicKey  // 32 bytes
	Path       string
}

// DeriveSolanaKey derives the ed25519 keypair at m/44'/501'/index'.
func (w *Wallet) DeriveSolanaKey(index uint32) (*SolanaKey, error) {
	params, _ := chain.Get("SOL")
	path := params.DerivationPathString(index)

	node, err := slip10.DeriveForPath(path, w.seed)
	if err != nil {
		return nil, fmt.Errorf("failed to derive %s: %w", path, err)
	}

	pubBytes, privBytes := node.Keypair()
	pub := ed25519.PublicKey(pubBytes)
	priv := ed25519.PrivateKey(privBytes)

	// A Solana address is just the base58-encoded public key.
	return &SolanaKey{
		Address:    base58.Encode(pub),
		PrivateKey: priv,
		PublicKey:  pub,
		Path:       path,
	}, nil
}
