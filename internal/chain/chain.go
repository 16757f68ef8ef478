// Package chain defines network parameters and derivation paths for the
// supported deposit networks. All chain-specific constants live here.
package chain

import (
	"strconv"
	"strings"
)

// Family represents the blockchain family, which determines the derivation
// algorithm and the sweep strategy.
type Family string

const (
	FamilyBitcoin Family = "bitcoin" // UTXO model, BIP-84 P2WPKH
	FamilyEVM     Family = "evm"     // account model, secp256k1 + keccak
	FamilySolana  Family = "solana"  // SLIP-0010 ed25519, fully hardened
	FamilyTron    Family = "tron"    // account model, base58check addresses
)

// MasterIndex is the reserved derivation index for each network's
// collection wallet. It is never handed out to customer orders and the
// sweeper refuses to touch it.
const MasterIndex uint32 = 0

// Params contains all parameters for a deposit network.
type Params struct {
	Code     string // network code used on the wire: BTC, ETH, USDT, USDC, SOL, TRX
	Name     string
	Family   Family
	Decimals uint8

	// HD derivation
	Purpose  uint32 // 44 or 84
	CoinType uint32 // BIP-44 coin type (0=BTC, 60=ETH, 501=SOL, 195=TRX)

	// EVM token networks: ERC-20 contract address; empty for native coins.
	TokenContract string
	// EVM chain ID for replay-protected signing.
	ChainID uint64

	// Pricing lookup identifier (CoinGecko coin id).
	PriceID string

	// Fee handling
	DustLimit  uint64 // smallest spendable output, UTXO chains only
	FeeReserve uint64 // base units withheld to cover fees on account chains

	// Minimum block confirmations before a deposit counts as final.
	MinConfirmations int64
}

// IsToken reports whether this network is an ERC-20 token riding on the
// Ethereum address space.
func (p *Params) IsToken() bool {
	return p.TokenContract != ""
}

// Hardened marks a derivation step as hardened in path strings.
const hardenedOffset = 0x80000000

// DerivationPath returns the raw derivation path for an address index.
// Bitcoin/EVM/Tron use m/purpose'/coin'/0'/0/index; Solana uses the fully
// hardened m/44'/501'/index'.
func (p *Params) DerivationPath(index uint32) []uint32 {
	if p.Family == FamilySolana {
		return []uint32{
			p.Purpose + hardenedOffset,
			p.CoinType + hardenedOffset,
			index + hardenedOffset,
		}
	}
	return []uint32{
		p.Purpose + hardenedOffset,
		p.CoinType + hardenedOffset,
		hardenedOffset, // account 0'
		0,              // external chain
		index,
	}
}

// DerivationPathString returns the derivation path in the conventional
// string form, e.g. "m/84'/0'/0'/0/7" or "m/44'/501'/7'".
func (p *Params) DerivationPathString(index uint32) string {
	if p.Family == FamilySolana {
		return "m/" + itoa(p.Purpose) + "'/" + itoa(p.CoinType) + "'/" + itoa(index) + "'"
	}
	return "m/" + itoa(p.Purpose) + "'/" + itoa(p.CoinType) + "'/0'/0/" + itoa(index)
}

func itoa(n uint32) string {
	return strconv.FormatUint(uint64(n), 10)
}

// registry holds all network parameters indexed by code.
var registry = make(map[string]*Params)

// Register adds network params to the registry. Called from per-chain init
// functions only.
func Register(params *Params) {
	registry[params.Code] = params
}

// Get returns network params for a code. Lookup is case-insensitive since
// network codes arrive from external callers.
func Get(code string) (*Params, bool) {
	params, ok := registry[strings.ToUpper(code)]
	return params, ok
}

// List returns all registered network codes.
func List() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// ListByFamily returns all networks of a given family.
func ListByFamily(family Family) []string {
	var codes []string
	for code, params := range registry {
		if params.Family == family {
			codes = append(codes, code)
		}
	}
	return codes
}

// IsSupported returns true if the network code is registered.
func IsSupported(code string) bool {
	_, ok := Get(code)
	return ok
}

// CounterKey returns the durable counter key for a network's address index
// sequence. ERC-20 tokens share Ethereum's address space, so they draw from
// the ETH counter to keep derived addresses unique across the shared space.
func (p *Params) CounterKey() string {
	if p.IsToken() {
		return "addr_index_ETH"
	}
	return "addr_index_" + p.Code
}
