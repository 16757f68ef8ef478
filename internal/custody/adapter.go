// Package custody ties the key manager to the chain explorers. Each
// supported network gets a ChainAdapter that can derive deposit
// addresses, read balances, and sweep funds back into the master
// address at index 0.
package custody

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/coinharbor/harbor/internal/chain"
	"github.com/coinharbor/harbor/internal/storage"
	"github.com/coinharbor/harbor/internal/wallet"
)

var (
	// ErrAdapterNotFound is returned when no adapter is registered
	// for a network code.
	ErrAdapterNotFound = errors.New("no adapter for network")

	// ErrMasterIndex guards the treasury address: index 0 never
	// receives order deposits and is never swept.
	ErrMasterIndex = errors.New("index 0 is the master address")
)

// DerivedAddress is an address produced for a specific order.
type DerivedAddress struct {
	Network string
	Address string
	Index   uint32
	Path    string
}

// ChainAdapter is implemented once per network family. Sweep returns
// the broadcast transaction hash, or "" with a nil error when there is
// nothing worth sweeping.
type ChainAdapter interface {
	Network() string
	DeriveAddress(index uint32) (*DerivedAddress, error)
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
	Sweep(ctx context.Context, index uint32) (string, error)
}

// Manager owns the adapter set and the durable index allocator.
type Manager struct {
	mu       sync.RWMutex
	adapters map[string]ChainAdapter
	store    *storage.Storage
}

// NewManager creates an empty adapter registry.
func NewManager(store *storage.Storage) *Manager {
	return &Manager{
		adapters: make(map[string]ChainAdapter),
		store:    store,
	}
}

// Register adds an adapter. Later registrations for the same network
// replace earlier ones.
func (m *Manager) Register(a ChainAdapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[strings.ToUpper(a.Network())] = a
}

// Adapter returns the adapter for a network code.
func (m *Manager) Adapter(network string) (ChainAdapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[strings.ToUpper(network)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, network)
	}
	return a, nil
}

// Networks lists the registered network codes.
func (m *Manager) Networks() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.adapters))
	for code := range m.adapters {
		out = append(out, code)
	}
	return out
}

// NextAddress allocates a fresh index for a network and derives its
// deposit address. The counter advance is durable before derivation
// runs, so a crash between the two steps burns an index instead of
// reusing one.
func (m *Manager) NextAddress(network string) (*DerivedAddress, error) {
	params, ok := chain.Get(network)
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	adapter, err := m.Adapter(params.Code)
	if err != nil {
		return nil, err
	}

	index, err := m.store.NextIndex(params.CounterKey())
	if err != nil {
		return nil, fmt.Errorf("failed to allocate address index: %w", err)
	}
	return adapter.DeriveAddress(index)
}

// MasterAddress derives the treasury address (index 0) for a network.
func (m *Manager) MasterAddress(network string) (*DerivedAddress, error) {
	adapter, err := m.Adapter(network)
	if err != nil {
		return nil, err
	}
	return adapter.DeriveAddress(chain.MasterIndex)
}

// deriveAddress is the shared derivation body for secp256k1 networks.
func deriveAddress(w *wallet.Wallet, params *chain.Params, index uint32) (*DerivedAddress, error) {
	addr, err := w.DeriveAddress(params.Code, index)
	if err != nil {
		return nil, err
	}
	return &DerivedAddress{
		Network: params.Code,
		Address: addr,
		Index:   index,
		Path:    params.DerivationPathString(index),
	}, nil
}
