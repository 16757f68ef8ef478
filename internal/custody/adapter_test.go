package custody

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/coinharbor/harbor/internal/chain"
	"github.com/coinharbor/harbor/internal/storage"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// fakeAdapter records derivations and sweeps for registry tests.
type fakeAdapter struct {
	network string
	swept   []uint32
}

func (f *fakeAdapter) Network() string { return f.network }

func (f *fakeAdapter) DeriveAddress(index uint32) (*DerivedAddress, error) {
	return &DerivedAddress{
		Network: f.network,
		Address: fmt.Sprintf("%s-addr-%d", f.network, index),
		Index:   index,
		Path:    fmt.Sprintf("m/0/%d", index),
	}, nil
}

func (f *fakeAdapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeAdapter) Sweep(ctx context.Context, index uint32) (string, error) {
	if index == chain.MasterIndex {
		return "", ErrMasterIndex
	}
	f.swept = append(f.swept, index)
	return "txhash", nil
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func newTestManager(t *testing.T) (*Manager, *storage.Storage) {
	t.Helper()
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewManager(store), store
}

func TestManagerRegistry(t *testing.T) {
	manager, _ := newTestManager(t)
	manager.Register(&fakeAdapter{network: "BTC"})

	if _, err := manager.Adapter("btc"); err != nil {
		t.Errorf("Adapter lookup should be case-insensitive: %v", err)
	}
	if _, err := manager.Adapter("ETH"); !errors.Is(err, ErrAdapterNotFound) {
		t.Errorf("Adapter(ETH) = %v, want ErrAdapterNotFound", err)
	}
	if len(manager.Networks()) != 1 {
		t.Errorf("Networks() = %v, want one entry", manager.Networks())
	}
}

func TestNextAddressAllocatesSequentially(t *testing.T) {
	manager, _ := newTestManager(t)
	manager.Register(&fakeAdapter{network: "BTC"})

	for want := uint32(1); want <= 3; want++ {
		derived, err := manager.NextAddress("BTC")
		if err != nil {
			t.Fatalf("NextAddress() error = %v", err)
		}
		if derived.Index != want {
			t.Errorf("NextAddress() index = %d, want %d", derived.Index, want)
		}
	}
}

// USDT and USDC orders must consume ETH's counter so no two orders on
// the shared address space ever collide.
func TestNextAddressTokensShareCounter(t *testing.T) {
	manager, store := newTestManager(t)
	manager.Register(&fakeAdapter{network: "ETH"})
	manager.Register(&fakeAdapter{network: "USDT"})
	manager.Register(&fakeAdapter{network: "USDC"})

	seen := make(map[uint32]string)
	for _, network := range []string{"ETH", "USDT", "USDC", "USDT", "ETH"} {
		derived, err := manager.NextAddress(network)
		if err != nil {
			t.Fatalf("NextAddress(%s) error = %v", network, err)
		}
		if prev, dup := seen[derived.Index]; dup {
			t.Fatalf("index %d issued to both %s and %s", derived.Index, prev, network)
		}
		seen[derived.Index] = network
	}

	current, _ := store.CurrentIndex("addr_index_ETH")
	if current != 5 {
		t.Errorf("shared ETH counter = %d, want 5", current)
	}
}

func TestMasterAddress(t *testing.T) {
	manager, _ := newTestManager(t)
	manager.Register(&fakeAdapter{network: "SOL"})

	master, err := manager.MasterAddress("SOL")
	if err != nil {
		t.Fatalf("MasterAddress() error = %v", err)
	}
	if master.Index != chain.MasterIndex {
		t.Errorf("master index = %d, want %d", master.Index, chain.MasterIndex)
	}
}
