package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinharbor/harbor/internal/config"
	"github.com/coinharbor/harbor/internal/custody"
	"github.com/coinharbor/harbor/internal/storage"
	"github.com/coinharbor/harbor/pkg/logging"
)

// balanceAdapter serves canned balances per address.
type balanceAdapter struct {
	network string

	mu       sync.Mutex
	balances map[string]decimal.Decimal
	calls    int
}

func (a *balanceAdapter) Network() string { return a.network }

func (a *balanceAdapter) DeriveAddress(index uint32) (*custody.DerivedAddress, error) {
	return &custody.DerivedAddress{Network: a.network, Index: index}, nil
}

func (a *balanceAdapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.balances[address], nil
}

func (a *balanceAdapter) Sweep(ctx context.Context, index uint32) (string, error) {
	return "", nil
}

func (a *balanceAdapter) setBalance(address string, amount string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.balances == nil {
		a.balances = make(map[string]decimal.Decimal)
	}
	a.balances[address] = decimal.RequireFromString(amount)
}

// queueRecorder captures sweep handoffs.
type queueRecorder struct {
	mu      sync.Mutex
	entries []struct {
		network string
		index   uint32
	}
}

func (q *queueRecorder) Enqueue(network string, index uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, struct {
		network string
		index   uint32
	}{network, index})
}

func (q *queueRecorder) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// eventRecorder captures lifecycle notifications.
type eventRecorder struct {
	mu      sync.Mutex
	paid    []string
	expired int64
}

func (e *eventRecorder) OrderPaid(order *storage.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paid = append(e.paid, order.OrderID)
}

func (e *eventRecorder) OrdersExpired(count int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expired += count
}

func newTestMonitor(t *testing.T) (*Monitor, *balanceAdapter, *queueRecorder, *storage.Storage) {
	t.Helper()
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	adapter := &balanceAdapter{network: "ETH"}
	manager := custody.NewManager(store)
	manager.Register(adapter)

	queue := &queueRecorder{}
	cfg := config.MonitorConfig{
		Interval:             time.Minute,
		MaxAttempts:          1,
		BaseBackoff:          time.Millisecond,
		RatePerSecond:        1000,
		MinConfirmationRatio: 0.94,
		PendingCutoff:        35 * time.Minute,
	}
	return New(store, manager, queue, cfg, logging.Default()), adapter, queue, store
}

func createOrder(t *testing.T, store *storage.Storage, address string, index uint32, amount string) *storage.Order {
	t.Helper()
	now := time.Now().UTC()
	order := &storage.Order{
		OrderID:        "ord-" + address,
		Kind:           storage.OrderKindPackage,
		Status:         storage.OrderStatusPending,
		Network:        "ETH",
		Address:        address,
		DerivationPath: "m/44'/60'/0'/0/1",
		AddressIndex:   index,
		UserEmail:      "user@example.com",
		AmountFiat:     "100",
		FiatCurrency:   "usd",
		AmountCrypto:   amount,
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	}
	if err := store.CreateOrder(order); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	return order
}

func TestCheckOrderCompletesOnFullPayment(t *testing.T) {
	mon, adapter, queue, store := newTestMonitor(t)
	events := &eventRecorder{}
	mon.SetEvents(events)

	order := createOrder(t, store, "0xabc", 3, "1.0")
	adapter.setBalance("0xabc", "1.0")

	mon.checkOrder(context.Background(), order)

	got, err := store.GetOrder(order.OrderID)
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.Status != storage.OrderStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.ObservedCrypto != "1" {
		t.Errorf("observed = %q, want %q", got.ObservedCrypto, "1")
	}
	if queue.len() != 1 {
		t.Fatalf("sweep enqueues = %d, want 1", queue.len())
	}
	if queue.entries[0].network != "ETH" || queue.entries[0].index != 3 {
		t.Errorf("enqueued %+v, want {ETH 3}", queue.entries[0])
	}
	if len(events.paid) != 1 || events.paid[0] != order.OrderID {
		t.Errorf("paid events = %v, want [%s]", events.paid, order.OrderID)
	}
}

// A deposit within the tolerance band counts as paid in full.
func TestCheckOrderToleratesShortPayment(t *testing.T) {
	mon, adapter, _, store := newTestMonitor(t)

	order := createOrder(t, store, "0xshort", 4, "1.0")
	adapter.setBalance("0xshort", "0.95")

	mon.checkOrder(context.Background(), order)

	got, _ := store.GetOrder(order.OrderID)
	if got.Status != storage.OrderStatusCompleted {
		t.Errorf("status = %s, want completed (0.95 >= 0.94 threshold)", got.Status)
	}
}

func TestCheckOrderPartialPayment(t *testing.T) {
	mon, adapter, queue, store := newTestMonitor(t)

	order := createOrder(t, store, "0xpartial", 5, "1.0")
	adapter.setBalance("0xpartial", "0.5")

	mon.checkOrder(context.Background(), order)

	got, _ := store.GetOrder(order.OrderID)
	if got.Status != storage.OrderStatusProcessing {
		t.Errorf("status = %s, want processing", got.Status)
	}
	if got.ObservedCrypto != "0.5" {
		t.Errorf("observed = %q, want %q", got.ObservedCrypto, "0.5")
	}
	if queue.len() != 0 {
		t.Error("partial payment must not trigger a sweep")
	}
}

func TestCheckOrderZeroBalance(t *testing.T) {
	mon, _, queue, store := newTestMonitor(t)

	order := createOrder(t, store, "0xempty", 6, "1.0")
	mon.checkOrder(context.Background(), order)

	got, _ := store.GetOrder(order.OrderID)
	if got.Status != storage.OrderStatusPending {
		t.Errorf("status = %s, want pending (untouched)", got.Status)
	}
	if queue.len() != 0 {
		t.Error("no sweep without a deposit")
	}
}

// A completed order seen again (top-up after completion) must not fire
// a second paid event, but the sweep requeue is harmless either way.
func TestCheckOrderIdempotent(t *testing.T) {
	mon, adapter, _, store := newTestMonitor(t)

	order := createOrder(t, store, "0xtwice", 7, "1.0")
	adapter.setBalance("0xtwice", "1.0")

	mon.checkOrder(context.Background(), order)
	got, _ := store.GetOrder(order.OrderID)
	mon.checkOrder(context.Background(), got)

	final, _ := store.GetOrder(order.OrderID)
	if final.Status != storage.OrderStatusCompleted {
		t.Errorf("status = %s, want completed", final.Status)
	}
}

func TestTickExpiresStaleOrders(t *testing.T) {
	mon, _, _, store := newTestMonitor(t)
	events := &eventRecorder{}
	mon.SetEvents(events)

	now := time.Now().UTC()
	stale := &storage.Order{
		OrderID:      "ord-stale",
		Network:      "ETH",
		Address:      "0xstale",
		AddressIndex: 8,
		UserEmail:    "user@example.com",
		AmountFiat:   "100",
		AmountCrypto: "1.0",
		CreatedAt:    now.Add(-2 * time.Hour),
		ExpiresAt:    now.Add(-time.Hour),
	}
	if err := store.CreateOrder(stale); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	mon.tick(context.Background())

	if _, err := store.GetOrder("ord-stale"); err != storage.ErrOrderNotFound {
		t.Errorf("stale order error = %v, want ErrOrderNotFound", err)
	}
	if events.expired != 1 {
		t.Errorf("expired event count = %d, want 1", events.expired)
	}
}

func TestTickPurgesOrdersPastPendingCutoff(t *testing.T) {
	mon, _, _, store := newTestMonitor(t)

	// Still inside its expiry window, but older than the 35 minute
	// pending cutoff: the tick must purge it anyway.
	now := time.Now().UTC()
	aged := &storage.Order{
		OrderID:      "ord-aged",
		Network:      "ETH",
		Address:      "0xaged",
		AddressIndex: 11,
		UserEmail:    "user@example.com",
		AmountFiat:   "100",
		AmountCrypto: "1.0",
		CreatedAt:    now.Add(-40 * time.Minute),
		ExpiresAt:    now.Add(time.Hour),
	}
	if err := store.CreateOrder(aged); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	mon.tick(context.Background())

	if _, err := store.GetOrder("ord-aged"); err != storage.ErrOrderNotFound {
		t.Errorf("aged order error = %v, want ErrOrderNotFound", err)
	}
}

func TestCheckVerificationReleasesWithdrawal(t *testing.T) {
	mon, adapter, queue, store := newTestMonitor(t)

	now := time.Now().UTC()
	w := &storage.Withdrawal{
		WithdrawalID: "wd-1",
		UserEmail:    "user@example.com",
		Network:      "ETH",
		Destination:  "0xdest",
		AmountCrypto: "2.0",
		CreatedAt:    now,
	}
	v := &storage.VerificationPayment{
		VerificationID: "ver-1",
		WithdrawalID:   "wd-1",
		Network:        "ETH",
		Address:        "0xverify",
		DerivationPath: "m/44'/60'/0'/0/9",
		AddressIndex:   9,
		AmountCrypto:   "0.1",
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	}
	if err := store.CreateWithdrawal(w, v); err != nil {
		t.Fatalf("CreateWithdrawal() error = %v", err)
	}

	adapter.setBalance("0xverify", "0.1")
	mon.tick(context.Background())

	got, err := store.GetWithdrawal("wd-1")
	if err != nil {
		t.Fatalf("GetWithdrawal() error = %v", err)
	}
	if got.Status != storage.WithdrawalStatusConfirmed {
		t.Errorf("withdrawal status = %s, want confirmed", got.Status)
	}
	if queue.len() != 1 {
		t.Errorf("sweep enqueues = %d, want 1 for the verification address", queue.len())
	}
}

func TestStartStop(t *testing.T) {
	mon, _, _, _ := newTestMonitor(t)
	mon.Start()
	mon.Stop()
}
