// Package monitor polls deposit addresses for active orders and drives
// the order state machine. One loop handles package and KYC orders plus
// withdrawal verification payments; all chain traffic is rate limited
// per network and retried with backoff before an attempt is abandoned
// until the next tick.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.uber.org/ratelimit"

	"github.com/coinharbor/harbor/internal/chain"
	"github.com/coinharbor/harbor/internal/config"
	"github.com/coinharbor/harbor/internal/custody"
	"github.com/coinharbor/harbor/internal/storage"
	"github.com/coinharbor/harbor/pkg/logging"
)

// SweepQueue is where the monitor hands off funded addresses for
// consolidation.
type SweepQueue interface {
	Enqueue(network string, index uint32)
}

// EventSink receives order lifecycle notifications for fan-out to API
// subscribers.
type EventSink interface {
	OrderPaid(order *storage.Order)
	OrdersExpired(count int64)
}

// Monitor drives deposit detection for all active orders.
type Monitor struct {
	store   *storage.Storage
	manager *custody.Manager
	sweeps  SweepQueue
	events  EventSink
	cfg     config.MonitorConfig
	ratio   decimal.Decimal
	logger  *logging.Logger

	mu       sync.Mutex
	limiters map[string]ratelimit.Limiter

	quit chan struct{}
	done chan struct{}
}

// New creates a monitor. sweeps may be nil when no sweeper is running.
func New(store *storage.Storage, manager *custody.Manager, sweeps SweepQueue, cfg config.MonitorConfig, logger *logging.Logger) *Monitor {
	return &Monitor{
		store:    store,
		manager:  manager,
		sweeps:   sweeps,
		cfg:      cfg,
		ratio:    decimal.NewFromFloat(cfg.MinConfirmationRatio),
		logger:   logger.Component("monitor"),
		limiters: make(map[string]ratelimit.Limiter),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetEvents attaches an event sink. Must be called before Start.
func (m *Monitor) SetEvents(events EventSink) {
	m.events = events
}

// Start launches the polling loop.
func (m *Monitor) Start() {
	go m.loop()
}

// Stop shuts the loop down and waits for the in-flight tick to finish.
func (m *Monitor) Stop() {
	close(m.quit)
	<-m.done
}

func (m *Monitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("deposit monitor started", "interval", m.cfg.Interval)
	for {
		select {
		case <-m.quit:
			m.logger.Info("deposit monitor stopped")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Interval)
			m.tick(ctx)
			cancel()
		}
	}
}

// tick runs one full pass: expire stale orders, then check every
// active order and pending verification payment.
func (m *Monitor) tick(ctx context.Context) {
	now := time.Now().UTC()

	deleted, err := m.store.DeleteExpiredPending(now, m.cfg.PendingCutoff)
	if err != nil {
		m.logger.Error("failed to expire stale orders", "error", err)
	} else if deleted > 0 {
		m.logger.Info("expired unpaid orders", "count", deleted)
		if m.events != nil {
			m.events.OrdersExpired(deleted)
		}
	}

	orders, err := m.store.ListActiveOrders(now)
	if err != nil {
		m.logger.Error("failed to list active orders", "error", err)
		return
	}
	for _, order := range orders {
		if ctx.Err() != nil {
			return
		}
		m.checkOrder(ctx, order)
	}

	verifications, err := m.store.ListPendingVerifications(now)
	if err != nil {
		m.logger.Error("failed to list pending verifications", "error", err)
		return
	}
	for _, v := range verifications {
		if ctx.Err() != nil {
			return
		}
		m.checkVerification(ctx, v)
	}
}

// checkOrder compares the observed on-chain balance against the
// expected amount and advances the order state machine.
func (m *Monitor) checkOrder(ctx context.Context, order *storage.Order) {
	adapter, err := m.manager.Adapter(order.Network)
	if err != nil {
		m.logger.Error("order on unknown network", "order", order.OrderID, "network", order.Network)
		return
	}

	observed, err := m.fetchBalance(ctx, adapter, order.Address)
	if err != nil {
		m.logger.Warn("balance check failed",
			"order", order.OrderID, "address", order.Address, "error", err)
		return
	}
	if observed.Sign() == 0 {
		return
	}

	expected, err := decimal.NewFromString(order.AmountCrypto)
	if err != nil {
		m.logger.Error("order has malformed expected amount",
			"order", order.OrderID, "amount", order.AmountCrypto)
		return
	}

	params, _ := chain.Get(order.Network)
	threshold := expected.Mul(m.ratio)

	if observed.GreaterThanOrEqual(threshold) {
		if order.Status == storage.OrderStatusPending {
			if _, err := m.store.MarkProcessing(order.OrderID, order.TxHash); err != nil {
				m.logger.Error("failed to mark order processing", "order", order.OrderID, "error", err)
				return
			}
		}
		if err := m.store.UpdateObserved(order.OrderID, observed.String(), params.MinConfirmations); err != nil {
			m.logger.Error("failed to record observed amount", "order", order.OrderID, "error", err)
		}
		completed, err := m.store.MarkCompleted(order.OrderID, params.MinConfirmations)
		if err != nil {
			m.logger.Error("failed to complete order", "order", order.OrderID, "error", err)
			return
		}
		if completed {
			m.logger.Info("order paid",
				"order", order.OrderID, "network", order.Network,
				"expected", expected, "observed", observed)
			m.enqueueSweep(order.Network, order.AddressIndex)
			if m.events != nil {
				if paid, err := m.store.GetOrder(order.OrderID); err == nil {
					m.events.OrderPaid(paid)
				}
			}
		}
		return
	}

	// Partial payment: record what arrived and keep waiting.
	if err := m.store.UpdateObserved(order.OrderID, observed.String(), 0); err != nil {
		m.logger.Error("failed to record observed amount", "order", order.OrderID, "error", err)
		return
	}
	if order.Status == storage.OrderStatusPending {
		if _, err := m.store.MarkProcessing(order.OrderID, order.TxHash); err != nil {
			m.logger.Error("failed to mark order processing", "order", order.OrderID, "error", err)
			return
		}
		m.logger.Info("partial payment observed",
			"order", order.OrderID, "expected", expected, "observed", observed)
	}
}

// checkVerification confirms a withdrawal's verification payment once
// its deposit lands, which releases the linked withdrawal.
func (m *Monitor) checkVerification(ctx context.Context, v *storage.VerificationPayment) {
	adapter, err := m.manager.Adapter(v.Network)
	if err != nil {
		m.logger.Error("verification on unknown network",
			"verification", v.VerificationID, "network", v.Network)
		return
	}

	observed, err := m.fetchBalance(ctx, adapter, v.Address)
	if err != nil {
		m.logger.Warn("verification balance check failed",
			"verification", v.VerificationID, "error", err)
		return
	}
	expected, err := decimal.NewFromString(v.AmountCrypto)
	if err != nil {
		m.logger.Error("verification has malformed amount",
			"verification", v.VerificationID, "amount", v.AmountCrypto)
		return
	}
	if observed.LessThan(expected.Mul(m.ratio)) {
		return
	}

	params, _ := chain.Get(v.Network)
	confirmed, err := m.store.ConfirmVerification(v.VerificationID, params.MinConfirmations)
	if err != nil {
		m.logger.Error("failed to confirm verification",
			"verification", v.VerificationID, "error", err)
		return
	}
	if confirmed {
		m.logger.Info("verification payment confirmed, withdrawal released",
			"verification", v.VerificationID, "withdrawal", v.WithdrawalID)
		m.enqueueSweep(v.Network, v.AddressIndex)
	}
}

// fetchBalance reads the address balance with per-network rate
// limiting and bounded retries. context cancellation aborts the retry
// loop immediately.
func (m *Monitor) fetchBalance(ctx context.Context, adapter custody.ChainAdapter, address string) (decimal.Decimal, error) {
	m.limiter(adapter.Network()).Take()

	var balance decimal.Decimal
	backoff := retry.WithMaxRetries(uint64(m.cfg.MaxAttempts-1), retry.NewExponential(m.cfg.BaseBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		balance, err = adapter.GetBalance(ctx, address)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// limiter returns the rate limiter for a network, creating it on first
// use.
func (m *Monitor) limiter(network string) ratelimit.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limiters[network]
	if !ok {
		lim = ratelimit.New(m.cfg.RatePerSecond)
		m.limiters[network] = lim
	}
	return lim
}

func (m *Monitor) enqueueSweep(network string, index uint32) {
	if m.sweeps == nil {
		return
	}
	m.sweeps.Enqueue(network, index)
}
