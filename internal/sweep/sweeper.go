// Package sweep consolidates funds from deposit addresses into each
// network's master address. Targets arrive from the deposit monitor as
// orders complete, and a periodic drain re-scans every allocated index
// so balances stranded by a crash or a failed broadcast are retried.
package sweep

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coinharbor/harbor/internal/chain"
	"github.com/coinharbor/harbor/internal/custody"
	"github.com/coinharbor/harbor/internal/storage"
	"github.com/coinharbor/harbor/pkg/logging"
)

// target identifies one deposit address to sweep.
type target struct {
	network string
	index   uint32
}

// Status is a snapshot of the sweeper for the status API.
type Status struct {
	QueueLength int  `json:"queue_length"`
	Sweeping    bool `json:"sweeping"`
}

// EventSink is notified when a consolidation transaction goes out.
type EventSink interface {
	SweepBroadcast(network string, index uint32, txHash string)
}

// Sweeper owns the consolidation queue. Sweeps run strictly one at a
// time; a drain in progress is never overlapped by the next tick.
type Sweeper struct {
	store    *storage.Storage
	manager  *custody.Manager
	interval time.Duration
	events   EventSink
	logger   *logging.Logger

	mu       sync.Mutex
	queue    []target
	queued   map[target]bool
	sweeping bool

	kick chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New creates a sweeper.
func New(store *storage.Storage, manager *custody.Manager, interval time.Duration, logger *logging.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		manager:  manager,
		interval: interval,
		logger:   logger.Component("sweep"),
		queued:   make(map[target]bool),
		kick:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetEvents attaches an event sink. Must be called before Start.
func (s *Sweeper) SetEvents(events EventSink) {
	s.events = events
}

// Enqueue adds a deposit address to the sweep queue. The master index
// and duplicates already queued are ignored.
func (s *Sweeper) Enqueue(network string, index uint32) {
	if index == chain.MasterIndex {
		return
	}
	t := target{network: network, index: index}

	s.mu.Lock()
	if s.queued[t] {
		s.mu.Unlock()
		return
	}
	s.queued[t] = true
	s.queue = append(s.queue, t)
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Status reports the queue snapshot.
func (s *Sweeper) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{QueueLength: len(s.queue), Sweeping: s.sweeping}
}

// Start launches the drain loop.
func (s *Sweeper) Start() {
	go s.loop()
}

// Stop shuts the loop down and waits for any in-flight drain.
func (s *Sweeper) Stop() {
	close(s.quit)
	<-s.done
}

func (s *Sweeper) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval)
	for {
		select {
		case <-s.quit:
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			// The periodic drain also rescans allocated indexes,
			// catching anything lost across a restart.
			s.requeueAllocated()
			s.drain()
		case <-s.kick:
			s.drain()
		}
	}
}

// requeueAllocated reloads every allocated index for every registered
// network into the queue. Sweeping an empty address is a cheap no-op,
// so over-enqueueing here is fine.
func (s *Sweeper) requeueAllocated() {
	for _, network := range s.manager.Networks() {
		params, ok := chain.Get(network)
		if !ok {
			continue
		}
		indexes, err := s.store.AllocatedIndexes(params.Code)
		if err != nil {
			s.logger.Error("failed to list allocated indexes", "network", network, "error", err)
			continue
		}
		for _, index := range indexes {
			s.Enqueue(network, index)
		}
	}
}

// drain processes the queue to exhaustion. Per-target failures are
// logged and dropped; the next periodic rescan picks them up again.
func (s *Sweeper) drain() {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		return
	}
	s.sweeping = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	for {
		t, ok := s.next()
		if !ok {
			return
		}
		select {
		case <-s.quit:
			return
		default:
		}
		s.sweepOne(t)
	}
}

// next pops the oldest target off the queue.
func (s *Sweeper) next() (target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return target{}, false
	}
	t := s.queue[0]
	s.queue = s.queue[1:]
	delete(s.queued, t)
	return t, true
}

func (s *Sweeper) sweepOne(t target) {
	adapter, err := s.manager.Adapter(t.network)
	if err != nil {
		s.logger.Error("sweep target on unknown network", "network", t.network, "index", t.index)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	txHash, err := adapter.Sweep(ctx, t.index)
	if err != nil {
		if errors.Is(err, custody.ErrMasterIndex) {
			return
		}
		s.logger.Error("sweep failed", "network", t.network, "index", t.index, "error", err)
		return
	}
	if txHash == "" {
		s.logger.Debug("nothing to sweep", "network", t.network, "index", t.index)
		return
	}
	s.logger.Info("sweep broadcast", "network", t.network, "index", t.index, "tx", txHash)
	if s.events != nil {
		s.events.SweepBroadcast(t.network, t.index, txHash)
	}
}
