// Package pricing fetches market prices and converts fiat order amounts
// into crypto amounts. Quotes come from a CoinGecko-style simple price
// API and are cached in the datastore so a flaky market data provider
// does not block order creation.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinharbor/harbor/internal/chain"
	"github.com/coinharbor/harbor/internal/storage"
	"github.com/coinharbor/harbor/pkg/logging"
)

// ErrNoPrice is returned when no quote is available, fresh or cached.
var ErrNoPrice = errors.New("no price available")

// Service provides fiat to crypto conversion backed by a price API.
type Service struct {
	apiBase  string
	currency string
	cacheTTL time.Duration
	store    *storage.Storage
	client   *http.Client
	logger   *logging.Logger

	quit chan struct{}
	done chan struct{}
}

// New creates a pricing service.
func New(apiBase, currency string, cacheTTL time.Duration, store *storage.Storage, logger *logging.Logger) *Service {
	return &Service{
		apiBase:  strings.TrimRight(apiBase, "/"),
		currency: strings.ToLower(currency),
		cacheTTL: cacheTTL,
		store:    store,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.Component("pricing"),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches a background loop that keeps the quote cache warm for
// every supported network, so order creation can survive a provider
// outage on the cached quotes.
func (s *Service) Start(interval time.Duration) {
	go s.refreshLoop(interval)
}

// Stop shuts the refresh loop down.
func (s *Service) Stop() {
	close(s.quit)
	<-s.done
}

func (s *Service) refreshLoop(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("price refresher started", "interval", interval)
	for {
		select {
		case <-s.quit:
			s.logger.Info("price refresher stopped")
			return
		case <-ticker.C:
			s.refreshAll()
		}
	}
}

func (s *Service) refreshAll() {
	for _, code := range chain.List() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		_, err := s.Price(ctx, code)
		cancel()
		if err != nil {
			s.logger.Warn("price refresh failed", "network", code, "error", err)
		}
	}
}

// Price returns the current quote for a network in the configured fiat
// currency. Fresh quotes are fetched from the API; on failure the last
// cached quote is served as long as it is within the cache TTL.
func (s *Service) Price(ctx context.Context, network string) (decimal.Decimal, error) {
	params, ok := chain.Get(network)
	if !ok {
		return decimal.Zero, fmt.Errorf("unsupported network: %s", network)
	}

	price, err := s.fetch(ctx, params.PriceID)
	if err == nil {
		if cerr := s.store.SetPrice(params.PriceID, s.currency, price.String(), time.Now().UTC()); cerr != nil {
			s.logger.Warn("failed to cache price", "network", network, "error", cerr)
		}
		return price, nil
	}
	s.logger.Warn("price fetch failed, trying cache", "network", network, "error", err)

	cached, cerr := s.store.GetPrice(params.PriceID, s.currency)
	if cerr != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, network)
	}
	if time.Since(cached.UpdatedAt) > s.cacheTTL {
		return decimal.Zero, fmt.Errorf("%w: cached quote for %s is stale", ErrNoPrice, network)
	}
	stale, perr := decimal.NewFromString(cached.Price)
	if perr != nil {
		return decimal.Zero, fmt.Errorf("%w: corrupt cached quote for %s", ErrNoPrice, network)
	}
	return stale, nil
}

// Convert converts a fiat amount into the crypto amount for a network,
// rounded to the network's native decimal precision.
func (s *Service) Convert(ctx context.Context, fiatAmount decimal.Decimal, network string) (decimal.Decimal, error) {
	params, ok := chain.Get(network)
	if !ok {
		return decimal.Zero, fmt.Errorf("unsupported network: %s", network)
	}
	if fiatAmount.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("fiat amount must be positive, got %s", fiatAmount)
	}

	price, err := s.Price(ctx, network)
	if err != nil {
		return decimal.Zero, err
	}
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: non-positive quote for %s", ErrNoPrice, network)
	}
	return fiatAmount.DivRound(price, int32(params.Decimals)), nil
}

// fetch pulls a fresh quote from the simple price endpoint.
func (s *Service) fetch(ctx context.Context, priceID string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s",
		s.apiBase, url.QueryEscape(priceID), url.QueryEscape(s.currency))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	// {"bitcoin": {"usd": 67123.45}}
	var payload map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price response: %w", err)
	}
	quote, ok := payload[priceID][s.currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("no %s quote for %s in response", s.currency, priceID)
	}
	price, err := decimal.NewFromString(quote.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed quote %q: %w", quote, err)
	}
	return price, nil
}

// Currency returns the configured fiat currency code.
func (s *Service) Currency() string {
	return s.currency
}
