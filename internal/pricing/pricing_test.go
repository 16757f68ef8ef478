package pricing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinharbor/harbor/internal/storage"
	"github.com/coinharbor/harbor/pkg/logging"
)

// priceServer serves a CoinGecko-style simple price endpoint.
func priceServer(t *testing.T, prices map[string]string, failing *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing != nil && failing.Load() {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		id := r.URL.Query().Get("ids")
		quote, ok := prices[id]
		if !ok {
			fmt.Fprint(w, "{}")
			return
		}
		fmt.Fprintf(w, `{"%s": {"usd": %s}}`, id, quote)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, apiBase string, ttl time.Duration) *Service {
	t.Helper()
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(apiBase, "USD", ttl, store, logging.Default())
}

func TestPrice(t *testing.T) {
	srv := priceServer(t, map[string]string{"bitcoin": "67123.45"}, nil)
	svc := newTestService(t, srv.URL, time.Hour)

	price, err := svc.Price(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("Price() error = %v", err)
	}
	if !price.Equal(decimal.RequireFromString("67123.45")) {
		t.Errorf("price = %s, want 67123.45", price)
	}
}

func TestPriceUnsupportedNetwork(t *testing.T) {
	svc := newTestService(t, "http://127.0.0.1:0", time.Hour)
	if _, err := svc.Price(context.Background(), "XRP"); err == nil {
		t.Fatal("Price(XRP) should fail")
	}
}

// Token quotes resolve through the token's own price id, not ETH's.
func TestPriceStablecoin(t *testing.T) {
	srv := priceServer(t, map[string]string{"tether": "1.0002"}, nil)
	svc := newTestService(t, srv.URL, time.Hour)

	price, err := svc.Price(context.Background(), "USDT")
	if err != nil {
		t.Fatalf("Price(USDT) error = %v", err)
	}
	if !price.Equal(decimal.RequireFromString("1.0002")) {
		t.Errorf("price = %s, want 1.0002", price)
	}
}

func TestPriceServesCacheOnFetchFailure(t *testing.T) {
	var failing atomic.Bool
	srv := priceServer(t, map[string]string{"ethereum": "3500"}, &failing)
	svc := newTestService(t, srv.URL, time.Hour)

	// Warm the cache with a successful fetch.
	if _, err := svc.Price(context.Background(), "ETH"); err != nil {
		t.Fatalf("warmup Price() error = %v", err)
	}

	failing.Store(true)
	price, err := svc.Price(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("Price() with warm cache error = %v", err)
	}
	if !price.Equal(decimal.RequireFromString("3500")) {
		t.Errorf("cached price = %s, want 3500", price)
	}
}

func TestPriceStaleCacheRejected(t *testing.T) {
	var failing atomic.Bool
	srv := priceServer(t, map[string]string{"ethereum": "3500"}, &failing)
	svc := newTestService(t, srv.URL, time.Nanosecond)

	if _, err := svc.Price(context.Background(), "ETH"); err != nil {
		t.Fatalf("warmup Price() error = %v", err)
	}
	time.Sleep(time.Millisecond)

	failing.Store(true)
	_, err := svc.Price(context.Background(), "ETH")
	if !errors.Is(err, ErrNoPrice) {
		t.Fatalf("Price() with stale cache error = %v, want ErrNoPrice", err)
	}
}

func TestPriceColdCacheFails(t *testing.T) {
	svc := newTestService(t, "http://127.0.0.1:0", time.Hour)
	_, err := svc.Price(context.Background(), "BTC")
	if !errors.Is(err, ErrNoPrice) {
		t.Fatalf("Price() error = %v, want ErrNoPrice", err)
	}
}

func TestConvert(t *testing.T) {
	srv := priceServer(t, map[string]string{
		"bitcoin":  "50000",
		"ethereum": "2500",
		"tether":   "1",
	}, nil)
	svc := newTestService(t, srv.URL, time.Hour)

	tests := []struct {
		network string
		fiat    string
		want    string
	}{
		{"BTC", "100", "0.002"},
		{"ETH", "100", "0.04"},
		{"USDT", "250.50", "250.5"},
	}
	for _, tt := range tests {
		got, err := svc.Convert(context.Background(), decimal.RequireFromString(tt.fiat), tt.network)
		if err != nil {
			t.Fatalf("Convert(%s, %s) error = %v", tt.fiat, tt.network, err)
		}
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("Convert(%s, %s) = %s, want %s", tt.fiat, tt.network, got, tt.want)
		}
	}
}

// Conversion is rounded to the network's native precision: 100/3 USD of
// BTC has more than 8 decimal digits and must be cut to 8.
func TestConvertRoundsToNetworkPrecision(t *testing.T) {
	srv := priceServer(t, map[string]string{"bitcoin": "3"}, nil)
	svc := newTestService(t, srv.URL, time.Hour)

	got, err := svc.Convert(context.Background(), decimal.RequireFromString("100"), "BTC")
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if got.Exponent() < -8 {
		t.Errorf("Convert() = %s, exceeds 8 decimal places", got)
	}
	if !got.Equal(decimal.RequireFromString("33.33333333")) {
		t.Errorf("Convert() = %s, want 33.33333333", got)
	}
}

func TestConvertRejectsNonPositive(t *testing.T) {
	svc := newTestService(t, "http://127.0.0.1:0", time.Hour)
	if _, err := svc.Convert(context.Background(), decimal.Zero, "BTC"); err == nil {
		t.Fatal("Convert(0) should fail")
	}
	if _, err := svc.Convert(context.Background(), decimal.NewFromInt(-5), "BTC"); err == nil {
		t.Fatal("Convert(-5) should fail")
	}
}

func TestCurrencyLowercased(t *testing.T) {
	svc := newTestService(t, "http://127.0.0.1:0", time.Hour)
	if svc.Currency() != "usd" {
		t.Errorf("Currency() = %s, want usd", svc.Currency())
	}
}
