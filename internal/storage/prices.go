// Package storage - fiat price cache.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrPriceNotFound is returned when no cached price exists.
var ErrPriceNotFound = errors.New("price not cached")

// CachedPrice is one cached market price.
type CachedPrice struct {
	PriceID   string
	Currency  string
	Price     string // decimal string
	UpdatedAt time.Time
}

// SetPrice upserts a cached price.
func (s *Storage) SetPrice(priceID, currency, price string, updatedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO prices (price_id, currency, price, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(price_id, currency) DO UPDATE SET
			price = excluded.price,
			updated_at = excluded.updated_at
	`, priceID, currency, price, updatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to cache price %s/%s: %w", priceID, currency, err)
	}
	return nil
}

// GetPrice returns a cached price, or ErrPriceNotFound.
func (s *Storage) GetPrice(priceID, currency string) (*CachedPrice, error) {
	var (
		p         CachedPrice
		updatedAt int64
	)
	err := s.db.QueryRow(`
		SELECT price_id, currency, price, updated_at
		FROM prices WHERE price_id = ? AND currency = ?
	`, priceID, currency).Scan(&p.PriceID, &p.Currency, &p.Price, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPriceNotFound
		}
		return nil, fmt.Errorf("failed to read price %s/%s: %w", priceID, currency, err)
	}
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}
