// Package storage - durable per-network derivation counters.
package storage

import (
	"errors"
	"fmt"
)

// ErrEmptyCounterKey is returned when an allocation is attempted without a
// network key. This is checked before any storage access.
var ErrEmptyCounterKey = errors.New("counter key must not be empty")

// NextIndex atomically increments and returns the derivation counter for
// the given key (e.g. "addr_index_BTC"). The increment-and-read happens in
// a single SQL statement, so concurrent callers can never observe the same
// value; the first allocation for a key returns 1, keeping index 0
// reserved for the master wallet.
func (s *Storage) NextIndex(counterKey string) (uint32, error) {
	if counterKey == "" {
		return 0, ErrEmptyCounterKey
	}

	var seq uint32
	err := s.db.QueryRow(`
		INSERT INTO address_counters (network_key, seq) VALUES (?, 1)
		ON CONFLICT(network_key) DO UPDATE SET seq = seq + 1
		RETURNING seq
	`, counterKey).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate index for %s: %w", counterKey, err)
	}

	return seq, nil
}

// CurrentIndex returns the highest index allocated so far for a key, or 0
// if nothing has been allocated. Used by the sweeper to rescan the full
// range of issued addresses.
func (s *Storage) CurrentIndex(counterKey string) (uint32, error) {
	if counterKey == "" {
		return 0, ErrEmptyCounterKey
	}

	var seq uint32
	err := s.db.QueryRow(`SELECT seq FROM address_counters WHERE network_key = ?`, counterKey).Scan(&seq)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read counter %s: %w", counterKey, err)
	}
	return seq, nil
}
