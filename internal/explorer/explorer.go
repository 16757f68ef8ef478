// Package explorer provides HTTP clients for the per-chain block explorers
// and node RPCs the monitor and sweeper poll. This package is read-only for
// private keys - all signing happens in the wallet and custody packages.
package explorer

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrTxNotFound      = errors.New("transaction not found")
	ErrBroadcastFailed = errors.New("broadcast failed")
	ErrRateLimited     = errors.New("rate limited")
)

// httpTimeout bounds every outbound explorer call so a hung API can never
// stall the monitor or sweeper loops.
const httpTimeout = 10 * time.Second

// UTXO represents an unspent transaction output.
type UTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Amount        uint64 `json:"value"` // satoshis
	Confirmed     bool   `json:"confirmed"`
	BlockHeight   int64  `json:"block_height,omitempty"`
	Confirmations int64  `json:"confirmations"`
}

// AddressInfo contains an address's balance summary.
type AddressInfo struct {
	Address        string `json:"address"`
	TxCount        int64  `json:"tx_count"`
	Balance        uint64 `json:"balance"`         // confirmed, base units
	MempoolBalance int64  `json:"mempool_balance"` // unconfirmed delta
}

// TxStatus is the minimal on-chain status of a transaction the deposit
// monitor cares about.
type TxStatus struct {
	TxID          string `json:"txid"`
	Confirmed     bool   `json:"confirmed"`
	BlockHeight   int64  `json:"block_height,omitempty"`
	Confirmations int64  `json:"confirmations"`
}

// FeeEstimate contains Bitcoin fee estimation for confirmation targets.
type FeeEstimate struct {
	FastestFee  uint64 `json:"fastest_fee"`   // sat/vB for next block
	HalfHourFee uint64 `json:"half_hour_fee"` // sat/vB for ~30 min
	HourFee     uint64 `json:"hour_fee"`      // sat/vB for ~1 hour
	MinimumFee  uint64 `json:"minimum_fee"`   // sat/vB minimum relay fee
}
