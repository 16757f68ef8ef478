// Package storage - order ledger operations.
//
// Order state machine: pending -> processing -> completed | failed, with
// pending -> expired reached only by the cleanup job. All transitions use
// conditional updates ("UPDATE ... WHERE status = ...") so overlapping
// monitor ticks and API calls are race-free; a transition that matches
// zero rows is a benign no-op, not an error.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Order errors.
var (
	ErrOrderNotFound = errors.New("order not found")
)

// OrderStatus represents the status of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusExpired    OrderStatus = "expired"
)

// OrderKind distinguishes ordinary package orders from KYC deposits.
type OrderKind string

const (
	OrderKindPackage OrderKind = "package"
	OrderKindKYC     OrderKind = "kyc"
)

// Order represents a payment obligation tied to a derived deposit address.
type Order struct {
	OrderID string
	Kind    OrderKind
	Status  OrderStatus

	Network        string
	Address        string
	DerivationPath string
	AddressIndex   uint32

	UserEmail      string
	AmountFiat     string
	FiatCurrency   string
	AmountCrypto   string
	ObservedCrypto string
	PackageReturn  string

	TxHash        string
	Confirmations int64

	CreatedAt   time.Time
	ExpiresAt   time.Time
	CompletedAt *time.Time
}

// CreateOrder inserts a new pending order.
func (s *Storage) CreateOrder(order *Order) error {
	if order.FiatCurrency == "" {
		order.FiatCurrency = "USD"
	}
	if order.Kind == "" {
		order.Kind = OrderKindPackage
	}
	if order.Status == "" {
		order.Status = OrderStatusPending
	}
	if order.ObservedCrypto == "" {
		order.ObservedCrypto = "0"
	}

	_, err := s.db.Exec(`
		INSERT INTO orders (
			order_id, kind, status, network, address, derivation_path,
			address_index, user_email, amount_fiat, fiat_currency,
			amount_crypto, observed_crypto, package_return, tx_hash,
			confirmations, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		order.OrderID, order.Kind, order.Status,
		order.Network, order.Address, order.DerivationPath, order.AddressIndex,
		order.UserEmail, order.AmountFiat, order.FiatCurrency,
		order.AmountCrypto, order.ObservedCrypto, nullable(order.PackageReturn),
		nullable(order.TxHash), order.Confirmations,
		order.CreatedAt.Unix(), order.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// GetOrder returns an order by ID.
func (s *Storage) GetOrder(orderID string) (*Order, error) {
	row := s.db.QueryRow(selectOrder+` WHERE order_id = ?`, orderID)
	return scanOrder(row)
}

// ListActiveOrders returns all orders the deposit monitor should poll:
// pending or processing, not yet past their expiry.
func (s *Storage) ListActiveOrders(now time.Time) ([]*Order, error) {
	rows, err := s.db.Query(
		selectOrder+` WHERE status IN (?, ?) AND expires_at > ? ORDER BY created_at`,
		OrderStatusPending, OrderStatusProcessing, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// MarkProcessing records a transaction hash and moves a pending order to
// processing. Returns false if the order was not in pending (benign).
func (s *Storage) MarkProcessing(orderID, txHash string) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE orders SET status = ?, tx_hash = ?
		WHERE order_id = ? AND status = ?
	`, OrderStatusProcessing, txHash, orderID, OrderStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark order processing: %w", err)
	}
	return rowsChanged(result), nil
}

// MarkCompleted finalizes an order. Re-running on an already-completed
// order matches zero rows and changes nothing.
func (s *Storage) MarkCompleted(orderID string, confirmations int64) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE orders SET status = ?, confirmations = ?, completed_at = ?
		WHERE order_id = ? AND status IN (?, ?)
	`, OrderStatusCompleted, confirmations, time.Now().Unix(),
		orderID, OrderStatusPending, OrderStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to mark order completed: %w", err)
	}
	return rowsChanged(result), nil
}

// MarkFailed moves a processing order to the failed terminal state.
func (s *Storage) MarkFailed(orderID string) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE orders SET status = ? WHERE order_id = ? AND status = ?
	`, OrderStatusFailed, orderID, OrderStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to mark order failed: %w", err)
	}
	return rowsChanged(result), nil
}

// UpdateObserved persists the latest observed balance and confirmation
// count for an order still being monitored.
func (s *Storage) UpdateObserved(orderID, observedCrypto string, confirmations int64) error {
	_, err := s.db.Exec(`
		UPDATE orders SET observed_crypto = ?, confirmations = ?
		WHERE order_id = ? AND status IN (?, ?)
	`, observedCrypto, confirmations, orderID, OrderStatusPending, OrderStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update observed amount: %w", err)
	}
	return nil
}

// DeleteExpiredPending purges pending orders that never saw a transaction
// and are past their expiry or older than pendingCutoff. The cutoff keeps
// the active working set bounded even when an order's expiry window is
// longer; a cutoff <= 0 disables the age check. Returns the number of
// deleted rows.
func (s *Storage) DeleteExpiredPending(now time.Time, pendingCutoff time.Duration) (int64, error) {
	cutoff := int64(0)
	if pendingCutoff > 0 {
		cutoff = now.Add(-pendingCutoff).Unix()
	}
	result, err := s.db.Exec(`
		DELETE FROM orders
		WHERE status = ? AND (expires_at <= ? OR created_at <= ?)
		  AND (tx_hash IS NULL OR tx_hash = '')
	`, OrderStatusPending, now.Unix(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired orders: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ConfirmKycOrder is an admin override completing a KYC order regardless
// of observed balance.
func (s *Storage) ConfirmKycOrder(orderID string) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE orders SET status = ?, completed_at = ?
		WHERE order_id = ? AND kind = ? AND status IN (?, ?)
	`, OrderStatusCompleted, time.Now().Unix(),
		orderID, OrderKindKYC, OrderStatusPending, OrderStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to confirm kyc order: %w", err)
	}
	return rowsChanged(result), nil
}

// UpdatePackageReturn is an admin override setting the advertised return
// on a package order.
func (s *Storage) UpdatePackageReturn(orderID, packageReturn string) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE orders SET package_return = ? WHERE order_id = ? AND kind = ?
	`, packageReturn, orderID, OrderKindPackage)
	if err != nil {
		return false, fmt.Errorf("failed to update package return: %w", err)
	}
	return rowsChanged(result), nil
}

// AllocatedIndexes returns the distinct non-zero address indexes that have
// been issued for a network, whether for an order deposit or a withdrawal
// verification payment. The sweeper uses this to rediscover sweep
// candidates after a restart.
func (s *Storage) AllocatedIndexes(network string) ([]uint32, error) {
	rows, err := s.db.Query(`
		SELECT address_index FROM orders
		WHERE network = ? AND address_index > 0
		UNION
		SELECT address_index FROM verification_payments
		WHERE network = ? AND address_index > 0
		ORDER BY address_index
	`, network, network)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocated indexes: %w", err)
	}
	defer rows.Close()

	var indexes []uint32
	for rows.Next() {
		var idx uint32
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

const selectOrder = `
	SELECT order_id, kind, status, network, address, derivation_path,
	       address_index, user_email, amount_fiat, fiat_currency,
	       amount_crypto, observed_crypto, package_return, tx_hash,
	       confirmations, created_at, expires_at, completed_at
	FROM orders`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		order                  Order
		packageReturn, txHash  sql.NullString
		createdAt, expiresAt   int64
		completedAt            sql.NullInt64
	)

	err := row.Scan(
		&order.OrderID, &order.Kind, &order.Status,
		&order.Network, &order.Address, &order.DerivationPath, &order.AddressIndex,
		&order.UserEmail, &order.AmountFiat, &order.FiatCurrency,
		&order.AmountCrypto, &order.ObservedCrypto, &packageReturn, &txHash,
		&order.Confirmations, &createdAt, &expiresAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	order.PackageReturn = packageReturn.String
	order.TxHash = txHash.String
	order.CreatedAt = time.Unix(createdAt, 0)
	order.ExpiresAt = time.Unix(expiresAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		order.CompletedAt = &t
	}

	return &order, nil
}

func scanOrders(rows *sql.Rows) ([]*Order, error) {
	var orders []*Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func rowsChanged(result sql.Result) bool {
	n, err := result.RowsAffected()
	return err == nil && n > 0
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
