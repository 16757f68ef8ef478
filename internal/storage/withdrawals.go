// Package storage - withdrawal and verification-payment ledger.
//
// A withdrawal is gated on a smaller verification deposit reaching the
// platform first (anti-abuse policy, not a blockchain requirement). Both
// ledgers follow the pending -> confirmed -> settled lifecycle with the
// same conditional-update discipline as orders.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Withdrawal errors.
var (
	ErrWithdrawalNotFound   = errors.New("withdrawal not found")
	ErrVerificationNotFound = errors.New("verification payment not found")
)

// WithdrawalStatus lifecycle: pending -> confirmed -> settled.
type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusConfirmed WithdrawalStatus = "confirmed"
	WithdrawalStatusSettled   WithdrawalStatus = "settled"
)

// Withdrawal is a user request to pay out to an external address.
type Withdrawal struct {
	WithdrawalID string
	Status       WithdrawalStatus
	UserEmail    string
	Network      string
	Destination  string
	AmountCrypto string
	TxHash       string
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

// VerificationPayment is the small deposit that must arrive before the
// linked withdrawal is released.
type VerificationPayment struct {
	VerificationID string
	WithdrawalID   string
	Status         WithdrawalStatus

	Network        string
	Address        string
	DerivationPath string
	AddressIndex   uint32
	AmountCrypto   string

	TxHash        string
	Confirmations int64

	CreatedAt time.Time
	ExpiresAt time.Time
}

// CreateWithdrawal inserts a pending withdrawal together with its
// verification payment in one transaction.
func (s *Storage) CreateWithdrawal(w *Withdrawal, v *VerificationPayment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if w.Status == "" {
		w.Status = WithdrawalStatusPending
	}
	if v.Status == "" {
		v.Status = WithdrawalStatusPending
	}

	_, err = tx.Exec(`
		INSERT INTO withdrawals (
			withdrawal_id, status, user_email, network, destination,
			amount_crypto, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, w.WithdrawalID, w.Status, w.UserEmail, w.Network, w.Destination,
		w.AmountCrypto, w.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO verification_payments (
			verification_id, withdrawal_id, status, network, address,
			derivation_path, address_index, amount_crypto,
			created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.VerificationID, v.WithdrawalID, v.Status, v.Network, v.Address,
		v.DerivationPath, v.AddressIndex, v.AmountCrypto,
		v.CreatedAt.Unix(), v.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create verification payment: %w", err)
	}

	return tx.Commit()
}

// GetWithdrawal returns a withdrawal by ID.
func (s *Storage) GetWithdrawal(id string) (*Withdrawal, error) {
	var (
		w         Withdrawal
		txHash    sql.NullString
		createdAt int64
		updatedAt sql.NullInt64
	)
	err := s.db.QueryRow(`
		SELECT withdrawal_id, status, user_email, network, destination,
		       amount_crypto, tx_hash, created_at, updated_at
		FROM withdrawals WHERE withdrawal_id = ?
	`, id).Scan(&w.WithdrawalID, &w.Status, &w.UserEmail, &w.Network,
		&w.Destination, &w.AmountCrypto, &txHash, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}

	w.TxHash = txHash.String
	w.CreatedAt = time.Unix(createdAt, 0)
	if updatedAt.Valid {
		t := time.Unix(updatedAt.Int64, 0)
		w.UpdatedAt = &t
	}
	return &w, nil
}

// ListPendingVerifications returns verification payments the monitor
// should still poll.
func (s *Storage) ListPendingVerifications(now time.Time) ([]*VerificationPayment, error) {
	rows, err := s.db.Query(`
		SELECT verification_id, withdrawal_id, status, network, address,
		       derivation_path, address_index, amount_crypto, tx_hash,
		       confirmations, created_at, expires_at
		FROM verification_payments
		WHERE status = ? AND expires_at > ?
	`, WithdrawalStatusPending, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list pending verifications: %w", err)
	}
	defer rows.Close()

	var payments []*VerificationPayment
	for rows.Next() {
		var (
			v         VerificationPayment
			txHash    sql.NullString
			createdAt int64
			expiresAt int64
		)
		err := rows.Scan(&v.VerificationID, &v.WithdrawalID, &v.Status,
			&v.Network, &v.Address, &v.DerivationPath, &v.AddressIndex,
			&v.AmountCrypto, &txHash, &v.Confirmations, &createdAt, &expiresAt)
		if err != nil {
			return nil, err
		}
		v.TxHash = txHash.String
		v.CreatedAt = time.Unix(createdAt, 0)
		v.ExpiresAt = time.Unix(expiresAt, 0)
		payments = append(payments, &v)
	}
	return payments, rows.Err()
}

// ConfirmVerification marks a verification payment confirmed and releases
// the linked withdrawal (pending -> confirmed) in one transaction. Both
// updates are conditional; re-running is a no-op.
func (s *Storage) ConfirmVerification(verificationID string, confirmations int64) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE verification_payments SET status = ?, confirmations = ?
		WHERE verification_id = ? AND status = ?
	`, WithdrawalStatusConfirmed, confirmations, verificationID, WithdrawalStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to confirm verification: %w", err)
	}
	if !rowsChanged(result) {
		return false, nil
	}

	_, err = tx.Exec(`
		UPDATE withdrawals SET status = ?, updated_at = ?
		WHERE withdrawal_id = (
			SELECT withdrawal_id FROM verification_payments WHERE verification_id = ?
		) AND status = ?
	`, WithdrawalStatusConfirmed, time.Now().Unix(), verificationID, WithdrawalStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to release withdrawal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// SettleWithdrawal records the payout transaction hash and finishes the
// withdrawal lifecycle.
func (s *Storage) SettleWithdrawal(withdrawalID, txHash string) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE withdrawals SET status = ?, tx_hash = ?, updated_at = ?
		WHERE withdrawal_id = ? AND status = ?
	`, WithdrawalStatusSettled, txHash, time.Now().Unix(),
		withdrawalID, WithdrawalStatusConfirmed)
	if err != nil {
		return false, fmt.Errorf("failed to settle withdrawal: %w", err)
	}
	return rowsChanged(result), nil
}
