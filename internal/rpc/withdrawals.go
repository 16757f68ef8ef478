package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinharbor/harbor/internal/chain"
	"github.com/coinharbor/harbor/internal/storage"
)

// verificationFraction is the default share of the withdrawal amount
// required as a verification deposit when the caller does not choose
// one.
var verificationFraction = decimal.NewFromFloat(0.05)

// WithdrawalInfo is the wire representation of a withdrawal and its
// verification payment.
type WithdrawalInfo struct {
	WithdrawalID string `json:"withdrawal_id"`
	Status       string `json:"status"`
	UserEmail    string `json:"user_email,omitempty"`
	Network      string `json:"network"`
	Destination  string `json:"destination"`
	AmountCrypto string `json:"amount_crypto"`
	TxHash       string `json:"tx_hash,omitempty"`
	CreatedAt    int64  `json:"created_at"`

	VerificationID      string `json:"verification_id,omitempty"`
	VerificationAddress string `json:"verification_address,omitempty"`
	VerificationAmount  string `json:"verification_amount,omitempty"`
	VerificationExpires int64  `json:"verification_expires,omitempty"`
}

// withdrawalCreate handles withdrawal_create: records the payout
// request and derives a fresh address for its verification deposit.
// The withdrawal stays pending until that deposit lands.
func (s *Server) withdrawalCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		UserEmail          string `json:"user_email"`
		Network            string `json:"network"`
		Destination        string `json:"destination"`
		AmountCrypto       string `json:"amount_crypto"`
		VerificationAmount string `json:"verification_amount,omitempty"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if !chain.IsSupported(req.Network) {
		return nil, fmt.Errorf("unsupported network: %s", req.Network)
	}
	if req.Destination == "" {
		return nil, fmt.Errorf("destination is required")
	}

	amount, err := decimal.NewFromString(req.AmountCrypto)
	if err != nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount_crypto must be a positive decimal, got %q", req.AmountCrypto)
	}

	netParams, _ := chain.Get(req.Network)
	verifyAmount := amount.Mul(verificationFraction).Round(int32(netParams.Decimals))
	if req.VerificationAmount != "" {
		verifyAmount, err = decimal.NewFromString(req.VerificationAmount)
		if err != nil || verifyAmount.Sign() <= 0 {
			return nil, fmt.Errorf("verification_amount must be a positive decimal, got %q", req.VerificationAmount)
		}
	}

	derived, err := s.manager.NextAddress(req.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to derive verification address: %w", err)
	}

	now := time.Now().UTC()
	withdrawal := &storage.Withdrawal{
		WithdrawalID: uuid.NewString(),
		Status:       storage.WithdrawalStatusPending,
		UserEmail:    req.UserEmail,
		Network:      derived.Network,
		Destination:  req.Destination,
		AmountCrypto: amount.String(),
		CreatedAt:    now,
	}
	verification := &storage.VerificationPayment{
		VerificationID: uuid.NewString(),
		WithdrawalID:   withdrawal.WithdrawalID,
		Status:         storage.WithdrawalStatusPending,
		Network:        derived.Network,
		Address:        derived.Address,
		DerivationPath: derived.Path,
		AddressIndex:   derived.Index,
		AmountCrypto:   verifyAmount.String(),
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.orders.VerificationExpiry),
	}
	if err := s.store.CreateWithdrawal(withdrawal, verification); err != nil {
		return nil, fmt.Errorf("failed to store withdrawal: %w", err)
	}

	s.log.Info("withdrawal created",
		"withdrawal", withdrawal.WithdrawalID, "network", withdrawal.Network,
		"amount", withdrawal.AmountCrypto, "verification_address", verification.Address)

	return &WithdrawalInfo{
		WithdrawalID:        withdrawal.WithdrawalID,
		Status:              string(withdrawal.Status),
		UserEmail:           withdrawal.UserEmail,
		Network:             withdrawal.Network,
		Destination:         withdrawal.Destination,
		AmountCrypto:        withdrawal.AmountCrypto,
		CreatedAt:           withdrawal.CreatedAt.Unix(),
		VerificationID:      verification.VerificationID,
		VerificationAddress: verification.Address,
		VerificationAmount:  verification.AmountCrypto,
		VerificationExpires: verification.ExpiresAt.Unix(),
	}, nil
}

// withdrawalSettle handles withdrawal_settle: an operator records the
// payout transaction hash after paying a confirmed withdrawal, closing
// its lifecycle. Payouts leave the master wallet by hand, so settlement
// is an admin action, not an automated one.
func (s *Server) withdrawalSettle(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		WithdrawalID string `json:"withdrawal_id"`
		TxHash       string `json:"tx_hash"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if req.TxHash == "" {
		return nil, fmt.Errorf("tx_hash is required")
	}

	settled, err := s.store.SettleWithdrawal(req.WithdrawalID, req.TxHash)
	if err != nil {
		return nil, err
	}
	if !settled {
		return nil, fmt.Errorf("withdrawal %s is not in confirmed state", req.WithdrawalID)
	}

	s.log.Info("withdrawal settled", "withdrawal", req.WithdrawalID, "tx", req.TxHash)

	w, err := s.store.GetWithdrawal(req.WithdrawalID)
	if err != nil {
		return nil, err
	}
	return &WithdrawalInfo{
		WithdrawalID: w.WithdrawalID,
		Status:       string(w.Status),
		UserEmail:    w.UserEmail,
		Network:      w.Network,
		Destination:  w.Destination,
		AmountCrypto: w.AmountCrypto,
		TxHash:       w.TxHash,
		CreatedAt:    w.CreatedAt.Unix(),
	}, nil
}

// withdrawalGet handles withdrawal_get.
func (s *Server) withdrawalGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		WithdrawalID string `json:"withdrawal_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	w, err := s.store.GetWithdrawal(req.WithdrawalID)
	if err != nil {
		return nil, err
	}
	return &WithdrawalInfo{
		WithdrawalID: w.WithdrawalID,
		Status:       string(w.Status),
		UserEmail:    w.UserEmail,
		Network:      w.Network,
		Destination:  w.Destination,
		AmountCrypto: w.AmountCrypto,
		TxHash:       w.TxHash,
		CreatedAt:    w.CreatedAt.Unix(),
	}, nil
}
