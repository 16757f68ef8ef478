package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinharbor/harbor/internal/chain"
	"github.com/coinharbor/harbor/internal/storage"
)

// OrderInfo is the wire representation of an order.
type OrderInfo struct {
	OrderID        string `json:"order_id"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	Network        string `json:"network"`
	Address        string `json:"address"`
	DerivationPath string `json:"derivation_path"`
	UserEmail      string `json:"user_email,omitempty"`
	AmountFiat     string `json:"amount_fiat"`
	FiatCurrency   string `json:"fiat_currency"`
	AmountCrypto   string `json:"amount_crypto"`
	ObservedCrypto string `json:"observed_crypto,omitempty"`
	PackageReturn  string `json:"package_return,omitempty"`
	TxHash         string `json:"tx_hash,omitempty"`
	Confirmations  int64  `json:"confirmations"`
	CreatedAt      int64  `json:"created_at"`
	ExpiresAt      int64  `json:"expires_at"`
	CompletedAt    *int64 `json:"completed_at,omitempty"`
}

func orderToInfo(order *storage.Order) *OrderInfo {
	info := &OrderInfo{
		OrderID:        order.OrderID,
		Kind:           string(order.Kind),
		Status:         string(order.Status),
		Network:        order.Network,
		Address:        order.Address,
		DerivationPath: order.DerivationPath,
		UserEmail:      order.UserEmail,
		AmountFiat:     order.AmountFiat,
		FiatCurrency:   order.FiatCurrency,
		AmountCrypto:   order.AmountCrypto,
		ObservedCrypto: order.ObservedCrypto,
		PackageReturn:  order.PackageReturn,
		TxHash:         order.TxHash,
		Confirmations:  order.Confirmations,
		CreatedAt:      order.CreatedAt.Unix(),
		ExpiresAt:      order.ExpiresAt.Unix(),
	}
	if order.CompletedAt != nil {
		ts := order.CompletedAt.Unix()
		info.CompletedAt = &ts
	}
	return info
}

// orderCreate handles order_create: prices the order, allocates a fresh
// deposit address, and stores the pending order.
func (s *Server) orderCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		Kind          string `json:"kind"`
		Network       string `json:"network"`
		UserEmail     string `json:"user_email"`
		AmountFiat    string `json:"amount_fiat"`
		PackageReturn string `json:"package_return,omitempty"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	kind := storage.OrderKind(strings.ToLower(req.Kind))
	if kind == "" {
		kind = storage.OrderKindPackage
	}
	if kind != storage.OrderKindPackage && kind != storage.OrderKindKYC {
		return nil, fmt.Errorf("unknown order kind: %s", req.Kind)
	}
	if !chain.IsSupported(req.Network) {
		return nil, fmt.Errorf("unsupported network: %s", req.Network)
	}

	fiat, err := decimal.NewFromString(req.AmountFiat)
	if err != nil || fiat.Sign() <= 0 {
		return nil, fmt.Errorf("amount_fiat must be a positive decimal, got %q", req.AmountFiat)
	}

	amountCrypto, err := s.prices.Convert(ctx, fiat, req.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to price order: %w", err)
	}

	derived, err := s.manager.NextAddress(req.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to derive deposit address: %w", err)
	}

	expiry := s.orders.PackageExpiry
	if kind == storage.OrderKindKYC {
		expiry = s.orders.KycExpiry
	}
	now := time.Now().UTC()

	order := &storage.Order{
		OrderID:        uuid.NewString(),
		Kind:           kind,
		Status:         storage.OrderStatusPending,
		Network:        derived.Network,
		Address:        derived.Address,
		DerivationPath: derived.Path,
		AddressIndex:   derived.Index,
		UserEmail:      req.UserEmail,
		AmountFiat:     fiat.String(),
		FiatCurrency:   s.prices.Currency(),
		AmountCrypto:   amountCrypto.String(),
		PackageReturn:  req.PackageReturn,
		CreatedAt:      now,
		ExpiresAt:      now.Add(expiry),
	}
	if err := s.store.CreateOrder(order); err != nil {
		return nil, fmt.Errorf("failed to store order: %w", err)
	}

	s.log.Info("order created",
		"order", order.OrderID, "kind", order.Kind, "network", order.Network,
		"address", order.Address, "amount", order.AmountCrypto)
	if s.wsHub != nil {
		s.wsHub.Broadcast(EventOrderCreated, orderToInfo(order))
	}
	return orderToInfo(order), nil
}

// orderGet handles order_get.
func (s *Server) orderGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	order, err := s.store.GetOrder(req.OrderID)
	if err != nil {
		return nil, err
	}
	return orderToInfo(order), nil
}

// orderSubmitTx handles order_submitTx: a payer claims to have sent
// funds, which moves a pending order to processing ahead of the next
// monitor tick.
func (s *Server) orderSubmitTx(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		OrderID string `json:"order_id"`
		TxHash  string `json:"tx_hash"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if req.TxHash == "" {
		return nil, fmt.Errorf("tx_hash is required")
	}

	moved, err := s.store.MarkProcessing(req.OrderID, req.TxHash)
	if err != nil {
		return nil, err
	}
	order, err := s.store.GetOrder(req.OrderID)
	if err != nil {
		return nil, err
	}
	if !moved && order.Status != storage.OrderStatusProcessing {
		return nil, fmt.Errorf("order %s is %s, cannot accept a transaction", req.OrderID, order.Status)
	}
	return orderToInfo(order), nil
}

// orderConfirmKyc handles order_confirmKyc: operator override that
// completes a KYC deposit regardless of observed balance.
func (s *Server) orderConfirmKyc(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	confirmed, err := s.store.ConfirmKycOrder(req.OrderID)
	if err != nil {
		return nil, err
	}
	if !confirmed {
		return nil, fmt.Errorf("order %s is not an active KYC order", req.OrderID)
	}
	order, err := s.store.GetOrder(req.OrderID)
	if err != nil {
		return nil, err
	}
	return orderToInfo(order), nil
}

// orderUpdateReturn handles order_updateReturn: attaches or replaces
// the package return payload on an order.
func (s *Server) orderUpdateReturn(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		OrderID       string `json:"order_id"`
		PackageReturn string `json:"package_return"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	updated, err := s.store.UpdatePackageReturn(req.OrderID, req.PackageReturn)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, storage.ErrOrderNotFound
	}
	order, err := s.store.GetOrder(req.OrderID)
	if err != nil {
		return nil, err
	}
	return orderToInfo(order), nil
}
