package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coinharbor/harbor/internal/chain"
)

// AddressInfo is the wire representation of a derived address.
type AddressInfo struct {
	Network string `json:"network"`
	Address string `json:"address"`
	Index   uint32 `json:"index"`
	Path    string `json:"path"`
}

// walletDeriveAddress handles wallet_deriveAddress. With an explicit
// index this is a read-only derivation for inspection; without one it
// allocates the next index, permanently consuming it.
func (s *Server) walletDeriveAddress(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		Network string  `json:"network"`
		Index   *uint32 `json:"index,omitempty"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	if req.Index == nil {
		derived, err := s.manager.NextAddress(req.Network)
		if err != nil {
			return nil, err
		}
		return &AddressInfo{
			Network: derived.Network,
			Address: derived.Address,
			Index:   derived.Index,
			Path:    derived.Path,
		}, nil
	}

	adapter, err := s.manager.Adapter(req.Network)
	if err != nil {
		return nil, err
	}
	derived, err := adapter.DeriveAddress(*req.Index)
	if err != nil {
		return nil, err
	}
	return &AddressInfo{
		Network: derived.Network,
		Address: derived.Address,
		Index:   derived.Index,
		Path:    derived.Path,
	}, nil
}

// NetworkInfo describes one supported network.
type NetworkInfo struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	Family           string `json:"family"`
	Decimals         uint8  `json:"decimals"`
	TokenContract    string `json:"token_contract,omitempty"`
	MinConfirmations int64  `json:"min_confirmations"`
}

// walletNetworks handles wallet_networks.
func (s *Server) walletNetworks(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var networks []NetworkInfo
	for _, code := range chain.List() {
		p, _ := chain.Get(code)
		networks = append(networks, NetworkInfo{
			Code:             p.Code,
			Name:             p.Name,
			Family:           string(p.Family),
			Decimals:         p.Decimals,
			TokenContract:    p.TokenContract,
			MinConfirmations: p.MinConfirmations,
		})
	}
	return map[string]interface{}{"networks": networks}, nil
}

// walletMasterBalance handles wallet_masterBalance: the consolidated
// balance held at a network's master address.
func (s *Server) walletMasterBalance(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		Network string `json:"network"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	adapter, err := s.manager.Adapter(req.Network)
	if err != nil {
		return nil, err
	}
	master, err := s.manager.MasterAddress(req.Network)
	if err != nil {
		return nil, err
	}
	balance, err := adapter.GetBalance(ctx, master.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}
	return map[string]interface{}{
		"network": master.Network,
		"address": master.Address,
		"balance": balance.String(),
	}, nil
}
