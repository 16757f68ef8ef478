package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coinharbor/harbor/internal/chain"
)

// sweepByNetwork handles sweep_byNetwork: queues every allocated
// deposit index for a network for consolidation.
func (s *Server) sweepByNetwork(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		Network string `json:"network"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	netParams, ok := chain.Get(req.Network)
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", req.Network)
	}
	if s.sweeper == nil {
		return nil, fmt.Errorf("sweeper is not running")
	}

	indexes, err := s.store.AllocatedIndexes(netParams.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocated indexes: %w", err)
	}
	for _, index := range indexes {
		s.sweeper.Enqueue(netParams.Code, index)
	}

	s.log.Info("manual sweep requested", "network", netParams.Code, "indexes", len(indexes))
	return map[string]interface{}{
		"network": netParams.Code,
		"queued":  len(indexes),
	}, nil
}

// sweepQueueStatus handles sweep_queueStatus.
func (s *Server) sweepQueueStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.sweeper == nil {
		return nil, fmt.Errorf("sweeper is not running")
	}
	return s.sweeper.Status(), nil
}
