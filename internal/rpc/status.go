package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coinharbor/harbor/internal/chain"
)

// nodeStatus handles node_status.
func (s *Server) nodeStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	status := map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"networks":       chain.List(),
		"adapters":       s.manager.Networks(),
	}
	if s.sweeper != nil {
		status["sweep"] = s.sweeper.Status()
	}
	if s.wsHub != nil {
		status["ws_clients"] = s.wsHub.ClientCount()
	}
	return status, nil
}
