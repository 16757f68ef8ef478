package rpc

import "github.com/coinharbor/harbor/internal/storage"

// OrderPaid broadcasts a completed order to WebSocket subscribers. It
// satisfies the deposit monitor's event sink.
func (s *Server) OrderPaid(order *storage.Order) {
	s.wsHub.Broadcast(EventOrderPaid, orderToInfo(order))
}

// OrdersExpired broadcasts the result of a bulk expiry cleanup.
func (s *Server) OrdersExpired(count int64) {
	s.wsHub.Broadcast(EventOrderExpired, map[string]int64{"count": count})
}

// SweepBroadcast announces a consolidation transaction.
func (s *Server) SweepBroadcast(network string, index uint32, txHash string) {
	s.wsHub.Broadcast(EventSweepBroadcast, map[string]interface{}{
		"network": network,
		"index":   index,
		"tx_hash": txHash,
	})
}
