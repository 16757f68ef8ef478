package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// EsploraClient talks to an Esplora-compatible Bitcoin API
// (blockstream.info, mempool.space, or a self-hosted instance).
type EsploraClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewEsploraClient creates a client for the given base URL.
func NewEsploraClient(baseURL string) *EsploraClient {
	return &EsploraClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
	}
}

// GetAddressInfo returns the confirmed balance and tx count for an address.
func (e *EsploraClient) GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error) {
	var result struct {
		Address    string `json:"address"`
		ChainStats struct {
			FundedTxoSum uint64 `json:"funded_txo_sum"`
			SpentTxoSum  uint64 `json:"spent_txo_sum"`
			TxCount      int64  `json:"tx_count"`
		} `json:"chain_stats"`
		MempoolStats struct {
			FundedTxoSum uint64 `json:"funded_txo_sum"`
			SpentTxoSum  uint64 `json:"spent_txo_sum"`
			TxCount      int64  `json:"tx_count"`
		} `json:"mempool_stats"`
	}

	if err := e.get(ctx, "/address/"+address, &result); err != nil {
		return nil, err
	}

	return &AddressInfo{
		Address:        result.Address,
		TxCount:        result.ChainStats.TxCount + result.MempoolStats.TxCount,
		Balance:        result.ChainStats.FundedTxoSum - result.ChainStats.SpentTxoSum,
		MempoolBalance: int64(result.MempoolStats.FundedTxoSum) - int64(result.MempoolStats.SpentTxoSum),
	}, nil
}

// GetAddressUTXOs returns unspent outputs for an address, confirmed and
// unconfirmed. Confirmation counts are computed against the current tip.
func (e *EsploraClient) GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var result []struct {
		TxID   string `json:"txid"`
		Vout   uint32 `json:"vout"`
		Status struct {
			Confirmed   bool  `json:"confirmed"`
			BlockHeight int64 `json:"block_height"`
		} `json:"status"`
		Value uint64 `json:"value"`
	}

	if err := e.get(ctx, "/address/"+address+"/utxo", &result); err != nil {
		return nil, err
	}

	currentHeight, err := e.GetBlockHeight(ctx)
	if err != nil {
		currentHeight = 0
	}

	utxos := make([]UTXO, len(result))
	for i, u := range result {
		var confirmations int64
		if u.Status.Confirmed && u.Status.BlockHeight > 0 && currentHeight > 0 {
			confirmations = currentHeight - u.Status.BlockHeight + 1
		} else if u.Status.Confirmed {
			confirmations = 1
		}
		utxos[i] = UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Amount:        u.Value,
			Confirmed:     u.Status.Confirmed,
			BlockHeight:   u.Status.BlockHeight,
			Confirmations: confirmations,
		}
	}

	return utxos, nil
}

// GetTransaction returns the on-chain status of a transaction.
func (e *EsploraClient) GetTransaction(ctx context.Context, txID string) (*TxStatus, error) {
	var result struct {
		TxID   string `json:"txid"`
		Status struct {
			Confirmed   bool  `json:"confirmed"`
			BlockHeight int64 `json:"block_height"`
		} `json:"status"`
	}

	if err := e.get(ctx, "/tx/"+txID, &result); err != nil {
		return nil, err
	}
	if result.TxID == "" {
		return nil, ErrTxNotFound
	}

	status := &TxStatus{
		TxID:        result.TxID,
		Confirmed:   result.Status.Confirmed,
		BlockHeight: result.Status.BlockHeight,
	}
	if status.Confirmed {
		if height, err := e.GetBlockHeight(ctx); err == nil && height > 0 {
			status.Confirmations = height - status.BlockHeight + 1
		} else {
			status.Confirmations = 1
		}
	}
	return status, nil
}

// GetBlockHeight returns the current chain tip height.
func (e *EsploraClient) GetBlockHeight(ctx context.Context) (int64, error) {
	body, err := e.getRaw(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}

	var height int64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(body)), "%d", &height); err != nil {
		return 0, fmt.Errorf("invalid tip height %q: %w", body, err)
	}
	return height, nil
}

// GetFeeEstimates returns sat/vB fee rates for common targets.
func (e *EsploraClient) GetFeeEstimates(ctx context.Context) (*FeeEstimate, error) {
	// Esplora returns a map of confirmation target -> sat/vB.
	var result map[string]float64
	if err := e.get(ctx, "/fee-estimates", &result); err != nil {
		return nil, err
	}

	return &FeeEstimate{
		FastestFee:  uint64(result["1"]),
		HalfHourFee: uint64(result["3"]),
		HourFee:     uint64(result["6"]),
		MinimumFee:  1,
	}, nil
}

// BroadcastTransaction submits a raw transaction hex and returns the txid.
func (e *EsploraClient) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/tx", strings.NewReader(rawTxHex))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrBroadcastFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return strings.TrimSpace(string(body)), nil
}

func (e *EsploraClient) get(ctx context.Context, path string, out interface{}) error {
	body, err := e.getRaw(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (e *EsploraClient) getRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTxNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request %s failed: status %d", path, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
