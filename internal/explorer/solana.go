package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// SolanaClient is a minimal Solana JSON-RPC client.
type SolanaClient struct {
	rpcURL     string
	httpClient *http.Client
	requestID  atomic.Uint64
}

// NewSolanaClient creates a client for a Solana JSON-RPC endpoint.
func NewSolanaClient(rpcURL string) *SolanaClient {
	return &SolanaClient{
		rpcURL: rpcURL,
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
	}
}

// GetBalance returns the lamport balance of an account.
func (c *SolanaClient) GetBalance(ctx context.Context, address string) (uint64, error) {
	result, err := c.call(ctx, "getBalance", []interface{}{address})
	if err != nil {
		return 0, err
	}

	var resp struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// GetLatestBlockhash returns a recent blockhash for transaction building.
func (c *SolanaClient) GetLatestBlockhash(ctx context.Context) (string, error) {
	result, err := c.call(ctx, "getLatestBlockhash", []interface{}{
		map[string]string{"commitment": "finalized"},
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", err
	}
	return resp.Value.Blockhash, nil
}

// SendTransaction submits a base64-encoded signed transaction.
func (c *SolanaClient) SendTransaction(ctx context.Context, txBase64 string) (string, error) {
	result, err := c.call(ctx, "sendTransaction", []interface{}{
		txBase64,
		map[string]interface{}{"encoding": "base64", "preflightCommitment": "confirmed"},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}

	var signature string
	if err := json.Unmarshal(result, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// GetSignatureStatus returns the confirmation status of a signature, or
// ErrTxNotFound if the cluster does not know it.
func (c *SolanaClient) GetSignatureStatus(ctx context.Context, signature string) (string, error) {
	result, err := c.call(ctx, "getSignatureStatuses", []interface{}{
		[]string{signature},
		map[string]bool{"searchTransactionHistory": true},
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		Value []*struct {
			ConfirmationStatus string `json:"confirmationStatus"`
			Err                any    `json:"err"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", err
	}
	if len(resp.Value) == 0 || resp.Value[0] == nil {
		return "", ErrTxNotFound
	}
	if resp.Value[0].Err != nil {
		return "", fmt.Errorf("transaction %s failed on chain", signature)
	}
	return resp.Value[0].ConfirmationStatus, nil
}

func (c *SolanaClient) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	request := struct {
		JSONRPC string        `json:"jsonrpc"`
		Method  string        `json:"method"`
		Params  []interface{} `json:"params"`
		ID      uint64        `json:"id"`
	}{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.requestID.Add(1),
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", method, err)
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: invalid response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s: rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}

	return rpcResp.Result, nil
}
