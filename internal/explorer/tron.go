package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TronClient talks to a TronGrid-compatible HTTP API.
type TronClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewTronClient creates a client for a Tron full-node HTTP endpoint.
// apiKey may be empty for self-hosted nodes.
func NewTronClient(baseURL, apiKey string) *TronClient {
	return &TronClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
	}
}

// GetBalance returns the TRX balance (in sun) of a base58 address.
// An account that has never been activated reports a zero balance.
func (c *TronClient) GetBalance(ctx context.Context, address string) (uint64, error) {
	var result struct {
		Balance uint64 `json:"balance"`
	}
	err := c.post(ctx, "/wallet/getaccount", map[string]interface{}{
		"address": address,
		"visible": true,
	}, &result)
	if err != nil {
		return 0, err
	}
	return result.Balance, nil
}

// UnsignedTransaction is a TransferContract built by the node, ready for
// local signing.
type UnsignedTransaction struct {
	TxID       string          `json:"txID"`
	RawDataHex string          `json:"raw_data_hex"`
	RawData    json.RawMessage `json:"raw_data"`
}

// CreateTransfer asks the node to build an unsigned TRX transfer.
// Amounts are in sun.
func (c *TronClient) CreateTransfer(ctx context.Context, from, to string, amount uint64) (*UnsignedTransaction, error) {
	var result UnsignedTransaction
	err := c.post(ctx, "/wallet/createtransaction", map[string]interface{}{
		"owner_address": from,
		"to_address":    to,
		"amount":        amount,
		"visible":       true,
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.TxID == "" {
		return nil, fmt.Errorf("node returned no transaction")
	}
	return &result, nil
}

// BroadcastTransaction submits a locally signed transaction.
func (c *TronClient) BroadcastTransaction(ctx context.Context, tx *UnsignedTransaction, signatureHex string) (string, error) {
	var result struct {
		Result  bool   `json:"result"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	err := c.post(ctx, "/wallet/broadcasttransaction", map[string]interface{}{
		"txID":         tx.TxID,
		"raw_data":     tx.RawData,
		"raw_data_hex": tx.RawDataHex,
		"signature":    []string{signatureHex},
		"visible":      true,
	}, &result)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	if !result.Result {
		return "", fmt.Errorf("%w: %s %s", ErrBroadcastFailed, result.Code, result.Message)
	}
	return tx.TxID, nil
}

// GetTransactionStatus reports whether a transaction is known and
// confirmed by the solidity node.
func (c *TronClient) GetTransactionStatus(ctx context.Context, txID string) (*TxStatus, error) {
	var result struct {
		TxID string `json:"txID"`
		Ret  []struct {
			ContractRet string `json:"contractRet"`
		} `json:"ret"`
	}
	err := c.post(ctx, "/walletsolidity/gettransactionbyid", map[string]interface{}{
		"value": txID,
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.TxID == "" {
		return nil, ErrTxNotFound
	}

	confirmed := len(result.Ret) > 0 && result.Ret[0].ContractRet == "SUCCESS"
	status := &TxStatus{TxID: result.TxID, Confirmed: confirmed}
	if confirmed {
		// The solidity node only serves solidified blocks, so presence
		// there already means the network's confirmation threshold.
		status.Confirmations = 19
	}
	return status, nil
}

func (c *TronClient) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s failed: status %d", path, resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
