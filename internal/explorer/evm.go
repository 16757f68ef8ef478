package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/coinharbor/harbor/pkg/helpers"
)

// EVMClient is a minimal Ethereum JSON-RPC client covering what the
// deposit monitor and sweeper need.
type EVMClient struct {
	rpcURL     string
	httpClient *http.Client
	requestID  atomic.Uint64
}

// NewEVMClient creates a client for an Ethereum JSON-RPC endpoint.
func NewEVMClient(rpcURL string) *EVMClient {
	return &EVMClient{
		rpcURL: rpcURL,
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
	}
}

// GetBalance returns the wei balance of an address.
func (c *EVMClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	result, err := c.call(ctx, "eth_getBalance", []interface{}{address, "latest"})
	if err != nil {
		return nil, err
	}

	var hexBalance string
	if err := json.Unmarshal(result, &hexBalance); err != nil {
		return nil, err
	}
	return helpers.HexToBigInt(hexBalance), nil
}

// GetNonce returns the pending transaction count of an address.
func (c *EVMClient) GetNonce(ctx context.Context, address string) (uint64, error) {
	result, err := c.call(ctx, "eth_getTransactionCount", []interface{}{address, "pending"})
	if err != nil {
		return 0, err
	}

	var hexNonce string
	if err := json.Unmarshal(result, &hexNonce); err != nil {
		return 0, err
	}
	return helpers.HexToUint64(hexNonce), nil
}

// GasPrice returns the current gas price in wei.
func (c *EVMClient) GasPrice(ctx context.Context) (*big.Int, error) {
	result, err := c.call(ctx, "eth_gasPrice", []interface{}{})
	if err != nil {
		return nil, err
	}

	var hexPrice string
	if err := json.Unmarshal(result, &hexPrice); err != nil {
		return nil, err
	}
	return helpers.HexToBigInt(hexPrice), nil
}

// GetBlockHeight returns the latest block number.
func (c *EVMClient) GetBlockHeight(ctx context.Context) (int64, error) {
	result, err := c.call(ctx, "eth_blockNumber", []interface{}{})
	if err != nil {
		return 0, err
	}

	var hexHeight string
	if err := json.Unmarshal(result, &hexHeight); err != nil {
		return 0, err
	}
	return helpers.HexToInt64(hexHeight), nil
}

// SendRawTransaction broadcasts a signed transaction and returns its hash.
func (c *EVMClient) SendRawTransaction(ctx context.Context, rawTxHex string) (string, error) {
	if !strings.HasPrefix(rawTxHex, "0x") {
		rawTxHex = "0x" + rawTxHex
	}

	result, err := c.call(ctx, "eth_sendRawTransaction", []interface{}{rawTxHex})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}

	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", err
	}
	return txHash, nil
}

// CallContract performs a read-only eth_call against a contract.
func (c *EVMClient) CallContract(ctx context.Context, to string, data []byte) ([]byte, error) {
	result, err := c.call(ctx, "eth_call", []interface{}{
		map[string]string{
			"to":   to,
			"data": helpers.BytesToHex(data),
		},
		"latest",
	})
	if err != nil {
		return nil, err
	}

	var hexData string
	if err := json.Unmarshal(result, &hexData); err != nil {
		return nil, err
	}
	return helpers.HexToBytes(hexData)
}

// balanceOf(address) selector.
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// TokenBalance returns the ERC-20 balance of holder at the given contract.
func (c *EVMClient) TokenBalance(ctx context.Context, contract, holder string) (*big.Int, error) {
	addrBytes, err := helpers.HexToBytes(holder)
	if err != nil {
		return nil, fmt.Errorf("invalid holder address: %w", err)
	}

	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, helpers.PadLeft(addrBytes, 32)...)

	out, err := c.CallContract(ctx, contract, data)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}

// GetTransactionStatus returns confirmation status via the tx receipt.
// A transaction the node does not know yet maps to ErrTxNotFound.
func (c *EVMClient) GetTransactionStatus(ctx context.Context, txHash string) (*TxStatus, error) {
	result, err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{txHash})
	if err != nil {
		return nil, err
	}

	var receipt struct {
		TxHash      string `json:"transactionHash"`
		BlockNumber string `json:"blockNumber"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal(result, &receipt); err != nil || receipt.TxHash == "" {
		return nil, ErrTxNotFound
	}

	status := &TxStatus{
		TxID:      receipt.TxHash,
		Confirmed: receipt.BlockNumber != "",
	}
	if status.Confirmed {
		status.BlockHeight = helpers.HexToInt64(receipt.BlockNumber)
		if height, err := c.GetBlockHeight(ctx); err == nil && height > 0 {
			status.Confirmations = height - status.BlockHeight + 1
		}
	}
	return status, nil
}

func (c *EVMClient) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
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
