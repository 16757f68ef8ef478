package custody

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/coinharbor/harbor/internal/chain"
	"github.com/coinharbor/harbor/internal/explorer"
	"github.com/coinharbor/harbor/internal/wallet"
	"github.com/coinharbor/harbor/pkg/helpers"
	"github.com/coinharbor/harbor/pkg/logging"
)

// TronAdapter implements ChainAdapter for TRX. The node builds the
// TransferContract transaction; signing happens locally over the
// sha256 of its raw data.
type TronAdapter struct {
	params *chain.Params
	wallet *wallet.Wallet
	client *explorer.TronClient
	logger *logging.Logger
}

// NewTronAdapter creates the TRX adapter.
func NewTronAdapter(w *wallet.Wallet, client *explorer.TronClient, logger *logging.Logger) (*TronAdapter, error) {
	params, ok := chain.Get("TRX")
	if !ok {
		return nil, fmt.Errorf("TRX network params not registered")
	}
	return &TronAdapter{
		params: params,
		wallet: w,
		client: client,
		logger: logger.Component("custody.trx"),
	}, nil
}

func (a *TronAdapter) Network() string {
	return a.params.Code
}

func (a *TronAdapter) DeriveAddress(index uint32) (*DerivedAddress, error) {
	return deriveAddress(a.wallet, a.params, index)
}

// GetBalance returns the balance in TRX.
func (a *TronAdapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	sun, err := a.client.GetBalance(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return helpers.BaseUnitsToDecimal(sun, a.params.Decimals), nil
}

// Sweep sends the balance minus a bandwidth fee reserve to the master
// address.
func (a *TronAdapter) Sweep(ctx context.Context, index uint32) (string, error) {
	if index == chain.MasterIndex {
		return "", ErrMasterIndex
	}

	derived, err := a.DeriveAddress(index)
	if err != nil {
		return "", err
	}
	master, err := a.DeriveAddress(chain.MasterIndex)
	if err != nil {
		return "", err
	}

	balance, err := a.client.GetBalance(ctx, derived.Address)
	if err != nil {
		return "", fmt.Errorf("failed to fetch balance for %s: %w", derived.Address, err)
	}
	if balance <= a.params.FeeReserve {
		return "", nil
	}
	amount := balance - a.params.FeeReserve

	unsigned, err := a.client.CreateTransfer(ctx, derived.Address, master.Address, amount)
	if err != nil {
		return "", fmt.Errorf("failed to build transfer: %w", err)
	}

	rawData, err := hex.DecodeString(unsigned.RawDataHex)
	if err != nil {
		return "", fmt.Errorf("malformed raw_data_hex from node: %w", err)
	}
	hash := sha256.Sum256(rawData)

	// The txID must equal the hash of the raw data we are about to
	// sign. A mismatch means the node handed us a transaction other
	// than the one requested.
	if hex.EncodeToString(hash[:]) != unsigned.TxID {
		return "", fmt.Errorf("node txID %s does not match raw data hash", unsigned.TxID)
	}

	privKey, err := a.wallet.DerivePrivateKey(a.params, index)
	if err != nil {
		return "", err
	}
	signature, err := ethcrypto.Sign(hash[:], privKey.ToECDSA())
	if err != nil {
		return "", fmt.Errorf("failed to sign transfer: %w", err)
	}

	txID, err := a.client.BroadcastTransaction(ctx, unsigned, hex.EncodeToString(signature))
	if err != nil {
		return "", fmt.Errorf("failed to broadcast sweep: %w", err)
	}
	if _, err := a.client.GetTransactionStatus(ctx, txID); err != nil {
		a.logger.Warn("sweep not visible on node yet", "txid", txID, "error", err)
	}
	a.logger.Info("swept deposit address",
		"index", index, "amount_sun", amount, "txid", txID)
	return txID, nil
}
