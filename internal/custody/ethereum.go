package custody

import (
	"context"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/coinharbor/harbor/internal/chain"
	"github.com/coinharbor/harbor/internal/explorer"
	"github.com/coinharbor/harbor/internal/wallet"
	"github.com/coinharbor/harbor/pkg/helpers"
	"github.com/coinharbor/harbor/pkg/logging"
)

// EVM gas limits. Plain value transfers always cost exactly 21000;
// token transfers get a fixed ceiling comfortably above what the
// standard ERC-20 implementations use.
const (
	gasLimitTransfer = uint64(21000)
	gasLimitToken    = uint64(65000)
)

// EthereumAdapter implements ChainAdapter for native ETH.
type EthereumAdapter struct {
	params *chain.Params
	wallet *wallet.Wallet
	client *explorer.EVMClient
	logger *logging.Logger
}

// NewEthereumAdapter creates the ETH adapter.
func NewEthereumAdapter(w *wallet.Wallet, client *explorer.EVMClient, logger *logging.Logger) (*EthereumAdapter, error) {
	params, ok := chain.Get("ETH")
	if !ok {
		return nil, fmt.Errorf("ETH network params not registered")
	}
	return &EthereumAdapter{
		params: params,
		wallet: w,
		client: client,
		logger: logger.Component("custody.eth"),
	}, nil
}

func (a *EthereumAdapter) Network() string {
	return a.params.Code
}

func (a *EthereumAdapter) DeriveAddress(index uint32) (*DerivedAddress, error) {
	return deriveAddress(a.wallet, a.params, index)
}

// GetBalance returns the address balance in ETH.
func (a *EthereumAdapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	wei, err := a.client.GetBalance(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return helpers.BigBaseUnitsToDecimal(wei, a.params.Decimals), nil
}

// Sweep sends the full balance minus the transfer fee to the master
// address as a legacy EIP-155 transaction.
func (a *EthereumAdapter) Sweep(ctx context.Context, index uint32) (string, error) {
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
	if balance.Sign() == 0 {
		return "", nil
	}

	gasPrice, err := a.client.GasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch gas price: %w", err)
	}
	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimitTransfer))
	if balance.Cmp(fee) <= 0 {
		a.logger.Debug("balance below transfer fee, skipping",
			"index", index, "balance_wei", balance, "fee_wei", fee)
		return "", nil
	}
	amount := new(big.Int).Sub(balance, fee)

	privKey, err := a.wallet.DerivePrivateKey(a.params, index)
	if err != nil {
		return "", err
	}
	txHash, err := sendEVMTransfer(ctx, a.client, privKey, a.params.ChainID,
		derived.Address, master.Address, amount, gasPrice, gasLimitTransfer, nil)
	if err != nil {
		return "", err
	}
	// No receipt exists until the transfer is mined; absence here only
	// means the node has not sealed it yet.
	if _, err := a.client.GetTransactionStatus(ctx, txHash); err != nil {
		a.logger.Debug("sweep not yet mined", "tx", txHash)
	}
	a.logger.Info("swept deposit address",
		"index", index, "amount_wei", amount, "tx", txHash)
	return txHash, nil
}

// sendEVMTransfer signs and broadcasts a legacy transaction. Shared by
// the ETH adapter and the ERC-20 adapter (token calls and gas
// funding hops).
func sendEVMTransfer(
	ctx context.Context,
	client *explorer.EVMClient,
	privKey *btcec.PrivateKey,
	chainID uint64,
	from, to string,
	value *big.Int,
	gasPrice *big.Int,
	gasLimit uint64,
	data []byte,
) (string, error) {
	nonce, err := client.GetNonce(ctx, from)
	if err != nil {
		return "", fmt.Errorf("failed to fetch nonce for %s: %w", from, err)
	}

	tx := types.NewTransaction(nonce, common.HexToAddress(to), value, gasLimit, gasPrice, data)
	signer := types.NewEIP155Signer(new(big.Int).SetUint64(chainID))
	signed, err := types.SignTx(tx, signer, privKey.ToECDSA())
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}
	txHash, err := client.SendRawTransaction(ctx, helpers.BytesToHex(raw))
	if err != nil {
		return "", fmt.Errorf("failed to broadcast: %w", err)
	}
	return txHash, nil
}
