package custody

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/coinharbor/harbor/internal/chain"
	"github.com/coinharbor/harbor/internal/explorer"
	"github.com/coinharbor/harbor/internal/wallet"
	"github.com/coinharbor/harbor/pkg/helpers"
	"github.com/coinharbor/harbor/pkg/logging"
)

// transferSelector is the 4-byte selector for transfer(address,uint256).
var transferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

// ERC20Adapter implements ChainAdapter for a token riding on the
// Ethereum address space (USDT, USDC). Deposit addresses hold no native
// ETH, so a sweep is two hops: the master address first funds the
// deposit address with transfer gas, then a later pass moves the
// tokens once that funding has landed.
type ERC20Adapter struct {
	params    *chain.Params
	wallet    *wallet.Wallet
	client    *explorer.EVMClient
	gasBuffer int64
	logger    *logging.Logger
}

// NewERC20Adapter creates an adapter for a registered token network.
func NewERC20Adapter(code string, w *wallet.Wallet, client *explorer.EVMClient, gasBuffer int, logger *logging.Logger) (*ERC20Adapter, error) {
	params, ok := chain.Get(code)
	if !ok {
		return nil, fmt.Errorf("network %s not registered", code)
	}
	if !params.IsToken() {
		return nil, fmt.Errorf("network %s is not a token", code)
	}
	if gasBuffer < 1 {
		gasBuffer = 1
	}
	return &ERC20Adapter{
		params:    params,
		wallet:    w,
		client:    client,
		gasBuffer: int64(gasBuffer),
		logger:    logger.Component("custody." + params.Code),
	}, nil
}

func (a *ERC20Adapter) Network() string {
	return a.params.Code
}

func (a *ERC20Adapter) DeriveAddress(index uint32) (*DerivedAddress, error) {
	return deriveAddress(a.wallet, a.params, index)
}

// GetBalance returns the token balance of an address in whole tokens.
func (a *ERC20Adapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	raw, err := a.client.TokenBalance(ctx, a.params.TokenContract, address)
	if err != nil {
		return decimal.Zero, err
	}
	return helpers.BigBaseUnitsToDecimal(raw, a.params.Decimals), nil
}

// Sweep moves the full token balance at index to the master address.
// When the deposit address lacks ETH for gas, this pass only sends the
// funding hop and returns "" so the sweeper retries the transfer on a
// later cycle.
func (a *ERC20Adapter) Sweep(ctx context.Context, index uint32) (string, error) {
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

	tokens, err := a.client.TokenBalance(ctx, a.params.TokenContract, derived.Address)
	if err != nil {
		return "", fmt.Errorf("failed to fetch token balance for %s: %w", derived.Address, err)
	}
	if tokens.Sign() == 0 {
		return "", nil
	}

	gasPrice, err := a.client.GasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch gas price: %w", err)
	}
	gasCost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimitToken))

	ethBalance, err := a.client.GetBalance(ctx, derived.Address)
	if err != nil {
		return "", fmt.Errorf("failed to fetch ETH balance for %s: %w", derived.Address, err)
	}
	if ethBalance.Cmp(gasCost) < 0 {
		if err := a.fundGas(ctx, master, derived.Address, gasCost, gasPrice); err != nil {
			return "", err
		}
		// Funding is in flight; the token transfer happens on a
		// later sweep pass.
		return "", nil
	}

	data := transferCalldata(master.Address, tokens)
	privKey, err := a.wallet.DerivePrivateKey(a.params, index)
	if err != nil {
		return "", err
	}
	txHash, err := sendEVMTransfer(ctx, a.client, privKey, a.params.ChainID,
		derived.Address, a.params.TokenContract, big.NewInt(0), gasPrice, gasLimitToken, data)
	if err != nil {
		return "", err
	}
	a.logger.Info("swept token deposit address",
		"index", index, "amount_base", tokens, "tx", txHash)
	return txHash, nil
}

// fundGas sends transfer gas from the master address to a deposit
// address. The buffer multiplier absorbs gas price movement between
// the funding hop and the transfer hop.
func (a *ERC20Adapter) fundGas(ctx context.Context, master *DerivedAddress, to string, gasCost, gasPrice *big.Int) error {
	amount := new(big.Int).Mul(gasCost, big.NewInt(a.gasBuffer))

	masterBalance, err := a.client.GetBalance(ctx, master.Address)
	if err != nil {
		return fmt.Errorf("failed to fetch master balance: %w", err)
	}
	fundingFee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimitTransfer))
	need := new(big.Int).Add(amount, fundingFee)
	if masterBalance.Cmp(need) < 0 {
		return fmt.Errorf("master address cannot cover gas funding: have %s wei, need %s wei",
			masterBalance, need)
	}

	masterKey, err := a.wallet.DerivePrivateKey(a.params, chain.MasterIndex)
	if err != nil {
		return err
	}
	txHash, err := sendEVMTransfer(ctx, a.client, masterKey, a.params.ChainID,
		master.Address, to, amount, gasPrice, gasLimitTransfer, nil)
	if err != nil {
		return fmt.Errorf("gas funding failed: %w", err)
	}
	a.logger.Info("funded deposit address with transfer gas",
		"to", to, "amount_wei", amount, "tx", txHash)
	return nil
}

// transferCalldata encodes transfer(to, amount).
func transferCalldata(to string, amount *big.Int) []byte {
	toBytes, _ := helpers.HexToBytes(to)
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, helpers.PadLeft(toBytes, 32)...)
	data = append(data, helpers.PadLeft(amount.Bytes(), 32)...)
	return data
}
