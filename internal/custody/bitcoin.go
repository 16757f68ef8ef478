package custody

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"

	"github.com/coinharbor/harbor/internal/chain"
	"github.com/coinharbor/harbor/internal/explorer"
	"github.com/coinharbor/harbor/internal/wallet"
	"github.com/coinharbor/harbor/pkg/helpers"
	"github.com/coinharbor/harbor/pkg/logging"
)

// Bitcoin sweep sizing. All addresses are P2WPKH, so the vsize is
// overhead + 68 vbytes per input + one 31 vbyte output, with a small
// margin for rounding.
const (
	btcTxOverheadVBytes = 11
	btcInputVBytes      = 68
	btcOutputVBytes     = 31
	btcVSizeMargin      = 2

	// fallbackFeeRate is used when the fee estimate endpoint is down.
	fallbackFeeRate = uint64(10) // sat/vB
)

// BitcoinAdapter implements ChainAdapter for BTC. Sweeps spend every
// confirmed UTXO on a deposit address into the master address in a
// single transaction with no change output.
type BitcoinAdapter struct {
	params *chain.Params
	wallet *wallet.Wallet
	client *explorer.EsploraClient
	logger *logging.Logger
}

// NewBitcoinAdapter creates the BTC adapter.
func NewBitcoinAdapter(w *wallet.Wallet, client *explorer.EsploraClient, logger *logging.Logger) (*BitcoinAdapter, error) {
	params, ok := chain.Get("BTC")
	if !ok {
		return nil, fmt.Errorf("BTC network params not registered")
	}
	return &BitcoinAdapter{
		params: params,
		wallet: w,
		client: client,
		logger: logger.Component("custody.btc"),
	}, nil
}

func (a *BitcoinAdapter) Network() string {
	return a.params.Code
}

func (a *BitcoinAdapter) DeriveAddress(index uint32) (*DerivedAddress, error) {
	return deriveAddress(a.wallet, a.params, index)
}

// GetBalance returns the confirmed balance in BTC.
func (a *BitcoinAdapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	info, err := a.client.GetAddressInfo(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return helpers.BaseUnitsToDecimal(info.Balance, a.params.Decimals), nil
}

// Sweep moves all confirmed funds at index into the master address.
// Returns "" with a nil error when the address holds nothing above
// dust after fees.
func (a *BitcoinAdapter) Sweep(ctx context.Context, index uint32) (string, error) {
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

	utxos, err := a.client.GetAddressUTXOs(ctx, derived.Address)
	if err != nil {
		return "", fmt.Errorf("failed to fetch UTXOs for %s: %w", derived.Address, err)
	}

	var spendable []explorer.UTXO
	var total uint64
	for _, u := range utxos {
		if u.Confirmations < a.params.MinConfirmations {
			continue
		}
		spendable = append(spendable, u)
		total += u.Amount
	}
	if len(spendable) == 0 || total <= a.params.DustLimit {
		return "", nil
	}

	feeRate := a.feeRate(ctx)
	vsize := uint64(btcTxOverheadVBytes + len(spendable)*btcInputVBytes + btcOutputVBytes + btcVSizeMargin)
	fee := vsize * feeRate
	if total <= fee+a.params.DustLimit {
		a.logger.Debug("balance below fee plus dust, skipping",
			"index", index, "total", total, "fee", fee)
		return "", nil
	}
	amount := total - fee

	rawTx, err := a.buildSweepTx(spendable, derived.Address, master.Address, amount, index)
	if err != nil {
		return "", err
	}

	txID, err := a.client.BroadcastTransaction(ctx, rawTx)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast sweep: %w", err)
	}
	// The node accepted the hex, confirm it actually entered the
	// mempool. A missing tx here means the broadcast sank silently.
	if _, err := a.client.GetTransaction(ctx, txID); err != nil {
		a.logger.Warn("sweep not visible in mempool yet", "txid", txID, "error", err)
	}
	a.logger.Info("swept deposit address",
		"index", index, "amount_sat", amount, "fee_sat", fee, "txid", txID)
	return txID, nil
}

// feeRate picks the half-hour estimate, falling back to a conservative
// static rate when the estimator is unavailable.
func (a *BitcoinAdapter) feeRate(ctx context.Context) uint64 {
	est, err := a.client.GetFeeEstimates(ctx)
	if err != nil || est.HalfHourFee == 0 {
		a.logger.Warn("fee estimate unavailable, using fallback", "fallback", fallbackFeeRate)
		return fallbackFeeRate
	}
	return est.HalfHourFee
}

// buildSweepTx constructs, signs and verifies the consolidation
// transaction. Every input is P2WPKH owned by the key at index.
func (a *BitcoinAdapter) buildSweepTx(utxos []explorer.UTXO, fromAddress, toAddress string, amount uint64, index uint32) (string, error) {
	privKey, err := a.wallet.DerivePrivateKey(a.params, index)
	if err != nil {
		return "", err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, u := range utxos {
		txHash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return "", fmt.Errorf("invalid txid %s: %w", u.TxID, err)
		}
		txIn := wire.NewTxIn(wire.NewOutPoint(txHash, u.Vout), nil, nil)
		txIn.Sequence = wire.MaxTxInSequenceNum - 2 // opt in to RBF
		tx.AddTxIn(txIn)
	}

	destScript, err := addressToScript(toAddress)
	if err != nil {
		return "", fmt.Errorf("invalid master address: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(int64(amount), destScript))

	sourceScript, err := addressToScript(fromAddress)
	if err != nil {
		return "", fmt.Errorf("invalid source address: %w", err)
	}
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(utxos))
	for i, u := range utxos {
		prevOuts[tx.TxIn[i].PreviousOutPoint] = wire.NewTxOut(int64(u.Amount), sourceScript)
	}
	prevOutFetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	for i := range tx.TxIn {
		prevOut := prevOuts[tx.TxIn[i].PreviousOutPoint]
		witness, err := txscript.WitnessSignature(
			tx, sigHashes, i, prevOut.Value, prevOut.PkScript,
			txscript.SigHashAll, privKey, true,
		)
		if err != nil {
			return "", fmt.Errorf("failed to sign input %d: %w", i, err)
		}
		tx.TxIn[i].Witness = witness
	}

	// Run every input through the script engine before it leaves the
	// process. A sweep that fails validation here would strand funds
	// behind a rejected broadcast.
	for i := range tx.TxIn {
		prevOut := prevOuts[tx.TxIn[i].PreviousOutPoint]
		engine, err := txscript.NewEngine(
			prevOut.PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, sigHashes, prevOut.Value, prevOutFetcher,
		)
		if err != nil {
			return "", fmt.Errorf("failed to create verify engine for input %d: %w", i, err)
		}
		if err := engine.Execute(); err != nil {
			return "", fmt.Errorf("signature verification failed for input %d: %w", i, err)
		}
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize sweep: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// addressToScript converts a mainnet address into its output script.
func addressToScript(address string) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(address, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(decoded)
}
