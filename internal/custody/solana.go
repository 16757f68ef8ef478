package custody

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/coinharbor/harbor/internal/chain"
	"github.com/coinharbor/harbor/internal/explorer"
	"github.com/coinharbor/harbor/internal/wallet"
	"github.com/coinharbor/harbor/pkg/helpers"
	"github.com/coinharbor/harbor/pkg/logging"
)

// systemTransferIndex is the SystemProgram instruction index for a
// lamport transfer.
const systemTransferIndex = uint32(2)

// systemProgramID is the all-zero SystemProgram public key.
var systemProgramID = [32]byte{}

// SolanaAdapter implements ChainAdapter for SOL. Keys come from the
// SLIP-0010 ed25519 tree, transactions are legacy-format messages built
// and signed locally.
type SolanaAdapter struct {
	params  *chain.Params
	wallet  *wallet.Wallet
	client  *explorer.SolanaClient
	percent uint64
	logger  *logging.Logger
}

// NewSolanaAdapter creates the SOL adapter. percent limits each sweep
// to that share of the balance (1-100).
func NewSolanaAdapter(w *wallet.Wallet, client *explorer.SolanaClient, percent int, logger *logging.Logger) (*SolanaAdapter, error) {
	params, ok := chain.Get("SOL")
	if !ok {
		return nil, fmt.Errorf("SOL network params not registered")
	}
	if percent < 1 || percent > 100 {
		return nil, fmt.Errorf("sweep percent must be in [1, 100], got %d", percent)
	}
	return &SolanaAdapter{
		params:  params,
		wallet:  w,
		client:  client,
		percent: uint64(percent),
		logger:  logger.Component("custody.sol"),
	}, nil
}

func (a *SolanaAdapter) Network() string {
	return a.params.Code
}

func (a *SolanaAdapter) DeriveAddress(index uint32) (*DerivedAddress, error) {
	key, err := a.wallet.DeriveSolanaKey(index)
	if err != nil {
		return nil, err
	}
	return &DerivedAddress{
		Network: a.params.Code,
		Address: key.Address,
		Index:   index,
		Path:    key.Path,
	}, nil
}

// GetBalance returns the balance in SOL.
func (a *SolanaAdapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	lamports, err := a.client.GetBalance(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return helpers.BaseUnitsToDecimal(lamports, a.params.Decimals), nil
}

// Sweep transfers the configured share of the balance, minus the fee
// reserve, to the master address.
func (a *SolanaAdapter) Sweep(ctx context.Context, index uint32) (string, error) {
	if index == chain.MasterIndex {
		return "", ErrMasterIndex
	}

	key, err := a.wallet.DeriveSolanaKey(index)
	if err != nil {
		return "", err
	}
	masterKey, err := a.wallet.DeriveSolanaKey(chain.MasterIndex)
	if err != nil {
		return "", err
	}

	lamports, err := a.client.GetBalance(ctx, key.Address)
	if err != nil {
		return "", fmt.Errorf("failed to fetch balance for %s: %w", key.Address, err)
	}
	if lamports <= a.params.FeeReserve {
		return "", nil
	}
	amount := (lamports - a.params.FeeReserve) * a.percent / 100
	if amount == 0 {
		return "", nil
	}

	blockhash, err := a.client.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch blockhash: %w", err)
	}

	txBase64, err := buildSolanaTransfer(key, masterKey.PublicKey, amount, blockhash)
	if err != nil {
		return "", err
	}
	signature, err := a.client.SendTransaction(ctx, txBase64)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast sweep: %w", err)
	}
	if err := a.awaitFinalized(ctx, signature); err != nil {
		// A transfer that did go through all the same is harmless: the
		// retry finds an empty balance and sweeps nothing.
		a.logger.Warn("sweep not finalized, leaving for the next drain pass",
			"signature", signature, "error", err)
		return "", err
	}
	a.logger.Info("swept deposit address",
		"index", index, "amount_lamports", amount, "signature", signature)
	return signature, nil
}

// awaitFinalized polls the signature status until the cluster reports
// finalized commitment. Only finalized counts as success; a transfer
// stuck at confirmed when the window runs out is treated as failed and
// retried by the next drain pass.
func (a *SolanaAdapter) awaitFinalized(ctx context.Context, signature string) error {
	for attempt := 0; attempt < 20; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
		status, err := a.client.GetSignatureStatus(ctx, signature)
		if err != nil {
			continue
		}
		if status == "finalized" {
			return nil
		}
	}
	return fmt.Errorf("transaction %s not finalized in time", signature)
}

// buildSolanaTransfer serializes and signs a legacy-format transaction
// with a single SystemProgram transfer instruction. The account list is
// [from, to, SystemProgram], one required signature, two writable
// signer-or-not accounts and one readonly program account.
func buildSolanaTransfer(from *wallet.SolanaKey, to ed25519.PublicKey, lamports uint64, recentBlockhash string) (string, error) {
	blockhash, err := base58.Decode(recentBlockhash)
	if err != nil || len(blockhash) != 32 {
		return "", fmt.Errorf("malformed blockhash %q", recentBlockhash)
	}

	// Instruction data: u32 LE instruction index, u64 LE lamports.
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferIndex)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	var msg []byte
	// Header: 1 required signature, 0 readonly signed accounts,
	// 1 readonly unsigned account (the program).
	msg = append(msg, 1, 0, 1)

	// Account keys.
	msg = appendCompactU16(msg, 3)
	msg = append(msg, from.PublicKey...)
	msg = append(msg, to...)
	msg = append(msg, systemProgramID[:]...)

	msg = append(msg, blockhash...)

	// One instruction: program index 2, accounts [0, 1].
	msg = appendCompactU16(msg, 1)
	msg = append(msg, 2)
	msg = appendCompactU16(msg, 2)
	msg = append(msg, 0, 1)
	msg = appendCompactU16(msg, uint16(len(data)))
	msg = append(msg, data...)

	sig := ed25519.Sign(from.PrivateKey, msg)

	var tx []byte
	tx = appendCompactU16(tx, 1)
	tx = append(tx, sig...)
	tx = append(tx, msg...)
	return base64.StdEncoding.EncodeToString(tx), nil
}

// appendCompactU16 appends a compact-u16 (shortvec) encoded length.
func appendCompactU16(buf []byte, v uint16) []byte {
	for {
		if v < 0x80 {
			return append(buf, byte(v))
		}
		buf = append(buf, byte(v&0x7f)|0x80)
		v >>= 7
	}
}
