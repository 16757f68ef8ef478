package custody

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"github.com/coinharbor/harbor/internal/explorer"
	"github.com/coinharbor/harbor/internal/wallet"
	"github.com/coinharbor/harbor/pkg/logging"
)

func TestAppendCompactU16(t *testing.T) {
	tests := []struct {
		value uint16
		want  []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xff, 0x7f}},
		{16384, []byte{0x80, 0x80, 0x01}},
	}
	for _, tc := range tests {
		got := appendCompactU16(nil, tc.value)
		if len(got) != len(tc.want) {
			t.Fatalf("compactU16(%d) = %x, want %x", tc.value, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("compactU16(%d) = %x, want %x", tc.value, got, tc.want)
			}
		}
	}
}

func TestBuildSolanaTransfer(t *testing.T) {
	w, err := wallet.New(testMnemonic)
	if err != nil {
		t.Fatalf("wallet.New() error = %v", err)
	}
	from, _ := w.DeriveSolanaKey(1)
	master, _ := w.DeriveSolanaKey(0)

	// 32 zero bytes base58-encoded, stands in for a real blockhash.
	blockhash := base58.Encode(make([]byte, 32))
	const lamports = uint64(1_234_567)

	txBase64, err := buildSolanaTransfer(from, master.PublicKey, lamports, blockhash)
	if err != nil {
		t.Fatalf("buildSolanaTransfer() error = %v", err)
	}

	tx, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		t.Fatalf("transaction is not valid base64: %v", err)
	}

	// Layout: sig count (1), signature (64), then the message.
	if tx[0] != 1 {
		t.Fatalf("signature count = %d, want 1", tx[0])
	}
	sig := tx[1:65]
	msg := tx[65:]

	if !ed25519.Verify(from.PublicKey, msg, sig) {
		t.Error("transaction signature does not verify against the sender key")
	}

	// Message header.
	if msg[0] != 1 || msg[1] != 0 || msg[2] != 1 {
		t.Errorf("header = %v, want [1 0 1]", msg[:3])
	}
	if msg[3] != 3 {
		t.Fatalf("account count = %d, want 3", msg[3])
	}

	accounts := msg[4 : 4+3*32]
	if string(accounts[0:32]) != string(from.PublicKey) {
		t.Error("account 0 should be the sender")
	}
	if string(accounts[32:64]) != string(master.PublicKey) {
		t.Error("account 1 should be the destination")
	}
	for _, b := range accounts[64:96] {
		if b != 0 {
			t.Fatal("account 2 should be the all-zero SystemProgram id")
		}
	}

	// Instruction data sits at the end: u32 index 2, u64 lamports.
	data := msg[len(msg)-12:]
	if binary.LittleEndian.Uint32(data[0:4]) != systemTransferIndex {
		t.Errorf("instruction index = %d, want %d", binary.LittleEndian.Uint32(data[0:4]), systemTransferIndex)
	}
	if binary.LittleEndian.Uint64(data[4:12]) != lamports {
		t.Errorf("lamports = %d, want %d", binary.LittleEndian.Uint64(data[4:12]), lamports)
	}
}

// signatureStatusServer answers getSignatureStatuses with a fixed
// confirmation status.
func signatureStatusServer(t *testing.T, status string) *explorer.SolanaClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"value":[{"confirmationStatus":%q,"err":null}]}}`, status)
	}))
	t.Cleanup(srv.Close)
	return explorer.NewSolanaClient(srv.URL)
}

func TestAwaitFinalized(t *testing.T) {
	w, _ := wallet.New(testMnemonic)

	adapter, err := NewSolanaAdapter(w, signatureStatusServer(t, "finalized"), 100, logging.Default())
	if err != nil {
		t.Fatalf("NewSolanaAdapter() error = %v", err)
	}
	if err := adapter.awaitFinalized(testContext(t), "sig"); err != nil {
		t.Errorf("awaitFinalized(finalized) = %v, want nil", err)
	}
}

// A transfer stuck at confirmed commitment must not count as success;
// the drain pass retries it instead.
func TestAwaitFinalizedRejectsConfirmed(t *testing.T) {
	w, _ := wallet.New(testMnemonic)

	adapter, err := NewSolanaAdapter(w, signatureStatusServer(t, "confirmed"), 100, logging.Default())
	if err != nil {
		t.Fatalf("NewSolanaAdapter() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := adapter.awaitFinalized(ctx, "sig"); err == nil {
		t.Error("confirmed commitment should not finalize the sweep")
	}
}

func TestBuildSolanaTransferBadBlockhash(t *testing.T) {
	w, _ := wallet.New(testMnemonic)
	from, _ := w.DeriveSolanaKey(1)
	master, _ := w.DeriveSolanaKey(0)

	if _, err := buildSolanaTransfer(from, master.PublicKey, 1, "not-base58!"); err == nil {
		t.Error("expected error for malformed blockhash")
	}
	if _, err := buildSolanaTransfer(from, master.PublicKey, 1, base58.Encode([]byte{1, 2, 3})); err == nil {
		t.Error("expected error for short blockhash")
	}
}
