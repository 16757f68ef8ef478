package storage

import (
	"testing"
	"time"
)

func testWithdrawal(id string) (*Withdrawal, *VerificationPayment) {
	now := time.Now().UTC()
	w := &Withdrawal{
		WithdrawalID: id,
		Status:       WithdrawalStatusPending,
		UserEmail:    "user@example.com",
		Network:      "ETH",
		Destination:  "0x000000000000000000000000000000000000dEaD",
		AmountCrypto: "1.5",
		CreatedAt:    now,
	}
	v := &VerificationPayment{
		VerificationID: id + "-verify",
		WithdrawalID:   id,
		Status:         WithdrawalStatusPending,
		Network:        "ETH",
		Address:        "0xverify" + id,
		DerivationPath: "m/44'/60'/0'/0/5",
		AddressIndex:   5,
		AmountCrypto:   "0.075",
		CreatedAt:      now,
		ExpiresAt:      now.Add(30 * time.Minute),
	}
	return w, v
}

func TestCreateWithdrawal(t *testing.T) {
	store := newTestStorage(t)

	w, v := testWithdrawal("wd-1")
	if err := store.CreateWithdrawal(w, v); err != nil {
		t.Fatalf("CreateWithdrawal() error = %v", err)
	}

	got, err := store.GetWithdrawal("wd-1")
	if err != nil {
		t.Fatalf("GetWithdrawal() error = %v", err)
	}
	if got.Status != WithdrawalStatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.AmountCrypto != "1.5" {
		t.Errorf("amount = %s, want 1.5", got.AmountCrypto)
	}
}

func TestVerificationLifecycle(t *testing.T) {
	store := newTestStorage(t)

	w, v := testWithdrawal("wd-2")
	store.CreateWithdrawal(w, v)

	now := time.Now().UTC()
	pending, err := store.ListPendingVerifications(now)
	if err != nil {
		t.Fatalf("ListPendingVerifications() error = %v", err)
	}
	if len(pending) != 1 || pending[0].VerificationID != "wd-2-verify" {
		t.Fatalf("pending = %d entries, want the one verification", len(pending))
	}

	// Confirming the verification releases the withdrawal.
	confirmed, err := store.ConfirmVerification("wd-2-verify", 12)
	if err != nil {
		t.Fatalf("ConfirmVerification() error = %v", err)
	}
	if !confirmed {
		t.Error("pending verification should confirm")
	}

	got, _ := store.GetWithdrawal("wd-2")
	if got.Status != WithdrawalStatusConfirmed {
		t.Errorf("withdrawal status = %s, want confirmed", got.Status)
	}

	// Idempotent.
	confirmed, _ = store.ConfirmVerification("wd-2-verify", 12)
	if confirmed {
		t.Error("second ConfirmVerification should be a no-op")
	}

	pending, _ = store.ListPendingVerifications(now)
	if len(pending) != 0 {
		t.Errorf("pending after confirm = %d, want 0", len(pending))
	}

	// Settlement records the payout transaction.
	settled, err := store.SettleWithdrawal("wd-2", "0xsettletx")
	if err != nil {
		t.Fatalf("SettleWithdrawal() error = %v", err)
	}
	if !settled {
		t.Error("confirmed withdrawal should settle")
	}
	got, _ = store.GetWithdrawal("wd-2")
	if got.Status != WithdrawalStatusSettled || got.TxHash != "0xsettletx" {
		t.Errorf("settled withdrawal = %s/%s", got.Status, got.TxHash)
	}
}

func TestSettleRequiresConfirmed(t *testing.T) {
	store := newTestStorage(t)

	w, v := testWithdrawal("wd-3")
	store.CreateWithdrawal(w, v)

	settled, err := store.SettleWithdrawal("wd-3", "0xtx")
	if err != nil {
		t.Fatalf("SettleWithdrawal() error = %v", err)
	}
	if settled {
		t.Error("pending withdrawal must not settle before verification")
	}
}

func TestExpiredVerificationNotListed(t *testing.T) {
	store := newTestStorage(t)

	w, v := testWithdrawal("wd-4")
	v.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	store.CreateWithdrawal(w, v)

	pending, err := store.ListPendingVerifications(time.Now().UTC())
	if err != nil {
		t.Fatalf("ListPendingVerifications() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expired verification should not be polled, got %d", len(pending))
	}
}
