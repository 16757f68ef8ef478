package storage

import (
	"testing"
	"time"
)

func testOrder(id string, index uint32) *Order {
	now := time.Now().UTC()
	return &Order{
		OrderID:        id,
		Kind:           OrderKindPackage,
		Status:         OrderStatusPending,
		Network:        "BTC",
		Address:        "bc1qtest" + id,
		DerivationPath: "m/84'/0'/0'/0/1",
		AddressIndex:   index,
		UserEmail:      "user@example.com",
		AmountFiat:     "100",
		FiatCurrency:   "usd",
		AmountCrypto:   "0.0015",
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	}
}

func TestCreateAndGetOrder(t *testing.T) {
	store := newTestStorage(t)

	order := testOrder("ord-1", 1)
	if err := store.CreateOrder(order); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	got, err := store.GetOrder("ord-1")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.Status != OrderStatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.Address != order.Address || got.AmountCrypto != order.AmountCrypto {
		t.Errorf("round-trip mismatch: got %+v", got)
	}

	if _, err := store.GetOrder("missing"); err != ErrOrderNotFound {
		t.Errorf("GetOrder(missing) = %v, want ErrOrderNotFound", err)
	}
}

func TestOrderStateMachine(t *testing.T) {
	store := newTestStorage(t)
	store.CreateOrder(testOrder("ord-sm", 2))

	moved, err := store.MarkProcessing("ord-sm", "txhash1")
	if err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}
	if !moved {
		t.Error("pending -> processing should succeed")
	}

	// Repeating the transition is a benign no-op.
	moved, _ = store.MarkProcessing("ord-sm", "txhash2")
	if moved {
		t.Error("processing -> processing should be a no-op")
	}
	got, _ := store.GetOrder("ord-sm")
	if got.TxHash != "txhash1" {
		t.Errorf("tx hash = %s, the no-op must not overwrite txhash1", got.TxHash)
	}

	completed, err := store.MarkCompleted("ord-sm", 12)
	if err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}
	if !completed {
		t.Error("processing -> completed should succeed")
	}

	// Completion is idempotent.
	completed, _ = store.MarkCompleted("ord-sm", 12)
	if completed {
		t.Error("second MarkCompleted should match zero rows")
	}

	got, _ = store.GetOrder("ord-sm")
	if got.Status != OrderStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at should be set")
	}
	if got.Confirmations != 12 {
		t.Errorf("confirmations = %d, want 12", got.Confirmations)
	}

	// A terminal order cannot fail.
	failed, _ := store.MarkFailed("ord-sm")
	if failed {
		t.Error("completed -> failed must not be possible")
	}
}

func TestMarkCompletedFromPending(t *testing.T) {
	store := newTestStorage(t)
	store.CreateOrder(testOrder("ord-direct", 3))

	// The monitor may observe full payment on the first poll, before
	// any processing transition.
	completed, err := store.MarkCompleted("ord-direct", 2)
	if err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}
	if !completed {
		t.Error("pending -> completed should succeed")
	}
}

func TestListActiveOrders(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now().UTC()

	active := testOrder("ord-active", 4)
	store.CreateOrder(active)

	expired := testOrder("ord-expired", 5)
	expired.ExpiresAt = now.Add(-time.Minute)
	store.CreateOrder(expired)

	done := testOrder("ord-done", 6)
	store.CreateOrder(done)
	store.MarkCompleted("ord-done", 2)

	orders, err := store.ListActiveOrders(now)
	if err != nil {
		t.Fatalf("ListActiveOrders() error = %v", err)
	}
	if len(orders) != 1 || orders[0].OrderID != "ord-active" {
		t.Errorf("ListActiveOrders() = %d orders, want only ord-active", len(orders))
	}
}

func TestDeleteExpiredPending(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now().UTC()

	stale := testOrder("ord-stale", 7)
	stale.ExpiresAt = now.Add(-time.Minute)
	store.CreateOrder(stale)

	// Expired but with a submitted transaction: must survive, funds
	// may still arrive.
	claimed := testOrder("ord-claimed", 8)
	claimed.ExpiresAt = now.Add(-time.Minute)
	store.CreateOrder(claimed)
	store.MarkProcessing("ord-claimed", "txhash")

	fresh := testOrder("ord-fresh", 9)
	store.CreateOrder(fresh)

	deleted, err := store.DeleteExpiredPending(now, 0)
	if err != nil {
		t.Fatalf("DeleteExpiredPending() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d orders, want 1", deleted)
	}

	if _, err := store.GetOrder("ord-stale"); err != ErrOrderNotFound {
		t.Error("stale order should be gone")
	}
	if _, err := store.GetOrder("ord-claimed"); err != nil {
		t.Error("claimed order must survive the purge")
	}
	if _, err := store.GetOrder("ord-fresh"); err != nil {
		t.Error("fresh order must survive the purge")
	}
}

func TestDeleteExpiredPendingCutoff(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now().UTC()

	// Not yet expired, but older than the cutoff: gone.
	aged := testOrder("ord-aged", 7)
	aged.CreatedAt = now.Add(-40 * time.Minute)
	aged.ExpiresAt = now.Add(time.Hour)
	store.CreateOrder(aged)

	// Same age but with a submitted transaction: must survive.
	claimed := testOrder("ord-aged-claimed", 8)
	claimed.CreatedAt = now.Add(-40 * time.Minute)
	claimed.ExpiresAt = now.Add(time.Hour)
	store.CreateOrder(claimed)
	store.MarkProcessing("ord-aged-claimed", "txhash")

	recent := testOrder("ord-recent", 9)
	store.CreateOrder(recent)

	deleted, err := store.DeleteExpiredPending(now, 35*time.Minute)
	if err != nil {
		t.Fatalf("DeleteExpiredPending() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d orders, want 1", deleted)
	}

	if _, err := store.GetOrder("ord-aged"); err != ErrOrderNotFound {
		t.Error("order past the cutoff should be gone")
	}
	if _, err := store.GetOrder("ord-aged-claimed"); err != nil {
		t.Error("claimed order must survive the cutoff purge")
	}
	if _, err := store.GetOrder("ord-recent"); err != nil {
		t.Error("recent order must survive the cutoff purge")
	}
}

func TestConfirmKycOrder(t *testing.T) {
	store := newTestStorage(t)

	kyc := testOrder("ord-kyc", 10)
	kyc.Kind = OrderKindKYC
	store.CreateOrder(kyc)

	confirmed, err := store.ConfirmKycOrder("ord-kyc")
	if err != nil {
		t.Fatalf("ConfirmKycOrder() error = %v", err)
	}
	if !confirmed {
		t.Error("active KYC order should confirm")
	}
	got, _ := store.GetOrder("ord-kyc")
	if got.Status != OrderStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}

	// Package orders are not eligible.
	pkg := testOrder("ord-pkg", 11)
	store.CreateOrder(pkg)
	confirmed, _ = store.ConfirmKycOrder("ord-pkg")
	if confirmed {
		t.Error("package order must not confirm as KYC")
	}
}

func TestUpdatePackageReturn(t *testing.T) {
	store := newTestStorage(t)
	store.CreateOrder(testOrder("ord-ret", 12))

	updated, err := store.UpdatePackageReturn("ord-ret", "12.5%")
	if err != nil {
		t.Fatalf("UpdatePackageReturn() error = %v", err)
	}
	if !updated {
		t.Error("package return update should succeed")
	}
	got, _ := store.GetOrder("ord-ret")
	if got.PackageReturn != "12.5%" {
		t.Errorf("package return = %s, want 12.5%%", got.PackageReturn)
	}
}

func TestAllocatedIndexes(t *testing.T) {
	store := newTestStorage(t)

	for i, id := range []string{"a", "b", "c"} {
		store.CreateOrder(testOrder("ord-"+id, uint32(i+1)))
	}
	// Duplicate index on the same network collapses to one entry.
	dup := testOrder("ord-dup", 2)
	store.CreateOrder(dup)

	other := testOrder("ord-eth", 9)
	other.Network = "ETH"
	store.CreateOrder(other)

	indexes, err := store.AllocatedIndexes("BTC")
	if err != nil {
		t.Fatalf("AllocatedIndexes() error = %v", err)
	}
	want := []uint32{1, 2, 3}
	if len(indexes) != len(want) {
		t.Fatalf("AllocatedIndexes(BTC) = %v, want %v", indexes, want)
	}
	for i := range want {
		if indexes[i] != want[i] {
			t.Errorf("AllocatedIndexes(BTC)[%d] = %d, want %d", i, indexes[i], want[i])
		}
	}
}

func TestAllocatedIndexesIncludesVerifications(t *testing.T) {
	store := newTestStorage(t)

	store.CreateOrder(testOrder("ord-1", 3))

	// A verification deposit consumes an index too; the rescan must see it
	// or funds parked at its address are lost after a restart.
	w, v := testWithdrawal("wd-idx")
	w.Network = "BTC"
	v.Network = "BTC"
	v.AddressIndex = 7
	if err := store.CreateWithdrawal(w, v); err != nil {
		t.Fatalf("CreateWithdrawal() error = %v", err)
	}

	indexes, err := store.AllocatedIndexes("BTC")
	if err != nil {
		t.Fatalf("AllocatedIndexes() error = %v", err)
	}
	want := []uint32{3, 7}
	if len(indexes) != len(want) {
		t.Fatalf("AllocatedIndexes(BTC) = %v, want %v", indexes, want)
	}
	for i := range want {
		if indexes[i] != want[i] {
			t.Errorf("AllocatedIndexes(BTC)[%d] = %d, want %d", i, indexes[i], want[i])
		}
	}
}

func TestUpdateObserved(t *testing.T) {
	store := newTestStorage(t)
	store.CreateOrder(testOrder("ord-obs", 13))

	if err := store.UpdateObserved("ord-obs", "0.0009", 1); err != nil {
		t.Fatalf("UpdateObserved() error = %v", err)
	}
	got, _ := store.GetOrder("ord-obs")
	if got.ObservedCrypto != "0.0009" || got.Confirmations != 1 {
		t.Errorf("observed = %s/%d, want 0.0009/1", got.ObservedCrypto, got.Confirmations)
	}
}
