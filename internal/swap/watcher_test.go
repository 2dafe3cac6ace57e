package swap

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/klingon-exchange/klingon-htlc/internal/storage"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

func newTestStore(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestWatcher(f *swapFixture, store SwapStore) *Watcher {
	w := NewWatcher(f.prov, store)
	w.log = logging.Discard()
	return w
}

func (f *swapFixture) record(t *testing.T, store *storage.Storage) *storage.Swap {
	t.Helper()
	rec := &storage.Swap{
		Chain:            "BTC",
		Network:          "testnet",
		Value:            f.params.Value,
		RecipientAddress: f.params.RecipientAddress,
		RefundAddress:    f.params.RefundAddress,
		SecretHash:       hex.EncodeToString(f.params.SecretHash),
		Expiration:       f.params.Expiration,
	}
	if err := store.CreateSwap(rec); err != nil {
		t.Fatalf("CreateSwap() error = %v", err)
	}
	return rec
}

func TestParamsFromRecord(t *testing.T) {
	f := newSwapFixture(t, 0)
	rec := f.record(t, newTestStore(t))

	p, err := ParamsFromRecord(rec)
	if err != nil {
		t.Fatalf("ParamsFromRecord() error = %v", err)
	}
	if p.Value != f.params.Value || p.Expiration != f.params.Expiration || hex.EncodeToString(p.SecretHash) != rec.SecretHash {
		t.Errorf("ParamsFromRecord() = %+v", p)
	}

	rec.SecretHash = "not hex"
	if _, err := ParamsFromRecord(rec); !errors.Is(err, ErrInvalidSecretHash) {
		t.Errorf("ParamsFromRecord(bad hash) error = %v, want ErrInvalidSecretHash", err)
	}
}

func TestWatcherFollowsSwapToClaim(t *testing.T) {
	f := newSwapFixture(t, 300)
	claim := f.buildClaim(t)
	f.fake.addBlock(300)
	f.fake.addBlock(301, f.initTx)
	f.fake.addBlock(302)
	f.fake.addBlock(303, claim)

	store := newTestStore(t)
	rec := f.record(t, store)

	if err := newTestWatcher(f, store).Watch(context.Background(), rec); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	got, err := store.GetSwap(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != storage.SwapStatusClaimed {
		t.Errorf("Status = %s, want claimed", got.Status)
	}
	if got.InitiationTxID != f.initID() || got.InitiationHeight != 301 {
		t.Errorf("initiation = %s@%d, want %s@301", got.InitiationTxID, got.InitiationHeight, f.initID())
	}
	if got.ClaimTxID != claim.TxHash().String() || got.ClaimHeight != 303 {
		t.Errorf("claim = %s@%d, want %s@303", got.ClaimTxID, got.ClaimHeight, claim.TxHash())
	}
	if got.Secret != hex.EncodeToString(testSecret()) {
		t.Errorf("Secret = %s", got.Secret)
	}
}

func TestWatcherResumesInitiatedSwap(t *testing.T) {
	f := newSwapFixture(t, 400)
	claim := f.buildClaim(t)
	f.fake.addBlock(350)
	f.fake.addBlock(351, claim)

	store := newTestStore(t)
	rec := f.record(t, store)
	if err := store.MarkInitiated(rec.ID, f.initID(), 350); err != nil {
		t.Fatal(err)
	}
	rec, err := store.GetSwap(rec.ID)
	if err != nil {
		t.Fatal(err)
	}

	if err := newTestWatcher(f, store).Watch(context.Background(), rec); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if f.fake.fetches[0] != 350 {
		t.Errorf("claim scan started at %d, want the initiation height 350", f.fake.fetches[0])
	}

	got, err := store.GetSwap(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != storage.SwapStatusClaimed || got.ClaimHeight != 351 {
		t.Errorf("swap = %s at %d, want claimed at 351", got.Status, got.ClaimHeight)
	}
}

func TestWatcherSkipsChangeSpend(t *testing.T) {
	tests := []struct {
		name   string
		resume bool
	}{
		{"fresh", false},
		{"resumed", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSwapFixture(t, 203)
			claim := f.buildClaim(t)
			f.fake.addBlock(203, f.initTx)
			f.fake.addBlock(204, changeSpend(t, f.initTx, 0))
			f.fake.addBlock(205, claim)

			store := newTestStore(t)
			rec := f.record(t, store)
			if tt.resume {
				if err := store.MarkInitiated(rec.ID, f.initID(), 203); err != nil {
					t.Fatal(err)
				}
				var err error
				if rec, err = store.GetSwap(rec.ID); err != nil {
					t.Fatal(err)
				}
			}

			if err := newTestWatcher(f, store).Watch(context.Background(), rec); err != nil {
				t.Fatalf("Watch() error = %v", err)
			}
			got, err := store.GetSwap(rec.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != storage.SwapStatusClaimed || got.ClaimTxID != claim.TxHash().String() || got.ClaimHeight != 205 {
				t.Errorf("swap = %s, claim %s@%d, want claimed by %s@205", got.Status, got.ClaimTxID, got.ClaimHeight, claim.TxHash())
			}
		})
	}
}

func TestWatcherFailsWithoutDeposit(t *testing.T) {
	f := newSwapFixture(t, 400)
	other := fillerTx(12)
	f.fake.addTx(other)

	store := newTestStore(t)
	rec := f.record(t, store)
	if err := store.MarkInitiated(rec.ID, other.TxHash().String(), 390); err != nil {
		t.Fatal(err)
	}
	rec, err := store.GetSwap(rec.ID)
	if err != nil {
		t.Fatal(err)
	}

	err = newTestWatcher(f, store).Watch(context.Background(), rec)
	if !errors.Is(err, ErrDepositNotFound) {
		t.Fatalf("Watch() error = %v, want ErrDepositNotFound", err)
	}
	got, err := store.GetSwap(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != storage.SwapStatusFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
	if len(f.fake.fetches) != 0 {
		t.Errorf("scanned %v without a deposit", f.fake.fetches)
	}
}

func TestWatcherMarksRefundAsFailed(t *testing.T) {
	f := newSwapFixture(t, 500)
	refundTx, err := BuildSpendTransaction(&SpendRequest{
		Address: f.refund.address,
		Key:     f.refund.key,
		Fee:     1000,
		Deposit: DepositOutput{
			TxID:   f.initID(),
			Vout:   1,
			Value:  f.params.Value,
			Script: f.redeem,
		},
		Params:     testNet(t),
		Expiration: f.params.Expiration,
		Branch:     BranchRefund,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.fake.addBlock(500, f.initTx)
	f.fake.addBlock(501, refundTx)

	store := newTestStore(t)
	rec := f.record(t, store)

	err = newTestWatcher(f, store).Watch(context.Background(), rec)
	if !errors.Is(err, ErrMalformedScript) {
		t.Fatalf("Watch() error = %v, want ErrMalformedScript", err)
	}

	got, err := store.GetSwap(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != storage.SwapStatusFailed || got.LastError == "" {
		t.Errorf("swap = %s (%q), want failed with a reason", got.Status, got.LastError)
	}
	if got.InitiationTxID != f.initID() {
		t.Error("initiation should still be recorded")
	}
}

func TestWatcherKeepsSwapOnCancel(t *testing.T) {
	f := newSwapFixture(t, 600)
	store := newTestStore(t)
	rec := f.record(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := newTestWatcher(f, store).Watch(ctx, rec); !errors.Is(err, context.Canceled) {
		t.Fatalf("Watch() error = %v, want context.Canceled", err)
	}
	got, err := store.GetSwap(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != storage.SwapStatusWatching {
		t.Errorf("Status = %s, want watching", got.Status)
	}
}

func TestWatcherStart(t *testing.T) {
	f := newSwapFixture(t, 700)
	f.prov.sleep = nil // wait for real between empty heights

	store := newTestStore(t)
	rec := f.record(t, store)
	w := newTestWatcher(f, store)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx, rec)
	w.Start(ctx, rec)
	if n := w.Running(); n != 1 {
		t.Errorf("Running() = %d, want 1", n)
	}

	cancel()
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait() did not return after cancel")
	}
	if n := w.Running(); n != 0 {
		t.Errorf("Running() after Wait = %d, want 0", n)
	}
}
