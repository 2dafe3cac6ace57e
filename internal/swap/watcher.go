// Package swap - Watcher driving stored swaps from initiation to revealed secret.
package swap

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/storage"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

// SwapStore is where the watcher records progress.
type SwapStore interface {
	MarkInitiated(id, txid string, height int64) error
	MarkClaimed(id, txid string, height int64, secret string) error
	MarkFailed(id, reason string) error
}

// Watcher follows stored swaps on one chain. Each swap gets its own
// goroutine and scanners; the store is the only thing they share.
type Watcher struct {
	provider *Provider
	store    SwapStore
	log      *logging.Logger

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher.
func NewWatcher(provider *Provider, store SwapStore) *Watcher {
	return &Watcher{
		provider: provider,
		store:    store,
		log:      logging.GetDefault().Component("watcher"),
		running:  make(map[string]struct{}),
	}
}

// ParamsFromRecord rebuilds swap parameters from a stored swap.
func ParamsFromRecord(rec *storage.Swap) (*Params, error) {
	secretHash, err := hex.DecodeString(rec.SecretHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecretHash, err)
	}
	p := &Params{
		Value:            rec.Value,
		RecipientAddress: rec.RecipientAddress,
		RefundAddress:    rec.RefundAddress,
		SecretHash:       secretHash,
		Expiration:       rec.Expiration,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Watch blocks until rec's claim is found and its secret recorded, or ctx
// is done. A swap already initiated resumes with the claim scan, starting
// at the initiation height.
func (w *Watcher) Watch(ctx context.Context, rec *storage.Swap) error {
	log := w.log.With("swap", rec.ID)

	params, err := ParamsFromRecord(rec)
	if err != nil {
		return w.fail(rec.ID, err)
	}

	var deposit wire.OutPoint
	switch rec.Status {
	case storage.SwapStatusWatching:
		log.Info("Waiting for initiation", "value", rec.Value, "expiration", rec.Expiration)
		res, err := w.provider.findInitiation(ctx, params, 0)
		if err != nil {
			return w.fail(rec.ID, err)
		}
		if deposit, err = w.provider.depositIn(res.Tx, params); err != nil {
			return w.fail(rec.ID, err)
		}
		txid := res.Tx.TxHash().String()
		if err := w.store.MarkInitiated(rec.ID, txid, res.Height); err != nil {
			return err
		}
		rec.Status = storage.SwapStatusInitiated
		rec.InitiationTxID = txid
		rec.InitiationHeight = res.Height
		log.Info("Initiation found", "txid", txid, "height", res.Height)
		fallthrough

	case storage.SwapStatusInitiated:
		if deposit.Hash == (chainhash.Hash{}) {
			if deposit, err = w.provider.depositOutPoint(ctx, rec.InitiationTxID, params); err != nil {
				return w.fail(rec.ID, err)
			}
		}
		log.Info("Waiting for claim", "deposit", deposit)
		found, err := w.provider.findClaim(ctx, deposit, params.SecretHash, rec.InitiationHeight)
		if err != nil {
			return w.fail(rec.ID, err)
		}
		txid := found.Tx.TxHash().String()
		if err := w.store.MarkClaimed(rec.ID, txid, found.Height, hex.EncodeToString(found.Secret)); err != nil {
			return err
		}
		rec.Status = storage.SwapStatusClaimed
		rec.ClaimTxID = txid
		rec.ClaimHeight = found.Height
		rec.Secret = hex.EncodeToString(found.Secret)
		log.Info("Secret revealed", "claim", txid, "height", found.Height)
		return nil

	default:
		return nil
	}
}

// fail records err on the swap when retrying cannot help. Anything else,
// such as a cancelled context or an unreachable backend, is returned as is
// so the swap resumes on the next run.
func (w *Watcher) fail(id string, err error) error {
	if !isPermanent(err) {
		return err
	}
	w.log.Error("Swap watch failed", "swap", id, "error", err)
	if markErr := w.store.MarkFailed(id, err.Error()); markErr != nil {
		return fmt.Errorf("%w (and failed to record it: %v)", err, markErr)
	}
	return err
}

func isPermanent(err error) bool {
	for _, target := range []error{
		ErrInvalidAddress,
		ErrInvalidSecretHash,
		ErrInvalidExpiration,
		ErrInvalidSecret,
		ErrMalformedScript,
		ErrDepositNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Start watches rec in the background. Starting a swap that is already
// being watched is a no-op.
func (w *Watcher) Start(ctx context.Context, rec *storage.Swap) {
	w.mu.Lock()
	if _, ok := w.running[rec.ID]; ok {
		w.mu.Unlock()
		return
	}
	w.running[rec.ID] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.running, rec.ID)
			w.mu.Unlock()
		}()

		if err := w.Watch(ctx, rec); err != nil && ctx.Err() == nil {
			w.log.Warn("Watch ended", "swap", rec.ID, "error", err)
		}
	}()
}

// Running returns the number of swaps being watched.
func (w *Watcher) Running() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.running)
}

// Wait blocks until every started watch has returned.
func (w *Watcher) Wait() {
	w.wg.Wait()
}
