// Package swap - Block scanner for initiation and claim transactions.
package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

// DefaultScanInterval is the pause between unsuccessful scan iterations.
const DefaultScanInterval = 5 * time.Second

// BlockSource is the part of a chain client the scanner reads from.
type BlockSource interface {
	GetBlockHeight(ctx context.Context) (int64, error)
	GetBlockByHeight(ctx context.Context, height int64) (*wire.MsgBlock, error)
}

// Backoff stretches the delay after consecutive fetch failures. The n-th
// consecutive failure waits Interval * Multiplier^(n-1), capped at Max.
type Backoff struct {
	Multiplier float64
	Max        time.Duration
}

// RetryEvent reports a failed block fetch. The scan keeps going.
type RetryEvent struct {
	Height  int64
	Attempt int // consecutive failures at this height
	Err     error
	Delay   time.Duration
}

// ScanResult is the matching transaction and where it was found.
type ScanResult struct {
	Tx        *wire.MsgTx
	Height    int64
	BlockHash chainhash.Hash
}

// ScanStats are counters for one scanner.
type ScanStats struct {
	Height     int64 // next height to fetch
	Iterations int
	Blocks     int // blocks fetched and searched
	Failures   int // failed fetches, including heights not mined yet
}

// ScannerConfig holds configuration for the Scanner.
type ScannerConfig struct {
	Source   BlockSource
	Interval time.Duration // default 5s
	Backoff  *Backoff      // nil keeps the interval fixed

	// StartHeight overrides the chain tip as the first height scanned.
	// Zero or less means the tip; the genesis block cannot hold a swap.
	StartHeight int64

	// OnRetry is called for every failed block fetch.
	OnRetry func(RetryEvent)

	Logger *logging.Logger
}

// Scanner walks blocks upward from the chain tip until a transaction
// matches. Scanners share no state; run as many as needed.
type Scanner struct {
	source      BlockSource
	interval    time.Duration
	backoff     *Backoff
	startHeight int64
	onRetry     func(RetryEvent)
	log         *logging.Logger

	// sleep waits d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	stats ScanStats
}

// NewScanner creates a scanner.
func NewScanner(cfg *ScannerConfig) *Scanner {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault().Component("scanner")
	}
	return &Scanner{
		source:      cfg.Source,
		interval:    interval,
		backoff:     cfg.Backoff,
		startHeight: cfg.StartHeight,
		onRetry:     cfg.OnRetry,
		log:         log,
		sleep:       sleepContext,
	}
}

// Stats returns a snapshot of the scanner's counters.
func (s *Scanner) Stats() ScanStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Scan returns the first transaction, at or above the start height, for
// which match returns true. A failed fetch leaves the height unchanged and
// is retried after a delay. Scan only returns early when ctx is done, the
// tip height cannot be read, or a block cannot be decoded
// (backend.ErrInvalidBlock), which no retry would fix.
func (s *Scanner) Scan(ctx context.Context, match Matcher) (*ScanResult, error) {
	height := s.startHeight
	if height <= 0 {
		tip, err := s.source.GetBlockHeight(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get tip height: %w", err)
		}
		height = tip
	}
	s.setHeight(height)
	s.log.Debug("Scan started", "height", height, "interval", s.interval)

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		block, err := s.source.GetBlockByHeight(ctx, height)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, backend.ErrInvalidBlock) {
				s.recordFailure()
				s.log.Error("Undecodable block", "height", height, "error", err)
				return nil, fmt.Errorf("height %d: %w", height, err)
			}
			failures++
			delay := s.delay(failures)
			s.recordFailure()
			s.retry(RetryEvent{Height: height, Attempt: failures, Err: err, Delay: delay})
			if err := s.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}
		failures = 0

		for _, tx := range block.Transactions {
			if match(tx) {
				s.recordBlock(height + 1)
				s.log.Debug("Match found", "height", height, "txid", tx.TxHash())
				return &ScanResult{Tx: tx, Height: height, BlockHash: block.BlockHash()}, nil
			}
		}

		height++
		s.recordBlock(height)
		if err := s.sleep(ctx, s.interval); err != nil {
			return nil, err
		}
	}
}

// delay returns the wait after the given number of consecutive failures.
func (s *Scanner) delay(failures int) time.Duration {
	if s.backoff == nil || s.backoff.Multiplier <= 1 || failures <= 1 {
		return s.interval
	}
	d := float64(s.interval)
	for i := 1; i < failures; i++ {
		d *= s.backoff.Multiplier
		if s.backoff.Max > 0 && time.Duration(d) >= s.backoff.Max {
			return s.backoff.Max
		}
	}
	return time.Duration(d)
}

func (s *Scanner) retry(ev RetryEvent) {
	if errors.Is(ev.Err, backend.ErrBlockNotFound) {
		s.log.Debug("Waiting for block", "height", ev.Height, "delay", ev.Delay)
	} else {
		s.log.Warn("Block fetch failed", "height", ev.Height, "attempt", ev.Attempt, "delay", ev.Delay, "error", ev.Err)
	}
	if s.onRetry != nil {
		s.onRetry(ev)
	}
}

func (s *Scanner) setHeight(height int64) {
	s.mu.Lock()
	s.stats.Height = height
	s.mu.Unlock()
}

func (s *Scanner) recordBlock(next int64) {
	s.mu.Lock()
	s.stats.Iterations++
	s.stats.Blocks++
	s.stats.Height = next
	s.mu.Unlock()
}

func (s *Scanner) recordFailure() {
	s.mu.Lock()
	s.stats.Iterations++
	s.stats.Failures++
	s.mu.Unlock()
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
