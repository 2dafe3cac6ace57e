// Package storage - Watched swap records.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Swap errors
var (
	ErrSwapNotFound      = errors.New("swap not found")
	ErrSwapAlreadyExists = errors.New("swap already exists for this chain and secret hash")
)

// SwapStatus tracks how far a watched swap has progressed.
type SwapStatus string

const (
	SwapStatusWatching  SwapStatus = "watching"  // waiting for the initiation
	SwapStatusInitiated SwapStatus = "initiated" // deposit seen, waiting for the claim
	SwapStatusClaimed   SwapStatus = "claimed"   // claim seen, secret recorded
	SwapStatusFailed    SwapStatus = "failed"    // watcher gave up, see LastError
)

// IsTerminal returns true when the watcher has nothing left to do.
func (s SwapStatus) IsTerminal() bool {
	return s == SwapStatusClaimed || s == SwapStatusFailed
}

// Swap is a watched swap. Hashes, secrets and txids are hex encoded.
type Swap struct {
	ID      string
	Chain   string
	Network string
	Status  SwapStatus

	Value            int64
	RecipientAddress string
	RefundAddress    string
	SecretHash       string
	Expiration       int64

	InitiationTxID   string
	InitiationHeight int64
	ClaimTxID        string
	ClaimHeight      int64
	Secret           string
	LastError        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

const swapColumns = `
	id, chain, network, status,
	value, recipient_address, refund_address, secret_hash, expiration,
	initiation_txid, initiation_height, claim_txid, claim_height, secret, last_error,
	created_at, updated_at`

// CreateSwap inserts a new swap. An empty ID is filled with a random UUID
// and an empty status defaults to watching.
func (s *Storage) CreateSwap(swap *Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if swap.ID == "" {
		swap.ID = uuid.New().String()
	}
	if swap.Status == "" {
		swap.Status = SwapStatusWatching
	}
	swap.SecretHash = strings.ToLower(swap.SecretHash)
	now := time.Now()
	if swap.CreatedAt.IsZero() {
		swap.CreatedAt = now
	}
	swap.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO swaps (`+swapColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		swap.ID, swap.Chain, swap.Network, swap.Status,
		swap.Value, swap.RecipientAddress, swap.RefundAddress, swap.SecretHash, swap.Expiration,
		nullString(swap.InitiationTxID), nullInt(swap.InitiationHeight),
		nullString(swap.ClaimTxID), nullInt(swap.ClaimHeight),
		nullString(swap.Secret), nullString(swap.LastError),
		swap.CreatedAt.Unix(), swap.UpdatedAt.Unix(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSwapAlreadyExists
		}
		return fmt.Errorf("failed to create swap: %w", err)
	}
	return nil
}

// GetSwap retrieves a swap by ID.
func (s *Storage) GetSwap(id string) (*Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanSwap(s.db.QueryRow(`SELECT `+swapColumns+` FROM swaps WHERE id = ?`, id))
}

// GetSwapBySecretHash retrieves a swap by chain, network and secret hash.
func (s *Storage) GetSwapBySecretHash(chain, network, secretHash string) (*Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanSwap(s.db.QueryRow(`
		SELECT `+swapColumns+` FROM swaps
		WHERE chain = ? AND network = ? AND secret_hash = ?
	`, chain, network, strings.ToLower(secretHash)))
}

// ListSwaps returns swaps with any of the given statuses, oldest first.
// No statuses lists everything.
func (s *Storage) ListSwaps(statuses ...SwapStatus) ([]*Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + swapColumns + ` FROM swaps`
	args := make([]interface{}, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list swaps: %w", err)
	}
	defer rows.Close()

	var swaps []*Swap
	for rows.Next() {
		swap, err := scanSwap(rows)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, swap)
	}
	return swaps, rows.Err()
}

// MarkInitiated records the initiation transaction.
func (s *Storage) MarkInitiated(id, txid string, height int64) error {
	return s.update(id, `
		UPDATE swaps SET status = ?, initiation_txid = ?, initiation_height = ?, last_error = NULL, updated_at = ?
		WHERE id = ?
	`, SwapStatusInitiated, txid, height, time.Now().Unix(), id)
}

// MarkClaimed records the claim transaction and the secret it revealed.
func (s *Storage) MarkClaimed(id, txid string, height int64, secret string) error {
	return s.update(id, `
		UPDATE swaps SET status = ?, claim_txid = ?, claim_height = ?, secret = ?, last_error = NULL, updated_at = ?
		WHERE id = ?
	`, SwapStatusClaimed, txid, height, strings.ToLower(secret), time.Now().Unix(), id)
}

// MarkFailed moves a swap to failed with a reason.
func (s *Storage) MarkFailed(id, reason string) error {
	return s.update(id, `
		UPDATE swaps SET status = ?, last_error = ?, updated_at = ? WHERE id = ?
	`, SwapStatusFailed, reason, time.Now().Unix(), id)
}

// DeleteSwap removes a swap.
func (s *Storage) DeleteSwap(id string) error {
	return s.update(id, `DELETE FROM swaps WHERE id = ?`, id)
}

// update runs a single-row statement and maps zero affected rows to
// ErrSwapNotFound.
func (s *Storage) update(id, query string, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update swap %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSwapNotFound
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSwap(row rowScanner) (*Swap, error) {
	var swap Swap
	var initTxID, claimTxID, secret, lastError sql.NullString
	var initHeight, claimHeight sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&swap.ID, &swap.Chain, &swap.Network, &swap.Status,
		&swap.Value, &swap.RecipientAddress, &swap.RefundAddress, &swap.SecretHash, &swap.Expiration,
		&initTxID, &initHeight, &claimTxID, &claimHeight, &secret, &lastError,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSwapNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan swap: %w", err)
	}

	swap.InitiationTxID = initTxID.String
	swap.InitiationHeight = initHeight.Int64
	swap.ClaimTxID = claimTxID.String
	swap.ClaimHeight = claimHeight.Int64
	swap.Secret = secret.String
	swap.LastError = lastError.String
	swap.CreatedAt = time.Unix(createdAt, 0)
	swap.UpdatedAt = time.Unix(updatedAt, 0)

	return &swap, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int64) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
