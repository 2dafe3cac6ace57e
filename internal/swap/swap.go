// Package swap implements hash time-locked contracts over P2SH for UTXO chains.
//
// A swap is fully described by its Params. The redeem script and the deposit
// address are recomputed from them on every use and never stored, so the
// script used to pay in is always the one used to verify and claim.
package swap

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/klingon-exchange/klingon-htlc/pkg/helpers"
)

// Swap errors
var (
	ErrInvalidAddress       = errors.New("address does not decode to a public key hash")
	ErrInsufficientValue    = errors.New("fee exceeds deposit value")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrDepositNotFound      = errors.New("deposit output not found")
	ErrMalformedScript      = errors.New("malformed spending script")
	ErrInvalidSecret        = errors.New("invalid secret")
	ErrInvalidSecretHash    = errors.New("secret hash must be 32 bytes")
	ErrInvalidExpiration    = errors.New("invalid expiration")
	ErrInvalidSignature     = errors.New("invalid signature encoding")
)

// SecretHashSize is the length of the SHA-256 digest locking the claim branch.
const SecretHashSize = sha256.Size

// MaxSecretSize is the longest secret that fits a single-byte push.
const MaxSecretSize = 75

// Params are the five values that define a swap. Identical Params always
// produce the identical script and deposit address.
type Params struct {
	Value            int64  `json:"value"` // satoshis
	RecipientAddress string `json:"recipient_address"`
	RefundAddress    string `json:"refund_address"`
	SecretHash       []byte `json:"secret_hash"`
	Expiration       int64  `json:"expiration"` // block height or unix time, chain dependent
}

// Validate checks the parts of Params that can be checked without a network.
func (p *Params) Validate() error {
	if p.Value <= 0 {
		return fmt.Errorf("value must be positive, got %d", p.Value)
	}
	if len(p.SecretHash) != SecretHashSize {
		return fmt.Errorf("%w: got %d", ErrInvalidSecretHash, len(p.SecretHash))
	}
	if p.Expiration <= 0 || p.Expiration > maxLockTime {
		return fmt.Errorf("%w: %d", ErrInvalidExpiration, p.Expiration)
	}
	return nil
}

// Branch selects which side of the redeem script a spend exercises.
type Branch int

const (
	BranchClaim  Branch = iota // secret + recipient signature
	BranchRefund               // refund signature after expiration
)

// String returns the branch name.
func (b Branch) String() string {
	switch b {
	case BranchClaim:
		return "claim"
	case BranchRefund:
		return "refund"
	default:
		return fmt.Sprintf("branch(%d)", int(b))
	}
}

// DepositOutput identifies the spendable swap output.
type DepositOutput struct {
	TxID  string
	Vout  uint32
	Value int64 // satoshis

	// Script is the redeem script the output commits to.
	Script []byte
}

// Witness is the data that satisfies one branch of the redeem script.
type Witness struct {
	Signature []byte // DER signature with trailing sighash type byte
	PubKey    []byte
	Branch    Branch
	Secret    []byte // claim branch only
}

// HashSecret returns the SHA-256 digest used as a swap's secret hash.
func HashSecret(secret []byte) []byte {
	h := sha256.Sum256(secret)
	return h[:]
}

// GenerateSecret returns a random 32-byte secret and its hash.
func GenerateSecret() (secret, hash []byte, err error) {
	secret, err = helpers.GenerateSecureRandom(32)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	return secret, HashSecret(secret), nil
}

// VerifySecret reports whether secret hashes to secretHash.
func VerifySecret(secret, secretHash []byte) bool {
	if len(secret) == 0 || len(secretHash) != SecretHashSize {
		return false
	}
	return helpers.ConstantTimeCompare(HashSecret(secret), secretHash)
}
