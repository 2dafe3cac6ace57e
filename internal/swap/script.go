// Package swap - HTLC redeem script building and parsing.
package swap

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// maxLockTime is the largest expiration a transaction lock time can carry.
const maxLockTime = math.MaxUint32

// BuildSwapScript creates the P2SH redeem script for a swap.
//
// Script structure:
//
//	OP_IF
//	    OP_SHA256 <secret_hash> OP_EQUALVERIFY
//	    OP_DUP OP_HASH160 <recipient_pkh>
//	OP_ELSE
//	    <expiration> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	    OP_DUP OP_HASH160 <refund_pkh>
//	OP_ENDIF
//	OP_EQUALVERIFY OP_CHECKSIG
//
// The expiration is always pushed with an explicit length byte, even when a
// small-integer opcode would be shorter. Counter-parties build the same
// bytes, so the deposit address only matches if we do too.
func BuildSwapScript(recipientAddress, refundAddress string, secretHash []byte, expiration int64, params *chaincfg.Params) ([]byte, error) {
	if len(secretHash) != SecretHashSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSecretHash, len(secretHash))
	}
	if expiration <= 0 || expiration > maxLockTime {
		return nil, fmt.Errorf("%w: %d", ErrInvalidExpiration, expiration)
	}

	recipientPKH, err := AddressToPubKeyHash(recipientAddress, params)
	if err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}
	refundPKH, err := AddressToPubKeyHash(refundAddress, params)
	if err != nil {
		return nil, fmt.Errorf("refund: %w", err)
	}

	expirationBytes := ScriptNumBytes(expiration)

	builder := txscript.NewScriptBuilder()

	// Claim branch
	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(secretHash)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(recipientPKH)

	// Refund branch
	builder.AddOp(txscript.OP_ELSE)
	builder.AddOps([]byte{byte(len(expirationBytes))})
	builder.AddOps(expirationBytes)
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(refundPKH)

	builder.AddOp(txscript.OP_ENDIF)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIG)

	return builder.Script()
}

// ScriptNumBytes returns the minimal little-endian script number encoding
// of n. The sign lives in the high bit of the last byte, so a value whose
// top bit is already set gets an extra 0x00 (or 0x80 when negative).
func ScriptNumBytes(n int64) []byte {
	if n == 0 {
		return nil
	}

	negative := n < 0
	abs := uint64(n)
	if negative {
		abs = uint64(-n)
	}

	var out []byte
	for abs > 0 {
		out = append(out, byte(abs&0xff))
		abs >>= 8
	}

	switch {
	case out[len(out)-1]&0x80 != 0 && negative:
		out = append(out, 0x80)
	case out[len(out)-1]&0x80 != 0:
		out = append(out, 0x00)
	case negative:
		out[len(out)-1] |= 0x80
	}
	return out
}

// parseScriptNum decodes a little-endian script number.
func parseScriptNum(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	var n int64
	for i, v := range b {
		n |= int64(v) << (8 * i)
	}
	last := len(b) - 1
	if b[last]&0x80 != 0 {
		n &^= int64(0x80) << (8 * last)
		return -n
	}
	return n
}

// ScriptPushes are the values a swap redeem script commits to.
type ScriptPushes struct {
	SecretHash   []byte
	RecipientPKH []byte
	RefundPKH    []byte
	Expiration   int64
}

// ParseSwapScript checks that script has the exact shape BuildSwapScript
// produces and returns the values pushed into it.
func ParseSwapScript(script []byte) (*ScriptPushes, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)

	expectOp := func(op byte, name string) error {
		if !tokenizer.Next() || tokenizer.Opcode() != op {
			return fmt.Errorf("%w: expected %s", ErrMalformedScript, name)
		}
		return nil
	}
	expectData := func(size int, name string) ([]byte, error) {
		if !tokenizer.Next() || int(tokenizer.Opcode()) != size || len(tokenizer.Data()) != size {
			return nil, fmt.Errorf("%w: expected %d-byte %s", ErrMalformedScript, size, name)
		}
		return tokenizer.Data(), nil
	}

	var (
		pushes ScriptPushes
		err    error
	)

	if err = expectOp(txscript.OP_IF, "OP_IF"); err != nil {
		return nil, err
	}
	if err = expectOp(txscript.OP_SHA256, "OP_SHA256"); err != nil {
		return nil, err
	}
	if pushes.SecretHash, err = expectData(SecretHashSize, "secret hash"); err != nil {
		return nil, err
	}
	if err = expectOp(txscript.OP_EQUALVERIFY, "OP_EQUALVERIFY"); err != nil {
		return nil, err
	}
	if err = expectOp(txscript.OP_DUP, "OP_DUP"); err != nil {
		return nil, err
	}
	if err = expectOp(txscript.OP_HASH160, "OP_HASH160"); err != nil {
		return nil, err
	}
	if pushes.RecipientPKH, err = expectData(20, "recipient hash"); err != nil {
		return nil, err
	}
	if err = expectOp(txscript.OP_ELSE, "OP_ELSE"); err != nil {
		return nil, err
	}

	// Expiration: a direct push of 1 to 5 bytes.
	if !tokenizer.Next() {
		return nil, fmt.Errorf("%w: expected expiration", ErrMalformedScript)
	}
	op := tokenizer.Opcode()
	if op < txscript.OP_DATA_1 || op > txscript.OP_DATA_5 {
		return nil, fmt.Errorf("%w: expiration must be a 1-5 byte push", ErrMalformedScript)
	}
	pushes.Expiration = parseScriptNum(tokenizer.Data())

	if err = expectOp(txscript.OP_CHECKLOCKTIMEVERIFY, "OP_CHECKLOCKTIMEVERIFY"); err != nil {
		return nil, err
	}
	if err = expectOp(txscript.OP_DROP, "OP_DROP"); err != nil {
		return nil, err
	}
	if err = expectOp(txscript.OP_DUP, "OP_DUP"); err != nil {
		return nil, err
	}
	if err = expectOp(txscript.OP_HASH160, "OP_HASH160"); err != nil {
		return nil, err
	}
	if pushes.RefundPKH, err = expectData(20, "refund hash"); err != nil {
		return nil, err
	}
	if err = expectOp(txscript.OP_ENDIF, "OP_ENDIF"); err != nil {
		return nil, err
	}
	if err = expectOp(txscript.OP_EQUALVERIFY, "OP_EQUALVERIFY"); err != nil {
		return nil, err
	}
	if err = expectOp(txscript.OP_CHECKSIG, "OP_CHECKSIG"); err != nil {
		return nil, err
	}

	if tokenizer.Next() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedScript)
	}
	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedScript, err)
	}

	return &pushes, nil
}

// Addresses renders the two public key hashes as P2PKH addresses.
func (p *ScriptPushes) Addresses(params *chaincfg.Params) (recipient, refund string, err error) {
	if recipient, err = PubKeyHashToAddress(p.RecipientPKH, params); err != nil {
		return "", "", err
	}
	if refund, err = PubKeyHashToAddress(p.RefundPKH, params); err != nil {
		return "", "", err
	}
	return recipient, refund, nil
}
