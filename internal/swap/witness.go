// Package swap - Spending script encoding for the claim and refund branches.
package swap

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// maxDirectPush is the longest push encoded by its length byte alone.
const maxDirectPush = txscript.OP_DATA_75

// appendPush appends data with the smallest length prefix. Data of 1 to 75
// bytes always gets a plain length byte, never a small-integer opcode.
func appendPush(dst, data []byte) []byte {
	n := len(data)
	switch {
	case n <= maxDirectPush:
		dst = append(dst, byte(n))
	case n <= 0xff:
		dst = append(dst, txscript.OP_PUSHDATA1, byte(n))
	case n <= 0xffff:
		dst = append(dst, txscript.OP_PUSHDATA2, 0, 0)
		binary.LittleEndian.PutUint16(dst[len(dst)-2:], uint16(n))
	default:
		dst = append(dst, txscript.OP_PUSHDATA4, 0, 0, 0, 0)
		binary.LittleEndian.PutUint32(dst[len(dst)-4:], uint32(n))
	}
	return append(dst, data...)
}

// EncodeWitness encodes the data that satisfies one branch of the redeem
// script.
//
// Layout:
//
//	<sig||hashtype> <secret> OP_1 <pubkey>   claim
//	<sig||hashtype> OP_0     OP_0 <pubkey>   refund
//
// The secret sits right after the signature so that ExtractSecret can find
// it at a fixed offset.
func EncodeWitness(w *Witness) ([]byte, error) {
	if len(w.Signature) == 0 || len(w.Signature) > maxDirectPush {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSignature, len(w.Signature))
	}
	if len(w.PubKey) == 0 || len(w.PubKey) > maxDirectPush {
		return nil, fmt.Errorf("invalid public key length %d", len(w.PubKey))
	}

	out := make([]byte, 0, 4+len(w.Signature)+len(w.Secret)+len(w.PubKey))
	out = appendPush(out, w.Signature)

	switch w.Branch {
	case BranchClaim:
		if len(w.Secret) == 0 || len(w.Secret) > MaxSecretSize {
			return nil, fmt.Errorf("%w: length %d, want 1-%d", ErrInvalidSecret, len(w.Secret), MaxSecretSize)
		}
		out = appendPush(out, w.Secret)
		out = append(out, txscript.OP_1)
	case BranchRefund:
		out = append(out, txscript.OP_0, txscript.OP_0)
	default:
		return nil, fmt.Errorf("unknown branch %d", int(w.Branch))
	}

	return appendPush(out, w.PubKey), nil
}

// RedeemSwapData encodes the claim-branch witness.
func RedeemSwapData(signature, pubKey, secret []byte) ([]byte, error) {
	return EncodeWitness(&Witness{Signature: signature, PubKey: pubKey, Branch: BranchClaim, Secret: secret})
}

// RefundSwapData encodes the refund-branch witness.
func RefundSwapData(signature, pubKey []byte) ([]byte, error) {
	return EncodeWitness(&Witness{Signature: signature, PubKey: pubKey, Branch: BranchRefund})
}

// SpendSwapInput appends the redeem script to an encoded witness, giving the
// complete input script. Scripts over 75 bytes use OP_PUSHDATA1.
func SpendSwapInput(witness, redeemScript []byte) []byte {
	out := make([]byte, 0, len(witness)+2+len(redeemScript))
	out = append(out, witness...)
	return appendPush(out, redeemScript)
}
