package swap

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// ExtractSecret recovers the secret from a claim input script built by
// EncodeWitness. It reads the signature's length byte to skip it, then
// the secret's length byte, and slices the secret out. This is a fixed
// offset parse, not a script interpreter: spending scripts laid out
// differently fail or misparse.
func ExtractSecret(scriptSig []byte) ([]byte, error) {
	if len(scriptSig) == 0 {
		return nil, fmt.Errorf("%w: empty script", ErrMalformedScript)
	}

	sigLen := int(scriptSig[0])
	if sigLen == 0 || sigLen > maxDirectPush {
		return nil, fmt.Errorf("%w: first push is not a signature", ErrMalformedScript)
	}

	secretPos := sigLen + 1
	if secretPos >= len(scriptSig) {
		return nil, fmt.Errorf("%w: truncated after signature", ErrMalformedScript)
	}

	secretLen := int(scriptSig[secretPos])
	if secretLen == 0 || secretLen > MaxSecretSize {
		return nil, fmt.Errorf("%w: no secret push", ErrMalformedScript)
	}

	start := secretPos + 1
	end := start + secretLen
	if end > len(scriptSig) {
		return nil, fmt.Errorf("%w: secret truncated", ErrMalformedScript)
	}

	secret := make([]byte, secretLen)
	copy(secret, scriptSig[start:end])
	return secret, nil
}

// ExtractSecretFromTx reads the secret from the first input of a claim
// transaction.
func ExtractSecretFromTx(tx *wire.MsgTx) ([]byte, error) {
	if len(tx.TxIn) == 0 {
		return nil, fmt.Errorf("%w: transaction has no inputs", ErrMalformedScript)
	}
	return ExtractSecret(tx.TxIn[0].SignatureScript)
}
