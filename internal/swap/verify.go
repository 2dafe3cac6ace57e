package swap

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// MatchesSwap reports whether tx has an output paying exactly p.Value to
// the swap's deposit address. Script and value must both match. An error
// is returned only when p cannot produce a script.
func MatchesSwap(tx *wire.MsgTx, p *Params, params *chaincfg.Params) (bool, error) {
	pkScript, _, err := depositPkScript(p, params)
	if err != nil {
		return false, err
	}
	return findOutput(tx, pkScript, p.Value) >= 0, nil
}

// findOutput returns the index of the output with pkScript and value, or -1.
func findOutput(tx *wire.MsgTx, pkScript []byte, value int64) int {
	for i, out := range tx.TxOut {
		if out.Value == value && bytes.Equal(out.PkScript, pkScript) {
			return i
		}
	}
	return -1
}

// locateDeposit returns the index of the output paying pkScript, or -1.
// When value is positive an output carrying exactly value wins over an
// earlier one with another amount.
func locateDeposit(tx *wire.MsgTx, pkScript []byte, value int64) int {
	if value > 0 {
		if i := findOutput(tx, pkScript, value); i >= 0 {
			return i
		}
	}
	for i, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, pkScript) {
			return i
		}
	}
	return -1
}

// Matcher decides whether a transaction is the one a scan is looking for.
type Matcher func(tx *wire.MsgTx) bool

// InitiationMatcher matches transactions funding the swap described by p.
// The deposit script is computed once up front.
func InitiationMatcher(p *Params, params *chaincfg.Params) (Matcher, error) {
	pkScript, _, err := depositPkScript(p, params)
	if err != nil {
		return nil, err
	}
	return func(tx *wire.MsgTx) bool {
		return findOutput(tx, pkScript, p.Value) >= 0
	}, nil
}

// ClaimMatcher matches transactions spending the deposit outpoint. Spends
// of other outputs of the initiation transaction, such as its change, do
// not match.
func ClaimMatcher(deposit wire.OutPoint) Matcher {
	return func(tx *wire.MsgTx) bool {
		for _, in := range tx.TxIn {
			if in.PreviousOutPoint == deposit {
				return true
			}
		}
		return false
	}
}
