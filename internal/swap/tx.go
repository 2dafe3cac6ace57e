// Package swap - Claim and refund transaction assembly.
// Building is side-effect free: nothing here broadcasts.
package swap

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// spendTxVersion matches the counter-party's raw transactions.
	spendTxVersion = 1

	// spendSequence is non-final, so a refund's lock time is enforced.
	spendSequence = 0
)

// SpendRequest describes a spend of a swap deposit.
type SpendRequest struct {
	// Address receives Deposit.Value - Fee.
	Address string

	// Key signs the input. Its public key must hash to the branch's
	// public key hash in the redeem script.
	Key *btcec.PrivateKey

	// Secret is required on the claim branch.
	Secret []byte

	Fee     int64
	Deposit DepositOutput
	Params  *chaincfg.Params

	// Expiration becomes the lock time on the refund branch.
	Expiration int64

	Branch Branch
}

func (r *SpendRequest) validate() error {
	if r.Key == nil {
		return errors.New("signing key required")
	}
	if r.Params == nil {
		return errors.New("chain params required")
	}
	if len(r.Deposit.Script) == 0 {
		return errors.New("deposit redeem script required")
	}
	if r.Fee < 0 {
		return fmt.Errorf("negative fee %d", r.Fee)
	}
	if r.Fee >= r.Deposit.Value {
		return fmt.Errorf("%w: fee %d, deposit %d", ErrInsufficientValue, r.Fee, r.Deposit.Value)
	}
	if r.Branch == BranchRefund && (r.Expiration <= 0 || r.Expiration > maxLockTime) {
		return fmt.Errorf("%w: %d", ErrInvalidExpiration, r.Expiration)
	}
	return nil
}

// BuildSpendTransaction builds and signs a one-input, one-output
// transaction spending a swap deposit on the requested branch.
func BuildSpendTransaction(req *SpendRequest) (*wire.MsgTx, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	prevHash, err := chainhash.NewHashFromStr(req.Deposit.TxID)
	if err != nil {
		return nil, fmt.Errorf("invalid deposit txid %q: %w", req.Deposit.TxID, err)
	}
	pkScript, err := PayToAddrScript(req.Address, req.Params)
	if err != nil {
		return nil, err
	}

	// 1. Unsigned skeleton
	tx := wire.NewMsgTx(spendTxVersion)
	txIn := wire.NewTxIn(wire.NewOutPoint(prevHash, req.Deposit.Vout), nil, nil)
	txIn.Sequence = spendSequence
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(req.Deposit.Value-req.Fee, pkScript))

	// 2. Lock time on refunds only
	if req.Branch == BranchRefund {
		tx.LockTime = uint32(req.Expiration)
	}

	// 3+4. Sign over the redeem script with SIGHASH_ALL
	sig, err := txscript.RawTxInSignature(tx, 0, req.Deposit.Script, txscript.SigHashAll, req.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign input: %w", err)
	}

	witness, err := EncodeWitness(&Witness{
		Signature: sig,
		PubKey:    req.Key.PubKey().SerializeCompressed(),
		Branch:    req.Branch,
		Secret:    req.Secret,
	})
	if err != nil {
		return nil, err
	}
	txIn.SignatureScript = SpendSwapInput(witness, req.Deposit.Script)

	return tx, nil
}

// BuildClaimTransaction builds a signed claim transaction and returns it
// serialized for broadcast.
func BuildClaimTransaction(recipientAddress string, key *btcec.PrivateKey, secret []byte, fee int64, deposit DepositOutput, params *chaincfg.Params, expiration int64) ([]byte, error) {
	tx, err := BuildSpendTransaction(&SpendRequest{
		Address:    recipientAddress,
		Key:        key,
		Secret:     secret,
		Fee:        fee,
		Deposit:    deposit,
		Params:     params,
		Expiration: expiration,
		Branch:     BranchClaim,
	})
	if err != nil {
		return nil, err
	}
	return SerializeTx(tx)
}

// SerializeTx returns the wire encoding of tx.
func SerializeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return buf.Bytes(), nil
}

// SerializeTxHex returns the hex wire encoding of tx.
func SerializeTxHex(tx *wire.MsgTx) (string, error) {
	raw, err := SerializeTx(tx)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
