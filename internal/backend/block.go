package backend

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

// ErrInvalidBlock is returned for block data that cannot be decoded.
// Fetching the same block again will not help.
var ErrInvalidBlock = errors.New("invalid block")

const (
	// auxPowVersionFlag marks a merged-mined header that is followed by
	// its AuxPoW proof.
	auxPowVersionFlag = 1 << 8

	// Transaction serialization flags. mwebTxFlag is set on Litecoin
	// transactions carrying MWEB data, including each block's integrating
	// (HogEx) transaction.
	witnessTxFlag = 0x01
	mwebTxFlag    = 0x08

	maxScriptSize  = 1 << 20
	maxMerkleDepth = 32
)

// DecodeBlock parses a serialized block of the given chain. btcd's parser
// covers Bitcoin; on top of it this skips the AuxPoW proof of merge-mined
// headers and reads MWEB-flagged transactions without their extension
// data. Anything after the last transaction, such as Litecoin's MWEB
// extension block, is ignored.
func DecodeBlock(raw []byte, params *chain.Params) (*wire.MsgBlock, error) {
	d := &blockDecoder{raw: raw, r: bytes.NewReader(raw)}
	block, err := d.decode(params != nil && params.AuxPoW)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBlock, err)
	}
	return block, nil
}

type blockDecoder struct {
	raw []byte
	r   *bytes.Reader
}

func (d *blockDecoder) decode(auxPow bool) (*wire.MsgBlock, error) {
	var block wire.MsgBlock
	if err := block.Header.Deserialize(d.r); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if auxPow && block.Header.Version&auxPowVersionFlag != 0 {
		if err := d.skipAuxPow(); err != nil {
			return nil, fmt.Errorf("auxpow: %w", err)
		}
	}

	count, err := wire.ReadVarInt(d.r, 0)
	if err != nil {
		return nil, fmt.Errorf("tx count: %w", err)
	}
	if count > uint64(d.r.Len()) {
		return nil, fmt.Errorf("tx count %d exceeds block size", count)
	}

	block.Transactions = make([]*wire.MsgTx, 0, count)
	for i := uint64(0); i < count; i++ {
		tx, err := d.readTx()
		if err != nil {
			return nil, fmt.Errorf("tx %d: %w", i, err)
		}
		block.Transactions = append(block.Transactions, tx)
	}
	return &block, nil
}

// skipAuxPow reads past the parent coinbase (a merkle transaction), the
// chain merkle branch and the parent block header.
func (d *blockDecoder) skipAuxPow() error {
	var coinbase wire.MsgTx
	if err := coinbase.DeserializeNoWitness(d.r); err != nil {
		return fmt.Errorf("parent coinbase: %w", err)
	}
	if err := d.skip(chainhash.HashSize); err != nil { // parent block hash
		return err
	}
	if err := d.skipMerkleBranch(); err != nil { // coinbase branch
		return err
	}
	if err := d.skipMerkleBranch(); err != nil { // chain branch
		return err
	}
	return d.skip(wire.MaxBlockHeaderPayload)
}

func (d *blockDecoder) skipMerkleBranch() error {
	n, err := wire.ReadVarInt(d.r, 0)
	if err != nil {
		return err
	}
	if n > maxMerkleDepth {
		return fmt.Errorf("merkle branch of %d hashes", n)
	}
	return d.skip(int64(n)*chainhash.HashSize + 4) // hashes, then side mask
}

func (d *blockDecoder) skip(n int64) error {
	if _, err := io.CopyN(io.Discard, d.r, n); err != nil {
		return fmt.Errorf("short read: %w", err)
	}
	return nil
}

// readTx decodes the next transaction, handing everything but MWEB-flagged
// transactions to btcd.
func (d *blockDecoder) readTx() (*wire.MsgTx, error) {
	pos := len(d.raw) - d.r.Len()
	if pos+6 <= len(d.raw) && d.raw[pos+4] == 0x00 && d.raw[pos+5]&mwebTxFlag != 0 {
		return d.readFlaggedTx()
	}
	tx := new(wire.MsgTx)
	if err := tx.Deserialize(d.r); err != nil {
		return nil, err
	}
	return tx, nil
}

// readFlaggedTx decodes the extended serialization: version, marker,
// flags, inputs, outputs, witnesses when flagged, the optional MWEB
// transaction when flagged, lock time. Only an absent MWEB transaction is
// accepted; canonical block transactions never embed one.
func (d *blockDecoder) readFlaggedTx() (*wire.MsgTx, error) {
	var head [6]byte
	if _, err := io.ReadFull(d.r, head[:]); err != nil {
		return nil, err
	}
	flags := head[5]
	if flags&^(witnessTxFlag|mwebTxFlag) != 0 {
		return nil, fmt.Errorf("unknown transaction flags %#x", flags)
	}
	tx := wire.NewMsgTx(int32(binary.LittleEndian.Uint32(head[:4])))

	nIn, err := wire.ReadVarInt(d.r, 0)
	if err != nil {
		return nil, err
	}
	if nIn > uint64(d.r.Len()) {
		return nil, fmt.Errorf("input count %d exceeds data", nIn)
	}
	for i := uint64(0); i < nIn; i++ {
		var op wire.OutPoint
		if _, err := io.ReadFull(d.r, op.Hash[:]); err != nil {
			return nil, err
		}
		if op.Index, err = d.readUint32(); err != nil {
			return nil, err
		}
		script, err := wire.ReadVarBytes(d.r, 0, maxScriptSize, "sigScript")
		if err != nil {
			return nil, err
		}
		seq, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(&wire.TxIn{PreviousOutPoint: op, SignatureScript: script, Sequence: seq})
	}

	nOut, err := wire.ReadVarInt(d.r, 0)
	if err != nil {
		return nil, err
	}
	if nOut > uint64(d.r.Len()) {
		return nil, fmt.Errorf("output count %d exceeds data", nOut)
	}
	for i := uint64(0); i < nOut; i++ {
		var value [8]byte
		if _, err := io.ReadFull(d.r, value[:]); err != nil {
			return nil, err
		}
		pkScript, err := wire.ReadVarBytes(d.r, 0, maxScriptSize, "pkScript")
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(int64(binary.LittleEndian.Uint64(value[:])), pkScript))
	}

	if flags&witnessTxFlag != 0 {
		for _, in := range tx.TxIn {
			n, err := wire.ReadVarInt(d.r, 0)
			if err != nil {
				return nil, err
			}
			if n > uint64(d.r.Len()) {
				return nil, fmt.Errorf("witness of %d items exceeds data", n)
			}
			in.Witness = make(wire.TxWitness, n)
			for j := range in.Witness {
				if in.Witness[j], err = wire.ReadVarBytes(d.r, 0, maxScriptSize, "witness"); err != nil {
					return nil, err
				}
			}
		}
	}

	if flags&mwebTxFlag != 0 {
		present, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if present != 0 {
			return nil, errors.New("embedded MWEB transaction")
		}
	}

	if tx.LockTime, err = d.readUint32(); err != nil {
		return nil, err
	}
	return tx, nil
}

func (d *blockDecoder) readUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
