package swap

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

func testChain(t *testing.T) *chain.Params {
	t.Helper()
	params, ok := chain.Get("BTC", chain.Testnet)
	if !ok {
		t.Fatal("BTC testnet not registered")
	}
	return params
}

func testNet(t *testing.T) *chaincfg.Params {
	return testChain(t).ChainConfig()
}

// party is a key and its P2PKH address.
type party struct {
	key     *btcec.PrivateKey
	address string
}

func newParty(t *testing.T, seed byte) party {
	t.Helper()
	var b [32]byte
	b[0] = 0x01
	b[31] = seed
	key, _ := btcec.PrivKeyFromBytes(b[:])
	addr, err := PubKeyToAddress(key.PubKey().SerializeCompressed(), testNet(t))
	if err != nil {
		t.Fatal(err)
	}
	return party{key: key, address: addr}
}

func testSecret() []byte {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i + 1)
	}
	return secret
}

func testParams(t *testing.T) (*Params, party, party) {
	recipient := newParty(t, 1)
	refund := newParty(t, 2)
	return &Params{
		Value:            100000,
		RecipientAddress: recipient.address,
		RefundAddress:    refund.address,
		SecretHash:       HashSecret(testSecret()),
		Expiration:       500000,
	}, recipient, refund
}

// fundingTx pays value to pkScript plus some unrelated change.
func fundingTx(pkScript []byte, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{0xfe}, 3), []byte{0x51}, nil))
	tx.AddTxOut(wire.NewTxOut(5000, []byte{0x76, 0xa9, 0x14}))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))
	return tx
}

// changeSpend spends output vout of tx the way a wallet spends P2PKH
// change: a signature and a public key, no secret.
func changeSpend(t *testing.T, tx *wire.MsgTx, vout uint32) *wire.MsgTx {
	t.Helper()
	sig := append(bytes.Repeat([]byte{0x30}, 70), byte(txscript.SigHashAll))
	pubKey := newParty(t, 9).key.PubKey().SerializeCompressed()
	sigScript, err := txscript.NewScriptBuilder().AddData(sig).AddData(pubKey).Script()
	if err != nil {
		t.Fatal(err)
	}
	hash := tx.TxHash()
	spend := wire.NewMsgTx(wire.TxVersion)
	spend.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&hash, vout), sigScript, nil))
	spend.AddTxOut(wire.NewTxOut(tx.TxOut[vout].Value-500, []byte{0x6a}))
	return spend
}

// fillerTx is an unrelated transaction unique per n.
func fillerTx(n int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{0xaa, byte(n), byte(n >> 8)}, 0), []byte{0x51}, nil))
	tx.AddTxOut(wire.NewTxOut(n, []byte{0x6a}))
	return tx
}

// fakeChain is an in-memory backend.ChainClient and backend.Wallet.
type fakeChain struct {
	mu sync.Mutex

	tip      int64
	blocks   map[int64]*wire.MsgBlock
	txs      map[string]*wire.MsgTx
	failures map[int64]int // fetches to fail before serving a height
	invalid  map[int64]bool
	fetches  []int64

	fee       int64
	broadcast []*wire.MsgTx
	keys      map[string]*btcutil.WIF
	sent      []sentPayment
}

type sentPayment struct {
	address string
	value   int64
	data    []byte
}

func newFakeChain(tip int64) *fakeChain {
	return &fakeChain{
		tip:      tip,
		blocks:   make(map[int64]*wire.MsgBlock),
		txs:      make(map[string]*wire.MsgTx),
		failures: make(map[int64]int),
		invalid:  make(map[int64]bool),
		keys:     make(map[string]*btcutil.WIF),
		fee:      1000,
	}
}

// addBlock stores a block at height holding a filler tx plus txs.
func (f *fakeChain) addBlock(height int64, txs ...*wire.MsgTx) {
	f.mu.Lock()
	defer f.mu.Unlock()

	block := wire.NewMsgBlock(wire.NewBlockHeader(1, &chainhash.Hash{byte(height)}, &chainhash.Hash{}, 0, uint32(height)))
	block.AddTransaction(fillerTx(height))
	for _, tx := range txs {
		block.AddTransaction(tx)
		f.txs[tx.TxHash().String()] = tx
	}
	f.blocks[height] = block
}

func (f *fakeChain) addTx(tx *wire.MsgTx) {
	f.mu.Lock()
	f.txs[tx.TxHash().String()] = tx
	f.mu.Unlock()
}

func (f *fakeChain) addKey(t *testing.T, p party) {
	t.Helper()
	wif, err := btcutil.NewWIF(p.key, testNet(t), true)
	if err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	f.keys[p.address] = wif
	f.mu.Unlock()
}

func (f *fakeChain) GetBlockHeight(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip, nil
}

func (f *fakeChain) GetBlockByHeight(ctx context.Context, height int64) (*wire.MsgBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetches = append(f.fetches, height)
	if f.failures[height] > 0 {
		f.failures[height]--
		return nil, errors.New("connection reset by peer")
	}
	if f.invalid[height] {
		return nil, fmt.Errorf("%w: unexpected EOF", backend.ErrInvalidBlock)
	}
	block, ok := f.blocks[height]
	if !ok {
		return nil, fmt.Errorf("%w: height %d", backend.ErrBlockNotFound, height)
	}
	return block, nil
}

func (f *fakeChain) GetTransaction(ctx context.Context, txID string) (*wire.MsgTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[txID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrTxNotFound, txID)
	}
	return tx, nil
}

func (f *fakeChain) GetRawTransaction(ctx context.Context, txID string) ([]byte, error) {
	tx, err := f.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *fakeChain) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	raw, err := hex.DecodeString(rawTxHex)
	if err != nil {
		return "", err
	}
	tx, err := backend.DecodeRawTransaction(raw)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.broadcast = append(f.broadcast, tx)
	f.txs[tx.TxHash().String()] = tx
	f.mu.Unlock()
	return tx.TxHash().String(), nil
}

func (f *fakeChain) CalculateFee(ctx context.Context, inputs, outputs int, tier backend.FeeTier) (int64, error) {
	return f.fee, nil
}

func (f *fakeChain) Close() error { return nil }

func (f *fakeChain) SendTransaction(ctx context.Context, address string, value int64, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPayment{address: address, value: value, data: data})
	return fmt.Sprintf("%064x", len(f.sent)), nil
}

func (f *fakeChain) DumpPrivateKey(ctx context.Context, address string) (*btcutil.WIF, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wif, ok := f.keys[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrKeyNotFound, address)
	}
	return wif, nil
}

var (
	_ backend.ChainClient = (*fakeChain)(nil)
	_ backend.Wallet      = (*fakeChain)(nil)
)

// recordSleep returns a sleep func that records delays without waiting.
func recordSleep(delays *[]time.Duration, mu *sync.Mutex) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return ctx.Err()
	}
}
