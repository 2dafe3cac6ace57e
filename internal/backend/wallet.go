package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

// StaticWallet serves signing keys from a fixed set of WIF strings. It is
// paired with explorer backends, which have no wallet of their own.
type StaticWallet struct {
	params *chaincfg.Params
	keys   map[string]*btcutil.WIF // P2PKH address -> key
}

// NewStaticWallet decodes keys and indexes them by their P2PKH address on
// the given chain.
func NewStaticWallet(keys []string, params *chain.Params) (*StaticWallet, error) {
	if params == nil {
		return nil, fmt.Errorf("chain params required")
	}

	w := &StaticWallet{
		params: params.ChainConfig(),
		keys:   make(map[string]*btcutil.WIF, len(keys)),
	}
	for i, s := range keys {
		wif, err := btcutil.DecodeWIF(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(wif.SerializePubKey()), w.params)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		w.keys[addr.EncodeAddress()] = wif
	}
	return w, nil
}

// Addresses returns the addresses the wallet can sign for.
func (w *StaticWallet) Addresses() []string {
	out := make([]string, 0, len(w.keys))
	for addr := range w.keys {
		out = append(out, addr)
	}
	return out
}

// SendTransaction is not supported: the wallet holds keys but no coins index.
func (w *StaticWallet) SendTransaction(_ context.Context, _ string, _ int64, _ []byte) (string, error) {
	return "", fmt.Errorf("%w: static wallet cannot fund transactions", ErrUnsupported)
}

// DumpPrivateKey returns the key for address.
func (w *StaticWallet) DumpPrivateKey(_ context.Context, address string) (*btcutil.WIF, error) {
	wif, ok := w.keys[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, address)
	}
	return wif, nil
}

// Ensure StaticWallet implements Wallet
var _ Wallet = (*StaticWallet)(nil)
