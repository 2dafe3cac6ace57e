// Package chain defines network parameters for the UTXO chains that can host
// P2SH hash time-locked contracts.
// All chain-specific values are hardcoded here - no external configuration needed.
package chain

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg"
)

// Network represents mainnet, testnet or a local regression network.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

// LockTimeKind describes how a chain interprets the CHECKLOCKTIMEVERIFY operand
// used for swap expirations.
type LockTimeKind string

const (
	LockTimeHeight LockTimeKind = "height" // block height
	LockTimeUnix   LockTimeKind = "unix"   // unix timestamp
)

// Params contains all parameters for a chain.
type Params struct {
	// Identity
	Symbol   string // BTC, LTC, DOGE
	Name     string // Bitcoin, Litecoin, etc.
	Decimals uint8  // 8 for all supported chains

	// Address prefixes
	PubKeyHashAddrID byte   // P2PKH version byte
	ScriptHashAddrID byte   // P2SH version byte
	Bech32HRP        string // empty when the chain has no SegWit
	WIF              byte   // private key prefix

	// DefaultLockTime is the expiration unit swaps use on this chain
	// unless the caller picks one explicitly.
	DefaultLockTime LockTimeKind

	// BlockInterval is the target spacing between blocks in seconds.
	BlockInterval int64

	// AuxPoW is set for merge-mined chains whose headers may carry a
	// parent-chain proof.
	AuxPoW bool

	// base is the btcd parameter set the address codec starts from.
	base *chaincfg.Params
}

// ChainConfig returns btcd chain params carrying this chain's address prefixes.
// The returned value is a copy and may be modified by the caller.
func (p *Params) ChainConfig() *chaincfg.Params {
	base := p.base
	if base == nil {
		base = &chaincfg.MainNetParams
	}
	cfg := *base
	cfg.Name = p.Name
	cfg.PubKeyHashAddrID = p.PubKeyHashAddrID
	cfg.ScriptHashAddrID = p.ScriptHashAddrID
	cfg.PrivateKeyID = p.WIF
	cfg.Bech32HRPSegwit = p.Bech32HRP
	return &cfg
}

// registry holds all chain parameters indexed by symbol.
var registry = make(map[string]map[Network]*Params)

// Register adds chain params to the registry.
func Register(symbol string, network Network, params *Params) {
	if registry[symbol] == nil {
		registry[symbol] = make(map[Network]*Params)
	}
	registry[symbol][network] = params
}

// Get returns chain params for a symbol and network.
func Get(symbol string, network Network) (*Params, bool) {
	nets, ok := registry[symbol]
	if !ok {
		return nil, false
	}
	params, ok := nets[network]
	return params, ok
}

// Lookup is like Get but returns an error naming the missing chain.
func Lookup(symbol string, network Network) (*Params, error) {
	params, ok := Get(symbol, network)
	if !ok {
		return nil, fmt.Errorf("unsupported chain: %s/%s", symbol, network)
	}
	return params, nil
}

// List returns all registered chain symbols in sorted order.
func List() []string {
	symbols := make([]string, 0, len(registry))
	for symbol := range registry {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// IsSupported returns true if the chain is registered.
func IsSupported(symbol string) bool {
	_, ok := registry[symbol]
	return ok
}

// ParseNetwork converts a config/flag value into a Network.
func ParseNetwork(s string) (Network, error) {
	switch Network(s) {
	case Mainnet, Testnet, Regtest:
		return Network(s), nil
	default:
		return "", fmt.Errorf("unknown network: %q", s)
	}
}
