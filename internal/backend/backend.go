// Package backend provides the chain-data capabilities the swap core consumes:
// block and transaction lookups, broadcasting, fee estimation and key custody.
// Implementations are picked at construction time; nothing here is resolved
// by method name at runtime.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

// Common errors
var (
	ErrNotConnected    = errors.New("backend not connected")
	ErrTxNotFound      = errors.New("transaction not found")
	ErrBlockNotFound   = errors.New("block not found")
	ErrInvalidTx       = errors.New("invalid transaction")
	ErrBroadcastFailed = errors.New("broadcast failed")
	ErrRateLimited     = errors.New("rate limited")
	ErrKeyNotFound     = errors.New("private key not found")
	ErrUnsupported     = errors.New("operation not supported by backend")
	ErrUnknownType     = errors.New("unsupported backend type")
)

// Type represents the backend type.
type Type string

const (
	TypeNode    Type = "node"    // Bitcoin Core style JSON-RPC node
	TypeMempool Type = "mempool" // mempool.space API
	TypeEsplora Type = "esplora" // blockstream.info API
)

// FeeTier selects how aggressively a fee is priced.
type FeeTier int

const (
	FeeTierMinimum FeeTier = iota
	FeeTierEconomy
	FeeTierHour
	FeeTierHalfHour
	FeeTierFastest
)

// String returns the tier name.
func (t FeeTier) String() string {
	switch t {
	case FeeTierMinimum:
		return "minimum"
	case FeeTierEconomy:
		return "economy"
	case FeeTierHour:
		return "hour"
	case FeeTierHalfHour:
		return "half_hour"
	case FeeTierFastest:
		return "fastest"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// FeeEstimate contains fee rates in sat/byte for each tier.
type FeeEstimate struct {
	FastestFee  int64 `json:"fastest_fee"`   // next block
	HalfHourFee int64 `json:"half_hour_fee"` // ~30 min
	HourFee     int64 `json:"hour_fee"`      // ~1 hour
	EconomyFee  int64 `json:"economy_fee"`   // low priority
	MinimumFee  int64 `json:"minimum_fee"`   // minimum relay fee
}

// Rate returns the sat/byte rate for a tier, never less than 1.
func (f *FeeEstimate) Rate(tier FeeTier) int64 {
	var rate int64
	switch tier {
	case FeeTierFastest:
		rate = f.FastestFee
	case FeeTierHalfHour:
		rate = f.HalfHourFee
	case FeeTierHour:
		rate = f.HourFee
	case FeeTierEconomy:
		rate = f.EconomyFee
	default:
		rate = f.MinimumFee
	}
	if rate < 1 {
		rate = 1
	}
	return rate
}

// Legacy (non-witness) size estimates used for fee calculation.
const (
	txOverheadSize = 10
	txInputSize    = 148
	txOutputSize   = 34
)

// EstimateFee prices a legacy transaction with the given shape.
func EstimateFee(inputs, outputs int, satPerByte int64) int64 {
	size := int64(txOverheadSize + inputs*txInputSize + outputs*txOutputSize)
	return size * satPerByte
}

// btcPerKBToSatPerByte converts a node fee rate (BTC/kB) to sat/byte, rounding up.
func btcPerKBToSatPerByte(rate float64) int64 {
	satPerKB := int64(math.Round(rate * 1e8))
	return (satPerKB + 999) / 1000
}

// ChainClient is the read/broadcast side of a chain-data provider.
type ChainClient interface {
	// GetBlockHeight returns the current chain tip height.
	GetBlockHeight(ctx context.Context) (int64, error)

	// GetBlockByHeight returns the block at height with full transactions.
	// Heights above the tip fail with ErrBlockNotFound.
	GetBlockByHeight(ctx context.Context, height int64) (*wire.MsgBlock, error)

	// GetTransaction returns a decoded transaction.
	GetTransaction(ctx context.Context, txID string) (*wire.MsgTx, error)

	// GetRawTransaction returns the serialized transaction.
	GetRawTransaction(ctx context.Context, txID string) ([]byte, error)

	// BroadcastTransaction relays a hex-encoded transaction and returns its id.
	BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error)

	// CalculateFee returns a fee in satoshis for a transaction shape.
	CalculateFee(ctx context.Context, inputs, outputs int, tier FeeTier) (int64, error)

	// Close releases the connection.
	Close() error
}

// Wallet is the key-custody side of a chain-data provider.
type Wallet interface {
	// SendTransaction pays value satoshis to address. data carries the
	// script the payment commits to; wallets that cannot attach it ignore it.
	SendTransaction(ctx context.Context, address string, value int64, data []byte) (string, error)

	// DumpPrivateKey returns the signing key for an address held by the wallet.
	DumpPrivateKey(ctx context.Context, address string) (*btcutil.WIF, error)
}

// DecodeRawTransaction parses a serialized transaction.
func DecodeRawTransaction(raw []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}
	return tx, nil
}

// Config contains backend configuration.
type Config struct {
	Type Type   `yaml:"type"`
	URL  string `yaml:"url"`

	// For node backends
	RPCUser string `yaml:"rpc_user,omitempty"`
	RPCPass string `yaml:"rpc_pass,omitempty"`
	TLS     bool   `yaml:"tls,omitempty"`

	// Keys are WIF private keys served by the static wallet when the
	// backend has no wallet of its own.
	Keys []string `yaml:"keys,omitempty"`

	// Optional settings
	Timeout int `yaml:"timeout,omitempty"` // seconds, default 30
}

// timeout returns the configured request timeout.
func (c *Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// DefaultConfigs returns default backend configurations per chain and network.
func DefaultConfigs(network chain.Network) map[string]*Config {
	switch network {
	case chain.Testnet:
		return map[string]*Config{
			"BTC": {Type: TypeMempool, URL: "https://mempool.space/testnet/api"},
			"LTC": {Type: TypeMempool, URL: "https://litecoinspace.org/testnet/api"},
		}
	case chain.Regtest:
		return map[string]*Config{
			"BTC": {Type: TypeNode, URL: "127.0.0.1:18443", RPCUser: "user", RPCPass: "pass"},
		}
	default:
		return map[string]*Config{
			"BTC": {Type: TypeMempool, URL: "https://mempool.space/api"},
			"LTC": {Type: TypeMempool, URL: "https://litecoinspace.org/api"},
		}
	}
}

// New builds the chain client and wallet described by cfg. The wallet is
// the node's own wallet for node backends and a static key set otherwise.
func New(cfg *Config, params *chain.Params) (ChainClient, Wallet, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("%w: missing config", ErrUnknownType)
	}

	switch cfg.Type {
	case TypeNode:
		node, err := NewNodeClient(cfg, params)
		if err != nil {
			return nil, nil, err
		}
		return node, node, nil

	case TypeMempool, TypeEsplora:
		wallet, err := NewStaticWallet(cfg.Keys, params)
		if err != nil {
			return nil, nil, err
		}
		var client ChainClient
		if cfg.Type == TypeEsplora {
			client = NewEsploraClient(cfg.URL, cfg.timeout(), params)
		} else {
			client = NewMempoolClient(cfg.URL, cfg.timeout(), params)
		}
		return client, wallet, nil

	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownType, cfg.Type)
	}
}
