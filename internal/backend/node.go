package backend

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

// NodeClient talks to a Bitcoin Core compatible node over JSON-RPC. It serves
// both the ChainClient and the Wallet side, the latter through the node's
// own wallet.
//
// rpcclient has no context support, so cancellation is only observed
// between calls.
type NodeClient struct {
	client *rpcclient.Client
	params *chaincfg.Params
	chain  *chain.Params
}

// NewNodeClient connects to the node described by cfg. The connection is
// lazy: no request is made until the first call.
func NewNodeClient(cfg *Config, params *chain.Params) (*NodeClient, error) {
	if params == nil {
		return nil, errors.New("chain params required")
	}

	host := strings.TrimPrefix(strings.TrimPrefix(cfg.URL, "http://"), "https://")
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPass,
		HTTPPostMode: true,
		DisableTLS:   !cfg.TLS,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	return &NodeClient{client: client, params: params.ChainConfig(), chain: params}, nil
}

// Close shuts the RPC client down.
func (n *NodeClient) Close() error {
	n.client.Shutdown()
	return nil
}

// GetBlockHeight returns the current block height.
func (n *NodeClient) GetBlockHeight(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	height, err := n.client.GetBlockCount()
	if err != nil {
		return 0, fmt.Errorf("getblockcount: %w", err)
	}
	return height, nil
}

// GetBlockByHeight returns the block at height. Heights beyond the tip map
// to ErrBlockNotFound. The block is fetched raw and decoded with DecodeBlock
// so merge-mined and MWEB blocks parse too.
func (n *NodeClient) GetBlockByHeight(ctx context.Context, height int64) (*wire.MsgBlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, err := n.client.GetBlockHash(height)
	if err != nil {
		if rpcCode(err) == btcjson.ErrRPCInvalidParameter {
			return nil, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
		}
		return nil, fmt.Errorf("getblockhash %d: %w", height, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := n.client.RawRequest("getblock", []json.RawMessage{
		json.RawMessage(strconv.Quote(hash.String())),
		json.RawMessage("false"),
	})
	if err != nil {
		return nil, fmt.Errorf("getblock %s: %w", hash, err)
	}
	var blockHex string
	if err := json.Unmarshal(res, &blockHex); err != nil {
		return nil, fmt.Errorf("getblock %s: %w", hash, err)
	}
	raw, err := hex.DecodeString(blockHex)
	if err != nil {
		return nil, fmt.Errorf("%w: block %s: %v", ErrInvalidBlock, hash, err)
	}
	block, err := DecodeBlock(raw, n.chain)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", hash, err)
	}
	return block, nil
}

// GetTransaction returns a decoded transaction. The node needs -txindex for
// transactions outside its wallet and mempool.
func (n *NodeClient) GetTransaction(ctx context.Context, txID string) (*wire.MsgTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, err := chainhash.NewHashFromStr(txID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad txid %q", ErrInvalidTx, txID)
	}
	tx, err := n.client.GetRawTransaction(hash)
	if err != nil {
		if rpcCode(err) == btcjson.ErrRPCNoTxInfo {
			return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txID)
		}
		return nil, fmt.Errorf("getrawtransaction %s: %w", txID, err)
	}
	return tx.MsgTx(), nil
}

// GetRawTransaction returns the serialized transaction.
func (n *NodeClient) GetRawTransaction(ctx context.Context, txID string) ([]byte, error) {
	tx, err := n.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BroadcastTransaction relays a hex-encoded transaction.
func (n *NodeClient) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := hex.DecodeString(rawTxHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}
	tx, err := DecodeRawTransaction(raw)
	if err != nil {
		return "", err
	}
	hash, err := n.client.SendRawTransaction(tx, false)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	return hash.String(), nil
}

// feeTargets maps tiers onto estimatesmartfee confirmation targets.
var feeTargets = map[FeeTier]int64{
	FeeTierFastest:  1,
	FeeTierHalfHour: 3,
	FeeTierHour:     6,
	FeeTierEconomy:  144,
	FeeTierMinimum:  1008,
}

// CalculateFee prices a legacy transaction with the node's smart fee estimate.
func (n *NodeClient) CalculateFee(ctx context.Context, inputs, outputs int, tier FeeTier) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	target, ok := feeTargets[tier]
	if !ok {
		target = feeTargets[FeeTierMinimum]
	}

	mode := btcjson.EstimateModeConservative
	res, err := n.client.EstimateSmartFee(target, &mode)
	if err != nil {
		return 0, fmt.Errorf("estimatesmartfee: %w", err)
	}

	// Fresh regtest nodes have no estimate; fall back to the relay minimum.
	rate := int64(1)
	if res.FeeRate != nil {
		if r := btcPerKBToSatPerByte(*res.FeeRate); r > rate {
			rate = r
		}
	}
	return EstimateFee(inputs, outputs, rate), nil
}

// SendTransaction pays value satoshis to address from the node wallet.
// data is not attached; the node wallet only pays addresses.
func (n *NodeClient) SendTransaction(ctx context.Context, address string, value int64, _ []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	addr, err := btcutil.DecodeAddress(address, n.params)
	if err != nil {
		return "", fmt.Errorf("invalid address %s: %w", address, err)
	}
	hash, err := n.client.SendToAddress(addr, btcutil.Amount(value))
	if err != nil {
		return "", fmt.Errorf("sendtoaddress: %w", err)
	}
	return hash.String(), nil
}

// DumpPrivateKey returns the node wallet's key for address.
func (n *NodeClient) DumpPrivateKey(ctx context.Context, address string) (*btcutil.WIF, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr, err := btcutil.DecodeAddress(address, n.params)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", address, err)
	}
	wif, err := n.client.DumpPrivKey(addr)
	if err != nil {
		if rpcCode(err) == btcjson.ErrRPCWallet {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, address)
		}
		return nil, fmt.Errorf("dumpprivkey: %w", err)
	}
	return wif, nil
}

// rpcCode extracts the JSON-RPC error code, or 0 for non-RPC errors.
func rpcCode(err error) btcjson.RPCErrorCode {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	return 0
}

var (
	_ ChainClient = (*NodeClient)(nil)
	_ Wallet      = (*NodeClient)(nil)
)
