package backend

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

// MempoolClient implements ChainClient using the mempool.space REST API.
// Compatible with mempool.space, litecoinspace.org, and self-hosted instances.
type MempoolClient struct {
	baseURL    string
	httpClient *http.Client
	chain      *chain.Params // block format; nil means Bitcoin

	// feePath and parseFees differ between mempool.space and Esplora.
	feePath   string
	parseFees func(body []byte) (*FeeEstimate, error)
}

// NewMempoolClient creates a new mempool.space client for the given chain.
func NewMempoolClient(baseURL string, timeout time.Duration, params *chain.Params) *MempoolClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MempoolClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		chain:      params,
		feePath:    "/v1/fees/recommended",
		parseFees:  parseMempoolFees,
	}
}

// Close drops idle HTTP connections.
func (m *MempoolClient) Close() error {
	m.httpClient.CloseIdleConnections()
	return nil
}

// GetBlockHeight returns the current block height.
func (m *MempoolClient) GetBlockHeight(ctx context.Context) (int64, error) {
	body, err := m.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tip height %q: %w", body, err)
	}
	return height, nil
}

// GetBlockByHeight resolves the block hash for height and downloads the raw block.
func (m *MempoolClient) GetBlockByHeight(ctx context.Context, height int64) (*wire.MsgBlock, error) {
	hashBody, err := m.get(ctx, "/block-height/"+strconv.FormatInt(height, 10))
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
		}
		return nil, err
	}
	hash := strings.TrimSpace(string(hashBody))

	raw, err := m.get(ctx, "/block/"+hash+"/raw")
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
		}
		return nil, err
	}

	block, err := DecodeBlock(raw, m.chain)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", hash, err)
	}
	return block, nil
}

// GetTransaction returns a decoded transaction.
func (m *MempoolClient) GetTransaction(ctx context.Context, txID string) (*wire.MsgTx, error) {
	raw, err := m.GetRawTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	return DecodeRawTransaction(raw)
}

// GetRawTransaction returns the serialized transaction.
func (m *MempoolClient) GetRawTransaction(ctx context.Context, txID string) ([]byte, error) {
	body, err := m.get(ctx, "/tx/"+txID+"/hex")
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txID)
		}
		return nil, err
	}
	return hex.DecodeString(strings.TrimSpace(string(body)))
}

// BroadcastTransaction broadcasts a raw transaction.
func (m *MempoolClient) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/tx", strings.NewReader(rawTxHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", ErrBroadcastFailed, string(body))
	}

	// Response is the txid
	return strings.TrimSpace(string(body)), nil
}

// GetFeeEstimates returns fee estimates for different confirmation targets.
func (m *MempoolClient) GetFeeEstimates(ctx context.Context) (*FeeEstimate, error) {
	body, err := m.get(ctx, m.feePath)
	if err != nil {
		return nil, err
	}
	return m.parseFees(body)
}

// CalculateFee prices a legacy transaction using the explorer's fee rates.
func (m *MempoolClient) CalculateFee(ctx context.Context, inputs, outputs int, tier FeeTier) (int64, error) {
	fees, err := m.GetFeeEstimates(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get fee estimates: %w", err)
	}
	return EstimateFee(inputs, outputs, fees.Rate(tier)), nil
}

func parseMempoolFees(body []byte) (*FeeEstimate, error) {
	var result map[string]float64
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	return &FeeEstimate{
		FastestFee:  int64(result["fastestFee"]),
		HalfHourFee: int64(result["halfHourFee"]),
		HourFee:     int64(result["hourFee"]),
		EconomyFee:  int64(result["economyFee"]),
		MinimumFee:  int64(result["minimumFee"]),
	}, nil
}

// errNotFound is returned by get for 404 responses; callers map it to a
// domain error.
var errNotFound = errors.New("not found")

// get performs a GET request and returns the body.
func (m *MempoolClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	// Add cache-busting headers to avoid stale CDN responses
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, errNotFound
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		body, _ := io.ReadAll(resp.Body)
		// Esplora answers unknown heights with 400 instead of 404.
		if strings.Contains(strings.ToLower(string(body)), "out of range") {
			return nil, errNotFound
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// Ensure MempoolClient implements ChainClient
var _ ChainClient = (*MempoolClient)(nil)
