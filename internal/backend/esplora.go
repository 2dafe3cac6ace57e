package backend

import (
	"encoding/json"
	"time"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

// EsploraClient implements ChainClient using the Esplora API (blockstream.info).
// The Esplora API is very similar to mempool.space, so we extend MempoolClient.
type EsploraClient struct {
	*MempoolClient
}

// NewEsploraClient creates a new Esplora client.
func NewEsploraClient(baseURL string, timeout time.Duration, params *chain.Params) *EsploraClient {
	m := NewMempoolClient(baseURL, timeout, params)
	// Esplora uses a different fee endpoint than mempool.space
	m.feePath = "/fee-estimates"
	m.parseFees = parseEsploraFees
	return &EsploraClient{MempoolClient: m}
}

// parseEsploraFees maps Esplora's confirmation-target table onto FeeEstimate.
func parseEsploraFees(body []byte) (*FeeEstimate, error) {
	// Esplora returns map of confirmation targets to fee rates
	var result map[string]float64
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	return &FeeEstimate{
		FastestFee:  ceilRate(result["1"]),   // 1 block
		HalfHourFee: ceilRate(result["3"]),   // 3 blocks (~30 min)
		HourFee:     ceilRate(result["6"]),   // 6 blocks (~1 hour)
		EconomyFee:  ceilRate(result["144"]), // 144 blocks (~1 day)
		MinimumFee:  1,                       // Esplora doesn't provide minimum
	}, nil
}

func ceilRate(r float64) int64 {
	n := int64(r)
	if float64(n) < r {
		n++
	}
	return n
}

// Ensure EsploraClient implements ChainClient
var _ ChainClient = (*EsploraClient)(nil)
