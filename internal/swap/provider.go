// Package swap - Provider exposing the swap operations over a chain backend.
package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

// claimFeeTier prices claim transactions.
const claimFeeTier = backend.FeeTierHalfHour

// ProviderConfig holds configuration for the Provider.
type ProviderConfig struct {
	Client backend.ChainClient
	Wallet backend.Wallet
	Chain  *chain.Params

	// Scan policy for the Find* operations.
	ScanInterval time.Duration
	Backoff      *Backoff
	OnRetry      func(RetryEvent)
}

// Provider runs swap operations against one chain. Building and signing
// are local; fetching, broadcasting, fees and keys go through the backend.
type Provider struct {
	client      backend.ChainClient
	wallet      backend.Wallet
	chain       *chain.Params
	chainParams *chaincfg.Params

	scanInterval time.Duration
	backoff      *Backoff
	onRetry      func(RetryEvent)

	// sleep replaces the scanners' wait when set.
	sleep func(ctx context.Context, d time.Duration) error

	log *logging.Logger
}

// FoundClaim is a claim transaction located on chain with the secret it
// revealed.
type FoundClaim struct {
	Tx     *wire.MsgTx
	Height int64
	Secret []byte
}

// NewProvider creates a provider.
func NewProvider(cfg *ProviderConfig) (*Provider, error) {
	if cfg.Client == nil {
		return nil, errors.New("chain client required")
	}
	if cfg.Chain == nil {
		return nil, errors.New("chain params required")
	}
	return &Provider{
		client:       cfg.Client,
		wallet:       cfg.Wallet,
		chain:        cfg.Chain,
		chainParams:  cfg.Chain.ChainConfig(),
		scanInterval: cfg.ScanInterval,
		backoff:      cfg.Backoff,
		onRetry:      cfg.OnRetry,
		log:          logging.GetDefault().Component("swap").With("chain", cfg.Chain.Symbol),
	}, nil
}

// ChainParams returns the btcd params addresses are encoded with.
func (p *Provider) ChainParams() *chaincfg.Params {
	return p.chainParams
}

// CreateSwapScript builds the redeem script for params.
func (p *Provider) CreateSwapScript(params *Params) ([]byte, error) {
	return CreateSwapScript(params, p.chainParams)
}

// DepositAddress returns the P2SH address params are funded to.
func (p *Provider) DepositAddress(params *Params) (string, error) {
	return DepositAddress(params, p.chainParams)
}

// InitiateSwap funds the deposit address from the wallet and returns the
// funding txid.
func (p *Provider) InitiateSwap(ctx context.Context, params *Params) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}
	if p.wallet == nil {
		return "", fmt.Errorf("%w: no wallet configured", backend.ErrUnsupported)
	}

	script, err := p.CreateSwapScript(params)
	if err != nil {
		return "", err
	}
	address, err := ScriptToAddress(script, p.chainParams)
	if err != nil {
		return "", err
	}

	txid, err := p.wallet.SendTransaction(ctx, address, params.Value, script)
	if err != nil {
		return "", fmt.Errorf("failed to fund swap: %w", err)
	}
	p.log.Info("Swap initiated", "txid", txid, "address", address, "value", params.Value)
	return txid, nil
}

// BuildClaim locates the deposit in the initiation transaction and returns
// a signed claim transaction without broadcasting it.
func (p *Provider) BuildClaim(ctx context.Context, initiationTxID, recipientAddress, refundAddress string, secret []byte, expiration int64) (*wire.MsgTx, error) {
	if p.wallet == nil {
		return nil, fmt.Errorf("%w: no wallet configured", backend.ErrUnsupported)
	}

	wif, err := p.wallet.DumpPrivateKey(ctx, recipientAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient key: %w", err)
	}

	pkScript, redeemScript, err := depositPkScript(&Params{
		RecipientAddress: recipientAddress,
		RefundAddress:    refundAddress,
		SecretHash:       HashSecret(secret),
		Expiration:       expiration,
	}, p.chainParams)
	if err != nil {
		return nil, err
	}

	raw, err := p.client.GetRawTransaction(ctx, initiationTxID)
	if err != nil {
		return nil, fmt.Errorf("failed to get initiation transaction: %w", err)
	}
	initTx, err := backend.DecodeRawTransaction(raw)
	if err != nil {
		return nil, err
	}

	// No value is known here, so the first output paying the script is
	// claimed.
	vout := locateDeposit(initTx, pkScript, 0)
	if vout < 0 {
		return nil, fmt.Errorf("%w: %s", ErrDepositNotFound, initiationTxID)
	}

	fee, err := p.client.CalculateFee(ctx, 1, 1, claimFeeTier)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate fee: %w", err)
	}

	return BuildSpendTransaction(&SpendRequest{
		Address: recipientAddress,
		Key:     wif.PrivKey,
		Secret:  secret,
		Fee:     fee,
		Deposit: DepositOutput{
			TxID:   initiationTxID,
			Vout:   uint32(vout),
			Value:  initTx.TxOut[vout].Value,
			Script: redeemScript,
		},
		Params:     p.chainParams,
		Expiration: expiration,
		Branch:     BranchClaim,
	})
}

// ClaimSwap claims the deposit with secret and broadcasts the claim.
func (p *Provider) ClaimSwap(ctx context.Context, initiationTxID, recipientAddress, refundAddress string, secret []byte, expiration int64) (string, error) {
	tx, err := p.BuildClaim(ctx, initiationTxID, recipientAddress, refundAddress, secret, expiration)
	if err != nil {
		return "", err
	}
	rawHex, err := SerializeTxHex(tx)
	if err != nil {
		return "", err
	}

	txid, err := p.client.BroadcastTransaction(ctx, rawHex)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast claim: %w", err)
	}
	p.log.Info("Swap claimed", "txid", txid, "initiation", initiationTxID, "value", tx.TxOut[0].Value)
	return txid, nil
}

// RefundSwap is not implemented and always fails with
// ErrUnsupportedOperation. BuildSpendTransaction can produce a refund for
// callers that assemble one by hand.
func (p *Provider) RefundSwap(_ context.Context, _, _, _ string, _ []byte, _ int64) (string, error) {
	return "", fmt.Errorf("%w: refund", ErrUnsupportedOperation)
}

// VerifyInitiateSwapTransaction fetches txid and reports whether it funds
// the swap described by params.
func (p *Provider) VerifyInitiateSwapTransaction(ctx context.Context, txid string, params *Params) (bool, error) {
	tx, err := p.client.GetTransaction(ctx, txid)
	if err != nil {
		return false, fmt.Errorf("failed to get transaction: %w", err)
	}
	return MatchesSwap(tx, params, p.chainParams)
}

// FindInitiateSwapTransaction scans from the chain tip for the transaction
// funding params. It blocks until found or ctx is done.
func (p *Provider) FindInitiateSwapTransaction(ctx context.Context, params *Params) (*ScanResult, error) {
	return p.findInitiation(ctx, params, 0)
}

func (p *Provider) findInitiation(ctx context.Context, params *Params, from int64) (*ScanResult, error) {
	match, err := InitiationMatcher(params, p.chainParams)
	if err != nil {
		return nil, err
	}
	return p.newScanner(from).Scan(ctx, match)
}

// FindClaimSwapTransaction scans from the chain tip for a transaction
// spending the deposit of params in the initiation transaction and extracts
// the revealed secret, which must hash to params.SecretHash. params.Value
// is optional; when set it picks between outputs paying the same script.
func (p *Provider) FindClaimSwapTransaction(ctx context.Context, initiationTxID string, params *Params) (*FoundClaim, error) {
	deposit, err := p.depositOutPoint(ctx, initiationTxID, params)
	if err != nil {
		return nil, err
	}
	return p.findClaim(ctx, deposit, params.SecretHash, 0)
}

// depositOutPoint fetches the initiation transaction and locates params'
// deposit in it.
func (p *Provider) depositOutPoint(ctx context.Context, initiationTxID string, params *Params) (wire.OutPoint, error) {
	if _, err := chainhash.NewHashFromStr(initiationTxID); err != nil {
		return wire.OutPoint{}, fmt.Errorf("invalid initiation txid %q: %w", initiationTxID, err)
	}
	raw, err := p.client.GetRawTransaction(ctx, initiationTxID)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("failed to get initiation transaction: %w", err)
	}
	tx, err := backend.DecodeRawTransaction(raw)
	if err != nil {
		return wire.OutPoint{}, err
	}
	return p.depositIn(tx, params)
}

// depositIn returns the outpoint of params' deposit in tx.
func (p *Provider) depositIn(tx *wire.MsgTx, params *Params) (wire.OutPoint, error) {
	pkScript, _, err := depositPkScript(params, p.chainParams)
	if err != nil {
		return wire.OutPoint{}, err
	}
	vout := locateDeposit(tx, pkScript, params.Value)
	if vout < 0 {
		return wire.OutPoint{}, fmt.Errorf("%w: %s", ErrDepositNotFound, tx.TxHash())
	}
	return wire.OutPoint{Hash: tx.TxHash(), Index: uint32(vout)}, nil
}

func (p *Provider) findClaim(ctx context.Context, deposit wire.OutPoint, secretHash []byte, from int64) (*FoundClaim, error) {
	p.log.Debug("Scanning for claim", "deposit", deposit, "from", from)
	res, err := p.newScanner(from).Scan(ctx, ClaimMatcher(deposit))
	if err != nil {
		return nil, err
	}

	secret, err := ExtractSecretFromTx(res.Tx)
	if err != nil {
		return nil, fmt.Errorf("spend %s: %w", res.Tx.TxHash(), err)
	}
	if len(secretHash) > 0 && !VerifySecret(secret, secretHash) {
		return nil, fmt.Errorf("%w: spend %s reveals a secret for another hash", ErrInvalidSecret, res.Tx.TxHash())
	}

	return &FoundClaim{Tx: res.Tx, Height: res.Height, Secret: secret}, nil
}

// GetSwapSecret fetches a claim transaction and extracts its secret.
func (p *Provider) GetSwapSecret(ctx context.Context, claimTxID string) ([]byte, error) {
	raw, err := p.client.GetRawTransaction(ctx, claimTxID)
	if err != nil {
		return nil, fmt.Errorf("failed to get claim transaction: %w", err)
	}
	tx, err := backend.DecodeRawTransaction(raw)
	if err != nil {
		return nil, err
	}
	return ExtractSecretFromTx(tx)
}

func (p *Provider) newScanner(from int64) *Scanner {
	s := NewScanner(&ScannerConfig{
		Source:      p.client,
		Interval:    p.scanInterval,
		Backoff:     p.backoff,
		StartHeight: from,
		OnRetry:     p.onRetry,
		Logger:      p.log.Component("scanner"),
	})
	if p.sleep != nil {
		s.sleep = p.sleep
	}
	return s
}
