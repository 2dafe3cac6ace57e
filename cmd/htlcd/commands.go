package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/klingon-exchange/klingon-htlc/internal/storage"
	"github.com/klingon-exchange/klingon-htlc/internal/swap"
	"github.com/klingon-exchange/klingon-htlc/pkg/helpers"
)

// swapFlags are the flags describing a swap's parameters.
type swapFlags struct {
	value      *int64
	amount     *string
	recipient  *string
	refund     *string
	secretHash *string
	expiration *int64
}

func addSwapFlags(fs *flag.FlagSet) *swapFlags {
	return &swapFlags{
		value:      fs.Int64("value", 0, "Swap value in satoshis"),
		amount:     fs.String("amount", "", "Swap value in coins (e.g. 0.001), instead of -value"),
		recipient:  fs.String("recipient", "", "Recipient P2PKH address (claims with the secret)"),
		refund:     fs.String("refund", "", "Refund P2PKH address (reclaims after expiration)"),
		secretHash: fs.String("secret-hash", "", "SHA-256 hash of the secret (hex)"),
		expiration: fs.Int64("expiration", 0, "Refund lock time (block height or unix time)"),
	}
}

// params builds swap parameters from the flags. Script-only commands do
// not need a value.
func (f *swapFlags) params(needValue bool) (*swap.Params, error) {
	hash, err := helpers.HexToFixedBytes(*f.secretHash, swap.SecretHashSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", swap.ErrInvalidSecretHash, err)
	}
	value := *f.value
	if *f.amount != "" {
		if value != 0 {
			return nil, errors.New("set only one of -value and -amount")
		}
		// Every supported chain counts 8 decimal places.
		if value, err = helpers.ParseAmount(*f.amount, 8); err != nil {
			return nil, fmt.Errorf("-amount: %w", err)
		}
	}
	p := &swap.Params{
		Value:            value,
		RecipientAddress: *f.recipient,
		RefundAddress:    *f.refund,
		SecretHash:       hash,
		Expiration:       *f.expiration,
	}
	if needValue {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runNewSecret(_ context.Context, _ *app, args []string) error {
	fs := newFlagSet("new-secret")
	fs.Parse(args)

	secret, hash, err := swap.GenerateSecret()
	if err != nil {
		return err
	}
	return printJSON(map[string]string{
		"secret":      hex.EncodeToString(secret),
		"secret_hash": hex.EncodeToString(hash),
	})
}

func runScript(_ context.Context, a *app, args []string) error {
	fs := newFlagSet("script")
	sf := addSwapFlags(fs)
	fs.Parse(args)

	params, err := a.chainParams()
	if err != nil {
		return err
	}
	p, err := sf.params(false)
	if err != nil {
		return err
	}
	net := params.ChainConfig()

	script, err := swap.CreateSwapScript(p, net)
	if err != nil {
		return err
	}
	address, err := swap.ScriptToAddress(script, net)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{
		"script":  hex.EncodeToString(script),
		"address": address,
	})
}

func runAddress(_ context.Context, a *app, args []string) error {
	fs := newFlagSet("address")
	sf := addSwapFlags(fs)
	fs.Parse(args)

	params, err := a.chainParams()
	if err != nil {
		return err
	}
	p, err := sf.params(false)
	if err != nil {
		return err
	}
	address, err := swap.DepositAddress(p, params.ChainConfig())
	if err != nil {
		return err
	}
	fmt.Println(address)
	return nil
}

func runAudit(_ context.Context, a *app, args []string) error {
	fs := newFlagSet("audit")
	scriptHex := fs.String("script", "", "Redeem script (hex)")
	fs.Parse(args)

	params, err := a.chainParams()
	if err != nil {
		return err
	}
	net := params.ChainConfig()

	script, err := helpers.HexToBytes(*scriptHex)
	if err != nil {
		return fmt.Errorf("invalid script hex: %w", err)
	}
	pushes, err := swap.ParseSwapScript(script)
	if err != nil {
		return err
	}
	recipient, refund, err := pushes.Addresses(net)
	if err != nil {
		return err
	}
	address, err := swap.ScriptToAddress(script, net)
	if err != nil {
		return err
	}

	return printJSON(map[string]interface{}{
		"address":     address,
		"recipient":   recipient,
		"refund":      refund,
		"secret_hash": hex.EncodeToString(pushes.SecretHash),
		"expiration":  pushes.Expiration,
	})
}

func runInitiate(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("initiate")
	sf := addSwapFlags(fs)
	fs.Parse(args)

	p, err := sf.params(true)
	if err != nil {
		return err
	}
	provider, err := a.swapProvider()
	if err != nil {
		return err
	}

	address, err := provider.DepositAddress(p)
	if err != nil {
		return err
	}
	txid, err := provider.InitiateSwap(ctx, p)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"txid":    txid,
		"address": address,
		"value":   p.Value,
		"amount":  helpers.FormatAmount(p.Value, a.params.Decimals),
	})
}

func runClaim(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("claim")
	initTxID := fs.String("init-txid", "", "Initiation transaction id")
	recipient := fs.String("recipient", "", "Recipient P2PKH address (key must be in the wallet)")
	refund := fs.String("refund", "", "Refund P2PKH address")
	secretHex := fs.String("secret", "", "Swap secret (hex)")
	expiration := fs.Int64("expiration", 0, "Refund lock time")
	dryRun := fs.Bool("dry-run", false, "Build and print the claim without broadcasting")
	fs.Parse(args)

	secret, err := helpers.HexToBytes(*secretHex)
	if err != nil || len(secret) == 0 {
		return fmt.Errorf("%w: secret must be non-empty hex", swap.ErrInvalidSecret)
	}
	provider, err := a.swapProvider()
	if err != nil {
		return err
	}

	if *dryRun {
		tx, err := provider.BuildClaim(ctx, *initTxID, *recipient, *refund, secret, *expiration)
		if err != nil {
			return err
		}
		rawHex, err := swap.SerializeTxHex(tx)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{
			"txid":  tx.TxHash().String(),
			"value": tx.TxOut[0].Value,
			"hex":   rawHex,
		})
	}

	txid, err := provider.ClaimSwap(ctx, *initTxID, *recipient, *refund, secret, *expiration)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"txid": txid})
}

func runRefund(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("refund")
	initTxID := fs.String("init-txid", "", "Initiation transaction id")
	sf := addSwapFlags(fs)
	fs.Parse(args)

	p, err := sf.params(false)
	if err != nil {
		return err
	}
	provider, err := a.swapProvider()
	if err != nil {
		return err
	}
	txid, err := provider.RefundSwap(ctx, *initTxID, p.RecipientAddress, p.RefundAddress, p.SecretHash, p.Expiration)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"txid": txid})
}

func runVerify(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("verify")
	txid := fs.String("txid", "", "Transaction to check")
	sf := addSwapFlags(fs)
	fs.Parse(args)

	p, err := sf.params(true)
	if err != nil {
		return err
	}
	provider, err := a.swapProvider()
	if err != nil {
		return err
	}
	ok, err := provider.VerifyInitiateSwapTransaction(ctx, *txid, p)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"txid": *txid, "valid": ok})
}

func runFindInitiate(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("find-initiate")
	sf := addSwapFlags(fs)
	fs.Parse(args)

	p, err := sf.params(true)
	if err != nil {
		return err
	}
	provider, err := a.swapProvider()
	if err != nil {
		return err
	}

	a.log.Info("Scanning for initiation", "value", p.Value, "expiration", p.Expiration)
	res, err := provider.FindInitiateSwapTransaction(ctx, p)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"txid":   res.Tx.TxHash().String(),
		"height": res.Height,
		"block":  res.BlockHash.String(),
	})
}

func runFindClaim(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("find-claim")
	initTxID := fs.String("init-txid", "", "Initiation transaction id")
	sf := addSwapFlags(fs)
	fs.Parse(args)

	// The value only disambiguates outputs paying the same script.
	params, err := sf.params(false)
	if err != nil {
		return err
	}
	provider, err := a.swapProvider()
	if err != nil {
		return err
	}

	a.log.Info("Scanning for claim", "initiation", *initTxID)
	found, err := provider.FindClaimSwapTransaction(ctx, *initTxID, params)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"txid":   found.Tx.TxHash().String(),
		"height": found.Height,
		"secret": hex.EncodeToString(found.Secret),
	})
}

func runSecret(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("secret")
	txid := fs.String("txid", "", "Claim transaction id")
	fs.Parse(args)

	provider, err := a.swapProvider()
	if err != nil {
		return err
	}
	secret, err := provider.GetSwapSecret(ctx, *txid)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{
		"secret":      hex.EncodeToString(secret),
		"secret_hash": hex.EncodeToString(swap.HashSecret(secret)),
	})
}

func runAdd(_ context.Context, a *app, args []string) error {
	fs := newFlagSet("add")
	sf := addSwapFlags(fs)
	fs.Parse(args)

	params, err := a.chainParams()
	if err != nil {
		return err
	}
	p, err := sf.params(true)
	if err != nil {
		return err
	}
	address, err := swap.DepositAddress(p, params.ChainConfig())
	if err != nil {
		return err
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	rec := &storage.Swap{
		Chain:            params.Symbol,
		Network:          string(a.cfg.Network),
		Value:            p.Value,
		RecipientAddress: p.RecipientAddress,
		RefundAddress:    p.RefundAddress,
		SecretHash:       hex.EncodeToString(p.SecretHash),
		Expiration:       p.Expiration,
	}
	if err := store.CreateSwap(rec); err != nil {
		return err
	}
	a.log.Info("Swap stored", "id", rec.ID, "address", address)

	view := newSwapView(rec)
	view.Address = address
	return printJSON(view)
}

func runList(_ context.Context, a *app, args []string) error {
	fs := newFlagSet("list")
	status := fs.String("status", "", "Only list these statuses (comma-separated)")
	fs.Parse(args)

	store, err := a.openStore()
	if err != nil {
		return err
	}
	recs, err := store.ListSwaps(parseStatuses(*status)...)
	if err != nil {
		return err
	}

	views := make([]*swapView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, newSwapView(rec))
	}
	return printJSON(views)
}

func runWatch(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("watch")
	rescan := fs.Duration("rescan", time.Minute, "How often to pick up newly added swaps")
	fs.Parse(args)

	provider, err := a.swapProvider()
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}

	watcher := swap.NewWatcher(provider, store)
	network := string(a.cfg.Network)

	load := func() error {
		recs, err := store.ListSwaps(storage.SwapStatusWatching, storage.SwapStatusInitiated)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if rec.Chain == a.params.Symbol && rec.Network == network {
				watcher.Start(ctx, rec)
			}
		}
		return nil
	}

	if err := load(); err != nil {
		return err
	}
	a.log.Info("Watching swaps", "chain", a.params.Symbol, "network", network, "active", watcher.Running())

	ticker := time.NewTicker(*rescan)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.log.Info("Shutting down...", "active", watcher.Running())
			watcher.Wait()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := load(); err != nil {
				a.log.Warn("Failed to load swaps", "error", err)
			}
		}
	}
}

// swapView is the JSON form of a stored swap.
type swapView struct {
	ID         string `json:"id"`
	Chain      string `json:"chain"`
	Network    string `json:"network"`
	Status     string `json:"status"`
	Value      int64  `json:"value"`
	Recipient  string `json:"recipient"`
	Refund     string `json:"refund"`
	SecretHash string `json:"secret_hash"`
	Expiration int64  `json:"expiration"`
	Address    string `json:"address,omitempty"`

	InitiationTxID   string `json:"initiation_txid,omitempty"`
	InitiationHeight int64  `json:"initiation_height,omitempty"`
	ClaimTxID        string `json:"claim_txid,omitempty"`
	ClaimHeight      int64  `json:"claim_height,omitempty"`
	Secret           string `json:"secret,omitempty"`
	LastError        string `json:"last_error,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

func newSwapView(rec *storage.Swap) *swapView {
	return &swapView{
		ID:               rec.ID,
		Chain:            rec.Chain,
		Network:          rec.Network,
		Status:           string(rec.Status),
		Value:            rec.Value,
		Recipient:        rec.RecipientAddress,
		Refund:           rec.RefundAddress,
		SecretHash:       rec.SecretHash,
		Expiration:       rec.Expiration,
		InitiationTxID:   rec.InitiationTxID,
		InitiationHeight: rec.InitiationHeight,
		ClaimTxID:        rec.ClaimTxID,
		ClaimHeight:      rec.ClaimHeight,
		Secret:           rec.Secret,
		LastError:        rec.LastError,
		UpdatedAt:        rec.UpdatedAt,
	}
}
