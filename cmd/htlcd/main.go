// Package main provides htlcd, a command line tool for HTLC atomic swaps on
// UTXO chains.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/config"
	"github.com/klingon-exchange/klingon-htlc/internal/storage"
	"github.com/klingon-exchange/klingon-htlc/internal/swap"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

// command is one htlcd subcommand.
type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"new-secret":    {"generate a random secret and its hash", runNewSecret},
	"script":        {"print the redeem script and deposit address", runScript},
	"address":       {"print the deposit address", runAddress},
	"audit":         {"decode a redeem script", runAudit},
	"initiate":      {"fund the deposit address from the wallet", runInitiate},
	"claim":         {"claim a funded swap with its secret", runClaim},
	"refund":        {"refund a funded swap", runRefund},
	"verify":        {"check that a transaction funds a swap", runVerify},
	"find-initiate": {"scan for the transaction funding a swap", runFindInitiate},
	"find-claim":    {"scan for the claim of a swap and print its secret", runFindClaim},
	"secret":        {"extract the secret from a claim transaction", runSecret},
	"add":           {"store a swap for the watcher", runAdd},
	"list":          {"list stored swaps", runList},
	"watch":         {"follow stored swaps until their secrets are revealed", runWatch},
}

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.klingon-htlc", "Data directory")
		network     = flag.String("network", "", "Network (mainnet, testnet, regtest), overrides config")
		chainSymbol = flag.String("chain", "", "Chain symbol (BTC, LTC, DOGE), overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Usage = usage
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{Level: "info", TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		fmt.Printf("htlcd %s (commit: %s)\n", version, commit)
		return
	}

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	name := flag.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	cfg.Storage.DataDir = *dataDir
	if *network != "" {
		cfg.Network = chain.Network(*network)
	}
	if *chainSymbol != "" {
		cfg.Chain = *chainSymbol
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid config", "error", err)
	}

	log = logging.New(&cfg.Logging)
	logging.SetDefault(log)
	log.Debug("Config loaded", "path", config.ConfigPath(*dataDir), "network", cfg.Network, "chain", cfg.Chain)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, log: log}
	defer a.close()

	if err := cmd.run(ctx, a, flag.Args()[1:]); err != nil {
		a.close()
		log.Fatal("Command failed", "command", name, "error", err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: htlcd [flags] <command> [command flags]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-14s %s\n", name, commands[name].usage)
	}
	fmt.Fprintf(os.Stderr, "\nFlags:\n")
	flag.PrintDefaults()
}

// app holds what the commands share. Backends and storage are opened on
// first use so offline commands never touch the network or the database.
type app struct {
	cfg *config.Config
	log *logging.Logger

	params   *chain.Params
	client   backend.ChainClient
	provider *swap.Provider
	store    *storage.Storage
}

func (a *app) chainParams() (*chain.Params, error) {
	if a.params == nil {
		params, err := a.cfg.ChainParams()
		if err != nil {
			return nil, err
		}
		a.params = params
	}
	return a.params, nil
}

// swapProvider connects to the configured backend.
func (a *app) swapProvider() (*swap.Provider, error) {
	if a.provider != nil {
		return a.provider, nil
	}
	params, err := a.chainParams()
	if err != nil {
		return nil, err
	}

	beCfg := a.cfg.GetBackendConfig(params.Symbol)
	if beCfg == nil {
		return nil, fmt.Errorf("no backend configured for %s on %s", params.Symbol, a.cfg.Network)
	}
	client, wallet, err := backend.New(beCfg, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}
	a.client = client
	a.log.Debug("Backend connected", "type", beCfg.Type, "url", beCfg.URL)

	scanLog := a.log.Component("scanner")
	provider, err := swap.NewProvider(&swap.ProviderConfig{
		Client:       client,
		Wallet:       wallet,
		Chain:        params,
		ScanInterval: a.cfg.Scanner.Interval,
		Backoff:      scanBackoff(a.cfg.Scanner),
		OnRetry: func(ev swap.RetryEvent) {
			if ev.Attempt > 1 && ev.Attempt%10 == 0 {
				scanLog.Info("Still waiting", "height", ev.Height, "attempts", ev.Attempt)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	a.provider = provider
	return provider, nil
}

func (a *app) openStore() (*storage.Storage, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := storage.New(&storage.Config{DataDir: a.cfg.Storage.DataDir})
	if err != nil {
		return nil, err
	}
	a.store = store
	a.log.Debug("Storage opened", "path", store.Path())
	return store, nil
}

func (a *app) close() {
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
}

func scanBackoff(cfg config.ScannerConfig) *swap.Backoff {
	if cfg.BackoffMultiplier <= 1 {
		return nil
	}
	return &swap.Backoff{Multiplier: cfg.BackoffMultiplier, Max: cfg.MaxBackoff}
}

// parseStatuses splits a comma-separated status list.
func parseStatuses(s string) []storage.SwapStatus {
	var out []storage.SwapStatus
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, storage.SwapStatus(strings.ToLower(part)))
		}
	}
	return out
}
