// Package main provides the harbord daemon - deposit custody, monitoring
// and sweep consolidation for the supported networks.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/coinharbor/harbor/internal/chain"
	"github.com/coinharbor/harbor/internal/config"
	"github.com/coinharbor/harbor/internal/custody"
	"github.com/coinharbor/harbor/internal/explorer"
	"github.com/coinharbor/harbor/internal/monitor"
	"github.com/coinharbor/harbor/internal/pricing"
	"github.com/coinharbor/harbor/internal/rpc"
	"github.com/coinharbor/harbor/internal/storage"
	"github.com/coinharbor/harbor/internal/sweep"
	"github.com/coinharbor/harbor/internal/wallet"
	"github.com/coinharbor/harbor/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.harbor", "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		envFile     = flag.String("env", "", "Optional .env file with secrets")
		apiAddr     = flag.String("api", "", "JSON-RPC API address, overrides config")
		recoverAddr = flag.String("recover-address", "", "Recover the key behind NETWORK:ADDRESS and exit")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("harbord %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Load secrets from .env before the config reads the environment.
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatal("Failed to load env file", "path", *envFile, "error", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfgPath := *configFile
	if cfgPath == "" {
		cfgPath = config.ConfigPath(expandPath(*dataDir))
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}
	cfg.Storage.DataDir = *dataDir
	if *apiAddr != "" {
		cfg.API.ListenAddr = *apiAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", cfgPath)

	// Storage
	store, err := storage.New(&storage.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", expandPath(cfg.Storage.DataDir))

	// Key manager. The mnemonic was validated at config load; a failure
	// here means the seed material itself is unusable.
	hdwallet, err := wallet.New(cfg.Mnemonic)
	if err != nil {
		log.Fatal("Failed to initialize wallet", "error", err)
	}
	log.Info("Wallet initialized", "networks", chain.List())

	if *recoverAddr != "" {
		recoverKey(log, hdwallet, *recoverAddr, cfg.Sweep.LookupBound)
		os.Exit(0)
	}

	// Explorer clients
	esplora := explorer.NewEsploraClient(cfg.Chains.BitcoinAPI)
	evm := explorer.NewEVMClient(cfg.Chains.EthereumRPC)
	solana := explorer.NewSolanaClient(cfg.Chains.SolanaRPC)
	tron := explorer.NewTronClient(cfg.Chains.TronAPI, cfg.Chains.TronAPIKey)

	// Chain adapters
	manager := custody.NewManager(store)
	registerAdapters(log, manager, hdwallet, esplora, evm, solana, tron, cfg)

	// Pricing
	prices := pricing.New(cfg.Pricing.APIBase, cfg.Pricing.Currency, cfg.Pricing.CacheTTL, store, log)
	prices.Start(cfg.Pricing.RefreshInterval)

	// Sweeper, deposit monitor, RPC API. The server doubles as the event
	// sink so order and sweep milestones reach WebSocket subscribers.
	sweeper := sweep.New(store, manager, cfg.Sweep.Interval, log)
	mon := monitor.New(store, manager, sweeper, cfg.Monitor, log)

	rpcServer := rpc.NewServer(store, manager, prices, sweeper, cfg.Orders)
	sweeper.SetEvents(rpcServer)
	mon.SetEvents(rpcServer)

	sweeper.Start()
	mon.Start()
	if err := rpcServer.Start(cfg.API.ListenAddr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	printBanner(log, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}
	mon.Stop()
	sweeper.Stop()
	prices.Stop()

	log.Info("Goodbye!")
}

// registerAdapters wires one adapter per supported network.
func registerAdapters(
	log *logging.Logger,
	manager *custody.Manager,
	hdwallet *wallet.Wallet,
	esplora *explorer.EsploraClient,
	evm *explorer.EVMClient,
	solana *explorer.SolanaClient,
	tron *explorer.TronClient,
	cfg *config.Config,
) {
	btc, err := custody.NewBitcoinAdapter(hdwallet, esplora, log)
	if err != nil {
		log.Fatal("Failed to create BTC adapter", "error", err)
	}
	manager.Register(btc)

	eth, err := custody.NewEthereumAdapter(hdwallet, evm, log)
	if err != nil {
		log.Fatal("Failed to create ETH adapter", "error", err)
	}
	manager.Register(eth)

	for _, code := range []string{"USDT", "USDC"} {
		token, err := custody.NewERC20Adapter(code, hdwallet, evm, cfg.Sweep.GasBufferMultiplier, log)
		if err != nil {
			log.Fatal("Failed to create token adapter", "token", code, "error", err)
		}
		manager.Register(token)
	}

	sol, err := custody.NewSolanaAdapter(hdwallet, solana, cfg.Sweep.SolanaPercent, log)
	if err != nil {
		log.Fatal("Failed to create SOL adapter", "error", err)
	}
	manager.Register(sol)

	trx, err := custody.NewTronAdapter(hdwallet, tron, log)
	if err != nil {
		log.Fatal("Failed to create TRX adapter", "error", err)
	}
	manager.Register(trx)

	log.Info("Chain adapters registered", "networks", manager.Networks())
}

// recoverKey scans derivation indices for the key behind an address and
// prints it. Offline recovery tool; the private key never leaves stdout.
func recoverKey(log *logging.Logger, hdwallet *wallet.Wallet, target string, bound uint32) {
	network, address, ok := strings.Cut(target, ":")
	if !ok {
		log.Fatal("Invalid recovery target, want NETWORK:ADDRESS", "target", target)
	}

	found, err := hdwallet.FindKeyForAddress(strings.ToUpper(network), address, bound)
	if err != nil {
		log.Fatal("Address recovery failed", "error", err)
	}

	log.Info("Key recovered",
		"network", found.Network,
		"index", found.Index,
		"address", found.Address,
		"path", found.Path,
	)
	fmt.Println(found.PrivateKeyHex)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, cfg *config.Config) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  Harbor Custody Daemon")
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", cfg.API.ListenAddr)
	log.Infof("  WS:  ws://%s/ws", cfg.API.ListenAddr)
	log.Info("")
	log.Infof("  Networks: %v", chain.List())
	log.Infof("  Monitor interval: %s | Sweep interval: %s", cfg.Monitor.Interval, cfg.Sweep.Interval)
	log.Infof("  Data dir: %s", expandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
