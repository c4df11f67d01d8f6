package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"walletd/config"
	"walletd/gateway"
	"walletd/observability/logging"
	"walletd/rpc"
	"walletd/storage"
	"walletd/wallet"
	"walletd/wallet/approval"
	"walletd/walletconnect"
)

const (
	uiTokenEnv         = "WALLETD_UI_TOKEN"
	selectedAccountEnv = "WALLETD_SELECTED_ACCOUNT"

	rpcShutdownTimeout = 5 * time.Second
)

func main() {
	configFile := flag.String("config", "./walletd.toml", "Path to the configuration file")
	pairURI := flag.String("pair", "", "WalletConnect pairing URI to connect on startup")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("WALLETD_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("walletd", env, logging.Options{FilePath: cfg.LogFile})

	networks := make([]wallet.Network, 0, len(cfg.Networks))
	for _, entry := range cfg.Networks {
		networks = append(networks, wallet.Network{
			Name:    entry.Name,
			ChainID: entry.ChainID,
			RPCURL:  entry.RPCURL,
		})
	}
	registry, err := wallet.NewRegistry(cfg.DefaultNetwork, networks)
	if err != nil {
		logger.Error("Invalid network table", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	prefs := wallet.NewPreferences()
	if raw := strings.TrimSpace(os.Getenv(selectedAccountEnv)); raw != "" {
		if !common.IsHexAddress(raw) {
			logger.Error("Invalid selected account", slog.String("value", raw))
			os.Exit(1)
		}
		prefs.SetSelectedAccount(common.HexToAddress(raw))
	}

	resolver := wallet.NewResolver(storage.NewSelectionStore(db), registry)
	chainGateway := gateway.New(registry, logger)
	approvals := approval.NewCorrelator(logger, cfg.ApprovalTimeoutDuration())
	router := wallet.NewRouter(resolver, registry, chainGateway, approvals, prefs, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bridge := buildBridge(ctx, cfg, registry, router, logger)
	if bridge != nil {
		go bridge.Run(ctx)
		if uri := strings.TrimSpace(*pairURI); uri != "" {
			if err := bridge.Pair(ctx, uri); err != nil {
				logger.Error("Pairing failed", slog.Any("error", err))
			}
		}
	}

	server := rpc.NewServer(router, os.Getenv(uiTokenEnv), logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ListenAddress)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("RPC server failed", slog.Any("error", err))
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), rpcShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Shutdown incomplete", slog.Any("error", err))
		}
	}
}

func buildBridge(ctx context.Context, cfg *config.Config, registry *wallet.Registry, router *wallet.Router, logger *slog.Logger) *walletconnect.Bridge {
	meta := walletconnect.PeerMeta{
		Name:        cfg.WalletConnect.Name,
		Description: cfg.WalletConnect.Description,
		URL:         cfg.WalletConnect.URL,
	}
	v1 := walletconnect.NewLegacyAdapter(meta, registry.Default().ChainID, logger)

	var v2 *walletconnect.V2Adapter
	relayURL := strings.TrimSpace(cfg.WalletConnect.RelayURL)
	if relayURL != "" {
		if cfg.WalletConnect.ProjectID != "" {
			relayURL = relayURL + "?projectId=" + cfg.WalletConnect.ProjectID
		}
		transport, err := walletconnect.DialRelay(ctx, relayURL, logger)
		if err != nil {
			logger.Warn("WalletConnect relay unreachable, v2 disabled", slog.Any("error", err))
		} else {
			v2 = walletconnect.NewV2Adapter(transport, meta, logger)
		}
	}
	return walletconnect.NewBridge(router, v1, v2, logger)
}
