package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tabsplit/config"
	"tabsplit/crypto"
	"tabsplit/history"
	"tabsplit/native/loyalty"
	"tabsplit/native/rates"
	"tabsplit/native/settlement"
	"tabsplit/native/split"
	"tabsplit/observability/logging"
	"tabsplit/rpc"
	"tabsplit/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TAB_ENV"))
	logger := logging.Setup("tabsplitd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "db"))
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	signerKey, err := crypto.EnsureKeyFile(cfg.SignerKeyFile)
	if err != nil {
		logger.Error("Failed to load signer key", slog.Any("error", err))
		os.Exit(1)
	}

	recipient := strings.TrimSpace(cfg.Recipient)
	if recipient == "" {
		// Demo deployments settle against the signer's own address.
		recipient = signerKey.PubKey().Address().String()
		logger.Warn("No recipient configured, settling to signer address", slog.String("recipient", recipient))
	}

	oracle, err := buildOracle(cfg)
	if err != nil {
		logger.Error("Failed to build rate source", slog.Any("error", err))
		os.Exit(1)
	}

	ledger := split.NewEngine(cfg.Quorum)
	store := history.NewStore(db)
	counter := loyalty.NewCounter(db)

	settler := settlement.NewEngine()
	settler.SetSession(ledger)
	settler.SetOracle(oracle)
	settler.SetSigner(settlement.NewLocalSigner(signerKey))
	settler.SetBroadcaster(buildBroadcaster(cfg))
	settler.SetRecorder(store)
	settler.SetRewards(counter)
	settler.SetRecipient(recipient)
	settler.SetRestaurant(cfg.Restaurant)
	settler.SetAsset(cfg.AssetSymbol, cfg.AssetDecimals)
	settler.SetFiatCurrency(cfg.FiatCurrency)
	settler.SetConfirmTimeout(time.Duration(cfg.ConfirmTimeout) * time.Second)

	if cfg.SeedHistory {
		if err := store.Seed(seedRecords()); err != nil {
			logger.Error("Failed to seed history", slog.Any("error", err))
			os.Exit(1)
		}
	}

	server := rpc.NewServer(ledger, settler, store, counter, logger)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Coordinator listening",
			slog.String("address", cfg.RPCAddress),
			slog.String("asset", cfg.AssetSymbol),
			slog.Uint64("quorum", uint64(cfg.Quorum)),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown incomplete", slog.Any("error", err))
	}
}

func buildOracle(cfg *config.Config) (rates.PriceOracle, error) {
	switch cfg.RateSource {
	case config.RateSourceManual:
		// Manual quotes never age out; the freshness window only guards
		// live sources.
		manual := rates.NewManualOracle()
		if err := manual.SetDecimal(cfg.FiatCurrency, cfg.AssetSymbol, cfg.ManualRate); err != nil {
			return nil, err
		}
		return manual, nil
	case config.RateSourceCoinGecko:
		aggregator := rates.NewAggregator(time.Duration(cfg.RateMaxAgeSeconds) * time.Second)
		aggregator.Register("coingecko", rates.NewCoinGeckoOracle(nil, cfg.CoinGeckoEndpoint, cfg.CoinGeckoAssetIDs))
		return aggregator, nil
	default:
		return nil, fmt.Errorf("unknown rate source %q", cfg.RateSource)
	}
}

func buildBroadcaster(cfg *config.Config) settlement.Broadcaster {
	if cfg.BroadcastMode == config.BroadcastModeHTTP {
		return settlement.NewHTTPBroadcaster(nil, cfg.BroadcastEndpoint, 2*time.Second)
	}
	return settlement.NewLocalBroadcaster(500 * time.Millisecond)
}

// seedRecords prefills an empty history with the pilot deployment's past
// payments so the home screen is not blank on first run.
func seedRecords() []history.Record {
	return []history.Record{
		{
			ID:           "seed-3",
			Timestamp:    time.Date(2025, time.March, 10, 19, 12, 0, 0, time.UTC).Unix(),
			Restaurant:   "Blockchain Bistro",
			AmountCents:  6750,
			Participants: 1,
			Status:       history.StatusCompleted,
			TxRef:        "9JmN4zXqLpS7vBtHgK2rDyWmP1Zx8p",
		},
		{
			ID:           "seed-2",
			Timestamp:    time.Date(2025, time.March, 15, 20, 30, 0, 0, time.UTC).Unix(),
			Restaurant:   "Web3 Diner",
			AmountCents:  4220,
			Participants: 1,
			Status:       history.StatusCompleted,
			TxRef:        "2KpL8nQxRfP9BzTw5H3mVJyDcL7Rt3v",
		},
		{
			ID:           "seed-1",
			Timestamp:    time.Date(2025, time.March, 18, 18, 45, 0, 0, time.UTC).Unix(),
			Restaurant:   "Crypto Cafe",
			AmountCents:  3575,
			Participants: 1,
			Status:       history.StatusCompleted,
			TxRef:        "5UxV7KpDLM8HG6vJ2CwbWCsR4QvMFY3Qe9h",
		},
	}
}
