package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/nftx/params"
	"github.com/uhyunpark/nftx/pkg/api"
	"github.com/uhyunpark/nftx/pkg/exchange/complication"
	"github.com/uhyunpark/nftx/pkg/exchange/engine"
	"github.com/uhyunpark/nftx/pkg/exchange/nonce"
	"github.com/uhyunpark/nftx/pkg/exchange/registry"
	"github.com/uhyunpark/nftx/pkg/ledger"
	"github.com/uhyunpark/nftx/pkg/storage"
	"github.com/uhyunpark/nftx/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logFile := cfg.Node.LogFile
	if logFile == "" {
		logFile = "data/node.log"
	}

	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("logger initialized", zap.String("log_file", logFile))

	// ---- Nonce persistence ----
	// Consumed nonces and cancel watermarks survive restarts; everything
	// else (orders, fulfillments) arrives signed with each request.
	store, err := storage.NewNonceStore(cfg.Node.DBPath)
	if err != nil {
		logger.Fatal("nonce store open failed", zap.String("path", cfg.Node.DBPath), zap.Error(err))
	}
	defer store.Close()

	nonces := nonce.NewLedger(store)
	used, min, err := store.Snapshot()
	if err != nil {
		logger.Fatal("nonce snapshot failed", zap.Error(err))
	}
	nonces.Restore(used, min)
	logger.Info("nonce ledger restored", zap.Int("signers", len(used)))

	// ---- Registry ----
	// The native currency is always tradable. Fungible currencies and
	// extra complications come from the environment as comma-separated
	// address lists.
	reg := registry.New()
	reg.AddCurrency(ledger.NativeCurrency)
	for _, raw := range splitAddrs(os.Getenv("EXCHANGE_CURRENCIES")) {
		reg.AddCurrency(raw)
		logger.Info("currency activated", zap.String("address", raw.Hex()))
	}

	orderbookAddr := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	if raw := os.Getenv("EXCHANGE_ORDERBOOK_ADDR"); raw != "" {
		orderbookAddr = common.HexToAddress(raw)
	}
	reg.AddComplication(orderbookAddr)

	// ---- Engine ----
	eng, err := engine.New(engine.Config{
		Address:    cfg.Exchange.Address,
		ChainID:    cfg.Exchange.ChainID,
		FeeBps:     cfg.Exchange.FeeBps,
		Registry:   reg,
		Nonces:     nonces,
		Assets:     ledger.NewMemoryAssets(),
		Currencies: ledger.NewMemoryCurrencies(),
		Clock:      util.RealClock{},
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("engine init failed", zap.Error(err))
	}
	eng.RegisterComplication(orderbookAddr, complication.NewOrderBook())

	logger.Info("engine ready",
		zap.String("address", cfg.Exchange.Address.Hex()),
		zap.Uint64("chain_id", cfg.Exchange.ChainID),
		zap.Uint64("fee_bps", cfg.Exchange.FeeBps),
		zap.String("orderbook", orderbookAddr.Hex()))

	// ---- API Server ----
	apiServer := api.NewServer(eng, logger)
	go func() {
		if err := apiServer.Start(cfg.Node.ListenAddr); err != nil {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info("shutting down")
}

// splitAddrs parses a comma-separated hex address list, skipping malformed
// entries.
func splitAddrs(raw string) []common.Address {
	var out []common.Address
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if common.IsHexAddress(part) {
			out = append(out, common.HexToAddress(part))
		}
	}
	return out
}
