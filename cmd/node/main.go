package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/ledgerdex/params"
	"github.com/uhyunpark/ledgerdex/pkg/api"
	"github.com/uhyunpark/ledgerdex/pkg/app/core"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/token"
	"github.com/uhyunpark/ledgerdex/pkg/app/dex"
	"github.com/uhyunpark/ledgerdex/pkg/crypto"
	"github.com/uhyunpark/ledgerdex/pkg/events"
	"github.com/uhyunpark/ledgerdex/pkg/storage"
	"github.com/uhyunpark/ledgerdex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	var logger *zap.Logger
	var err error
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	store, err := storage.Open(filepath.Join(cfg.Node.DataDir, "state"))
	if err != nil {
		sugar.Fatalw("storage_open_failed", "dir", cfg.Node.DataDir, "err", err)
	}

	var journal storage.Journal = storage.NewNopJournal()
	if cfg.Node.JournalFile != "" {
		fj, err := storage.NewFileJournal(cfg.Node.JournalFile)
		if err != nil {
			sugar.Fatalw("journal_open_failed", "path", cfg.Node.JournalFile, "err", err)
		}
		journal = fj
		sugar.Infow("journal_enabled", "path", cfg.Node.JournalFile)
	}

	// ---- Token backend ----
	var (
		tokens  token.Resolver
		custody common.Address
		devnet  *token.Devnet
	)
	switch cfg.Token.Backend {
	case params.BackendERC20:
		dialer, err := token.NewDialer(ctx, cfg.Token.RPCURL, cfg.Token.CustodyKey, big.NewInt(cfg.Token.ChainID))
		if err != nil {
			sugar.Fatalw("token_backend_failed", "backend", cfg.Token.Backend, "err", err)
		}
		defer dialer.Close()
		tokens, custody = dialer, dialer.Custody()
	default:
		custody = custodyAddress(cfg, sugar)
		devnet = token.NewDevnet(custody)
		tokens = devnet
	}
	sugar.Infow("token_backend", "backend", cfg.Token.Backend, "custody", custody.Hex())

	admin := custody
	if cfg.Exchange.Admin != "" {
		admin = common.HexToAddress(cfg.Exchange.Admin)
	}

	settlement, err := asset.ParseTicker(cfg.Exchange.Settlement)
	if err != nil {
		sugar.Fatalw("invalid_settlement_ticker", "ticker", cfg.Exchange.Settlement, "err", err)
	}

	// ---- App ----
	app, err := dex.New(dex.Config{
		Admin:      admin,
		Settlement: settlement,
		Tokens:     tokens,
		Store:      store,
		Journal:    journal,
		Logger:     sugar,
	})
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			sugar.Warnw("app_close_failed", "err", err)
		}
	}()

	bootstrapAssets(ctx, app, admin, cfg.Exchange.Assets, sugar)

	// ---- API Server ----
	apiCfg := api.Config{
		CORSOrigins: cfg.API.CORSOrigins,
		Domain:      crypto.DefaultDomain(cfg.Token.ChainID),
		Nonces:      store,
		Logger:      sugar,
	}
	if cfg.Node.DevFaucet && devnet != nil {
		apiCfg.Faucet = devnet
		sugar.Warn("dev_faucet_enabled")
	}
	apiServer := api.NewServer(app, apiCfg)

	// ---- Events ----
	publishers := events.Multi{apiServer.Hub()}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TradeTopic, cfg.Kafka.OrderTopic)
		defer kp.Close()
		publishers = append(publishers, kp)
		sugar.Infow("kafka_enabled", "brokers", cfg.Kafka.Brokers, "trade_topic", cfg.Kafka.TradeTopic, "order_topic", cfg.Kafka.OrderTopic)
	}
	app.SetPublisher(publishers)

	lastOrder, lastTrade := app.Sequences()
	sugar.Infow("node_starting",
		"settlement", settlement.String(),
		"admin", admin.Hex(),
		"assets", len(app.ListAssets()),
		"last_order_id", lastOrder,
		"last_trade_id", lastTrade,
		"state_hash", app.StateHash().Hex())

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start(cfg.API.Addr)
	}()

	select {
	case <-ctx.Done():
		sugar.Info("shutdown_requested")
	case err := <-errCh:
		if err != nil {
			sugar.Errorw("api_server_failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
}

// custodyAddress derives the devnet custody identity from CUSTODY_KEY, or
// generates a throwaway one
func custodyAddress(cfg params.Config, sugar *zap.SugaredLogger) common.Address {
	if cfg.Token.CustodyKey != "" {
		signer, err := crypto.FromPrivateKeyHex(cfg.Token.CustodyKey)
		if err != nil {
			sugar.Fatalw("invalid_custody_key", "err", err)
		}
		return signer.Address()
	}
	signer, err := crypto.GenerateKey()
	if err != nil {
		sugar.Fatalw("custody_key_failed", "err", err)
	}
	sugar.Warnw("ephemeral_custody_key", "address", signer.Address().Hex())
	return signer.Address()
}

// bootstrapAssets registers the ASSETS list as admin, skipping known tickers
func bootstrapAssets(ctx context.Context, app *dex.App, admin common.Address, list string, sugar *zap.SugaredLogger) {
	entries, err := params.ParseAssets(list)
	if err != nil {
		sugar.Fatalw("invalid_assets", "err", err)
	}
	for _, s := range entries {
		ticker, err := asset.ParseTicker(s.Ticker)
		if err != nil {
			sugar.Fatalw("invalid_asset_ticker", "ticker", s.Ticker, "err", err)
		}
		_, err = app.RegisterAsset(ctx, admin, ticker, s.Ref)
		switch {
		case err == nil:
			sugar.Infow("asset_bootstrapped", "ticker", s.Ticker, "ref", s.Ref.Hex())
		case errors.Is(err, core.ErrDuplicateTicker):
			// restored from storage
		default:
			sugar.Fatalw("asset_bootstrap_failed", "ticker", s.Ticker, "err", err)
		}
	}
}
