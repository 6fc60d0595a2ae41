package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/perpgate/params"
	"github.com/uhyunpark/perpgate/pkg/api"
	"github.com/uhyunpark/perpgate/pkg/crypto"
	"github.com/uhyunpark/perpgate/pkg/gateway"
	"github.com/uhyunpark/perpgate/pkg/market"
	"github.com/uhyunpark/perpgate/pkg/storage"
	"github.com/uhyunpark/perpgate/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	kp, err := loadKeypair(sugar)
	if err != nil {
		sugar.Fatalw("keypair_load_failed", "err", err)
	}
	defer kp.Wipe()

	// ---- Storage ----
	journal, err := storage.Open(cfg.Storage.JournalPath)
	if err != nil {
		sugar.Fatalw("journal_open_failed", "path", cfg.Storage.JournalPath, "err", err)
	}
	defer journal.Close()

	registry := market.NewRegistry()
	if cfg.Storage.AssetsFile != "" {
		if err := registry.LoadFile(cfg.Storage.AssetsFile); err != nil {
			sugar.Fatalw("assets_load_failed", "path", cfg.Storage.AssetsFile, "err", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Gateway ----
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	gw, err := gateway.Dial(dialCtx, cfg.GatewayConfig(), kp, gateway.Options{
		Journal:  journal,
		Registry: registry,
		Logger:   sugar.Named("gateway"),
	})
	cancel()
	if err != nil {
		sugar.Fatalw("gateway_dial_failed", "err", err)
	}

	// outcomes left unknown by a previous run must be reconciled by the operator
	if unresolved, err := gw.UnresolvedSubmissions(); err != nil {
		sugar.Warnw("journal_scan_failed", "err", err)
	} else {
		for _, rec := range unresolved {
			sugar.Warnw("submission_unresolved",
				"correlation_id", rec.CorrelationID,
				"kind", rec.Kind,
				"market_id", rec.Labels["market_id"],
				"created_at", rec.CreatedAt,
			)
		}
	}

	if cfg.Storage.EventLogPath != "" {
		events, err := storage.NewEventLog(cfg.Storage.EventLogPath)
		if err != nil {
			sugar.Fatalw("event_log_open_failed", "path", cfg.Storage.EventLogPath, "err", err)
		}
		defer events.Close()
		gw.Subscribe(func(ev gateway.Event) {
			if err := events.Append(ev); err != nil {
				sugar.Warnw("event_log_write_failed", "correlation_id", ev.CorrelationID, "err", err)
			}
		})
		sugar.Infow("event_log", "path", cfg.Storage.EventLogPath)
	}

	// ---- API ----
	server := api.NewServer(gw, sugar.Named("api"))
	server.AllowedOrigins = cfg.Node.AllowedOrigins

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx, cfg.Node.APIAddr) }()

	select {
	case <-ctx.Done():
		sugar.Info("shutdown_requested")
	case err := <-errCh:
		if err != nil {
			sugar.Errorw("api_failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
	sugar.Info("gateway_stopped")
}

// loadKeypair reads the signing key from the environment.
// GATEWAY_SECRET_KEY is a base58 seed; GATEWAY_KEYPAIR_FILE is a JSON array of 64 bytes.
// A throwaway key is generated only when GATEWAY_DEV_KEY=true.
func loadKeypair(log *zap.SugaredLogger) (*crypto.Keypair, error) {
	if secret := os.Getenv("GATEWAY_SECRET_KEY"); secret != "" {
		os.Unsetenv("GATEWAY_SECRET_KEY")
		return crypto.FromBase58Secret(secret)
	}
	if path := os.Getenv("GATEWAY_KEYPAIR_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return crypto.FromJSONArray(string(data))
	}
	if os.Getenv("GATEWAY_DEV_KEY") == "true" {
		kp, err := crypto.Generate()
		if err != nil {
			return nil, err
		}
		log.Warnw("dev_key_generated", "owner", kp.PublicString())
		return kp, nil
	}
	return nil, errors.New("no key: set GATEWAY_SECRET_KEY or GATEWAY_KEYPAIR_FILE (GATEWAY_DEV_KEY=true for a throwaway key)")
}
