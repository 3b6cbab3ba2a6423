package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swapnet/core/state"
	"swapnet/crypto"
	"swapnet/gateway/auth"
	"swapnet/gateway/middleware"
	"swapnet/native/fusion"
	"swapnet/native/htlc"
	"swapnet/observability/logging"
	"swapnet/observability/otel"
	"swapnet/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "swap-gateway.toml", "path to the gateway configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		logging.Setup("swap-gateway", "dev").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("swap-gateway", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "swap-gateway",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     otel.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			logger.Error("init telemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", "error", err)
			}
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open ledger database", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	manager := state.NewManager(db)

	store, err := NewStore(cfg.ReceiptsPath)
	if err != nil {
		logger.Error("open receipt store", "path", cfg.ReceiptsPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	emitter := newHistoryEmitter(store, logger)

	minSafety, err := parsePolicyAmount(cfg.Policy.MinSafetyDeposit)
	if err != nil {
		logger.Error("parse policy", "error", err)
		os.Exit(1)
	}
	minOrder, err := parsePolicyAmount(cfg.Policy.MinOrderDeposit)
	if err != nil {
		logger.Error("parse policy", "error", err)
		os.Exit(1)
	}

	escrowEngine := htlc.NewEngine(htlc.Policy{
		MinSafetyDeposit: minSafety,
		FinalityPeriod:   cfg.Policy.FinalityPeriodSeconds,
	})
	escrowEngine.SetState(manager)
	escrowEngine.SetPauses(manager)
	escrowEngine.SetEmitter(emitter)
	if len(cfg.CreatorAllowlist) > 0 {
		gate := htlc.NewCreationGate()
		for _, raw := range cfg.CreatorAllowlist {
			decoded, err := crypto.DecodeAddress(raw)
			if err != nil {
				logger.Error("decode allowlist address", "address", raw, "error", err)
				os.Exit(1)
			}
			var addr [20]byte
			copy(addr[:], decoded.Bytes())
			gate.Allow(addr)
		}
		escrowEngine.SetCreationGate(gate)
	}

	orderEngine := fusion.NewEngine(fusion.Policy{MinOrderDeposit: minOrder})
	orderEngine.SetState(manager)
	orderEngine.SetPauses(manager)
	orderEngine.SetEmitter(emitter)

	nonceStore, err := auth.NewLevelDBNoncePersistence(cfg.NonceDBPath)
	if err != nil {
		logger.Error("open nonce store", "path", cfg.NonceDBPath, "error", err)
		os.Exit(1)
	}
	defer nonceStore.Close()

	authenticator := auth.NewAuthenticator(cfg.Secrets(), cfg.timestampSkew, cfg.nonceTTL, cfg.NonceCapacity, nil, nonceStore)
	if err := authenticator.HydrateNonces(ctx, time.Now().Add(-cfg.nonceTTL)); err != nil {
		logger.Error("hydrate nonces", "error", err)
		os.Exit(1)
	}

	var bearer *middleware.Authenticator
	if cfg.JWT.Enabled {
		bearer = middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: cfg.JWT.Secret,
			Issuer:     cfg.JWT.Issuer,
			Audience:   cfg.JWT.Audience,
		}, logger)
	}

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for key, limit := range cfg.RateLimits {
		limits[key] = middleware.RateLimit{
			RequestsPerMinute: limit.RequestsPerMinute,
			Burst:             limit.Burst,
		}
	}
	limiter := middleware.NewRateLimiter(limits)

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "swap-gateway",
		LogRequests: cfg.LogRequests,
		Enabled:     true,
	}, logger)

	server := NewServer(ServerConfig{
		Authenticator: authenticator,
		Bearer:        bearer,
		Limiter:       limiter,
		Observability: obs,
		Escrows:       escrowEngine,
		Orders:        orderEngine,
		Store:         store,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("swap gateway listening", "address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down swap gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
}
