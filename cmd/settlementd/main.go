// Command settlementd serves the play-economy settlement engine over HTTP.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/settlement_layer/internal/app/httpapi"
	"github.com/R3E-Network/settlement_layer/internal/app/services/reconcile"
	"github.com/R3E-Network/settlement_layer/internal/app/services/settlement"
	"github.com/R3E-Network/settlement_layer/internal/app/services/verifier"
	"github.com/R3E-Network/settlement_layer/internal/app/storage"
	"github.com/R3E-Network/settlement_layer/internal/app/storage/memory"
	"github.com/R3E-Network/settlement_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/settlement_layer/internal/app/storage/redis"
	"github.com/R3E-Network/settlement_layer/internal/chain"
	"github.com/R3E-Network/settlement_layer/internal/config"
	"github.com/R3E-Network/settlement_layer/internal/logging"
	"github.com/R3E-Network/settlement_layer/internal/middleware"
	"github.com/R3E-Network/settlement_layer/internal/platform/migrations"
)

func main() {
	addr := flag.String("addr", "", "Listen address (overrides SETTLE_ADDR)")
	economyPath := flag.String("economy", "", "Economy tables YAML (overrides ECONOMY_CONFIG)")
	skipMigrations := flag.Bool("skip-migrations", false, "Do not apply database migrations on startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.NewDefault("settlementd").Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *economyPath != "" {
		cfg.EconomyConfig = *economyPath
	}

	log := newLogger(cfg, "settlementd")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eco, err := config.LoadEconomyOrDefault(cfg.EconomyConfig)
	if err != nil {
		log.Fatalf("Failed to load economy tables: %v", err)
	}

	store, closeStore := openStore(ctx, cfg, *skipMigrations, log)
	defer closeStore()
	guard, closeGuard := openGuard(ctx, cfg, log)
	defer closeGuard()

	pv := verifier.New(verifierConfig(cfg, log), store, newLogger(cfg, "verifier"))

	epoch, _ := cfg.Epoch()
	svc, err := settlement.New(store, guard, pv, eco, settlement.Options{
		Cluster:       cfg.LedgerCluster(),
		InitPrice:     cfg.InitPriceSOL,
		PaymentMaxAge: cfg.PaymentMaxAge(),
		ClaimEpoch:    epoch,
		GuardTTL:      2 * cfg.VerifyTimeout,
	}, newLogger(cfg, "settlement"))
	if err != nil {
		log.Fatalf("Failed to create settlement service: %v", err)
	}

	job, err := reconcile.New(store, cfg.ReconcileSchedule, newLogger(cfg, "reconcile"))
	if err != nil {
		log.Fatalf("Failed to create reconciliation job: %v", err)
	}
	if err := job.Start(ctx); err != nil {
		log.Fatalf("Failed to start reconciliation job: %v", err)
	}

	var limiter *middleware.RateLimiter
	stopCleanup := make(chan struct{})
	if cfg.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(int(cfg.RateLimitRPS), cfg.RateLimitBurst, log)
		go limiter.StartCleanup(time.Minute, stopCleanup)
	}

	handler, closeAudit, err := httpapi.NewHandler(svc, httpapi.Options{
		Log:          log,
		RateLimiter:  limiter,
		CORSOrigins:  cfg.Origins(),
		AuditLogPath: cfg.AuditLogPath,
	})
	if err != nil {
		log.Fatalf("Failed to create HTTP handler: %v", err)
	}
	defer closeAudit()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// verify-payment may poll the ledger for up to VERIFY_TIMEOUT.
		WriteTimeout: cfg.VerifyTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).
			WithField("cluster", cfg.LedgerCluster()).
			WithField("mock_payments", cfg.AllowMockPayments).
			Info("settlement API listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown error")
	}
	close(stopCleanup)
	if err := job.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("reconciliation stop error")
	}
	log.Info("settlementd stopped")
}

func newLogger(cfg config.Config, service string) *logging.Logger {
	return logging.New(logging.Config{Service: service, Level: cfg.LogLevel, Format: cfg.LogFormat})
}

func openStore(ctx context.Context, cfg config.Config, skipMigrations bool, log *logging.Logger) (storage.Store, func()) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; using in-memory storage")
		return memory.New(), func() {}
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	if !skipMigrations {
		if err := migrations.Up(db); err != nil {
			log.Fatalf("Failed to apply migrations: %v", err)
		}
	}
	return postgres.New(db), func() { _ = db.Close() }
}

func openGuard(ctx context.Context, cfg config.Config, log *logging.Logger) (storage.InFlightGuard, func()) {
	if cfg.RedisAddr == "" {
		return memory.NewGuard(), func() {}
	}
	client, err := redis.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, 0)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	return redis.NewGuard(client, ""), func() { _ = client.Close() }
}

// verifierConfig builds one ledger client per configured cluster. Devnet always
// has the public endpoint as a fallback.
func verifierConfig(cfg config.Config, log *logging.Logger) verifier.Config {
	vc := verifier.Config{
		Clients:    make(map[chain.Cluster]verifier.LedgerClient),
		Treasuries: make(map[chain.Cluster]string),
		AllowMock:  cfg.AllowMockPayments,
		Timeout:    cfg.VerifyTimeout,
	}
	for _, cluster := range []chain.Cluster{chain.ClusterDevnet, chain.ClusterMainnet} {
		url := cfg.RPCURL(cluster)
		if url == "" {
			continue
		}
		cc := chain.Config{
			RPCURL:       url,
			Timeout:      15 * time.Second,
			MaxRetries:   3,
			Commitment:   "confirmed",
			PollInterval: cfg.VerifyPollInterval,
		}
		if cluster == chain.ClusterDevnet && url != chain.PublicDevnetRPC {
			cc.FallbackURLs = []string{chain.PublicDevnetRPC}
		}
		client, err := chain.NewClient(cc)
		if err != nil {
			log.Fatalf("Failed to create %s ledger client: %v", cluster, err)
		}
		vc.Clients[cluster] = client
		if treasury := cfg.Treasury(cluster); treasury != "" {
			vc.Treasuries[cluster] = treasury
		}
	}
	return vc
}
