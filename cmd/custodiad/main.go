package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"custodia/internal/config"
	"custodia/internal/infra/auditpolicy"
	"custodia/internal/infra/blobstore"
	"custodia/internal/infra/db"
	httpinfra "custodia/internal/infra/http"
	"custodia/internal/infra/ledgermem"
	"custodia/internal/infra/notify"
	"custodia/internal/infra/policyopa"
	"custodia/internal/infra/ratelimit"
	"custodia/internal/usecase"
	"custodia/internal/workers/assembly"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.FromEnv()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("custodiad exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	clock := clockwork.NewRealClock()

	store, err := db.NewStore(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	var (
		blocks    usecase.BlockStore
		custodies usecase.CustodyStore
	)
	storeMode := "memory"
	if store.Enabled() {
		blocks = db.NewBlockRepository(store.DB)
		custodies = db.NewCustodyRepository(store.DB)
		storeMode = "db"
	} else {
		blocks = ledgermem.NewBlockStore()
		custodies = ledgermem.NewCustodyStore()
	}

	ledger := usecase.NewLedger(blocks, clock)
	head, err := ledger.Init(ctx)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	logger.Info("ledger ready", "store", storeMode, "height", head.Height, "head", head.BlockHash)

	policy, err := auditpolicy.Load(cfg.AuditPolicyPath)
	if err != nil {
		return err
	}
	if cfg.AuditThreshold > 0 {
		policy.Threshold = cfg.AuditThreshold
	}
	evaluator, err := loadPolicyEngine(ctx, cfg.OPAPolicyPath)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
		}
	}

	bus := usecase.NewEventBus(logger)
	custody := usecase.NewCustodyLog(custodies, ledger, bus, clock, logger)
	bus.Subscribe(custody.OnCommitted)
	if redisClient != nil {
		n, err := notify.NewRedis(redisClient, cfg.NotifyChannel)
		if err != nil {
			return err
		}
		bus.Forward(n)
	} else {
		bus.Forward(notify.NewLog(logger))
	}

	pool := usecase.NewTxPool(usecase.PoolConfig{
		Capacity:    cfg.PoolCapacity,
		MaxAttempts: cfg.AssemblyMaxAttempts,
	}, ledger, clock)
	assembler := usecase.NewBlockAssembler(usecase.AssemblerConfig{
		BatchSize: cfg.BatchSize,
		MaxWait:   cfg.BatchMaxWait(),
		Policy:    policy,
	}, pool, ledger, usecase.NewAuditor(ledger, evaluator), bus, clock, logger)

	svc := &usecase.EvidenceLedger{
		Pool:      pool,
		Ledger:    ledger,
		Assembler: assembler,
		Custody:   custody,
		Clock:     clock,
		Logger:    logger,
	}
	if cfg.BlobDir != "" {
		fsStore, err := blobstore.NewFS(cfg.BlobDir)
		if err != nil {
			return err
		}
		svc.Blobs = fsStore
	} else {
		svc.Blobs = blobstore.NewMemory()
	}

	deps := httpinfra.ServerDeps{Ledger: svc, Clock: clock, Logger: logger, StoreMode: storeMode}
	if cfg.RateLimitRequests > 0 {
		if redisClient != nil {
			limiter, err := ratelimit.NewRedis(redisClient, "custodia:ratelimit:", clock)
			if err != nil {
				return err
			}
			deps.RateLimiter = limiter
		} else {
			deps.RateLimiter = ratelimit.NewMemory(clock, cfg.RateLimitMaxKeys)
		}
	}

	runner := assembly.NewRunner(assembler, pool.Notify(), cfg.AssemblyInterval(), clock, logger)
	go runner.Run(ctx)

	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := httpinfra.NewServer(cfg, deps)
	logger.Info("listening", "addr", cfg.HTTPAddr, "auth_mode", cfg.AuthMode, "audit_threshold", policy.Threshold)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// loadPolicyEngine returns nil when no policy is configured. "builtin"
// selects the policy compiled into the binary.
func loadPolicyEngine(ctx context.Context, path string) (usecase.PolicyEvaluator, error) {
	switch strings.TrimSpace(path) {
	case "":
		return nil, nil
	case "builtin":
		engine, err := policyopa.NewDefaultEngine(ctx)
		if err != nil {
			return nil, fmt.Errorf("load builtin policy: %w", err)
		}
		return engine, nil
	default:
		engine, err := policyopa.NewEngineFromPath(ctx, path, "")
		if err != nil {
			return nil, fmt.Errorf("load policy %s: %w", path, err)
		}
		return engine, nil
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("service", "custodiad")
}
