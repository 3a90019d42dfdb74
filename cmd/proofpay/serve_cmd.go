package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/proofpay/pkg/api"
	"github.com/Mindburn-Labs/proofpay/pkg/chain"
	"github.com/Mindburn-Labs/proofpay/pkg/config"
	"github.com/Mindburn-Labs/proofpay/pkg/journal"
	"github.com/Mindburn-Labs/proofpay/pkg/node"
	"github.com/Mindburn-Labs/proofpay/pkg/notify"
	"github.com/Mindburn-Labs/proofpay/pkg/observability"
)

// runServer is a variable to allow swapping the blocking part in tests.
var runServer = func(ctx context.Context, srv *api.Server, addr string) error {
	return srv.Serve(ctx, addr)
}

// runServeCmd implements `proofpay serve`.
//
// Exit codes:
//
//	0 = clean shutdown
//	1 = runtime failure
//	2 = configuration error
func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var jf journalFlags
	jf.register(cmd, cfg)
	cmd.StringVar(&cfg.Port, "port", cfg.Port, "HTTP port")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cfg.LogLevel, stdout)
	slog.SetDefault(logger)

	if err := serve(ctx, cfg, jf, logger); err != nil {
		logger.Error("proofpay stopped", "error", err)
		return 1
	}
	logger.Info("proofpay stopped")
	return 0
}

func serve(ctx context.Context, cfg *config.Config, jf journalFlags, logger *slog.Logger) error {
	doc, err := loadGenesis(jf.genesis)
	if err != nil {
		return err
	}

	store, err := journal.Open(ctx, jf.driver, jf.dsn)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = store.Close() }()

	otelCfg := observability.Config{Insecure: cfg.OTelInsecure, Version: version, ChainID: doc.ChainID}
	if cfg.OTelEnabled {
		otelCfg.Endpoint = cfg.OTelEndpoint
	}
	telemetry, err := observability.New(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() { _ = telemetry.Shutdown(context.WithoutCancel(ctx)) }()

	publishers := notify.Fanout{notify.NewLogPublisher(logger)}
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer func() { _ = rdb.Close() }()
		pub := notify.NewRedisPublisherWithClient(rdb, cfg.RedisStream)
		if err := pub.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, events will only be logged", "addr", cfg.RedisAddr, "error", err)
		}
		publishers = append(publishers, pub)
	}

	n, replayed, err := restore(ctx, doc, store, true, node.Options{
		Subscribers: []chain.Subscriber{publishers},
		Tracker:     telemetry,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	logger.Info("node ready",
		"chain_id", doc.ChainID,
		"journal", jf.driver,
		"replayed", replayed,
		"height", n.Ledger().Height(),
		"head", n.Ledger().Head(),
	)

	var limiter api.Limiter
	if rdb != nil {
		limiter = api.NewRedisLimiter(rdb, cfg.RateLimitRPS, cfg.RateLimitBurst)
	} else {
		ipLimiter := api.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer ipLimiter.Close()
		limiter = ipLimiter
	}
	auth := api.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
	if auth == nil {
		logger.Warn("PROOFPAY_JWT_SECRET is empty; write routes will reject every request")
	}

	srv := api.New(n,
		api.WithAuthenticator(auth),
		api.WithLimiter(limiter),
		api.WithLogger(logger.With("component", "api")),
	)
	return runServer(ctx, srv, cfg.Addr())
}
