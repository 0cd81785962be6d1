package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/pmpcs/internal/config"
	"github.com/xiaot623/pmpcs/internal/hub"
	"github.com/xiaot623/pmpcs/internal/logging"
	"github.com/xiaot623/pmpcs/internal/policy"
	"github.com/xiaot623/pmpcs/internal/service"
	"github.com/xiaot623/pmpcs/internal/store"
	transport "github.com/xiaot623/pmpcs/internal/transport/http"
	"github.com/xiaot623/pmpcs/internal/transport/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.InitLogger("pmpcs", cfg.LogLevel, cfg.LogFormat)
	logger.Info().
		Int("http_port", cfg.HTTPPort).
		Str("store_backend", cfg.StoreBackend).
		Msg("starting payment session service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	db, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	// Initialize policy engine
	policyEngine, err := policy.LoadEngine(ctx, cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	maxAmount, err := cfg.MaxAmount()
	if err != nil {
		return err
	}

	h := hub.New(logger, hub.WithBufferSize(cfg.HubBufferSize))
	svc := service.New(db, policyEngine,
		service.WithPublisher(h),
		service.WithLogger(logger.With().Str("component", "service").Logger()),
		service.WithLimits(service.Limits{
			MaxAmount:         maxAmount,
			AllowedCurrencies: cfg.AllowedCurrencies,
		}),
	)

	server := transport.NewServer(svc, h, ws.Config{
		PingInterval: cfg.PingInterval,
		WriteTimeout: cfg.WriteTimeout,
	}, logger.With().Str("component", "http").Logger())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.Run(gctx)
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info().Str("addr", addr).Msg("http server listening")
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to shutdown http server gracefully")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("payment session service stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		s := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, store.WithPrefix(cfg.RedisPrefix))
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		return store.NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return store.NewSQLiteStore(cfg.DatabaseURL)
	}
}
