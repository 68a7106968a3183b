package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/example/ec-cart-consistency/internal/api"
	"github.com/example/ec-cart-consistency/internal/auth"
	"github.com/example/ec-cart-consistency/internal/command"
	"github.com/example/ec-cart-consistency/internal/config"
	"github.com/example/ec-cart-consistency/internal/domain/cart"
	"github.com/example/ec-cart-consistency/internal/domain/inventory"
	"github.com/example/ec-cart-consistency/internal/domain/order"
	"github.com/example/ec-cart-consistency/internal/domain/reorder"
	"github.com/example/ec-cart-consistency/internal/infrastructure/kafka"
	"github.com/example/ec-cart-consistency/internal/infrastructure/redis"
	"github.com/example/ec-cart-consistency/internal/infrastructure/store"
	"github.com/example/ec-cart-consistency/internal/lock"
	"github.com/example/ec-cart-consistency/internal/logging"
	"github.com/example/ec-cart-consistency/internal/notification"
	"github.com/example/ec-cart-consistency/internal/tracing"
)

const serviceName = "cart-api"

func main() {
	app := &cli.App{
		Name:  "api",
		Usage: "cart and order consistency API",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations",
				Action: migrate,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		logger := logging.New("info", "json")
		logger.Fatal().Err(err).Msg("[API] exited")
	}
}

func migrate(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	logger.Info().Msg("[API] migrations applied")
	return nil
}

func serve(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateAPI(); err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.InitTracerProvider(serviceName, cfg.JaegerEndpoint)
	if err != nil {
		return errors.Wrap(err, "init tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("[API] tracer shutdown")
		}
	}()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLocker, err := openLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	var dispatcher *notification.Dispatcher
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.NotificationsTopic)
		defer producer.Close()
		sender := notification.NewKafkaSender(producer, notification.KindOrderCancelled)
		dispatcher = notification.NewDispatcher(sender, cfg.NotifyTimeout, logger)
	} else {
		logger.Warn().Msg("[API] KAFKA_BROKERS empty, cancellation notices disabled")
	}

	// Initialize domain services
	ledger := inventory.NewLedger(logger)
	cmdHandler := command.NewHandler(
		cart.NewManager(st, ledger, locker, logger),
		order.NewLifecycle(st, ledger, dispatcher, logger),
		reorder.NewEngine(st, ledger, locker, logger),
		ledger,
		st,
	)

	router := api.NewRouter(api.RouterConfig{
		Handlers:     api.NewHandlers(cmdHandler, logger),
		JWTService:   auth.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer),
		Logger:       logging.Component(logger, "http"),
		SecureCookie: cfg.SecureCookie,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Str("store", cfg.StoreDriver).
			Str("lock", cfg.LockDriver).
			Msg("[API] server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("[API] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Store, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn().Msg("[API] using in-memory store, data is lost on exit")
		return store.NewMemoryStore(), func() {}, nil
	}

	db, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect postgres")
	}
	logger.Info().Msg("[API] connected to PostgreSQL")
	return store.NewPostgresStore(db, logger), func() { _ = db.Close() }, nil
}

func openLocker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (lock.Locker, func(), error) {
	if cfg.LockDriver == config.LockLocal {
		return lock.NewLocal(), func() {}, nil
	}

	client, err := redis.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect redis")
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("[API] connected to Redis")
	return redis.NewLocker(client, cfg.LockTTL, logger), func() { _ = client.Close() }, nil
}
