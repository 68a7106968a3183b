package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/example/ec-cart-consistency/internal/config"
	"github.com/example/ec-cart-consistency/internal/email"
	"github.com/example/ec-cart-consistency/internal/infrastructure/kafka"
	"github.com/example/ec-cart-consistency/internal/infrastructure/store"
	"github.com/example/ec-cart-consistency/internal/logging"
	"github.com/example/ec-cart-consistency/internal/notification"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger := logging.New("info", "json")
		logger.Error().Err(err).Msg("[Notifier] exited")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if len(cfg.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}

	logger.Info().
		Strs("brokers", cfg.KafkaBrokers).
		Str("topic", cfg.NotificationsTopic).
		Str("group", cfg.ConsumerGroup).
		Str("smtp", cfg.SMTPHost+":"+cfg.SMTPPort).
		Msg("[Notifier] starting email notification service")

	// Customer addresses are read from PostgreSQL
	db, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "connect postgres")
	}
	defer db.Close()
	directory := store.NewPostgresStore(db, logger)

	emailSvc := email.NewService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
	handler := notification.NewHandler(emailSvc, directory, logger)

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.NotificationsTopic, cfg.ConsumerGroup, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := consumer.Consume(gctx, handler.HandleMessage)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("[Notifier] shutting down")
		return consumer.Close()
	})
	return g.Wait()
}
