package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/courtbooking/config"
	"github.com/Domenick1991/courtbooking/internal/bootstrap"
	"github.com/Domenick1991/courtbooking/internal/cache"
	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/Domenick1991/courtbooking/internal/kafka"
	"github.com/Domenick1991/courtbooking/internal/logging"
	"github.com/Domenick1991/courtbooking/internal/service/ledger"
	"github.com/Domenick1991/courtbooking/internal/service/reservation"
	"github.com/Domenick1991/courtbooking/internal/sweep"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type dayInvalidator interface {
	InvalidateDay(ctx context.Context, filter domain.SlotFilter) error
}

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("worker error", zap.Error(err))
	}
	logger.Info("worker stopped")
}

// errMemoryStore is returned for the memory driver: its bookings live in the app process,
// which runs the sweep itself.
var errMemoryStore = errors.New("the worker needs a shared store; with the memory driver the app sweeps in-process")

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Database.Driver == "memory" {
		return errMemoryStore
	}

	loc, err := cfg.Booking.Location()
	if err != nil {
		return err
	}

	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	engineOpts := []reservation.Option{
		reservation.WithRetry(cfg.Booking.StoreRetryAttempts, cfg.Booking.RetryBackoff()),
		reservation.WithLogger(logger.Named("reservation")),
	}

	var invalidator dayInvalidator
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisCache(cfg.Redis, cfg.Booking.CacheTTL())
		defer redisCache.Close()
		invalidator = redisCache
		engineOpts = append(engineOpts, reservation.WithCache(redisCache))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, logger.Named("kafka"))
		defer producer.Close()
		if err := producer.CheckConnection(ctx); err != nil {
			logger.Warn("kafka unreachable, booking events will be retried per publish", zap.Error(err))
		}
		engineOpts = append(engineOpts,
			reservation.WithProducer(producer, cfg.Kafka.BookingEventsTopic),
			reservation.WithPublishAttempts(cfg.Kafka.PublishAttempts))
	}

	policy := domain.NewCancellationPolicy(cfg.Booking.CancellationBuffer(), loc)
	engine := reservation.NewEngine(store.Repos.Slots, store.Repos.Tx, ledger.NewLedger(store.Repos.Bookings), policy, engineOpts...)

	scheduler, err := sweep.New(cfg.Worker.CompletionSweepCron, loc, engine, logger.Named("sweep"))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(gctx) })

	if len(cfg.Kafka.Brokers) > 0 && invalidator != nil {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.BookingEventsTopic, logger.Named("kafka"))
		defer consumer.Close()

		g.Go(func() error {
			return consumer.ConsumeBookingEvents(gctx, invalidateOnEvent(invalidator, logger))
		})
	}

	return g.Wait()
}

// invalidateOnEvent drops the cached day of every booking event so that replicas
// whose own invalidation failed converge.
func invalidateOnEvent(c dayInvalidator, logger *zap.Logger) func(context.Context, kafka.BookingEvent) error {
	return func(ctx context.Context, event kafka.BookingEvent) error {
		if err := c.InvalidateDay(ctx, event.Day()); err != nil {
			logger.Warn("failed to invalidate slots cache",
				zap.String("type", event.Type), zap.String("booking_id", event.BookingID), zap.Error(err))
		}
		return nil
	}
}
