package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/courtbooking/api"
	"github.com/Domenick1991/courtbooking/config"
	"github.com/Domenick1991/courtbooking/internal/bootstrap"
	"github.com/Domenick1991/courtbooking/internal/cache"
	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/Domenick1991/courtbooking/internal/kafka"
	"github.com/Domenick1991/courtbooking/internal/logging"
	"github.com/Domenick1991/courtbooking/internal/service/availability"
	"github.com/Domenick1991/courtbooking/internal/service/games"
	"github.com/Domenick1991/courtbooking/internal/service/ledger"
	"github.com/Domenick1991/courtbooking/internal/service/reservation"
	"github.com/Domenick1991/courtbooking/internal/slotgrid"
	"github.com/Domenick1991/courtbooking/internal/sweep"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

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
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	loc, err := cfg.Booking.Location()
	if err != nil {
		return err
	}

	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	planner, err := slotgrid.NewPlanner(slotgrid.Grid{
		Open:        cfg.Schedule.Open,
		Close:       cfg.Schedule.Close,
		SlotMinutes: cfg.Schedule.SlotMinutes,
	}, store.Repos.Games)
	if err != nil {
		return err
	}

	engineOpts := []reservation.Option{
		reservation.WithPlanner(planner),
		reservation.WithRetry(cfg.Booking.StoreRetryAttempts, cfg.Booking.RetryBackoff()),
		reservation.WithLogger(logger.Named("reservation")),
	}
	projectorOpts := []availability.Option{
		availability.WithPlanner(planner),
		availability.WithLocation(loc),
		availability.WithLogger(logger.Named("availability")),
	}
	var slotsCache availability.Invalidator

	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisCache(cfg.Redis, cfg.Booking.CacheTTL())
		defer redisCache.Close()
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, slot reads go to the store", zap.Error(err))
		}
		slotsCache = redisCache
		engineOpts = append(engineOpts, reservation.WithCache(redisCache))
		projectorOpts = append(projectorOpts, availability.WithCache(redisCache))
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
	bookings := ledger.NewLedger(store.Repos.Bookings)
	engine := reservation.NewEngine(store.Repos.Slots, store.Repos.Tx, bookings, policy, engineOpts...)
	projector := availability.NewProjector(engine, projectorOpts...)
	schedule := availability.NewSchedule(store.Repos.Slots, planner, slotsCache, logger.Named("schedule"))

	catalog := games.NewGameService(store.Repos.Games, logger.Named("games"))

	router := api.NewRouter(api.RouterConfig{
		SwaggerDir:    cfg.HTTP.SwaggerDir,
		RatePerMinute: cfg.HTTP.RatePerMinute,
		Burst:         cfg.HTTP.Burst,
	}, api.NewSlotHandler(projector, schedule), api.NewBookingHandler(engine, bookings), api.NewGameHandler(catalog), logger.Named("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bootstrap.Run(gctx, cfg, router, store.Ping, logger) })

	// the worker cannot reach an in-memory store, so the app completes its own bookings
	if cfg.Database.Driver == "memory" {
		scheduler, err := sweep.New(cfg.Worker.CompletionSweepCron, loc, engine, logger.Named("sweep"))
		if err != nil {
			return err
		}
		g.Go(func() error { return scheduler.Run(gctx) })
	}

	return g.Wait()
}
