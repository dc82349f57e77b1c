package bootstrap

import (
	"context"
	"fmt"

	"github.com/Domenick1991/courtbooking/config"
	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/Domenick1991/courtbooking/internal/repository"
	"github.com/Domenick1991/courtbooking/internal/repository/memory"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store is an opened slot store with its lifecycle.
type Store struct {
	Repos repository.Repositories
	Ping  func(context.Context) error
	close func()
}

func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStore connects the configured backend, applies the schema and seeds the configured games.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Store, error) {
	games := make([]domain.Game, 0, len(cfg.Games))
	for _, g := range cfg.Games {
		games = append(games, domain.Game{
			ID:                g.ID,
			CourtID:           g.CourtID,
			Name:              g.Name,
			PricePerHourCents: g.PricePerHourCents,
			IsAvailable:       g.IsAvailable(),
		})
	}

	switch cfg.Database.Driver {
	case "memory":
		store := memory.NewStore()
		for _, g := range games {
			store.PutGame(g)
		}
		logger.Warn("using in-memory store, data is lost on exit")
		return &Store{Repos: store.Repositories()}, nil

	case "postgres":
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		// live slot feeds hold one connection outside the pool, so the pool only serves queries
		if cfg.Database.MaxConns > 0 {
			poolCfg.MaxConns = int32(cfg.Database.MaxConns)
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := repository.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}

		gameRepo := repository.NewGameRepository(pool)
		for _, g := range games {
			if err := gameRepo.Upsert(ctx, g); err != nil {
				pool.Close()
				return nil, fmt.Errorf("seed game %s: %w", g.ID, err)
			}
		}

		logger.Info("connected to postgres",
			zap.String("host", cfg.Database.Host), zap.String("database", cfg.Database.Name),
			zap.Int("max_conns", cfg.Database.MaxConns), zap.Int("max_watchers", cfg.Database.MaxWatchers))
		return &Store{
			Repos: repository.NewPostgres(pool, logger, repository.WithMaxWatchers(cfg.Database.MaxWatchers)),
			Ping:  pool.Ping,
			close: pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
