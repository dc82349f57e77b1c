package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGGameRepository struct {
	db *pgxpool.Pool
}

func NewGameRepository(db *pgxpool.Pool) *PGGameRepository {
	return &PGGameRepository{db: db}
}

const gameColumns = `id, court_id, name, price_per_hour_cents, is_available`

func scanGame(row pgx.Row) (domain.Game, error) {
	var g domain.Game
	err := row.Scan(&g.ID, &g.CourtID, &g.Name, &g.PricePerHourCents, &g.IsAvailable)
	return g, err
}

func (r *PGGameRepository) GetByID(ctx context.Context, id string) (*domain.Game, error) {
	g, err := scanGame(conn(ctx, r.db).QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, id)
		}
		return nil, storeError("get game", err)
	}
	return &g, nil
}

func (r *PGGameRepository) ListByCourt(ctx context.Context, courtID string) ([]domain.Game, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `SELECT `+gameColumns+` FROM games WHERE court_id=$1 ORDER BY name, id`, courtID)
	if err != nil {
		return nil, storeError("list games", err)
	}
	defer rows.Close()

	games := make([]domain.Game, 0)
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, storeError("scan game", err)
		}
		games = append(games, g)
	}
	return games, storeError("list games", rows.Err())
}

func (r *PGGameRepository) SetAvailability(ctx context.Context, id string, available bool) (*domain.Game, error) {
	g, err := scanGame(conn(ctx, r.db).QueryRow(ctx, `UPDATE games SET is_available=$2 WHERE id=$1 RETURNING `+gameColumns, id, available))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, id)
		}
		return nil, storeError("set game availability", err)
	}
	return &g, nil
}

// Upsert writes a game, replacing the catalogue data of one with the same id. The
// availability of an existing game stays as operators last set it.
func (r *PGGameRepository) Upsert(ctx context.Context, g domain.Game) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO games (id, court_id, name, price_per_hour_cents, is_available)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			court_id = EXCLUDED.court_id,
			name = EXCLUDED.name,
			price_per_hour_cents = EXCLUDED.price_per_hour_cents`,
		g.ID, g.CourtID, g.Name, g.PricePerHourCents, g.IsAvailable)
	return storeError("upsert game", err)
}

var _ GameRepository = (*PGGameRepository)(nil)
