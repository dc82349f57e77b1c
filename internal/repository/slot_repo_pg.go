package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const slotColumns = `id, court_id, game_id, date, start_time, end_time, is_booked, is_available, booking_id, price_cents, created_at, updated_at`

type PGSlotRepository struct {
	db          *pgxpool.Pool
	logger      *zap.Logger
	maxWatchers int
	hub         *slotHub
}

type SlotOption func(*PGSlotRepository)

// WithMaxWatchers bounds the live feeds served at once. Further Watch calls fail with
// domain.ErrTooManySubscribers.
func WithMaxWatchers(n int) SlotOption {
	return func(r *PGSlotRepository) {
		r.maxWatchers = n
	}
}

func NewSlotRepository(db *pgxpool.Pool, logger *zap.Logger, opts ...SlotOption) SlotRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &PGSlotRepository{db: db, logger: logger, maxWatchers: DefaultMaxWatchers}
	for _, opt := range opts {
		opt(r)
	}
	r.hub = newSlotHub(r.dialListener, r.loadDay, r.maxWatchers, logger)
	return r
}

func scanSlot(row pgx.Row) (domain.TimeSlot, error) {
	var s domain.TimeSlot
	err := row.Scan(&s.ID, &s.CourtID, &s.GameID, &s.Date, &s.StartTime, &s.EndTime, &s.IsBooked, &s.IsAvailable, &s.BookingID, &s.PriceCents, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *PGSlotRepository) GetByID(ctx context.Context, id string) (*domain.TimeSlot, error) {
	s, err := scanSlot(conn(ctx, r.db).QueryRow(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSlotNotFound, id)
		}
		return nil, storeError("get slot", err)
	}
	return &s, nil
}

func (r *PGSlotRepository) ListByDay(ctx context.Context, filter domain.SlotFilter) ([]domain.TimeSlot, error) {
	return r.listByDay(ctx, conn(ctx, r.db), filter)
}

func (r *PGSlotRepository) listByDay(ctx context.Context, q querier, filter domain.SlotFilter) ([]domain.TimeSlot, error) {
	rows, err := q.Query(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE court_id=$1 AND game_id=$2 AND date=$3 ORDER BY start_time, id`,
		filter.CourtID, filter.GameID, filter.Date)
	if err != nil {
		return nil, storeError("list slots", err)
	}
	defer rows.Close()

	slots := make([]domain.TimeSlot, 0)
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, storeError("scan slot", err)
		}
		slots = append(slots, s)
	}
	return slots, storeError("list slots", rows.Err())
}

func (r *PGSlotRepository) CreateBatch(ctx context.Context, slots []domain.TimeSlot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, s := range slots {
		batch.Queue(`INSERT INTO time_slots (id, court_id, game_id, date, start_time, end_time, is_booked, is_available, booking_id, price_cents)
			VALUES ($1, $2, $3, $4, $5, $6, false, $7, NULL, $8)
			ON CONFLICT (id) DO NOTHING`,
			s.ID, s.CourtID, s.GameID, s.Date, s.StartTime, s.EndTime, s.IsAvailable, s.PriceCents)
	}

	results := conn(ctx, r.db).SendBatch(ctx, batch)
	defer results.Close()

	created := 0
	for range slots {
		tag, err := results.Exec()
		if err != nil {
			return created, storeError("create slots", err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

func (r *PGSlotRepository) CompareAndSetBooking(ctx context.Context, id string, expected, next *string) (bool, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `UPDATE time_slots
		SET booking_id = $3::text, is_booked = ($3::text IS NOT NULL), updated_at = now()
		WHERE id = $1
		  AND booking_id IS NOT DISTINCT FROM $2::text
		  AND ($3::text IS NULL OR is_available)`, id, expected, next)
	if err != nil {
		return false, storeError("compare and set slot booking", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGSlotRepository) SetAvailability(ctx context.Context, id string, available bool) (*domain.TimeSlot, error) {
	s, err := scanSlot(conn(ctx, r.db).QueryRow(ctx, `UPDATE time_slots SET is_available=$2, updated_at=now() WHERE id=$1 RETURNING `+slotColumns, id, available))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSlotNotFound, id)
		}
		return nil, storeError("set slot availability", err)
	}
	return &s, nil
}

func (r *PGSlotRepository) DeleteUnbooked(ctx context.Context, filter domain.SlotFilter) (int, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM time_slots WHERE court_id=$1 AND game_id=$2 AND date=$3 AND is_booked=false AND booking_id IS NULL`,
		filter.CourtID, filter.GameID, filter.Date)
	if err != nil {
		return 0, storeError("delete slots", err)
	}
	return int(tag.RowsAffected()), nil
}

var _ SlotRepository = (*PGSlotRepository)(nil)
