package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const bookingColumns = `id, court_id, court_name, game_id, game_name, time_slot_id, team_name, phone_number, date, start_time, end_time, total_price_cents, status, created_at, cancelled_at, cancellation_reason`

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(&b.ID, &b.CourtID, &b.CourtName, &b.GameID, &b.GameName, &b.TimeSlotID, &b.TeamName, &b.PhoneNumber,
		&b.Date, &b.StartTime, &b.EndTime, &b.TotalPriceCents, &b.Status, &b.CreatedAt, &b.CancelledAt, &b.CancellationReason)
	return b, err
}

func (r *PGBookingRepository) Insert(ctx context.Context, b *domain.Booking) error {
	_, err := conn(ctx, r.db).Exec(ctx, `INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		b.ID, b.CourtID, b.CourtName, b.GameID, b.GameName, b.TimeSlotID, b.TeamName, b.PhoneNumber,
		b.Date, b.StartTime, b.EndTime, b.TotalPriceCents, b.Status, b.CreatedAt, b.CancelledAt, b.CancellationReason)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: slot %s already has an active booking", domain.ErrSlotConflict, b.TimeSlotID)
		}
		return storeError("insert booking", err)
	}
	return nil
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := scanBooking(conn(ctx, r.db).QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBookingNotFound, id)
		}
		return nil, storeError("get booking", err)
	}
	return &b, nil
}

func (r *PGBookingRepository) ListByPhone(ctx context.Context, phone string) ([]domain.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE phone_number=$1 ORDER BY created_at DESC, id`, phone)
}

func (r *PGBookingRepository) ListByCourt(ctx context.Context, courtID string) ([]domain.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE court_id=$1 ORDER BY created_at DESC, id`, courtID)
}

func (r *PGBookingRepository) ListByCourtAndDate(ctx context.Context, courtID, date string, status domain.BookingStatus) ([]domain.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE court_id=$1 AND date=$2 AND status=$3 ORDER BY created_at DESC, id`, courtID, date, status)
}

func (r *PGBookingRepository) ListConfirmedUntil(ctx context.Context, date string) ([]domain.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE status=$1 AND date <= $2 ORDER BY date, start_time, id`, domain.BookingStatusConfirmed, date)
}

func (r *PGBookingRepository) list(ctx context.Context, sql string, args ...any) ([]domain.Booking, error) {
	rows, err := conn(ctx, r.db).Query(ctx, sql, args...)
	if err != nil {
		return nil, storeError("list bookings", err)
	}
	defer rows.Close()

	bookings := make([]domain.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, storeError("scan booking", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, storeError("list bookings", rows.Err())
}

func (r *PGBookingRepository) UpdateCancelled(ctx context.Context, id string, at time.Time, reason *string) (bool, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `UPDATE bookings SET status=$2, cancelled_at=$3, cancellation_reason=$4 WHERE id=$1 AND status=$5`,
		id, domain.BookingStatusCancelled, at, reason, domain.BookingStatusConfirmed)
	if err != nil {
		return false, storeError("cancel booking", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGBookingRepository) UpdateCompleted(ctx context.Context, id string) (bool, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `UPDATE bookings SET status=$2 WHERE id=$1 AND status=$3`,
		id, domain.BookingStatusCompleted, domain.BookingStatusConfirmed)
	if err != nil {
		return false, storeError("complete booking", err)
	}
	return tag.RowsAffected() == 1, nil
}

var _ BookingRepository = (*PGBookingRepository)(nil)
