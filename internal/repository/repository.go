package repository

import (
	"context"
	"time"

	"github.com/Domenick1991/courtbooking/internal/domain"
)

// SlotRepository is the slot half of the store contract.
// CompareAndSetBooking is the only way booking fields of a slot change.
type SlotRepository interface {
	GetByID(ctx context.Context, id string) (*domain.TimeSlot, error)
	ListByDay(ctx context.Context, filter domain.SlotFilter) ([]domain.TimeSlot, error)
	// CreateBatch inserts slots in one round trip, skipping ids that already exist.
	CreateBatch(ctx context.Context, slots []domain.TimeSlot) (int, error)
	// CompareAndSetBooking moves booking_id from expected to next and reports whether the
	// stored value still equaled expected. Setting a booking also requires the slot to be
	// available; is_booked follows booking_id in the same write.
	CompareAndSetBooking(ctx context.Context, id string, expected, next *string) (bool, error)
	SetAvailability(ctx context.Context, id string, available bool) (*domain.TimeSlot, error)
	DeleteUnbooked(ctx context.Context, filter domain.SlotFilter) (int, error)
	// Watch streams full snapshots of the day until ctx is done, then closes the channel.
	// Consumers may see the same snapshot more than once.
	Watch(ctx context.Context, filter domain.SlotFilter) (<-chan []domain.TimeSlot, error)
}

type BookingRepository interface {
	Insert(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	ListByPhone(ctx context.Context, phone string) ([]domain.Booking, error)
	ListByCourt(ctx context.Context, courtID string) ([]domain.Booking, error)
	ListByCourtAndDate(ctx context.Context, courtID, date string, status domain.BookingStatus) ([]domain.Booking, error)
	// ListConfirmedUntil returns confirmed bookings dated on or before date.
	ListConfirmedUntil(ctx context.Context, date string) ([]domain.Booking, error)
	// UpdateCancelled and UpdateCompleted only move confirmed bookings and report whether they did.
	UpdateCancelled(ctx context.Context, id string, at time.Time, reason *string) (bool, error)
	UpdateCompleted(ctx context.Context, id string) (bool, error)
}

type GameRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Game, error)
	// ListByCourt returns the games of a court ordered by name, then id.
	ListByCourt(ctx context.Context, courtID string) ([]domain.Game, error)
	SetAvailability(ctx context.Context, id string, available bool) (*domain.Game, error)
}

// TxManager runs fn in a transaction carried by the context passed to it.
// Repositories called with that context join the transaction.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Repositories struct {
	Slots    SlotRepository
	Bookings BookingRepository
	Games    GameRepository
	Tx       TxManager
}

// SendLatest delivers snap on out, replacing a snapshot the reader has not taken yet.
// out must be buffered. It returns false once ctx is done.
func SendLatest[T any](ctx context.Context, out chan T, snap T) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case out <- snap:
			return true
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}
