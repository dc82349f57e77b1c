package ledger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/Domenick1991/courtbooking/internal/repository"
	"github.com/google/uuid"
)

// LedgerUseCase is the read and record side of bookings. Only status, cancelledAt and
// cancellationReason change after a booking is recorded.
type LedgerUseCase interface {
	Record(ctx context.Context, booking *domain.Booking) (string, error)
	Get(ctx context.Context, id string) (*domain.Booking, error)
	ListByPhone(ctx context.Context, phone string) ([]domain.Booking, error)
	ListByCourt(ctx context.Context, courtID string) ([]domain.Booking, error)
	ListByCourtAndDate(ctx context.Context, courtID, date string) ([]domain.Booking, error)
	ListConfirmedUntil(ctx context.Context, date string) ([]domain.Booking, error)
	MarkCancelled(ctx context.Context, id string, reason *string, at time.Time) error
	MarkCompleted(ctx context.Context, id string) (bool, error)
}

type Ledger struct {
	bookings repository.BookingRepository
}

func NewLedger(bookings repository.BookingRepository) *Ledger {
	return &Ledger{bookings: bookings}
}

func (l *Ledger) Record(ctx context.Context, b *domain.Booking) (string, error) {
	if b.TimeSlotID == "" || b.CourtID == "" || b.GameID == "" {
		return "", fmt.Errorf("%w: booking must reference a court, a game and a slot", domain.ErrInvalidRequest)
	}
	if b.PhoneNumber == "" {
		return "", fmt.Errorf("%w: phone number is required", domain.ErrInvalidRequest)
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.Status = domain.BookingStatusConfirmed
	b.CancelledAt = nil
	b.CancellationReason = nil

	if err := l.bookings.Insert(ctx, b); err != nil {
		return "", err
	}
	return b.ID, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*domain.Booking, error) {
	return l.bookings.GetByID(ctx, id)
}

func (l *Ledger) ListByPhone(ctx context.Context, phone string) ([]domain.Booking, error) {
	if phone == "" {
		return nil, fmt.Errorf("%w: phone number is required", domain.ErrInvalidRequest)
	}
	return newestFirst(l.bookings.ListByPhone(ctx, phone))
}

func (l *Ledger) ListByCourt(ctx context.Context, courtID string) ([]domain.Booking, error) {
	return newestFirst(l.bookings.ListByCourt(ctx, courtID))
}

// ListByCourtAndDate returns the confirmed bookings of a court on one day.
func (l *Ledger) ListByCourtAndDate(ctx context.Context, courtID, date string) ([]domain.Booking, error) {
	return newestFirst(l.bookings.ListByCourtAndDate(ctx, courtID, date, domain.BookingStatusConfirmed))
}

func (l *Ledger) ListConfirmedUntil(ctx context.Context, date string) ([]domain.Booking, error) {
	return l.bookings.ListConfirmedUntil(ctx, date)
}

func (l *Ledger) MarkCancelled(ctx context.Context, id string, reason *string, at time.Time) error {
	ok, err := l.bookings.UpdateCancelled(ctx, id, at, reason)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return l.notConfirmed(ctx, id)
}

// MarkCompleted reports whether the booking moved to completed. A booking that is
// already completed is left alone and reported unchanged.
func (l *Ledger) MarkCompleted(ctx context.Context, id string) (bool, error) {
	ok, err := l.bookings.UpdateCompleted(ctx, id)
	if err != nil || ok {
		return ok, err
	}
	err = l.notConfirmed(ctx, id)
	if errors.Is(err, errAlreadyCompleted) {
		return false, nil
	}
	return false, err
}

var errAlreadyCompleted = errors.New("already completed")

func (l *Ledger) notConfirmed(ctx context.Context, id string) error {
	current, err := l.bookings.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == domain.BookingStatusCompleted {
		return fmt.Errorf("%w: %w: booking %s", domain.ErrBookingNotActive, errAlreadyCompleted, id)
	}
	return fmt.Errorf("%w: booking %s is %s", domain.ErrBookingNotActive, id, current.Status)
}

func newestFirst(bookings []domain.Booking, err error) ([]domain.Booking, error) {
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(bookings, func(a, b domain.Booking) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return bookings, nil
}

var _ LedgerUseCase = (*Ledger)(nil)
