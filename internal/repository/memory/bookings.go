package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/Domenick1991/courtbooking/internal/repository"
)

type BookingRepository struct {
	store *Store
}

func cloneBooking(b domain.Booking) domain.Booking {
	if b.CancelledAt != nil {
		at := *b.CancelledAt
		b.CancelledAt = &at
	}
	if b.CancellationReason != nil {
		reason := *b.CancellationReason
		b.CancellationReason = &reason
	}
	return b
}

func (r *BookingRepository) Insert(ctx context.Context, b *domain.Booking) error {
	defer r.store.lock(ctx)()

	if _, exists := r.store.bookings[b.ID]; exists {
		return fmt.Errorf("insert booking: duplicate id %s", b.ID)
	}
	for _, other := range r.store.bookings {
		if other.TimeSlotID == b.TimeSlotID && other.Status != domain.BookingStatusCancelled {
			return fmt.Errorf("%w: slot %s already has an active booking", domain.ErrSlotConflict, b.TimeSlotID)
		}
	}
	r.store.bookings[b.ID] = cloneBooking(*b)
	return nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	defer r.store.lock(ctx)()

	b, ok := r.store.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBookingNotFound, id)
	}
	b = cloneBooking(b)
	return &b, nil
}

func newestFirst(a, b domain.Booking) int {
	return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
}

func (r *BookingRepository) filter(ctx context.Context, keep func(domain.Booking) bool, order func(a, b domain.Booking) int) []domain.Booking {
	defer r.store.lock(ctx)()

	out := make([]domain.Booking, 0)
	for _, b := range r.store.bookings {
		if keep(b) {
			out = append(out, cloneBooking(b))
		}
	}
	slices.SortFunc(out, order)
	return out
}

func (r *BookingRepository) ListByPhone(ctx context.Context, phone string) ([]domain.Booking, error) {
	return r.filter(ctx, func(b domain.Booking) bool { return b.PhoneNumber == phone }, newestFirst), nil
}

func (r *BookingRepository) ListByCourt(ctx context.Context, courtID string) ([]domain.Booking, error) {
	return r.filter(ctx, func(b domain.Booking) bool { return b.CourtID == courtID }, newestFirst), nil
}

func (r *BookingRepository) ListByCourtAndDate(ctx context.Context, courtID, date string, status domain.BookingStatus) ([]domain.Booking, error) {
	return r.filter(ctx, func(b domain.Booking) bool {
		return b.CourtID == courtID && b.Date == date && b.Status == status
	}, newestFirst), nil
}

func (r *BookingRepository) ListConfirmedUntil(ctx context.Context, date string) ([]domain.Booking, error) {
	return r.filter(ctx, func(b domain.Booking) bool {
		return b.Status == domain.BookingStatusConfirmed && b.Date <= date
	}, func(a, b domain.Booking) int {
		return cmp.Or(cmp.Compare(a.Date, b.Date), cmp.Compare(a.StartTime, b.StartTime), cmp.Compare(a.ID, b.ID))
	}), nil
}

func (r *BookingRepository) UpdateCancelled(ctx context.Context, id string, at time.Time, reason *string) (bool, error) {
	defer r.store.lock(ctx)()

	b, ok := r.store.bookings[id]
	if !ok || b.Status != domain.BookingStatusConfirmed {
		return false, nil
	}
	b.Status = domain.BookingStatusCancelled
	b.CancelledAt = &at
	if reason != nil {
		text := *reason
		b.CancellationReason = &text
	}
	r.store.bookings[id] = b
	return true, nil
}

func (r *BookingRepository) UpdateCompleted(ctx context.Context, id string) (bool, error) {
	defer r.store.lock(ctx)()

	b, ok := r.store.bookings[id]
	if !ok || b.Status != domain.BookingStatusConfirmed {
		return false, nil
	}
	b.Status = domain.BookingStatusCompleted
	r.store.bookings[id] = b
	return true, nil
}

var _ repository.BookingRepository = (*BookingRepository)(nil)

type GameRepository struct {
	store *Store
}

func (r *GameRepository) GetByID(ctx context.Context, id string) (*domain.Game, error) {
	defer r.store.lock(ctx)()

	g, ok := r.store.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, id)
	}
	return &g, nil
}

func (r *GameRepository) ListByCourt(ctx context.Context, courtID string) ([]domain.Game, error) {
	defer r.store.lock(ctx)()

	games := make([]domain.Game, 0)
	for _, g := range r.store.games {
		if g.CourtID == courtID {
			games = append(games, g)
		}
	}
	slices.SortFunc(games, func(a, b domain.Game) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return games, nil
}

func (r *GameRepository) SetAvailability(ctx context.Context, id string, available bool) (*domain.Game, error) {
	defer r.store.lock(ctx)()

	g, ok := r.store.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, id)
	}
	g.IsAvailable = available
	r.store.games[id] = g
	return &g, nil
}

var _ repository.GameRepository = (*GameRepository)(nil)
