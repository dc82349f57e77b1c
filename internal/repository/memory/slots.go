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

type SlotRepository struct {
	store *Store
}

func cloneSlot(s domain.TimeSlot) domain.TimeSlot {
	if s.BookingID != nil {
		id := *s.BookingID
		s.BookingID = &id
	}
	return s
}

func cloneSlots(in []domain.TimeSlot) []domain.TimeSlot {
	out := make([]domain.TimeSlot, len(in))
	for i, s := range in {
		out[i] = cloneSlot(s)
	}
	return out
}

func (s *Store) dayLocked(f domain.SlotFilter) []domain.TimeSlot {
	day := make([]domain.TimeSlot, 0)
	for _, slot := range s.slots {
		if f.Matches(slot) {
			day = append(day, cloneSlot(slot))
		}
	}
	slices.SortFunc(day, func(a, b domain.TimeSlot) int {
		return cmp.Or(cmp.Compare(a.StartTime, b.StartTime), cmp.Compare(a.ID, b.ID))
	})
	return day
}

func (r *SlotRepository) GetByID(ctx context.Context, id string) (*domain.TimeSlot, error) {
	defer r.store.lock(ctx)()

	slot, ok := r.store.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSlotNotFound, id)
	}
	slot = cloneSlot(slot)
	return &slot, nil
}

func (r *SlotRepository) ListByDay(ctx context.Context, filter domain.SlotFilter) ([]domain.TimeSlot, error) {
	defer r.store.lock(ctx)()
	return r.store.dayLocked(filter), nil
}

func (r *SlotRepository) CreateBatch(ctx context.Context, slots []domain.TimeSlot) (int, error) {
	defer r.store.lock(ctx)()

	now := time.Now()
	created := 0
	touched := make(map[domain.SlotFilter]struct{})
	for _, s := range slots {
		if _, exists := r.store.slots[s.ID]; exists {
			continue
		}
		s.IsBooked = false
		s.BookingID = nil
		s.CreatedAt = now
		s.UpdatedAt = now
		r.store.slots[s.ID] = s
		touched[s.Filter()] = struct{}{}
		created++
	}
	for f := range touched {
		r.store.changed(ctx, f)
	}
	return created, nil
}

func (r *SlotRepository) CompareAndSetBooking(ctx context.Context, id string, expected, next *string) (bool, error) {
	defer r.store.lock(ctx)()

	slot, ok := r.store.slots[id]
	if !ok {
		return false, nil
	}
	if !sameID(slot.BookingID, expected) {
		return false, nil
	}
	if next != nil && !slot.IsAvailable {
		return false, nil
	}

	if next != nil {
		bookingID := *next
		slot.BookingID = &bookingID
	} else {
		slot.BookingID = nil
	}
	slot.IsBooked = next != nil
	slot.UpdatedAt = time.Now()
	r.store.slots[id] = slot
	r.store.changed(ctx, slot.Filter())
	return true, nil
}

func sameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *SlotRepository) SetAvailability(ctx context.Context, id string, available bool) (*domain.TimeSlot, error) {
	defer r.store.lock(ctx)()

	slot, ok := r.store.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSlotNotFound, id)
	}
	slot.IsAvailable = available
	slot.UpdatedAt = time.Now()
	r.store.slots[id] = slot
	r.store.changed(ctx, slot.Filter())

	slot = cloneSlot(slot)
	return &slot, nil
}

func (r *SlotRepository) DeleteUnbooked(ctx context.Context, filter domain.SlotFilter) (int, error) {
	defer r.store.lock(ctx)()

	deleted := 0
	for id, slot := range r.store.slots {
		if filter.Matches(slot) && !slot.IsBooked && slot.BookingID == nil {
			delete(r.store.slots, id)
			deleted++
		}
	}
	if deleted > 0 {
		r.store.changed(ctx, filter)
	}
	return deleted, nil
}

func (r *SlotRepository) Watch(ctx context.Context, filter domain.SlotFilter) (<-chan []domain.TimeSlot, error) {
	out := make(chan []domain.TimeSlot, 1)

	r.store.mu.Lock()
	id := r.store.nextWatcher
	r.store.nextWatcher++
	r.store.watchers[id] = &watcher{filter: filter, out: out}
	out <- r.store.dayLocked(filter)
	r.store.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.store.mu.Lock()
		delete(r.store.watchers, id)
		close(out)
		r.store.mu.Unlock()
	}()
	return out, nil
}

var _ repository.SlotRepository = (*SlotRepository)(nil)
