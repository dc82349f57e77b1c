// Package memory keeps the whole store contract in process memory.
// A single mutex serializes writes; transactions hold it for their whole duration
// and restore the previous maps when they fail.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/Domenick1991/courtbooking/internal/repository"
)

type txKey struct{}

type watcher struct {
	filter domain.SlotFilter
	out    chan []domain.TimeSlot
}

type Store struct {
	mu       sync.Mutex
	slots    map[string]domain.TimeSlot
	bookings map[string]domain.Booking
	games    map[string]domain.Game

	watchers    map[int]*watcher
	nextWatcher int
	// pending collects days changed inside the running transaction.
	pending []domain.SlotFilter
}

func NewStore() *Store {
	return &Store{
		slots:    make(map[string]domain.TimeSlot),
		bookings: make(map[string]domain.Booking),
		games:    make(map[string]domain.Game),
		watchers: make(map[int]*watcher),
	}
}

func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Slots:    &SlotRepository{store: s},
		Bookings: &BookingRepository{store: s},
		Games:    &GameRepository{store: s},
		Tx:       s,
	}
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock takes the store mutex unless ctx belongs to a transaction that already holds it.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	slots := maps.Clone(s.slots)
	bookings := maps.Clone(s.bookings)
	s.pending = nil

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.slots = slots
		s.bookings = bookings
		s.pending = nil
		return err
	}

	for _, f := range s.pending {
		s.notifyLocked(f)
	}
	s.pending = nil
	return nil
}

// changed must be called with the mutex held.
func (s *Store) changed(ctx context.Context, f domain.SlotFilter) {
	if s.inTx(ctx) {
		s.pending = append(s.pending, f)
		return
	}
	s.notifyLocked(f)
}

func (s *Store) notifyLocked(f domain.SlotFilter) {
	var snap []domain.TimeSlot
	for _, w := range s.watchers {
		if w.filter != f {
			continue
		}
		if snap == nil {
			snap = s.dayLocked(f)
		}
		repository.SendLatest(context.Background(), w.out, cloneSlots(snap))
	}
}

// PutGame adds or replaces a game, for seeding local runs and tests.
func (s *Store) PutGame(g domain.Game) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.ID] = g
}

var _ repository.TxManager = (*Store)(nil)
