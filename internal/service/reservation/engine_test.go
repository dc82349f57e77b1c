package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/Domenick1991/courtbooking/internal/kafka"
	"github.com/Domenick1991/courtbooking/internal/repository"
	"github.com/Domenick1991/courtbooking/internal/repository/memory"
	"github.com/Domenick1991/courtbooking/internal/service/ledger"
	"github.com/Domenick1991/courtbooking/internal/slotgrid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var day = domain.SlotFilter{CourtID: "court-1", GameID: "futsal", Date: "2026-11-20"}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) PublishWithRetry(ctx context.Context, topic, key string, value interface{}, attempts int) error {
	args := m.Called(ctx, topic, key, value, attempts)
	return args.Error(0)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) InvalidateDay(ctx context.Context, filter domain.SlotFilter) error {
	args := m.Called(ctx, filter)
	return args.Error(0)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(hhmm string) {
	t, err := domain.Combine(day.Date, hhmm, time.UTC)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// flakySlots fails the first reads with a transient store error.
type flakySlots struct {
	repository.SlotRepository
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakySlots) GetByID(ctx context.Context, id string) (*domain.TimeSlot, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("%w: connection reset", domain.ErrStoreUnavailable)
	}
	return f.SlotRepository.GetByID(ctx, id)
}

type fixture struct {
	store  *memory.Store
	repos  repository.Repositories
	clock  *clock
	engine *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.PutGame(domain.Game{ID: "futsal", CourtID: "court-1", Name: "Futsal", PricePerHourCents: 3000, IsAvailable: true})
	repos := store.Repositories()

	planner, err := slotgrid.NewPlanner(slotgrid.Grid{Open: "06:00", Close: "23:00", SlotMinutes: 60}, repos.Games)
	require.NoError(t, err)

	clk := &clock{}
	clk.Set("09:00")

	base := []Option{WithPlanner(planner), WithClock(clk.Now), WithRetry(3, 0)}
	engine := NewEngine(repos.Slots, repos.Tx, ledger.NewLedger(repos.Bookings),
		domain.NewCancellationPolicy(30*time.Minute, time.UTC), append(base, opts...)...)

	return &fixture{store: store, repos: repos, clock: clk, engine: engine}
}

func (f *fixture) seed(t *testing.T, id, start, end string) {
	t.Helper()
	_, err := f.repos.Slots.CreateBatch(context.Background(), []domain.TimeSlot{{
		ID:          id,
		CourtID:     day.CourtID,
		GameID:      day.GameID,
		Date:        day.Date,
		StartTime:   start,
		EndTime:     end,
		IsAvailable: true,
		PriceCents:  3000,
	}})
	require.NoError(t, err)
}

func input(slotID, phone string) ReserveInput {
	return ReserveInput{
		CourtID:     day.CourtID,
		CourtName:   "Arena",
		GameID:      day.GameID,
		GameName:    "Futsal",
		TimeSlotID:  slotID,
		TeamName:    "Strikers",
		PhoneNumber: phone,
		Date:        day.Date,
	}
}

func TestEngine_Reserve_Success(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s1", "14:00", "15:00")
	ctx := context.Background()

	booking, err := f.engine.Reserve(ctx, input("s1", "0300"))
	require.NoError(t, err)

	assert.NotEmpty(t, booking.ID)
	assert.Equal(t, domain.BookingStatusConfirmed, booking.Status)
	assert.Equal(t, int64(3000), booking.TotalPriceCents)
	assert.Equal(t, "14:00", booking.StartTime)
	assert.Equal(t, "Arena", booking.CourtName)

	slot, err := f.repos.Slots.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, slot.IsBooked)
	assert.Equal(t, booking.ID, *slot.BookingID)

	stored, err := f.repos.Bookings.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, "s1", stored.TimeSlotID)
}

func TestEngine_Reserve_ConcurrentCallersOneWinner(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s1", "14:00", "15:00")

	const callers = 32
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Reserve(context.Background(), input("s1", fmt.Sprintf("0300-%02d", i)))
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrSlotConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, conflicts)

	active, err := f.repos.Bookings.ListByCourtAndDate(context.Background(), day.CourtID, day.Date, domain.BookingStatusConfirmed)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestEngine_Reserve_DifferentSlotsInParallel(t *testing.T) {
	f := newFixture(t)
	for h := 10; h < 20; h++ {
		f.seed(t, fmt.Sprintf("s%d", h), fmt.Sprintf("%02d:00", h), fmt.Sprintf("%02d:00", h+1))
	}

	var wg sync.WaitGroup
	for h := 10; h < 20; h++ {
		wg.Add(1)
		go func(h int) {
			defer wg.Done()
			_, err := f.engine.Reserve(context.Background(), input(fmt.Sprintf("s%d", h), "0300"))
			assert.NoError(t, err)
		}(h)
	}
	wg.Wait()
}

func TestEngine_Reserve_Rejections(t *testing.T) {
	testCases := []struct {
		name    string
		prepare func(t *testing.T, f *fixture)
		input   ReserveInput
		wantErr error
	}{
		{
			name:    "missing phone",
			input:   ReserveInput{CourtID: "court-1", GameID: "futsal", TimeSlotID: "s1", TeamName: "x"},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "unknown slot",
			input:   ReserveInput{CourtID: "court-1", GameID: "futsal", TimeSlotID: "nope", TeamName: "x", PhoneNumber: "1"},
			wantErr: domain.ErrSlotNotFound,
		},
		{
			name:    "wrong court",
			prepare: func(t *testing.T, f *fixture) { f.seed(t, "s1", "14:00", "15:00") },
			input:   func() ReserveInput { in := input("s1", "0300"); in.CourtID = "court-2"; return in }(),
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "stale price",
			prepare: func(t *testing.T, f *fixture) { f.seed(t, "s1", "14:00", "15:00") },
			input:   func() ReserveInput { in := input("s1", "0300"); in.TotalPriceCents = 100; return in }(),
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name: "switched off by operator",
			prepare: func(t *testing.T, f *fixture) {
				f.seed(t, "s1", "14:00", "15:00")
				_, err := f.repos.Slots.SetAvailability(context.Background(), "s1", false)
				require.NoError(t, err)
			},
			input:   input("s1", "0300"),
			wantErr: domain.ErrSlotUnavailable,
		},
		{
			name: "in the past",
			prepare: func(t *testing.T, f *fixture) {
				f.seed(t, "s1", "08:00", "09:00")
			},
			input:   input("s1", "0300"),
			wantErr: domain.ErrSlotUnavailable,
		},
		{
			name: "already booked",
			prepare: func(t *testing.T, f *fixture) {
				f.seed(t, "s1", "14:00", "15:00")
				_, err := f.engine.Reserve(context.Background(), input("s1", "0311"))
				require.NoError(t, err)
			},
			input:   input("s1", "0300"),
			wantErr: domain.ErrSlotConflict,
		},
		{
			name: "unparsable times",
			prepare: func(t *testing.T, f *fixture) {
				f.seed(t, "s1", "2pm", "3pm")
			},
			input:   ReserveInput{CourtID: "court-1", GameID: "futsal", TimeSlotID: "s1", TeamName: "x", PhoneNumber: "1"},
			wantErr: domain.ErrSlotUnavailable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.prepare != nil {
				tc.prepare(t, f)
			}

			booking, err := f.engine.Reserve(context.Background(), tc.input)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Nil(t, booking)
		})
	}
}

func TestEngine_Reserve_BookedAndSwitchedOffIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s1", "14:00", "15:00")
	ctx := context.Background()

	_, err := f.engine.Reserve(ctx, input("s1", "0311"))
	require.NoError(t, err)
	_, err = f.repos.Slots.SetAvailability(ctx, "s1", false)
	require.NoError(t, err)

	_, err = f.engine.Reserve(ctx, input("s1", "0300"))
	assert.ErrorIs(t, err, domain.ErrSlotUnavailable)
}

func TestEngine_Reserve_MaterializesSynthesizedDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := slotgrid.SlotID(day, "14:00")

	booking, err := f.engine.Reserve(ctx, input(id, "0300"))
	require.NoError(t, err)
	assert.Equal(t, "14:00", booking.StartTime)
	assert.Equal(t, int64(3000), booking.TotalPriceCents)

	persisted, err := f.repos.Slots.ListByDay(ctx, day)
	require.NoError(t, err)
	assert.Len(t, persisted, 17)

	other, err := f.engine.Reserve(ctx, input(slotgrid.SlotID(day, "15:00"), "0311"))
	require.NoError(t, err)
	assert.Equal(t, "15:00", other.StartTime)

	_, err = f.engine.Reserve(ctx, input(id, "0322"))
	assert.ErrorIs(t, err, domain.ErrSlotConflict)
}

func TestEngine_Reserve_SynthesizedSlotRules(t *testing.T) {
	ctx := context.Background()

	t.Run("past slot is not persisted", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Reserve(ctx, input(slotgrid.SlotID(day, "07:00"), "0300"))
		assert.ErrorIs(t, err, domain.ErrSlotUnavailable)

		persisted, err := f.repos.Slots.ListByDay(ctx, day)
		require.NoError(t, err)
		assert.Empty(t, persisted)
	})

	t.Run("persisted day hides the grid", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "s1", "14:00", "15:00")

		_, err := f.engine.Reserve(ctx, input(slotgrid.SlotID(day, "16:00"), "0300"))
		assert.ErrorIs(t, err, domain.ErrSlotNotFound)
	})

	t.Run("unknown game", func(t *testing.T) {
		f := newFixture(t)
		in := input(slotgrid.SlotID(domain.SlotFilter{CourtID: "court-1", GameID: "cricket", Date: day.Date}, "14:00"), "0300")
		in.GameID = "cricket"

		_, err := f.engine.Reserve(ctx, in)
		assert.ErrorIs(t, err, domain.ErrSlotNotFound)
	})
}

func TestEngine_Cancel_Window(t *testing.T) {
	testCases := []struct {
		now     string
		wantErr error
	}{
		{now: "13:00"},
		{now: "13:29"},
		{now: "13:30", wantErr: domain.ErrCancellationWindowClosed},
		{now: "13:31", wantErr: domain.ErrCancellationWindowClosed},
		{now: "14:30", wantErr: domain.ErrCancellationWindowClosed},
	}

	for _, tc := range testCases {
		t.Run(tc.now, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "s1", "14:00", "15:00")
			booking, err := f.engine.Reserve(context.Background(), input("s1", "0300"))
			require.NoError(t, err)

			f.clock.Set(tc.now)
			_, err = f.engine.Cancel(context.Background(), booking.ID, nil)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEngine_Cancel_ReleasesSlot(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s1", "14:00", "15:00")
	ctx := context.Background()

	first, err := f.engine.Reserve(ctx, input("s1", "0300"))
	require.NoError(t, err)

	reason := "rain"
	f.clock.Set("12:00")
	cancelled, err := f.engine.Cancel(ctx, first.ID, &reason)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, f.clock.Now(), *cancelled.CancelledAt)

	slot, err := f.repos.Slots.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, slot.IsBooked)
	assert.Nil(t, slot.BookingID)

	stored, err := f.repos.Bookings.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, stored.Status)
	assert.Equal(t, "rain", *stored.CancellationReason)

	second, err := f.engine.Reserve(ctx, input("s1", "0311"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = f.engine.Cancel(ctx, first.ID, nil)
	assert.ErrorIs(t, err, domain.ErrBookingNotActive)
}

func TestEngine_Cancel_UnknownBooking(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Cancel(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestEngine_Cancel_SlotHeldByOtherBookingRollsBack(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s1", "14:00", "15:00")
	ctx := context.Background()

	booking, err := f.engine.Reserve(ctx, input("s1", "0300"))
	require.NoError(t, err)

	// simulate drift between the ledger and the slot
	ok, err := f.repos.Slots.CompareAndSetBooking(ctx, "s1", &booking.ID, nil)
	require.NoError(t, err)
	require.True(t, ok)
	other := "other"
	ok, err = f.repos.Slots.CompareAndSetBooking(ctx, "s1", nil, &other)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.engine.Cancel(ctx, booking.ID, nil)
	assert.ErrorIs(t, err, domain.ErrSlotConflict)

	stored, err := f.repos.Bookings.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, stored.Status)
}

func TestEngine_DetailsMatchesCancel(t *testing.T) {
	for minute := -45; minute <= 10; minute++ {
		f := newFixture(t)
		f.seed(t, "s1", "14:00", "15:00")
		ctx := context.Background()
		booking, err := f.engine.Reserve(ctx, input("s1", "0300"))
		require.NoError(t, err)

		start, _ := domain.Combine(day.Date, "14:00", time.UTC)
		f.clock.mu.Lock()
		f.clock.t = start.Add(time.Duration(minute) * time.Minute)
		f.clock.mu.Unlock()

		details, err := f.engine.Details(ctx, booking.ID)
		require.NoError(t, err)
		_, cancelErr := f.engine.Cancel(ctx, booking.ID, nil)

		assert.Equal(t, details.CanCancel, cancelErr == nil, "minute %d: %v", minute, cancelErr)
	}
}

func TestEngine_CompleteExpired_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s1", "14:00", "15:00")
	f.seed(t, "s2", "16:00", "17:00")
	ctx := context.Background()

	early, err := f.engine.Reserve(ctx, input("s1", "0300"))
	require.NoError(t, err)
	late, err := f.engine.Reserve(ctx, input("s2", "0311"))
	require.NoError(t, err)

	f.clock.Set("14:59")
	completed, err := f.engine.CompleteExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, completed)

	f.clock.Set("15:00")
	completed, err = f.engine.CompleteExpired(ctx)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, early.ID, completed[0].ID)
	assert.Equal(t, domain.BookingStatusCompleted, completed[0].Status)

	completed, err = f.engine.CompleteExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, completed)

	stored, err := f.repos.Bookings.GetByID(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, stored.Status)

	slot, err := f.repos.Slots.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, slot.IsBooked, "a completed booking keeps its slot")
}

func TestEngine_CompleteExpired_CompletedBookingCannotBeCancelled(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s1", "14:00", "15:00")
	ctx := context.Background()

	booking, err := f.engine.Reserve(ctx, input("s1", "0300"))
	require.NoError(t, err)

	f.clock.Set("16:00")
	_, err = f.engine.CompleteExpired(ctx)
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, booking.ID, nil)
	assert.ErrorIs(t, err, domain.ErrBookingNotActive)
}

func TestEngine_RetriesTransientStoreErrors(t *testing.T) {
	store := memory.NewStore()
	repos := store.Repositories()
	flaky := &flakySlots{SlotRepository: repos.Slots, failures: 2}
	_, err := repos.Slots.CreateBatch(context.Background(), []domain.TimeSlot{{
		ID: "s1", CourtID: day.CourtID, GameID: day.GameID, Date: day.Date,
		StartTime: "14:00", EndTime: "15:00", IsAvailable: true, PriceCents: 3000,
	}})
	require.NoError(t, err)

	clk := &clock{}
	clk.Set("09:00")
	newEngine := func(attempts int) *Engine {
		return NewEngine(flaky, repos.Tx, ledger.NewLedger(repos.Bookings),
			domain.NewCancellationPolicy(30*time.Minute, time.UTC), WithClock(clk.Now), WithRetry(attempts, 0))
	}

	_, err = newEngine(2).Reserve(context.Background(), input("s1", "0300"))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	flaky.calls = 0
	booking, err := newEngine(3).Reserve(context.Background(), input("s1", "0300"))
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, "s1", booking.TimeSlotID)
}

func TestEngine_RetryStopsOnCancelledContext(t *testing.T) {
	store := memory.NewStore()
	repos := store.Repositories()
	flaky := &flakySlots{SlotRepository: repos.Slots, failures: 100}
	engine := NewEngine(flaky, repos.Tx, ledger.NewLedger(repos.Bookings),
		domain.NewCancellationPolicy(30*time.Minute, time.UTC), WithRetry(100, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := engine.Reserve(ctx, input("s1", "0300"))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, flaky.calls)
}

func TestEngine_PublishesEventsAndInvalidatesCache(t *testing.T) {
	producer := &MockProducer{}
	cache := &MockCache{}
	f := newFixture(t, WithProducer(producer, "booking_events"), WithCache(cache))
	f.seed(t, "s1", "14:00", "15:00")
	ctx := context.Background()

	cache.On("InvalidateDay", mock.Anything, day).Return(nil)
	producer.On("PublishWithRetry", mock.Anything, "booking_events", mock.AnythingOfType("string"),
		mock.MatchedBy(func(e kafka.BookingEvent) bool { return e.Type == kafka.EventBookingReserved && e.SlotID == "s1" }), 3).
		Return(nil).Once()
	producer.On("PublishWithRetry", mock.Anything, "booking_events", mock.AnythingOfType("string"),
		mock.MatchedBy(func(e kafka.BookingEvent) bool { return e.Type == kafka.EventBookingCancelled }), 3).
		Return(errors.New("broker down")).Once()

	booking, err := f.engine.Reserve(ctx, input("s1", "0300"))
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, booking.ID, nil)
	require.NoError(t, err, "publish failures never undo a committed transition")

	producer.AssertExpectations(t)
	cache.AssertNumberOfCalls(t, "InvalidateDay", 2)
}

func TestEngine_PublishAttemptsAreConfigurable(t *testing.T) {
	producer := &MockProducer{}
	f := newFixture(t, WithProducer(producer, "booking_events"), WithPublishAttempts(5))
	f.seed(t, "s1", "14:00", "15:00")

	producer.On("PublishWithRetry", mock.Anything, "booking_events", mock.AnythingOfType("string"), mock.Anything, 5).
		Return(nil).Once()

	_, err := f.engine.Reserve(context.Background(), input("s1", "0300"))
	require.NoError(t, err)
	producer.AssertExpectations(t)

	assert.Equal(t, 1, NewEngine(nil, nil, nil, domain.CancellationPolicy{}, WithPublishAttempts(0)).attempts)
}

func TestEngine_DaySlotsAndWatch(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s2", "15:00", "16:00")
	f.seed(t, "s1", "14:00", "15:00")

	slots, err := f.engine.DaySlots(context.Background(), day)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "s1", slots[0].ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed, err := f.engine.WatchDay(ctx, day)
	require.NoError(t, err)

	snap := <-feed
	assert.Len(t, snap, 2)
}
