package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	dayA = domain.SlotFilter{CourtID: "court-1", GameID: "futsal", Date: "2026-11-20"}
	dayB = domain.SlotFilter{CourtID: "court-1", GameID: "cricket", Date: "2026-11-20"}
)

type fakeListener struct {
	notes     chan *pgconn.Notification
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeListener() *fakeListener {
	return &fakeListener{notes: make(chan *pgconn.Notification, 8), closed: make(chan struct{})}
}

func (f *fakeListener) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (f *fakeListener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n, ok := <-f.notes:
		if !ok {
			return nil, errors.New("connection reset")
		}
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeListener) Close(ctx context.Context) error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// fakeDB hands out listeners and serves days whose booked flag the test controls.
type fakeDB struct {
	mu        sync.Mutex
	listeners []*fakeListener
	booked    map[string]bool
}

func newFakeDB() *fakeDB {
	return &fakeDB{booked: make(map[string]bool)}
}

func (d *fakeDB) connect(ctx context.Context) (notificationConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := newFakeListener()
	d.listeners = append(d.listeners, l)
	return l, nil
}

func (d *fakeDB) load(ctx context.Context, f domain.SlotFilter) ([]domain.TimeSlot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return []domain.TimeSlot{{ID: f.String() + "/14:00", CourtID: f.CourtID, GameID: f.GameID, Date: f.Date, IsBooked: d.booked[f.String()]}}, nil
}

func (d *fakeDB) setBooked(f domain.SlotFilter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.booked[f.String()] = true
}

func (d *fakeDB) connections() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

func (d *fakeDB) listener(i int) *fakeListener {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listeners[i]
}

func waitBooked(t *testing.T, feed <-chan []domain.TimeSlot) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap, ok := <-feed:
			require.True(t, ok, "feed closed early")
			if len(snap) == 1 && snap[0].IsBooked {
				return
			}
		case <-deadline:
			t.Fatal("booked snapshot never arrived")
		}
	}
}

func TestSlotHub_SharesOneListener(t *testing.T) {
	db := newFakeDB()
	hub := newSlotHub(db.connect, db.load, 10, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a1, err := hub.subscribe(ctx, dayA)
	require.NoError(t, err)
	a2, err := hub.subscribe(ctx, dayA)
	require.NoError(t, err)
	b, err := hub.subscribe(ctx, dayB)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return db.connections() == 1 }, time.Second, 10*time.Millisecond)

	db.setBooked(dayA)
	db.listener(0).notes <- &pgconn.Notification{Channel: slotsChannel, Payload: dayA.String()}

	waitBooked(t, a1)
	waitBooked(t, a2)

	// the other day never saw a booking
	timeout := time.After(100 * time.Millisecond)
	for done := false; !done; {
		select {
		case snap := <-b:
			require.Len(t, snap, 1)
			assert.False(t, snap[0].IsBooked)
		case <-timeout:
			done = true
		}
	}
	assert.Equal(t, 1, db.connections(), "watchers share the listener")
}

func TestSlotHub_LimitsWatchers(t *testing.T) {
	db := newFakeDB()
	hub := newSlotHub(db.connect, db.load, 2, zap.NewNop())
	ctx := context.Background()

	first, cancelFirst := context.WithCancel(ctx)
	_, err := hub.subscribe(first, dayA)
	require.NoError(t, err)

	second, cancelSecond := context.WithCancel(ctx)
	defer cancelSecond()
	_, err = hub.subscribe(second, dayB)
	require.NoError(t, err)

	_, err = hub.subscribe(ctx, dayA)
	assert.ErrorIs(t, err, domain.ErrTooManySubscribers)

	cancelFirst()
	require.Eventually(t, func() bool { return hub.watchers() == 1 }, time.Second, 10*time.Millisecond)

	third, cancelThird := context.WithCancel(ctx)
	defer cancelThird()
	_, err = hub.subscribe(third, dayA)
	assert.NoError(t, err)
}

func TestSlotHub_ReleasesListenerWhenIdle(t *testing.T) {
	db := newFakeDB()
	hub := newSlotHub(db.connect, db.load, 10, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	feed, err := hub.subscribe(ctx, dayA)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return db.connections() == 1 }, time.Second, 10*time.Millisecond)

	cancel()

	select {
	case <-db.listener(0).closed:
	case <-time.After(2 * time.Second):
		t.Fatal("listener still open without watchers")
	}

	closed := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-feed:
			if !open {
				return
			}
		case <-closed:
			t.Fatal("feed not closed after cancel")
		}
	}
}

func TestSlotHub_ReconnectRefreshesWatchers(t *testing.T) {
	db := newFakeDB()
	hub := newSlotHub(db.connect, db.load, 10, zap.NewNop())
	hub.retry = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed, err := hub.subscribe(ctx, dayA)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return db.connections() == 1 }, time.Second, 10*time.Millisecond)

	// the change happens while the listener is down, so no notification is seen
	db.setBooked(dayA)
	close(db.listener(0).notes)

	waitBooked(t, feed)
	require.Eventually(t, func() bool { return db.connections() == 2 }, 2*time.Second, 10*time.Millisecond)
}
