package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// slotsChannel is notified by the time_slots trigger with "court/game/date".
const slotsChannel = "time_slots_changed"

const (
	DefaultMaxWatchers = 256

	watchRetryMin   = 200 * time.Millisecond
	watchRetryMax   = 10 * time.Second
	snapshotTimeout = 5 * time.Second
)

// notificationConn is the part of *pgx.Conn the hub listens on.
type notificationConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

type subscriber struct {
	out       chan []domain.TimeSlot
	delivered bool
}

type watchGroup struct {
	filter domain.SlotFilter
	subs   map[int]*subscriber
}

// slotHub shares one LISTEN connection, opened outside the pool, between all watchers of
// a repository. Each notification costs one snapshot query per watched day, whatever the
// number of watchers of that day. The connection is held only while someone watches.
type slotHub struct {
	connect func(ctx context.Context) (notificationConn, error)
	load    func(ctx context.Context, filter domain.SlotFilter) ([]domain.TimeSlot, error)
	max     int
	retry   time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	groups map[string]*watchGroup
	nextID int
	count  int
	cancel context.CancelFunc
}

func newSlotHub(
	connect func(ctx context.Context) (notificationConn, error),
	load func(ctx context.Context, filter domain.SlotFilter) ([]domain.TimeSlot, error),
	limit int,
	logger *zap.Logger,
) *slotHub {
	if limit <= 0 {
		limit = DefaultMaxWatchers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &slotHub{
		connect: connect,
		load:    load,
		max:     limit,
		retry:   watchRetryMin,
		logger:  logger,
		groups:  make(map[string]*watchGroup),
	}
}

func (h *slotHub) subscribe(ctx context.Context, filter domain.SlotFilter) (<-chan []domain.TimeSlot, error) {
	key := filter.String()

	h.mu.Lock()
	if h.count >= h.max {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: limit of %d reached", domain.ErrTooManySubscribers, h.max)
	}
	g, ok := h.groups[key]
	if !ok {
		g = &watchGroup{filter: filter, subs: make(map[int]*subscriber)}
		h.groups[key] = g
	}
	id := h.nextID
	h.nextID++
	sub := &subscriber{out: make(chan []domain.TimeSlot, 1)}
	g.subs[id] = sub
	h.count++
	if h.cancel == nil {
		runCtx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		go h.run(runCtx)
	}
	h.mu.Unlock()

	go func() {
		h.first(ctx, key, id, sub)
		<-ctx.Done()
		h.unsubscribe(key, id)
	}()
	return sub.out, nil
}

// first sends the opening snapshot unless a notification already delivered a newer one.
func (h *slotHub) first(ctx context.Context, key string, id int, sub *subscriber) {
	h.mu.Lock()
	g, ok := h.groups[key]
	h.mu.Unlock()
	if !ok {
		return
	}

	slots, err := h.snapshot(ctx, g.filter)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if g, ok := h.groups[key]; ok && g.subs[id] == sub && !sub.delivered {
		sub.delivered = true
		SendLatest(ctx, sub.out, slots)
	}
}

func (h *slotHub) unsubscribe(key string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[key]
	if !ok {
		return
	}
	sub, ok := g.subs[id]
	if !ok {
		return
	}
	delete(g.subs, id)
	close(sub.out)
	if len(g.subs) == 0 {
		delete(h.groups, key)
	}
	h.count--
	if h.count == 0 && h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *slotHub) run(ctx context.Context) {
	backoff := h.retry
	for {
		listener, err := h.listen(ctx)
		if err == nil {
			backoff = h.retry
			// anything that changed before LISTEN took effect produced no notification
			h.refreshAll(ctx)
			err = h.dispatch(ctx, listener)
			closeListener(listener)
		}
		if ctx.Err() != nil {
			return
		}

		h.logger.Warn("slot watch lost its listener, reconnecting", zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, watchRetryMax)
	}
}

func (h *slotHub) listen(ctx context.Context) (notificationConn, error) {
	c, err := h.connect(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := c.Exec(ctx, "LISTEN "+slotsChannel); err != nil {
		closeListener(c)
		return nil, storeError("listen", err)
	}
	return c, nil
}

func closeListener(c notificationConn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.Close(ctx)
}

func (h *slotHub) dispatch(ctx context.Context, listener notificationConn) error {
	for {
		n, err := listener.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if n.Channel == slotsChannel {
			h.deliver(ctx, n.Payload)
		}
	}
}

func (h *slotHub) refreshAll(ctx context.Context) {
	h.mu.Lock()
	keys := make([]string, 0, len(h.groups))
	for key := range h.groups {
		keys = append(keys, key)
	}
	h.mu.Unlock()

	for _, key := range keys {
		h.deliver(ctx, key)
	}
}

func (h *slotHub) deliver(ctx context.Context, key string) {
	h.mu.Lock()
	g, ok := h.groups[key]
	h.mu.Unlock()
	if !ok {
		return
	}

	slots, err := h.snapshot(ctx, g.filter)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if g, ok = h.groups[key]; !ok {
		return
	}
	for _, sub := range g.subs {
		sub.delivered = true
		SendLatest(ctx, sub.out, slices.Clone(slots))
	}
}

// snapshot reads the day with a bounded wait so a busy pool never stalls the feed.
func (h *slotHub) snapshot(ctx context.Context, filter domain.SlotFilter) ([]domain.TimeSlot, error) {
	qctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	slots, err := h.load(qctx, filter)
	if err != nil && ctx.Err() == nil {
		// the next notification or reconnect produces a fresh snapshot
		h.logger.Warn("slot watch snapshot failed", zap.String("filter", filter.String()), zap.Error(err))
	}
	return slots, err
}

func (h *slotHub) watchers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Watch streams the day through the repository's shared listener.
func (r *PGSlotRepository) Watch(ctx context.Context, filter domain.SlotFilter) (<-chan []domain.TimeSlot, error) {
	return r.hub.subscribe(ctx, filter)
}

func (r *PGSlotRepository) dialListener(ctx context.Context) (notificationConn, error) {
	c, err := pgx.ConnectConfig(ctx, r.db.Config().ConnConfig)
	if err != nil {
		return nil, storeError("connect listener", err)
	}
	return c, nil
}

func (r *PGSlotRepository) loadDay(ctx context.Context, filter domain.SlotFilter) ([]domain.TimeSlot, error) {
	return r.listByDay(ctx, r.db, filter)
}
