// Package reservation moves slots and bookings through their lifecycle.
// Every transition that touches a slot's booking fields is a conditional update
// against the store, so concurrent callers on the same slot are serialized by
// the store and callers on different slots never contend.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/Domenick1991/courtbooking/internal/kafka"
	"github.com/Domenick1991/courtbooking/internal/repository"
	"github.com/Domenick1991/courtbooking/internal/service/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ReservationUseCase interface {
	Reserve(ctx context.Context, input ReserveInput) (*domain.Booking, error)
	Cancel(ctx context.Context, bookingID string, reason *string) (*domain.Booking, error)
	CompleteExpired(ctx context.Context) ([]domain.Booking, error)
	Details(ctx context.Context, bookingID string) (*domain.BookingDetails, error)
	DaySlots(ctx context.Context, filter domain.SlotFilter) ([]domain.TimeSlot, error)
	WatchDay(ctx context.Context, filter domain.SlotFilter) (<-chan []domain.TimeSlot, error)
}

// Planner synthesizes the default slots of a day that has none persisted.
type Planner interface {
	Day(ctx context.Context, filter domain.SlotFilter) ([]domain.TimeSlot, error)
}

// Producer publishes booking events, giving up after attempts tries.
type Producer interface {
	PublishWithRetry(ctx context.Context, topic, key string, value interface{}, attempts int) error
}

const defaultPublishAttempts = 3

type Cache interface {
	InvalidateDay(ctx context.Context, filter domain.SlotFilter) error
}

// ReserveInput is what a caller submits to reserve a slot. CourtName and GameName are
// display copies. Date, times and price are optional; when given they must match the slot.
type ReserveInput struct {
	CourtID         string `json:"courtId"`
	CourtName       string `json:"courtName"`
	GameID          string `json:"gameId"`
	GameName        string `json:"gameName"`
	TimeSlotID      string `json:"timeSlotId"`
	TeamName        string `json:"teamName"`
	PhoneNumber     string `json:"phoneNumber"`
	Date            string `json:"date"`
	StartTime       string `json:"startTime"`
	EndTime         string `json:"endTime"`
	TotalPriceCents int64  `json:"totalPrice"`
}

func (in ReserveInput) validate() error {
	switch {
	case in.CourtID == "":
		return fmt.Errorf("%w: courtId is required", domain.ErrInvalidRequest)
	case in.GameID == "":
		return fmt.Errorf("%w: gameId is required", domain.ErrInvalidRequest)
	case in.TimeSlotID == "":
		return fmt.Errorf("%w: timeSlotId is required", domain.ErrInvalidRequest)
	case in.TeamName == "":
		return fmt.Errorf("%w: teamName is required", domain.ErrInvalidRequest)
	case in.PhoneNumber == "":
		return fmt.Errorf("%w: phoneNumber is required", domain.ErrInvalidRequest)
	}
	return nil
}

// matches rejects a request whose ids or echoed slot data disagree with the stored slot.
func (in ReserveInput) matches(slot *domain.TimeSlot) error {
	if slot.CourtID != in.CourtID || slot.GameID != in.GameID {
		return fmt.Errorf("%w: slot %s belongs to court %s game %s", domain.ErrInvalidRequest, slot.ID, slot.CourtID, slot.GameID)
	}
	if in.Date != "" && in.Date != slot.Date ||
		in.StartTime != "" && in.StartTime != slot.StartTime ||
		in.EndTime != "" && in.EndTime != slot.EndTime {
		return fmt.Errorf("%w: slot %s is %s %s-%s", domain.ErrInvalidRequest, slot.ID, slot.Date, slot.StartTime, slot.EndTime)
	}
	if in.TotalPriceCents != 0 && in.TotalPriceCents != slot.PriceCents {
		return fmt.Errorf("%w: slot %s costs %d", domain.ErrInvalidRequest, slot.ID, slot.PriceCents)
	}
	return nil
}

type Engine struct {
	slots  repository.SlotRepository
	tx     repository.TxManager
	ledger ledger.LedgerUseCase
	policy domain.CancellationPolicy

	planner  Planner
	producer Producer
	topic    string
	attempts int
	cache    Cache
	now      func() time.Time
	retry    retryPolicy
	logger   *zap.Logger
}

type Option func(*Engine)

func WithPlanner(p Planner) Option {
	return func(e *Engine) {
		e.planner = p
	}
}

func WithProducer(p Producer, topic string) Option {
	return func(e *Engine) {
		e.producer = p
		e.topic = topic
	}
}

// WithPublishAttempts bounds the tries of each booking event. Values below one mean one.
func WithPublishAttempts(n int) Option {
	return func(e *Engine) {
		e.attempts = max(n, 1)
	}
}

func WithCache(c Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithRetry(attempts int, backoff time.Duration) Option {
	return func(e *Engine) {
		e.retry = retryPolicy{attempts: attempts, backoff: backoff}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

func NewEngine(
	slots repository.SlotRepository,
	tx repository.TxManager,
	bookings ledger.LedgerUseCase,
	policy domain.CancellationPolicy,
	opts ...Option,
) *Engine {
	e := &Engine{
		slots:    slots,
		tx:       tx,
		ledger:   bookings,
		policy:   policy,
		now:      time.Now,
		attempts: defaultPublishAttempts,
		retry:    retryPolicy{attempts: 3, backoff: 100 * time.Millisecond},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reserve claims an available slot for a new confirmed booking. The slot write and the
// booking insert commit together. Losing the race to another caller yields ErrSlotConflict;
// the engine never retries a conflict.
func (e *Engine) Reserve(ctx context.Context, input ReserveInput) (*domain.Booking, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	var booking *domain.Booking
	err := e.retry.do(ctx, e.logger, "reserve", func(ctx context.Context) error {
		b, err := e.reserve(ctx, input)
		booking = b
		return err
	})
	if err != nil {
		e.logger.Info("reservation rejected",
			zap.String("slot_id", input.TimeSlotID), zap.String("court_id", input.CourtID), zap.Error(err))
		return nil, err
	}

	e.logger.Info("slot reserved", zap.String("slot_id", booking.TimeSlotID), zap.String("booking_id", booking.ID))
	e.afterCommit(ctx, kafka.EventBookingReserved, booking)
	return booking, nil
}

func (e *Engine) reserve(ctx context.Context, input ReserveInput) (*domain.Booking, error) {
	slot, err := e.loadSlot(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := input.matches(slot); err != nil {
		return nil, err
	}

	now := e.now()
	switch status := domain.ResolveStatus(*slot, now, e.policy.Location); status {
	case domain.SlotStatusBooked:
		return nil, fmt.Errorf("%w: slot %s is already booked", domain.ErrSlotConflict, slot.ID)
	case domain.SlotStatusUnavailable, domain.SlotStatusPast:
		return nil, fmt.Errorf("%w: slot %s is %s", domain.ErrSlotUnavailable, slot.ID, status)
	}

	booking := &domain.Booking{
		ID:              uuid.NewString(),
		CourtID:         slot.CourtID,
		CourtName:       input.CourtName,
		GameID:          slot.GameID,
		GameName:        input.GameName,
		TimeSlotID:      slot.ID,
		TeamName:        input.TeamName,
		PhoneNumber:     input.PhoneNumber,
		Date:            slot.Date,
		StartTime:       slot.StartTime,
		EndTime:         slot.EndTime,
		TotalPriceCents: slot.PriceCents,
		CreatedAt:       now,
	}

	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := e.slots.CompareAndSetBooking(ctx, slot.ID, nil, &booking.ID)
		if err != nil {
			return err
		}
		if !ok {
			return e.lostRace(ctx, slot.ID)
		}
		_, err = e.ledger.Record(ctx, booking)
		return err
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// loadSlot reads a persisted slot. A synthesized slot of a day with nothing persisted is
// persisted together with the rest of its day before it can be claimed.
func (e *Engine) loadSlot(ctx context.Context, input ReserveInput) (*domain.TimeSlot, error) {
	slot, err := e.slots.GetByID(ctx, input.TimeSlotID)
	if err == nil || !errors.Is(err, domain.ErrSlotNotFound) || e.planner == nil || input.Date == "" {
		return slot, err
	}

	day := domain.SlotFilter{CourtID: input.CourtID, GameID: input.GameID, Date: input.Date}
	persisted, err := e.slots.ListByDay(ctx, day)
	if err != nil {
		return nil, err
	}
	if len(persisted) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrSlotNotFound, input.TimeSlotID)
	}

	grid, err := e.planner.Day(ctx, day)
	if err != nil {
		if errors.Is(err, domain.ErrGameNotFound) {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrSlotNotFound, input.TimeSlotID, err)
		}
		return nil, err
	}
	synthesized := findSlot(grid, input.TimeSlotID)
	if synthesized == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSlotNotFound, input.TimeSlotID)
	}
	// nothing is persisted for a slot that could not be claimed anyway
	if status := domain.ResolveStatus(*synthesized, e.now(), e.policy.Location); status != domain.SlotStatusAvailable {
		return nil, fmt.Errorf("%w: slot %s is %s", domain.ErrSlotUnavailable, synthesized.ID, status)
	}

	n, err := e.slots.CreateBatch(ctx, grid)
	if err != nil {
		return nil, err
	}
	e.logger.Info("materialized day", zap.String("court_id", day.CourtID), zap.String("day", day.String()), zap.Int("created", n))
	e.invalidate(ctx, day)

	return e.slots.GetByID(ctx, input.TimeSlotID)
}

func findSlot(slots []domain.TimeSlot, id string) *domain.TimeSlot {
	for i := range slots {
		if slots[i].ID == id {
			return &slots[i]
		}
	}
	return nil
}

// lostRace explains a failed conditional update from the slot's current state.
func (e *Engine) lostRace(ctx context.Context, slotID string) error {
	current, err := e.slots.GetByID(ctx, slotID)
	if err != nil {
		return err
	}
	if !current.IsAvailable && !current.IsBooked {
		return fmt.Errorf("%w: slot %s was switched off", domain.ErrSlotUnavailable, slotID)
	}
	return fmt.Errorf("%w: slot %s was booked by another request", domain.ErrSlotConflict, slotID)
}

// Cancel releases the slot of a confirmed booking. The same policy decides
// BookingDetails.CanCancel, so the hint and the enforcement never disagree.
func (e *Engine) Cancel(ctx context.Context, bookingID string, reason *string) (*domain.Booking, error) {
	var cancelled *domain.Booking
	err := e.retry.do(ctx, e.logger, "cancel", func(ctx context.Context) error {
		b, err := e.cancel(ctx, bookingID, reason)
		cancelled = b
		return err
	})
	if err != nil {
		e.logger.Info("cancellation rejected", zap.String("booking_id", bookingID), zap.Error(err))
		return nil, err
	}

	e.logger.Info("booking cancelled", zap.String("booking_id", bookingID), zap.String("slot_id", cancelled.TimeSlotID))
	e.afterCommit(ctx, kafka.EventBookingCancelled, cancelled)
	return cancelled, nil
}

func (e *Engine) cancel(ctx context.Context, bookingID string, reason *string) (*domain.Booking, error) {
	booking, err := e.ledger.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if err := e.policy.Check(*booking, now); err != nil {
		return nil, err
	}

	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := e.ledger.MarkCancelled(ctx, booking.ID, reason, now); err != nil {
			return err
		}
		ok, err := e.slots.CompareAndSetBooking(ctx, booking.TimeSlotID, &booking.ID, nil)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: slot %s is not held by booking %s", domain.ErrSlotConflict, booking.TimeSlotID, booking.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	booking.Status = domain.BookingStatusCancelled
	booking.CancelledAt = &now
	booking.CancellationReason = reason
	return booking, nil
}

// CompleteExpired marks confirmed bookings whose end time has passed as completed and
// returns the ones this call moved. Each booking is settled on its own, so one failure
// does not stop the rest. Running it again completes nothing new.
func (e *Engine) CompleteExpired(ctx context.Context) ([]domain.Booking, error) {
	now := e.now()
	today := now.In(e.policy.Location).Format(domain.DateLayout)

	var candidates []domain.Booking
	err := e.retry.do(ctx, e.logger, "list expired", func(ctx context.Context) error {
		var err error
		candidates, err = e.ledger.ListConfirmedUntil(ctx, today)
		return err
	})
	if err != nil {
		return nil, err
	}

	var completed []domain.Booking
	var errs []error
	for _, b := range candidates {
		end, err := b.EndsAt(e.policy.Location)
		if err != nil {
			e.logger.Warn("skipping booking with unreadable end time", zap.String("booking_id", b.ID), zap.Error(err))
			continue
		}
		if now.Before(end) {
			continue
		}

		var changed bool
		err = e.retry.do(ctx, e.logger, "complete", func(ctx context.Context) error {
			var err error
			changed, err = e.ledger.MarkCompleted(ctx, b.ID)
			return err
		})
		switch {
		case errors.Is(err, domain.ErrBookingNotActive):
			// settled by a concurrent cancel
			e.logger.Info("booking settled elsewhere", zap.String("booking_id", b.ID), zap.Error(err))
			continue
		case err != nil:
			e.logger.Error("failed to complete booking", zap.String("booking_id", b.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("complete booking %s: %w", b.ID, err))
			continue
		case !changed:
			continue
		}

		b.Status = domain.BookingStatusCompleted
		completed = append(completed, b)
		e.afterCommit(ctx, kafka.EventBookingCompleted, &b)
	}

	if len(completed) > 0 {
		e.logger.Info("completed expired bookings", zap.Int("count", len(completed)))
	}
	return completed, errors.Join(errs...)
}

func (e *Engine) Details(ctx context.Context, bookingID string) (*domain.BookingDetails, error) {
	booking, err := e.ledger.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	details := e.policy.Details(*booking, e.now())
	return &details, nil
}

// DaySlots returns the persisted slots of a day.
func (e *Engine) DaySlots(ctx context.Context, filter domain.SlotFilter) ([]domain.TimeSlot, error) {
	var slots []domain.TimeSlot
	err := e.retry.do(ctx, e.logger, "list slots", func(ctx context.Context) error {
		var err error
		slots, err = e.slots.ListByDay(ctx, filter)
		return err
	})
	return slots, err
}

func (e *Engine) WatchDay(ctx context.Context, filter domain.SlotFilter) (<-chan []domain.TimeSlot, error) {
	return e.slots.Watch(ctx, filter)
}

// afterCommit runs the best-effort side effects of a committed transition.
// Failures are logged; the transition itself already happened.
func (e *Engine) afterCommit(ctx context.Context, eventType string, b *domain.Booking) {
	day := domain.SlotFilter{CourtID: b.CourtID, GameID: b.GameID, Date: b.Date}
	e.invalidate(ctx, day)

	if e.producer == nil || e.topic == "" {
		return
	}
	event := kafka.NewBookingEvent(eventType, b, e.now())
	if err := e.producer.PublishWithRetry(ctx, e.topic, b.ID, event, e.attempts); err != nil {
		e.logger.Error("failed to publish booking event",
			zap.String("type", eventType), zap.String("booking_id", b.ID), zap.Error(err))
	}
}

func (e *Engine) invalidate(ctx context.Context, day domain.SlotFilter) {
	if e.cache == nil {
		return
	}
	if err := e.cache.InvalidateDay(ctx, day); err != nil {
		e.logger.Warn("failed to invalidate slots cache", zap.String("day", day.String()), zap.Error(err))
	}
}

var _ ReservationUseCase = (*Engine)(nil)
