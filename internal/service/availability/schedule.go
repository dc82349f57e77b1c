package availability

import (
	"context"
	"fmt"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/Domenick1991/courtbooking/internal/repository"
	"go.uber.org/zap"
)

// ScheduleUseCase holds the operator actions on a day's slots. None of them touch the
// booking fields of a slot.
type ScheduleUseCase interface {
	GenerateDay(ctx context.Context, filter domain.SlotFilter) (int, error)
	SetAvailability(ctx context.Context, slotID string, available bool) (*domain.TimeSlot, error)
	DeleteUnbookedDay(ctx context.Context, filter domain.SlotFilter) (int, error)
}

type Schedule struct {
	slots   repository.SlotRepository
	planner Planner
	cache   Invalidator
	logger  *zap.Logger
}

func NewSchedule(slots repository.SlotRepository, planner Planner, cache Invalidator, logger *zap.Logger) *Schedule {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Schedule{slots: slots, planner: planner, cache: cache, logger: logger}
}

// GenerateDay persists the default grid of a day. Slots that already exist are kept as they are.
func (s *Schedule) GenerateDay(ctx context.Context, filter domain.SlotFilter) (int, error) {
	if err := validateFilter(filter); err != nil {
		return 0, err
	}
	if s.planner == nil {
		return 0, fmt.Errorf("%w: no schedule configured", domain.ErrInvalidRequest)
	}

	grid, err := s.planner.Day(ctx, filter)
	if err != nil {
		return 0, err
	}
	created, err := s.slots.CreateBatch(ctx, grid)
	if err != nil {
		return 0, err
	}

	s.logger.Info("generated day", zap.String("court_id", filter.CourtID), zap.String("day", filter.String()), zap.Int("created", created))
	s.invalidate(ctx, filter)
	return created, nil
}

func (s *Schedule) SetAvailability(ctx context.Context, slotID string, available bool) (*domain.TimeSlot, error) {
	if slotID == "" {
		return nil, fmt.Errorf("%w: slot id is required", domain.ErrInvalidRequest)
	}
	slot, err := s.slots.SetAvailability(ctx, slotID, available)
	if err != nil {
		return nil, err
	}

	s.logger.Info("slot availability changed", zap.String("slot_id", slotID), zap.Bool("available", available))
	s.invalidate(ctx, slot.Filter())
	return slot, nil
}

// DeleteUnbookedDay removes the unbooked slots of a day and reports how many went.
// Booked slots stay.
func (s *Schedule) DeleteUnbookedDay(ctx context.Context, filter domain.SlotFilter) (int, error) {
	if err := validateFilter(filter); err != nil {
		return 0, err
	}
	deleted, err := s.slots.DeleteUnbooked(ctx, filter)
	if err != nil {
		return 0, err
	}

	s.logger.Info("deleted unbooked slots", zap.String("day", filter.String()), zap.Int("deleted", deleted))
	s.invalidate(ctx, filter)
	return deleted, nil
}

func (s *Schedule) invalidate(ctx context.Context, filter domain.SlotFilter) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateDay(ctx, filter); err != nil {
		s.logger.Warn("failed to invalidate slots cache", zap.String("day", filter.String()), zap.Error(err))
	}
}

var _ ScheduleUseCase = (*Schedule)(nil)
