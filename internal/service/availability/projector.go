package availability

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/Domenick1991/courtbooking/internal/repository"
	"go.uber.org/zap"
)

// SlotView is a slot together with the status it has at the instant it was projected.
type SlotView struct {
	Slot   domain.TimeSlot
	Status domain.SlotStatus
}

type AvailabilityUseCase interface {
	Project(ctx context.Context, filter domain.SlotFilter, now time.Time) ([]SlotView, error)
	Watch(ctx context.Context, filter domain.SlotFilter) (<-chan []SlotView, error)
}

// SlotReader is the read path of the reservation engine.
type SlotReader interface {
	DaySlots(ctx context.Context, filter domain.SlotFilter) ([]domain.TimeSlot, error)
	WatchDay(ctx context.Context, filter domain.SlotFilter) (<-chan []domain.TimeSlot, error)
}

type Planner interface {
	Day(ctx context.Context, filter domain.SlotFilter) ([]domain.TimeSlot, error)
}

type Invalidator interface {
	InvalidateDay(ctx context.Context, filter domain.SlotFilter) error
}

// Cache keeps persisted day lists under a per-day version that InvalidateDay advances.
type Cache interface {
	Invalidator
	Version(ctx context.Context, filter domain.SlotFilter) (int64, error)
	GetSlots(ctx context.Context, filter domain.SlotFilter, version int64) ([]domain.TimeSlot, bool, error)
	SetSlots(ctx context.Context, filter domain.SlotFilter, version int64, slots []domain.TimeSlot) error
}

type Projector struct {
	reader  SlotReader
	planner Planner
	cache   Cache
	loc     *time.Location
	now     func() time.Time
	logger  *zap.Logger
}

type Option func(*Projector)

func WithPlanner(p Planner) Option {
	return func(pr *Projector) {
		pr.planner = p
	}
}

func WithCache(c Cache) Option {
	return func(pr *Projector) {
		pr.cache = c
	}
}

func WithLocation(loc *time.Location) Option {
	return func(pr *Projector) {
		pr.loc = loc
	}
}

func WithClock(now func() time.Time) Option {
	return func(pr *Projector) {
		pr.now = now
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(pr *Projector) {
		pr.logger = l
	}
}

func NewProjector(reader SlotReader, opts ...Option) *Projector {
	p := &Projector{
		reader: reader,
		loc:    time.UTC,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Project lists the slots of a day ordered by start time. A day with nothing persisted is
// shown as the default grid, unless the day is already over. Synthesized slots are not
// stored until one of them is reserved.
func (p *Projector) Project(ctx context.Context, filter domain.SlotFilter, now time.Time) ([]SlotView, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	slots, err := p.persisted(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		if slots, err = p.synthesize(ctx, filter, now); err != nil {
			return nil, err
		}
	}
	return p.resolve(slots, now), nil
}

// Watch pushes a freshly resolved view of the day whenever the day changes. A slow reader
// only ever sees the newest view. The channel closes when ctx is done.
func (p *Projector) Watch(ctx context.Context, filter domain.SlotFilter) (<-chan []SlotView, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	feed, err := p.reader.WatchDay(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make(chan []SlotView, 1)
	go func() {
		defer close(out)
		var grid []domain.TimeSlot
		for snap := range feed {
			now := p.now()
			if len(snap) == 0 {
				if grid == nil {
					var err error
					grid, err = p.synthesize(ctx, filter, now)
					if err != nil {
						p.logger.Warn("failed to synthesize day for watcher", zap.String("day", filter.String()), zap.Error(err))
					}
				}
				snap = grid
			}
			if !repository.SendLatest(ctx, out, p.resolve(snap, now)) {
				return
			}
		}
	}()
	return out, nil
}

func (p *Projector) persisted(ctx context.Context, filter domain.SlotFilter) ([]domain.TimeSlot, error) {
	if p.cache == nil {
		return p.reader.DaySlots(ctx, filter)
	}

	// The version is read before the store so that a fill racing an invalidation lands
	// under a version nobody reads any more.
	version, err := p.cache.Version(ctx, filter)
	if err != nil {
		p.logger.Warn("slots cache read failed", zap.String("day", filter.String()), zap.Error(err))
		return p.reader.DaySlots(ctx, filter)
	}

	slots, ok, err := p.cache.GetSlots(ctx, filter, version)
	if err != nil {
		p.logger.Warn("slots cache read failed", zap.String("day", filter.String()), zap.Error(err))
	} else if ok {
		return slots, nil
	}

	slots, err = p.reader.DaySlots(ctx, filter)
	if err != nil {
		return nil, err
	}
	if err := p.cache.SetSlots(ctx, filter, version, slots); err != nil {
		p.logger.Warn("slots cache write failed", zap.String("day", filter.String()), zap.Error(err))
	}
	return slots, nil
}

func (p *Projector) synthesize(ctx context.Context, filter domain.SlotFilter, now time.Time) ([]domain.TimeSlot, error) {
	if p.planner == nil || filter.Date < now.In(p.loc).Format(domain.DateLayout) {
		return []domain.TimeSlot{}, nil
	}
	return p.planner.Day(ctx, filter)
}

func (p *Projector) resolve(slots []domain.TimeSlot, now time.Time) []SlotView {
	views := make([]SlotView, 0, len(slots))
	for _, s := range slots {
		views = append(views, SlotView{Slot: s, Status: domain.ResolveStatus(s, now, p.loc)})
	}
	slices.SortStableFunc(views, func(a, b SlotView) int {
		return cmp.Or(cmp.Compare(a.Slot.StartTime, b.Slot.StartTime), cmp.Compare(a.Slot.ID, b.Slot.ID))
	})
	return views
}

func validateFilter(f domain.SlotFilter) error {
	if f.CourtID == "" || f.GameID == "" {
		return fmt.Errorf("%w: court and game are required", domain.ErrInvalidRequest)
	}
	if _, err := time.Parse(domain.DateLayout, f.Date); err != nil {
		return fmt.Errorf("%w: date %q must be YYYY-MM-DD", domain.ErrInvalidRequest, f.Date)
	}
	return nil
}

var _ AvailabilityUseCase = (*Projector)(nil)
