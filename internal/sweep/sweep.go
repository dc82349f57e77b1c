// Package sweep completes confirmed bookings whose slot has ended, on a cron schedule.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Completer interface {
	CompleteExpired(ctx context.Context) ([]domain.Booking, error)
}

type Scheduler struct {
	cron      *cron.Cron
	spec      string
	schedule  cron.Schedule
	completer Completer
	logger    *zap.Logger
}

// New parses a standard cron spec or descriptor ("@every 5m") evaluated in loc.
func New(spec string, loc *time.Location, c Completer, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse completion sweep schedule %q: %w", spec, err)
	}
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(loc)),
		spec:      spec,
		schedule:  schedule,
		completer: c,
		logger:    logger,
	}, nil
}

// Run sweeps on schedule until ctx is done, then waits for a running sweep.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Schedule(s.schedule, cron.FuncJob(func() { Once(ctx, s.completer, s.logger) }))
	s.cron.Start()
	s.logger.Info("completion sweep scheduled", zap.String("schedule", s.spec))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// Once runs a single sweep. Failures are logged; the next run picks up what is left.
func Once(ctx context.Context, c Completer, logger *zap.Logger) {
	completed, err := c.CompleteExpired(ctx)
	if err != nil {
		logger.Error("completion sweep failed", zap.Int("completed", len(completed)), zap.Error(err))
		return
	}
	if len(completed) > 0 {
		logger.Info("completed bookings", zap.Int("count", len(completed)))
	}
}
