// Package slotgrid builds the default daily slot grid of a game.
// Slot ids are derived from (court, game, date, start) so that every caller
// that synthesizes the same day produces the same ids.
package slotgrid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/Domenick1991/courtbooking/internal/repository"
	"github.com/google/uuid"
)

var namespace = uuid.MustParse("6f1c9b3e-5f0a-4d8e-9a57-2b0f1e7c4d21")

type Grid struct {
	Open        string
	Close       string
	SlotMinutes int
}

func (g Grid) Validate() error {
	if g.SlotMinutes <= 0 {
		return errors.New("slot minutes must be positive")
	}
	open, err := time.Parse(domain.ClockLayout, g.Open)
	if err != nil {
		return fmt.Errorf("parse open %q: %w", g.Open, err)
	}
	closing, err := time.Parse(domain.ClockLayout, g.Close)
	if err != nil {
		return fmt.Errorf("parse close %q: %w", g.Close, err)
	}
	if !open.Before(closing) {
		return errors.New("open must be before close")
	}
	return nil
}

// SlotID is the id of the synthesized slot starting at start.
func SlotID(f domain.SlotFilter, start string) string {
	return uuid.NewSHA1(namespace, []byte(f.String()+"/"+start)).String()
}

// Slots lays out slots of SlotMinutes between Open and Close. A trailing
// interval shorter than SlotMinutes is dropped.
func (g Grid) Slots(f domain.SlotFilter, priceCents int64) ([]domain.TimeSlot, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if _, err := time.Parse(domain.DateLayout, f.Date); err != nil {
		return nil, fmt.Errorf("%w: date %q: %v", domain.ErrInvalidRequest, f.Date, err)
	}

	open, _ := time.Parse(domain.ClockLayout, g.Open)
	closing, _ := time.Parse(domain.ClockLayout, g.Close)
	step := time.Duration(g.SlotMinutes) * time.Minute

	var slots []domain.TimeSlot
	for start := open; !start.Add(step).After(closing); start = start.Add(step) {
		from := start.Format(domain.ClockLayout)
		slots = append(slots, domain.TimeSlot{
			ID:          SlotID(f, from),
			CourtID:     f.CourtID,
			GameID:      f.GameID,
			Date:        f.Date,
			StartTime:   from,
			EndTime:     start.Add(step).Format(domain.ClockLayout),
			IsAvailable: true,
			PriceCents:  priceCents,
		})
	}
	return slots, nil
}

// Planner synthesizes a day's slots for a game, priced from the game's hourly rate.
type Planner struct {
	grid  Grid
	games repository.GameRepository
}

func NewPlanner(grid Grid, games repository.GameRepository) (*Planner, error) {
	if err := grid.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	return &Planner{grid: grid, games: games}, nil
}

func (p *Planner) Day(ctx context.Context, f domain.SlotFilter) ([]domain.TimeSlot, error) {
	game, err := p.games.GetByID(ctx, f.GameID)
	if err != nil {
		return nil, err
	}
	if game.CourtID != f.CourtID {
		return nil, fmt.Errorf("%w: game %s is not played at court %s", domain.ErrGameNotFound, f.GameID, f.CourtID)
	}
	slots, err := p.grid.Slots(f, game.SlotPrice(p.grid.SlotMinutes))
	if err != nil {
		return nil, err
	}
	if !game.IsAvailable {
		for i := range slots {
			slots[i].IsAvailable = false
		}
	}
	return slots, nil
}
