package domain

import (
	"fmt"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

type SlotStatus string

const (
	SlotStatusAvailable   SlotStatus = "AVAILABLE"
	SlotStatusBooked      SlotStatus = "BOOKED"
	SlotStatusUnavailable SlotStatus = "UNAVAILABLE"
	SlotStatusPast        SlotStatus = "PAST"
)

// TimeSlot is a bookable interval for one game at one court on one day.
// IsBooked is true exactly when BookingID is set.
type TimeSlot struct {
	ID          string
	CourtID     string
	GameID      string
	Date        string
	StartTime   string
	EndTime     string
	IsBooked    bool
	IsAvailable bool
	BookingID   *string
	PriceCents  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SlotFilter selects the slots of one game at one court on one day.
type SlotFilter struct {
	CourtID string
	GameID  string
	Date    string
}

func (f SlotFilter) Matches(s TimeSlot) bool {
	return s.CourtID == f.CourtID && s.GameID == f.GameID && s.Date == f.Date
}

func (f SlotFilter) String() string {
	return fmt.Sprintf("%s/%s/%s", f.CourtID, f.GameID, f.Date)
}

func (s TimeSlot) Filter() SlotFilter {
	return SlotFilter{CourtID: s.CourtID, GameID: s.GameID, Date: s.Date}
}

func (s TimeSlot) StartsAt(loc *time.Location) (time.Time, error) {
	return Combine(s.Date, s.StartTime, loc)
}

func (s TimeSlot) EndsAt(loc *time.Location) (time.Time, error) {
	return Combine(s.Date, s.EndTime, loc)
}

// Interval parses both ends of the slot and rejects empty or inverted intervals.
func (s TimeSlot) Interval(loc *time.Location) (time.Time, time.Time, error) {
	return interval(s.Date, s.StartTime, s.EndTime, loc)
}

// Combine joins a calendar day and a wall-clock time into an instant in loc.
func Combine(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout+" "+ClockLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q %q: %w", date, clock, err)
	}
	return t, nil
}

func interval(date, start, end string, loc *time.Location) (time.Time, time.Time, error) {
	from, err := Combine(date, start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := Combine(date, end, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("slot %s %s-%s: start must be before end", date, start, end)
	}
	return from, to, nil
}

// ResolveStatus derives the status shown for a slot at now.
// Order matters: the operator switch wins over booking state, booking state wins over time.
// A slot whose times cannot be parsed is never offered as available.
func ResolveStatus(slot TimeSlot, now time.Time, loc *time.Location) SlotStatus {
	if !slot.IsAvailable {
		return SlotStatusUnavailable
	}
	if slot.IsBooked {
		return SlotStatusBooked
	}
	start, _, err := slot.Interval(loc)
	if err != nil {
		return SlotStatusUnavailable
	}
	if start.Before(now) {
		return SlotStatusPast
	}
	return SlotStatusAvailable
}
