package domain

import (
	"fmt"
	"time"
)

type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

func (s BookingStatus) Terminal() bool {
	return s == BookingStatusCancelled || s == BookingStatusCompleted
}

// DefaultCancellationBuffer is the minimum lead time before the start of a slot
// for a booking to be cancelled.
const DefaultCancellationBuffer = 30 * time.Minute

// Booking is a claim on exactly one slot, identified by the phone number of the claimant.
// CourtName and GameName are display copies and are never used for decisions.
type Booking struct {
	ID                 string
	CourtID            string
	CourtName          string
	GameID             string
	GameName           string
	TimeSlotID         string
	TeamName           string
	PhoneNumber        string
	Date               string
	StartTime          string
	EndTime            string
	TotalPriceCents    int64
	Status             BookingStatus
	CreatedAt          time.Time
	CancelledAt        *time.Time
	CancellationReason *string
}

func (b Booking) StartsAt(loc *time.Location) (time.Time, error) {
	return Combine(b.Date, b.StartTime, loc)
}

func (b Booking) EndsAt(loc *time.Location) (time.Time, error) {
	return Combine(b.Date, b.EndTime, loc)
}

type BookingDetails struct {
	Booking   Booking
	CanCancel bool
}

// CancellationPolicy is the single definition of when a booking may be cancelled.
// The same value backs BookingDetails.CanCancel and the cancel transition.
type CancellationPolicy struct {
	Buffer   time.Duration
	Location *time.Location
}

func NewCancellationPolicy(buffer time.Duration, loc *time.Location) CancellationPolicy {
	if buffer <= 0 {
		buffer = DefaultCancellationBuffer
	}
	if loc == nil {
		loc = time.UTC
	}
	return CancellationPolicy{Buffer: buffer, Location: loc}
}

// Check returns nil when b can be cancelled at now, otherwise the rule that forbids it.
func (p CancellationPolicy) Check(b Booking, now time.Time) error {
	if b.Status != BookingStatusConfirmed {
		return fmt.Errorf("%w: booking %s is %s", ErrBookingNotActive, b.ID, b.Status)
	}
	start, err := b.StartsAt(p.Location)
	if err != nil {
		return fmt.Errorf("%w: booking %s has no valid start time: %v", ErrCancellationWindowClosed, b.ID, err)
	}
	deadline := start.Add(-p.Buffer)
	if !now.Before(deadline) {
		return fmt.Errorf("%w: booking %s starts at %s, cancellations close %s before start",
			ErrCancellationWindowClosed, b.ID, start.Format(time.RFC3339), p.Buffer)
	}
	return nil
}

func (p CancellationPolicy) CanCancel(b Booking, now time.Time) bool {
	return p.Check(b, now) == nil
}

func (p CancellationPolicy) Details(b Booking, now time.Time) BookingDetails {
	return BookingDetails{Booking: b, CanCancel: p.CanCancel(b, now)}
}
