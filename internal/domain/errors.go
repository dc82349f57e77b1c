package domain

import "errors"

var (
	// ErrSlotConflict means another operation changed the slot first; re-read availability.
	ErrSlotConflict             = errors.New("slot conflict")
	ErrSlotUnavailable          = errors.New("slot unavailable")
	ErrCancellationWindowClosed = errors.New("cancellation window closed")
	ErrSlotNotFound             = errors.New("slot not found")
	ErrBookingNotFound          = errors.New("booking not found")
	ErrBookingNotActive         = errors.New("booking not active")
	ErrGameNotFound             = errors.New("game not found")
	ErrInvalidRequest           = errors.New("invalid request")
	// ErrTooManySubscribers means the live feed limit is reached; retry later.
	ErrTooManySubscribers = errors.New("too many live subscribers")
	// ErrStoreUnavailable is a transient infrastructure fault and the only retryable error.
	ErrStoreUnavailable = errors.New("store unavailable")
)
