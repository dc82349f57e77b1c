package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBookingEvent(t *testing.T) {
	at := time.Date(2026, 11, 20, 12, 0, 0, 0, time.UTC)
	b := &domain.Booking{
		ID:          "b1",
		CourtID:     "court-1",
		GameID:      "futsal",
		TimeSlotID:  "s1",
		PhoneNumber: "0300",
		Date:        "2026-11-20",
		StartTime:   "14:00",
		EndTime:     "15:00",
		Status:      domain.BookingStatusConfirmed,
	}

	event := NewBookingEvent(EventBookingReserved, b, at)

	assert.Equal(t, EventBookingReserved, event.Type)
	assert.Equal(t, "s1", event.SlotID)
	assert.Equal(t, "confirmed", event.Status)
	assert.Equal(t, domain.SlotFilter{CourtID: "court-1", GameID: "futsal", Date: "2026-11-20"}, event.Day())
}

func TestDecodeBookingEvent(t *testing.T) {
	data, err := json.Marshal(BookingEvent{Type: EventBookingCancelled, BookingID: "b1", CourtID: "c1"})
	require.NoError(t, err)

	event, err := DecodeBookingEvent(data)
	require.NoError(t, err)
	assert.Equal(t, EventBookingCancelled, event.Type)
	assert.Equal(t, "c1", event.CourtID)

	_, err = DecodeBookingEvent([]byte("{not json"))
	assert.Error(t, err)

	_, err = DecodeBookingEvent([]byte(`{"type":"booking_cancelled"}`))
	assert.Error(t, err)
}

func TestProducer_CheckConnectionWithoutBrokers(t *testing.T) {
	p := NewProducer(nil, nil)
	defer p.Close()

	assert.Error(t, p.CheckConnection(t.Context()))
}
