package domain

type Game struct {
	ID                string
	CourtID           string
	Name              string
	PricePerHourCents int64
	IsAvailable       bool
}

// SlotPrice is the price of a slot of the given length.
func (g Game) SlotPrice(slotMinutes int) int64 {
	return g.PricePerHourCents * int64(slotMinutes) / 60
}
