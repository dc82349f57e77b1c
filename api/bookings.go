package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/Domenick1991/courtbooking/internal/service/ledger"
	"github.com/Domenick1991/courtbooking/internal/service/reservation"
	"github.com/gin-gonic/gin"
)

type BookingHandler struct {
	engine reservation.ReservationUseCase
	ledger ledger.LedgerUseCase
}

type bookingResponse struct {
	ID                 string  `json:"id"`
	CourtID            string  `json:"courtId"`
	CourtName          string  `json:"courtName"`
	GameID             string  `json:"gameId"`
	GameName           string  `json:"gameName"`
	TimeSlotID         string  `json:"timeSlotId"`
	TeamName           string  `json:"teamName"`
	PhoneNumber        string  `json:"phoneNumber"`
	Date               string  `json:"date"`
	StartTime          string  `json:"startTime"`
	EndTime            string  `json:"endTime"`
	TotalPrice         int64   `json:"totalPrice"`
	Status             string  `json:"status"`
	CreatedAt          string  `json:"createdAt"`
	CancelledAt        *string `json:"cancelledAt"`
	CancellationReason *string `json:"cancellationReason"`
	CanCancel          *bool   `json:"canCancel,omitempty"`
}

type cancelBookingRequest struct {
	Reason *string `json:"reason"`
}

func NewBookingHandler(engine reservation.ReservationUseCase, ledger ledger.LedgerUseCase) *BookingHandler {
	return &BookingHandler{engine: engine, ledger: ledger}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("", h.listByPhone)
	router.GET("/:id", h.get)
	router.POST("/:id/cancel", h.cancel)
}

// RegisterCourt mounts the operator listing under /courts/:courtId.
func (h *BookingHandler) RegisterCourt(router *gin.RouterGroup) {
	router.GET("/bookings", h.listByCourt)
}

func (h *BookingHandler) create(c *gin.Context) {
	var req reservation.ReserveInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	booking, err := h.engine.Reserve(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toBookingResponse(*booking))
}

func (h *BookingHandler) get(c *gin.Context) {
	details, err := h.engine.Details(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := toBookingResponse(details.Booking)
	resp.CanCancel = &details.CanCancel
	c.JSON(http.StatusOK, resp)
}

func (h *BookingHandler) cancel(c *gin.Context) {
	var req cancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}

	booking, err := h.engine.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(*booking))
}

func (h *BookingHandler) listByPhone(c *gin.Context) {
	bookings, err := h.ledger.ListByPhone(c.Request.Context(), c.Query("phone"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponses(bookings))
}

// listByCourt returns every booking of a court, or the confirmed ones of a single day
// when ?date= is given.
func (h *BookingHandler) listByCourt(c *gin.Context) {
	courtID := c.Param("courtId")

	var bookings []domain.Booking
	var err error
	if date := c.Query("date"); date != "" {
		if _, perr := time.Parse(domain.DateLayout, date); perr != nil {
			badRequest(c, "date must be YYYY-MM-DD")
			return
		}
		bookings, err = h.ledger.ListByCourtAndDate(c.Request.Context(), courtID, date)
	} else {
		bookings, err = h.ledger.ListByCourt(c.Request.Context(), courtID)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponses(bookings))
}

func toBookingResponse(b domain.Booking) bookingResponse {
	resp := bookingResponse{
		ID:                 b.ID,
		CourtID:            b.CourtID,
		CourtName:          b.CourtName,
		GameID:             b.GameID,
		GameName:           b.GameName,
		TimeSlotID:         b.TimeSlotID,
		TeamName:           b.TeamName,
		PhoneNumber:        b.PhoneNumber,
		Date:               b.Date,
		StartTime:          b.StartTime,
		EndTime:            b.EndTime,
		TotalPrice:         b.TotalPriceCents,
		Status:             string(b.Status),
		CreatedAt:          b.CreatedAt.Format(time.RFC3339),
		CancellationReason: b.CancellationReason,
	}
	if b.CancelledAt != nil {
		at := b.CancelledAt.Format(time.RFC3339)
		resp.CancelledAt = &at
	}
	return resp
}

func toBookingResponses(bookings []domain.Booking) []bookingResponse {
	out := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, toBookingResponse(b))
	}
	return out
}
