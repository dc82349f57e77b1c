package api

import (
	"io"
	"net/http"
	"time"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/Domenick1991/courtbooking/internal/service/availability"
	"github.com/gin-gonic/gin"
)

type SlotHandler struct {
	projector availability.AvailabilityUseCase
	schedule  availability.ScheduleUseCase
	now       func() time.Time
}

type slotResponse struct {
	ID          string  `json:"id"`
	CourtID     string  `json:"courtId"`
	GameID      string  `json:"gameId"`
	Date        string  `json:"date"`
	StartTime   string  `json:"startTime"`
	EndTime     string  `json:"endTime"`
	IsBooked    bool    `json:"isBooked"`
	IsAvailable bool    `json:"isAvailable"`
	BookingID   *string `json:"bookingId"`
	Price       int64   `json:"price"`
	Status      string  `json:"status,omitempty"`
}

type setAvailabilityRequest struct {
	IsAvailable *bool `json:"isAvailable"`
}

func NewSlotHandler(projector availability.AvailabilityUseCase, schedule availability.ScheduleUseCase) *SlotHandler {
	return &SlotHandler{projector: projector, schedule: schedule, now: time.Now}
}

// RegisterCourt mounts the day routes under /courts/:courtId/games/:gameId.
func (h *SlotHandler) RegisterCourt(router *gin.RouterGroup) {
	router.GET("/slots", h.list)
	router.GET("/slots/stream", h.stream)
	router.POST("/slots/generate", h.generate)
	router.DELETE("/slots", h.deleteDay)
}

// Register mounts the routes addressed by slot id under /slots.
func (h *SlotHandler) Register(router *gin.RouterGroup) {
	router.PATCH("/:id/availability", h.setAvailability)
}

func dayFilter(c *gin.Context) domain.SlotFilter {
	return domain.SlotFilter{
		CourtID: c.Param("courtId"),
		GameID:  c.Param("gameId"),
		Date:    c.Query("date"),
	}
}

func (h *SlotHandler) list(c *gin.Context) {
	views, err := h.projector.Project(c.Request.Context(), dayFilter(c), h.now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSlotResponses(views))
}

// stream sends the resolved day as a "slots" event on every change until the client leaves.
func (h *SlotHandler) stream(c *gin.Context) {
	feed, err := h.projector.Watch(c.Request.Context(), dayFilter(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case views, ok := <-feed:
			if !ok {
				return false
			}
			c.SSEvent("slots", toSlotResponses(views))
			return true
		}
	})
}

func (h *SlotHandler) generate(c *gin.Context) {
	filter := dayFilter(c)
	created, err := h.schedule.GenerateDay(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"created": created, "date": filter.Date})
}

func (h *SlotHandler) deleteDay(c *gin.Context) {
	filter := dayFilter(c)
	deleted, err := h.schedule.DeleteUnbookedDay(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "date": filter.Date})
}

func (h *SlotHandler) setAvailability(c *gin.Context) {
	var req setAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.IsAvailable == nil {
		badRequest(c, "isAvailable is required")
		return
	}

	slot, err := h.schedule.SetAvailability(c.Request.Context(), c.Param("id"), *req.IsAvailable)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSlotResponse(*slot))
}

func toSlotResponse(s domain.TimeSlot) slotResponse {
	return slotResponse{
		ID:          s.ID,
		CourtID:     s.CourtID,
		GameID:      s.GameID,
		Date:        s.Date,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		IsBooked:    s.IsBooked,
		IsAvailable: s.IsAvailable,
		BookingID:   s.BookingID,
		Price:       s.PriceCents,
	}
}

func toSlotResponses(views []availability.SlotView) []slotResponse {
	out := make([]slotResponse, 0, len(views))
	for _, v := range views {
		resp := toSlotResponse(v.Slot)
		resp.Status = string(v.Status)
		out = append(out, resp)
	}
	return out
}
