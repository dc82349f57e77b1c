package api

import (
	"errors"
	"net/http"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrSlotConflict, http.StatusConflict, "SLOT_CONFLICT"},
	{domain.ErrSlotUnavailable, http.StatusUnprocessableEntity, "SLOT_UNAVAILABLE"},
	{domain.ErrCancellationWindowClosed, http.StatusUnprocessableEntity, "CANCELLATION_WINDOW_CLOSED"},
	{domain.ErrBookingNotActive, http.StatusUnprocessableEntity, "BOOKING_NOT_ACTIVE"},
	{domain.ErrSlotNotFound, http.StatusNotFound, "SLOT_NOT_FOUND"},
	{domain.ErrBookingNotFound, http.StatusNotFound, "BOOKING_NOT_FOUND"},
	{domain.ErrGameNotFound, http.StatusNotFound, "GAME_NOT_FOUND"},
	{domain.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
	{domain.ErrStoreUnavailable, http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
	{domain.ErrTooManySubscribers, http.StatusServiceUnavailable, "TOO_MANY_SUBSCRIBERS"},
}

func classify(err error) (int, string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}

// writeError answers with the rule that rejected the request. Unclassified errors are
// recorded on the context for the request logger and answered without details.
func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	_ = c.Error(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	c.JSON(status, errorResponse{Error: message, Code: code})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: message, Code: "INVALID_REQUEST"})
}
