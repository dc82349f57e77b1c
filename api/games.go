package api

import (
	"net/http"
	"strconv"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/Domenick1991/courtbooking/internal/service/games"
	"github.com/gin-gonic/gin"
)

type GameHandler struct {
	catalog games.GameUseCase
}

type gameResponse struct {
	ID           string `json:"id"`
	CourtID      string `json:"courtId"`
	Name         string `json:"name"`
	PricePerHour int64  `json:"pricePerHour"`
	IsAvailable  bool   `json:"isAvailable"`
}

func NewGameHandler(catalog games.GameUseCase) *GameHandler {
	return &GameHandler{catalog: catalog}
}

// RegisterCourt mounts the catalogue under /courts/:courtId.
func (h *GameHandler) RegisterCourt(router *gin.RouterGroup) {
	router.GET("/games", h.list)
	router.GET("/games/:gameId", h.get)
	router.PATCH("/games/:gameId/availability", h.setAvailability)
}

// list answers the games players can book; ?all=true adds the switched off ones.
func (h *GameHandler) list(c *gin.Context) {
	all := false
	if raw := c.Query("all"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "all must be a boolean")
			return
		}
		all = v
	}

	found, err := h.catalog.ListForCourt(c.Request.Context(), c.Param("courtId"), all)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gameResponse, 0, len(found))
	for _, g := range found {
		out = append(out, toGameResponse(g))
	}
	c.JSON(http.StatusOK, out)
}

func (h *GameHandler) get(c *gin.Context) {
	game, err := h.catalog.Get(c.Request.Context(), c.Param("courtId"), c.Param("gameId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toGameResponse(*game))
}

func (h *GameHandler) setAvailability(c *gin.Context) {
	var req setAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.IsAvailable == nil {
		badRequest(c, "isAvailable is required")
		return
	}

	game, err := h.catalog.SetAvailability(c.Request.Context(), c.Param("courtId"), c.Param("gameId"), *req.IsAvailable)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toGameResponse(*game))
}

func toGameResponse(g domain.Game) gameResponse {
	return gameResponse{
		ID:           g.ID,
		CourtID:      g.CourtID,
		Name:         g.Name,
		PricePerHour: g.PricePerHourCents,
		IsAvailable:  g.IsAvailable,
	}
}
