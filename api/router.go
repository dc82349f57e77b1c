package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

type RouterConfig struct {
	SwaggerDir    string
	RatePerMinute int
	Burst         int
}

// NewRouter mounts every handler under /api/v1. Swagger UI is served at /docs/ when a
// swagger directory is configured.
func NewRouter(cfg RouterConfig, slots *SlotHandler, bookings *BookingHandler, games *GameHandler, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger), RateLimit(cfg.RatePerMinute, cfg.Burst, logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	court := v1.Group("/courts/:courtId")
	slots.RegisterCourt(court.Group("/games/:gameId"))
	bookings.RegisterCourt(court)
	games.RegisterCourt(court)
	slots.Register(v1.Group("/slots"))
	bookings.Register(v1.Group("/bookings"))

	if cfg.SwaggerDir != "" {
		router.Static("/swagger", cfg.SwaggerDir)
		router.GET("/docs/*any", gin.WrapH(httpSwagger.Handler(httpSwagger.URL("/swagger/courts.swagger.json"))))
	}
	return router
}
