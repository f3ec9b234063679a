// Package router wires the HTTP surface from spec §6: ingest, status,
// and health, with the ambient rate limiter ahead of ingest.
package router

import (
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"

	"github.com/pushbox/outbox-dispatcher/internal/api/dto"
	"github.com/pushbox/outbox-dispatcher/internal/api/handlers/notification"
	"github.com/pushbox/outbox-dispatcher/internal/api/middleware"
	"github.com/pushbox/outbox-dispatcher/internal/api/respond"
)

// New builds the gin engine with logging/recovery middleware and the
// three spec-mandated routes.
func New(handler *notification.Handler, limiter *middleware.RateLimiter) *ginext.Engine {
	e := ginext.New()
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	e.GET("/health", healthHandler)

	notifications := e.Group("/notifications")
	notifications.POST("", limiter.Middleware(), handler.Create)
	notifications.GET("/:id", handler.GetStatus)

	return e
}

func healthHandler(c *ginext.Context) {
	respond.JSON(c.Writer, http.StatusOK, dto.HealthResponse{
		Status:    "Healthy",
		Timestamp: time.Now().UTC(),
	})
}
