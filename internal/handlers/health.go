package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/shotlog/internal/models"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RegisterHealthRoutes registers liveness and readiness.
//
// GET /api/health is liveness plus the server clock in ms.
// GET /ready pings the store.
func RegisterHealthRoutes(r gin.IRoutes, st Pinger, now func() time.Time) {
	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, models.HealthResponse{OK: true, TS: now().UnixMilli()})
	})

	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: models.CodeNotReady})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
}
