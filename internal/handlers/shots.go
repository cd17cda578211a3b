package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/shotlog/internal/logging"
	"github.com/PratikDhanave/shotlog/internal/metrics"
	"github.com/PratikDhanave/shotlog/internal/models"
)

// ShotReader returns the newest shots first.
type ShotReader interface {
	Recent(ctx context.Context, limit int) ([]models.Shot, error)
}

// RegisterShotRoutes registers the serving-path endpoint.
//
// GET /shots?limit=N
//   - N is clamped to [1, maxLimit]; missing or non-numeric uses defaultLimit
//   - Returns {"ok":true,"data":[...]} newest first
func RegisterShotRoutes(r gin.IRoutes, st ShotReader, defaultLimit, maxLimit int) {
	r.GET("/shots", func(c *gin.Context) {
		limit := ClampLimit(c.Query("limit"), defaultLimit, maxLimit)

		start := time.Now()
		shots, err := st.Recent(c.Request.Context(), limit)
		metrics.RecordStoreOp("recent", time.Since(start), err)
		if err != nil {
			logging.Error().Err(err).Int("limit", limit).Msg("query recent shots failed")
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: models.CodeStoreUnavailable})
			return
		}
		if shots == nil {
			shots = []models.Shot{}
		}
		c.JSON(http.StatusOK, models.ShotsResponse{OK: true, Data: shots})
	})
}

// ClampLimit parses raw and bounds it to [1, max].
func ClampLimit(raw string, def, max int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		n = def
	}
	if n < 1 {
		n = 1
	}
	if n > max {
		n = max
	}
	return n
}
