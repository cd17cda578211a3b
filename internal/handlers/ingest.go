package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/PratikDhanave/shotlog/internal/ingest"
	"github.com/PratikDhanave/shotlog/internal/logging"
	"github.com/PratikDhanave/shotlog/internal/models"
	"github.com/PratikDhanave/shotlog/internal/normalize"
)

// maxIngestBody bounds a single device payload.
const maxIngestBody = 64 << 10

// Ingester is the ingest pipeline as seen by the HTTP layer.
type Ingester interface {
	IngestJSON(ctx context.Context, body []byte) (ingest.Result, error)
}

// RegisterIngestRoutes registers the ingestion-path endpoints.
//
// POST /ingest
//   - Requires the pre-shared key (enforced by the caller's group)
//   - Durable: returns 204 only after the store answered
//   - Idempotent: a re-sent shot resolves to the same identity and is a no-op
//
// GET /ws-ingest
//   - Same key; every text frame is one payload, invalid frames are dropped
func RegisterIngestRoutes(r gin.IRoutes, p Ingester, upgrader *websocket.Upgrader) {
	r.POST("/ingest", func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.CodeInvalidJSON})
			return
		}

		if _, err := p.IngestJSON(c.Request.Context(), body); err != nil {
			status, code := ingestError(err)
			c.JSON(status, models.ErrorResponse{Error: code})
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.GET("/ws-ingest", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			return
		}
		serveIngestSocket(c.Request.Context(), conn, p)
	})
}

func serveIngestSocket(ctx context.Context, conn *websocket.Conn, p Ingester) {
	defer conn.Close()
	conn.SetReadLimit(maxIngestBody)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if isPing(data) {
			_ = conn.WriteMessage(websocket.TextMessage, pongText)
			continue
		}
		if _, err := p.IngestJSON(ctx, data); err != nil {
			logging.Debug().Err(err).Msg("ws-ingest frame dropped")
		}
	}
}

// ingestError maps pipeline errors onto the HTTP contract.
func ingestError(err error) (int, string) {
	switch {
	case errors.Is(err, ingest.ErrInvalidJSON):
		return http.StatusBadRequest, models.CodeInvalidJSON
	case errors.Is(err, normalize.ErrInvalidDuration):
		return http.StatusBadRequest, models.CodeInvalidShotMs
	default:
		// store.ErrUnavailable and anything unexpected.
		return http.StatusInternalServerError, models.CodeStoreUnavailable
	}
}
