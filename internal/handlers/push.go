package handlers

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/PratikDhanave/shotlog/internal/hub"
)

var (
	pingText = []byte("ping")
	pongText = []byte("pong")
)

func isPing(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), pingText)
}

// NewUpgrader returns a websocket upgrader restricted to allowedOrigins.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     OriginChecker(allowedOrigins),
	}
}

// OriginChecker allows an empty Origin (same-origin or non-browser clients)
// and otherwise only exact matches from allowed.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// RegisterPushRoutes registers the push channel.
//
// GET /ws upgrades and subscribes the connection to the hub. Text "ping"
// frames are answered with "pong".
func RegisterPushRoutes(r gin.IRoutes, h *hub.Hub, upgrader *websocket.Upgrader, subscriberBuffer int) {
	r.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		hub.NewClient(h, conn, subscriberBuffer).Start()
	})
}
