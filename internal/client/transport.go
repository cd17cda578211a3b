package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/PratikDhanave/shotlog/internal/models"
)

// Fetcher reads the newest shots from the server.
type Fetcher interface {
	Recent(ctx context.Context, limit int) ([]models.Shot, error)
}

// Conn is an open push channel. ReadMessage returns text frames only.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// HTTPFetcher queries GET /api/shots.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

func (f *HTTPFetcher) Recent(ctx context.Context, limit int) ([]models.Shot, error) {
	u := strings.TrimRight(f.BaseURL, "/") + "/api/shots?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	hc := f.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch shots: %w", err)
	}
	defer resp.Body.Close()

	var body models.ShotsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode shots: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !body.OK {
		return nil, fmt.Errorf("fetch shots: status %d", resp.StatusCode)
	}
	return body.Data, nil
}

// WSDialer opens the /api/ws push channel.
type WSDialer struct {
	URL          string
	Header       http.Header
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
}

// PushURL maps an http(s) base URL to its ws(s) push endpoint.
func PushURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path += "/api/ws"
	return u.String(), nil
}

func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, err
	}
	timeout := d.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &wsConn{ws: ws, writeTimeout: timeout}, nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error { return c.ws.Close() }
