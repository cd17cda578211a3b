package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startWSServer(t *testing.T, h *Hub) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(h, conn, 8).Start()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber count = %d, want %d", h.Count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClient_PingPong(t *testing.T) {
	h := New("global", 8)
	conn := dial(t, startWSServer(t, h))

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "pong" {
		t.Fatalf("got %q, want pong", data)
	}
}

func TestClient_ReceivesBroadcastAndUnregistersOnClose(t *testing.T) {
	h := New("global", 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.RunWithContext(ctx) }()

	conn := dial(t, startWSServer(t, h))
	waitForCount(t, h, 1)

	if err := h.Publish([]byte(`{"id":"a"}`)); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"id":"a"}` {
		t.Fatalf("got %s", data)
	}

	_ = conn.Close()
	waitForCount(t, h, 0)
}
