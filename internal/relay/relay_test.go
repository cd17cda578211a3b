package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) Publish(msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, string(msg))
	return nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRelay_PublishReachesEveryReplica(t *testing.T) {
	url := startTestNATS(t)

	var hubs []*recorder
	for i := 0; i < 2; i++ {
		nc, err := Connect(url)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(nc.Close)

		local := &recorder{}
		hubs = append(hubs, local)
		sub := NewSubscriber(nc, "shotlog.test", local)
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go func() { _ = sub.Serve(ctx) }()
	}

	pubConn, err := Connect(url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pubConn.Close)
	pubLocal := &recorder{}
	pub := NewPublisher(pubConn, "shotlog.test", pubLocal)

	// Subscriptions are registered asynchronously; publish until both see a message.
	waitFor(t, func() bool {
		_ = pub.Publish([]byte(`{"id":"a"}`))
		return len(hubs[0].all()) > 0 && len(hubs[1].all()) > 0
	})

	if got := hubs[0].all()[0]; got != `{"id":"a"}` {
		t.Errorf("replica received %q", got)
	}
	if len(pubLocal.all()) != 0 {
		t.Error("healthy relay should not fall back to the local hub")
	}
}

func TestPublisher_FallsBackWhenNATSClosed(t *testing.T) {
	url := startTestNATS(t)
	nc, err := Connect(url)
	if err != nil {
		t.Fatal(err)
	}
	nc.Close()

	local := &recorder{}
	pub := NewPublisher(nc, "shotlog.test", local)
	for i := 0; i < 5; i++ {
		if err := pub.Publish([]byte("m")); err != nil {
			t.Fatalf("fallback publish returned %v", err)
		}
	}
	if n := len(local.all()); n != 5 {
		t.Fatalf("local hub got %d messages, want 5", n)
	}
	if pub.State() != "open" {
		t.Errorf("breaker state = %s, want open", pub.State())
	}
}
