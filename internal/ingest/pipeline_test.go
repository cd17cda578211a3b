package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/PratikDhanave/shotlog/internal/models"
	"github.com/PratikDhanave/shotlog/internal/normalize"
	"github.com/PratikDhanave/shotlog/internal/sequence"
	"github.com/PratikDhanave/shotlog/internal/store"
	"github.com/PratikDhanave/shotlog/internal/store/badgerstore"
)

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs [][]byte
	err  error
}

func (r *recordingBroadcaster) Publish(msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingBroadcaster) decoded(t *testing.T) []models.Shot {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Shot, 0, len(r.msgs))
	for _, m := range r.msgs {
		var s models.Shot
		if err := json.Unmarshal(m, &s); err != nil {
			t.Fatalf("broadcast is not JSON: %v", err)
		}
		out = append(out, s)
	}
	return out
}

type failingStore struct{}

func (failingStore) InsertIfAbsent(context.Context, models.Shot, string) (*int64, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func newBadger(t *testing.T) *badgerstore.Store {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatal(err)
	}
	s := badgerstore.New(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newPipeline(t *testing.T, ins sequence.Inserter, b Broadcaster) *Pipeline {
	t.Helper()
	n := &normalize.Normalizer{
		Now:   func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) },
		NewID: func() string { return "random" },
	}
	return New(n, sequence.NewAssigner(ins, 7*time.Hour), b)
}

func TestIngest_IdempotentAndBroadcasts(t *testing.T) {
	st := newBadger(t)
	b := &recordingBroadcaster{}
	p := newPipeline(t, st, b)
	body := []byte(`{"shot_ms":25340,"device_id":"casadio","boot_id":3,"shot_index":1,"epoch":1773478800}`)

	first, err := p.IngestJSON(context.Background(), body)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := p.IngestJSON(context.Background(), body)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if !first.Inserted || second.Inserted {
		t.Fatalf("inserted = %v/%v, want true/false", first.Inserted, second.Inserted)
	}
	if first.Shot.ID != "casadio:3:1" || second.Shot.ID != first.Shot.ID {
		t.Fatalf("identities %q / %q", first.Shot.ID, second.Shot.ID)
	}

	rows, err := st.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("stored %d rows, want 1", len(rows))
	}

	msgs := b.decoded(t)
	if len(msgs) != 2 {
		t.Fatalf("broadcast %d messages, want 2", len(msgs))
	}
	if msgs[0].DaySeq == nil || *msgs[0].DaySeq != 1 {
		t.Errorf("first broadcast day_seq = %v, want 1", msgs[0].DaySeq)
	}
	if msgs[1].DaySeq != nil {
		t.Errorf("duplicate broadcast day_seq = %v, want nil", *msgs[1].DaySeq)
	}
	if msgs[0].Payload != nil {
		t.Error("broadcast should not carry the raw payload")
	}
}

func TestIngest_BroadcastFailureIsNotAnError(t *testing.T) {
	p := newPipeline(t, newBadger(t), &recordingBroadcaster{err: errors.New("hub mailbox full")})
	res, err := p.Ingest(context.Background(), map[string]any{"shot_ms": 20000.0, "id": "x"})
	if err != nil {
		t.Fatalf("broadcast failure surfaced: %v", err)
	}
	if !res.Inserted {
		t.Fatal("shot should be stored")
	}
}

func TestIngest_Errors(t *testing.T) {
	b := &recordingBroadcaster{}

	p := newPipeline(t, newBadger(t), b)
	if _, err := p.IngestJSON(context.Background(), []byte(`{not json`)); !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("bad JSON err = %v", err)
	}
	if _, err := p.IngestJSON(context.Background(), []byte(`[1,2]`)); !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("array body err = %v", err)
	}
	if _, err := p.IngestJSON(context.Background(), []byte(`{"shot_ms":-1}`)); !errors.Is(err, normalize.ErrInvalidDuration) {
		t.Errorf("negative duration err = %v", err)
	}

	down := newPipeline(t, failingStore{}, b)
	if _, err := down.Ingest(context.Background(), map[string]any{"shot_ms": 1.0}); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("store failure err = %v", err)
	}

	if n := len(b.decoded(t)); n != 0 {
		t.Errorf("failed ingests broadcast %d messages", n)
	}
}

func TestIngest_RandomIdentity(t *testing.T) {
	p := newPipeline(t, newBadger(t), &recordingBroadcaster{})
	res, err := p.Ingest(context.Background(), map[string]any{"shot_ms": 1.0})
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != normalize.IdentityRandom || res.Shot.ID != "random" {
		t.Fatalf("got %s/%s", res.Source, res.Shot.ID)
	}
}
