package sequence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PratikDhanave/shotlog/internal/models"
	"github.com/PratikDhanave/shotlog/internal/store"
)

func TestDayKey_OffsetBoundary(t *testing.T) {
	offset := 7 * time.Hour
	before := time.Date(2026, 3, 14, 16, 59, 59, 0, time.UTC).UnixMilli()
	after := time.Date(2026, 3, 14, 17, 0, 1, 0, time.UTC).UnixMilli()

	if got := DayKey(before, offset); got != "2026-03-14" {
		t.Errorf("16:59:59Z -> %s, want 2026-03-14", got)
	}
	if got := DayKey(after, offset); got != "2026-03-15" {
		t.Errorf("17:00:01Z -> %s, want 2026-03-15", got)
	}
	if DayKey(before, 0) != DayKey(after, 0) {
		t.Error("without offset both instants share a UTC date")
	}
}

func TestDayKey_NegativeOffset(t *testing.T) {
	ms := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC).UnixMilli()
	if got := DayKey(ms, -5*time.Hour); got != "2025-12-31" {
		t.Errorf("got %s, want 2025-12-31", got)
	}
}

type fakeInserter struct {
	dayKey string
	seq    *int64
	err    error
}

func (f *fakeInserter) InsertIfAbsent(_ context.Context, _ models.Shot, dayKey string) (*int64, error) {
	f.dayKey = dayKey
	return f.seq, f.err
}

func TestAssigner_Assign(t *testing.T) {
	seq := int64(4)
	f := &fakeInserter{seq: &seq}
	a := NewAssigner(f, 7*time.Hour)
	shot := models.Shot{ID: "a", OccurredAt: time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC).UnixMilli()}

	out, inserted, err := a.Assign(context.Background(), shot)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if !inserted || out.DaySeq == nil || *out.DaySeq != 4 {
		t.Errorf("got inserted=%v seq=%v", inserted, out.DaySeq)
	}
	if f.dayKey != "2026-03-15" {
		t.Errorf("store saw day key %s", f.dayKey)
	}
}

func TestAssigner_Duplicate(t *testing.T) {
	a := NewAssigner(&fakeInserter{}, 0)
	out, inserted, err := a.Assign(context.Background(), models.Shot{ID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if inserted || out.DaySeq != nil {
		t.Errorf("duplicate should report inserted=false and nil day_seq, got %v %v", inserted, out.DaySeq)
	}
}

func TestAssigner_WrapsStoreErrors(t *testing.T) {
	a := NewAssigner(&fakeInserter{err: errors.New("connection refused")}, 0)
	_, _, err := a.Assign(context.Background(), models.Shot{ID: "a"})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("err = %v, want store.ErrUnavailable", err)
	}
}
