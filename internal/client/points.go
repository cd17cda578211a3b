// Package client keeps a viewer's ordered, deduplicated view of recent shots
// in sync with the server over a push channel plus polling.
package client

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/PratikDhanave/shotlog/internal/models"
	"github.com/PratikDhanave/shotlog/internal/sequence"
)

// ResetOrdinal is the shot index a device reports for the first shot of a session.
const ResetOrdinal = 1

// Point is the chartable view of a shot.
type Point struct {
	ID     string
	X      float64 // shot index, or day sequence when the device sent none
	Y      float64 // duration in seconds, truncated to centiseconds
	DayKey string
	TS     int64
	// Session is set when X is the device's per-session shot index.
	Session bool
}

// PointFromShot derives a Point. ok is false when the shot has no ordinal.
func PointFromShot(s models.Shot, offset time.Duration) (Point, bool) {
	var p Point
	switch {
	case s.ShotIndex != nil:
		p.X = *s.ShotIndex
		p.Session = true
	case s.DaySeq != nil:
		p.X = float64(*s.DaySeq)
	default:
		return Point{}, false
	}
	if math.IsNaN(p.X) || math.IsInf(p.X, 0) || math.IsNaN(s.DurationMs) || math.IsInf(s.DurationMs, 0) {
		return Point{}, false
	}

	p.Y = math.Floor(s.DurationMs/10) / 100
	p.ID = s.ID
	if p.ID == "" {
		p.ID = strconv.FormatFloat(p.X, 'f', -1, 64) + ":" + strconv.FormatFloat(p.Y, 'f', -1, 64)
	}
	if s.OccurredAt > 0 {
		p.TS = s.OccurredAt
		p.DayKey = sequence.DayKey(s.OccurredAt, offset)
	}
	return p, true
}

// FilterToLatestSession cuts newest-first rows after the first row whose
// shot index is ResetOrdinal, keeping that row.
func FilterToLatestSession(rows []models.Shot) []models.Shot {
	for i, r := range rows {
		if r.ShotIndex != nil && *r.ShotIndex == ResetOrdinal {
			return rows[:i+1]
		}
	}
	return rows
}

// PointBuffer is an ordered set of points keyed by ID, sorted by X and capped
// at max entries. It is not safe for concurrent use.
type PointBuffer struct {
	max        int
	points     []Point
	ids        map[string]struct{}
	maxSession float64
}

func NewPointBuffer(max int) *PointBuffer {
	if max <= 0 {
		max = 1
	}
	return &PointBuffer{max: max, ids: make(map[string]struct{})}
}

// Add merges p. A known ID is a no-op. A session point at the reset ordinal,
// or below the highest session ordinal held, clears the buffer first.
// When the cap is exceeded the smallest X values are evicted.
func (b *PointBuffer) Add(p Point) (added, reset bool) {
	if _, ok := b.ids[p.ID]; ok {
		return false, false
	}
	if p.Session && len(b.points) > 0 && (p.X == ResetOrdinal || (b.maxSession > 0 && p.X < b.maxSession)) {
		b.Clear()
		reset = true
	}

	i := sort.Search(len(b.points), func(i int) bool { return b.points[i].X > p.X })
	b.points = append(b.points, Point{})
	copy(b.points[i+1:], b.points[i:])
	b.points[i] = p
	b.ids[p.ID] = struct{}{}
	if p.Session && p.X > b.maxSession {
		b.maxSession = p.X
	}

	b.evict()
	return true, reset
}

// Replace swaps the contents for a bulk snapshot.
func (b *PointBuffer) Replace(pts []Point) {
	b.Clear()
	seen := make(map[string]struct{}, len(pts))
	kept := make([]Point, 0, len(pts))
	for _, p := range pts {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		kept = append(kept, p)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].X < kept[j].X })

	b.points = kept
	for _, p := range kept {
		b.ids[p.ID] = struct{}{}
		if p.Session && p.X > b.maxSession {
			b.maxSession = p.X
		}
	}
	b.evict()
}

func (b *PointBuffer) evict() {
	if excess := len(b.points) - b.max; excess > 0 {
		for _, p := range b.points[:excess] {
			delete(b.ids, p.ID)
		}
		b.points = append([]Point(nil), b.points[excess:]...)
	}
}

func (b *PointBuffer) Clear() {
	b.points = nil
	b.ids = make(map[string]struct{})
	b.maxSession = 0
}

func (b *PointBuffer) Has(id string) bool {
	_, ok := b.ids[id]
	return ok
}

func (b *PointBuffer) Len() int { return len(b.points) }

// Points returns a copy in ascending X order.
func (b *PointBuffer) Points() []Point {
	return append([]Point(nil), b.points...)
}

// Stats are the device's running counters as last reported.
type Stats struct {
	BrewCounter *float64
	AvgMs       *float64
}

// AverageVisible reports whether the average is meaningful (brew counter > 0).
func (s Stats) AverageVisible() bool {
	return s.BrewCounter != nil && *s.BrewCounter > 0 && s.AvgMs != nil
}

// StatsFromShot reads counters from the structured fields, falling back to
// the raw payload.
func StatsFromShot(s models.Shot) Stats {
	st := Stats{BrewCounter: s.BrewCounter, AvgMs: s.AvgMs}
	if (st.BrewCounter == nil || st.AvgMs == nil) && len(s.Payload) > 0 {
		raw := payloadFields(s.Payload)
		if st.BrewCounter == nil {
			st.BrewCounter = numberField(raw, "brew_counter", "brewCounter")
		}
		if st.AvgMs == nil {
			st.AvgMs = numberField(raw, "avg_ms", "avgMs")
		}
	}
	return st
}
