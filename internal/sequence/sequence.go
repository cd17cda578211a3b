// Package sequence buckets shots into local days and assigns day sequences.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PratikDhanave/shotlog/internal/models"
	"github.com/PratikDhanave/shotlog/internal/store"
)

// DayKeyLayout is the format of a day bucket key.
const DayKeyLayout = "2006-01-02"

// DayKey returns the local calendar date of ms under a fixed UTC offset.
func DayKey(ms int64, offset time.Duration) string {
	return time.UnixMilli(ms).UTC().Add(offset).Format(DayKeyLayout)
}

// Inserter is the subset of store.Store the assigner needs.
type Inserter interface {
	InsertIfAbsent(ctx context.Context, shot models.Shot, dayKey string) (*int64, error)
}

// Assigner performs the insert-if-absent with an atomically derived day sequence.
type Assigner struct {
	store  Inserter
	offset time.Duration
}

func NewAssigner(st Inserter, offset time.Duration) *Assigner {
	return &Assigner{store: st, offset: offset}
}

// Assign persists shot and returns it with DaySeq set, or nil DaySeq when the
// ID was already stored. inserted reports which case happened.
// Every store failure is reported as store.ErrUnavailable.
func (a *Assigner) Assign(ctx context.Context, shot models.Shot) (out models.Shot, inserted bool, err error) {
	seq, err := a.store.InsertIfAbsent(ctx, shot, DayKey(shot.OccurredAt, a.offset))
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return shot, false, err
		}
		return shot, false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	shot.DaySeq = seq
	return shot, seq != nil, nil
}
