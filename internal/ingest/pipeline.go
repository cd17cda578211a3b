// Package ingest runs normalize -> sequence/store -> broadcast for one payload.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/PratikDhanave/shotlog/internal/logging"
	"github.com/PratikDhanave/shotlog/internal/metrics"
	"github.com/PratikDhanave/shotlog/internal/models"
	"github.com/PratikDhanave/shotlog/internal/normalize"
	"github.com/PratikDhanave/shotlog/internal/sequence"
)

// ErrInvalidJSON rejects bodies that are not a JSON object.
var ErrInvalidJSON = errors.New("invalid_json")

// Broadcaster hands a serialized shot to the fan-out hub (or the relay in
// front of it). It must not block.
type Broadcaster interface {
	Publish(msg []byte) error
}

// Result describes one accepted payload.
type Result struct {
	Shot     models.Shot
	Inserted bool
	Source   normalize.IdentitySource
}

type Pipeline struct {
	normalizer  *normalize.Normalizer
	assigner    *sequence.Assigner
	broadcaster Broadcaster
}

func New(n *normalize.Normalizer, a *sequence.Assigner, b Broadcaster) *Pipeline {
	return &Pipeline{normalizer: n, assigner: a, broadcaster: b}
}

// IngestJSON decodes body and runs Ingest.
func (p *Pipeline) IngestJSON(ctx context.Context, body []byte) (Result, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.IngestTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		return Result{}, ErrInvalidJSON
	}
	return p.Ingest(ctx, payload)
}

// Ingest stores payload and, once the store has answered, broadcasts it.
// Duplicates are broadcast too, with a nil day_seq. Only validation errors and
// store.ErrUnavailable are returned; broadcast failures are logged.
func (p *Pipeline) Ingest(ctx context.Context, payload map[string]any) (Result, error) {
	draft, err := p.normalizer.Normalize(payload)
	if err != nil {
		metrics.IngestTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		return Result{}, err
	}
	if draft.Source == normalize.IdentityRandom {
		metrics.RandomIdentityTotal.Inc()
		logging.Warn().Str("shot_id", draft.Shot.ID).Msg("no stable identity fields, shot stored under a random id and will not dedupe on retry")
	}

	start := time.Now()
	shot, inserted, err := p.assigner.Assign(ctx, draft.Shot)
	metrics.RecordStoreOp("insert", time.Since(start), err)
	if err != nil {
		metrics.IngestTotal.WithLabelValues(metrics.ResultUnavailable).Inc()
		logging.Error().Err(err).Str("shot_id", draft.Shot.ID).Msg("store insert failed")
		return Result{}, err
	}

	if inserted {
		metrics.IngestTotal.WithLabelValues(metrics.ResultInserted).Inc()
	} else {
		metrics.IngestTotal.WithLabelValues(metrics.ResultDuplicate).Inc()
	}

	p.broadcast(shot)
	return Result{Shot: shot, Inserted: inserted, Source: draft.Source}, nil
}

func (p *Pipeline) broadcast(shot models.Shot) {
	shot.Payload = nil
	msg, err := json.Marshal(shot)
	if err != nil {
		logging.Warn().Err(err).Str("shot_id", shot.ID).Msg("encode broadcast failed")
		return
	}
	if err := p.broadcaster.Publish(msg); err != nil {
		logging.Warn().Err(err).Str("shot_id", shot.ID).Msg("broadcast failed")
	}
}
