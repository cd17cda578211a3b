package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/PratikDhanave/shotlog/internal/logging"
	"github.com/PratikDhanave/shotlog/internal/models"
	"github.com/PratikDhanave/shotlog/internal/store"
)

// The day_seq is derived from the bucket's current max inside the INSERT, so
// the unique (day_key, day_seq) constraint rejects a concurrent writer that
// read the same max. That writer retries; an id conflict returns no row.
const insertShotSQL = `
INSERT INTO shots (id, created_at, shot_ms, device_id, shot_index, boot_id, brew_counter, avg_ms, payload, day_key, day_seq)
SELECT $1::text, $2::bigint, $3::double precision, $4::text, $5::double precision, $6::double precision,
       $7::double precision, $8::double precision, $9::jsonb, $10::text, COALESCE(MAX(day_seq), 0) + 1
FROM shots
WHERE day_key = $10::text
ON CONFLICT (id) DO NOTHING
RETURNING day_seq`

const recentShotsSQL = `
SELECT id, created_at, shot_ms, device_id, shot_index, boot_id, brew_counter, avg_ms, day_seq, payload
FROM shots
ORDER BY created_at DESC, day_seq DESC
LIMIT $1`

const uniqueViolation = "23505"

const maxSequenceRetries = 32

func (s *Store) InsertIfAbsent(ctx context.Context, shot models.Shot, dayKey string) (*int64, error) {
	payload := string(shot.Payload)
	if payload == "" {
		payload = "{}"
	}

	attempt := 0
	op := func() (*int64, error) {
		attempt++
		var seq int64
		err := s.db.QueryRowContext(ctx, insertShotSQL,
			shot.ID, shot.OccurredAt, shot.DurationMs, shot.DeviceID,
			shot.ShotIndex, shot.BootID, shot.BrewCounter, shot.AvgMs,
			payload, dayKey,
		).Scan(&seq)
		switch {
		case err == nil:
			return &seq, nil
		case errors.Is(err, sql.ErrNoRows):
			return nil, nil
		case isUniqueViolation(err):
			logging.Debug().Str("shot_id", shot.ID).Str("day_key", dayKey).Int("attempt", attempt).Msg("day sequence race, retrying")
			return nil, err
		default:
			return nil, backoff.Permanent(err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	seq, err := backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(b, maxSequenceRetries), ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: insert shot %s: %v", store.ErrUnavailable, shot.ID, err)
	}
	return seq, nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]models.Shot, error) {
	if limit <= 0 {
		return []models.Shot{}, nil
	}
	rows, err := s.db.QueryContext(ctx, recentShotsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query recent shots: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	shots := make([]models.Shot, 0, limit)
	for rows.Next() {
		var (
			shot    models.Shot
			payload []byte
		)
		if err := rows.Scan(
			&shot.ID, &shot.OccurredAt, &shot.DurationMs, &shot.DeviceID,
			&shot.ShotIndex, &shot.BootID, &shot.BrewCounter, &shot.AvgMs,
			&shot.DaySeq, &payload,
		); err != nil {
			return nil, fmt.Errorf("%w: scan shot: %v", store.ErrUnavailable, err)
		}
		shot.Payload = payload
		shots = append(shots, shot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate shots: %v", store.ErrUnavailable, err)
	}
	return shots, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
