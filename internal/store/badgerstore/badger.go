// Package badgerstore is an embedded Store for single-node deployments.
//
// Keys:
//
//	shot:<id>            -> ts index key of the shot
//	seq:<day key>        -> highest day_seq assigned in that bucket (8 bytes, big endian)
//	ts:<ms>:<id>         -> JSON encoded shot, ms zero padded so keys sort by time
package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/PratikDhanave/shotlog/internal/logging"
	"github.com/PratikDhanave/shotlog/internal/models"
	"github.com/PratikDhanave/shotlog/internal/store"
)

const (
	shotKeyPrefix = "shot:"
	seqKeyPrefix  = "seq:"
	tsKeyPrefix   = "ts:"

	maxConflictRetries = 64
)

// Store persists shots in BadgerDB.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a database at path. An empty path opens an
// in-memory database.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{})
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

// New wraps an already opened database.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InsertIfAbsent(ctx context.Context, shot models.Shot, dayKey string) (*int64, error) {
	op := func() (*int64, error) {
		seq, err := s.insertTxn(shot, dayKey)
		if errors.Is(err, badger.ErrConflict) {
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return seq, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	seq, err := backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(b, maxConflictRetries), ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: insert shot %s: %v", store.ErrUnavailable, shot.ID, err)
	}
	return seq, nil
}

// insertTxn reads the id and the bucket counter inside one transaction, so a
// concurrent writer to either key makes the commit fail with ErrConflict.
func (s *Store) insertTxn(shot models.Shot, dayKey string) (*int64, error) {
	var assigned *int64
	err := s.db.Update(func(txn *badger.Txn) error {
		shotKey := []byte(shotKeyPrefix + shot.ID)
		_, err := txn.Get(shotKey)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get shot: %w", err)
		}

		seqKey := []byte(seqKeyPrefix + dayKey)
		next := int64(1)
		item, err := txn.Get(seqKey)
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				next = int64(binary.BigEndian.Uint64(val)) + 1
				return nil
			}); err != nil {
				return fmt.Errorf("read day counter: %w", err)
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("get day counter: %w", err)
		}

		shot.DaySeq = &next
		data, err := json.Marshal(shot)
		if err != nil {
			return fmt.Errorf("marshal shot: %w", err)
		}

		var counter [8]byte
		binary.BigEndian.PutUint64(counter[:], uint64(next))
		tsKey := timeKey(shot.OccurredAt, shot.ID)

		if err := txn.Set(seqKey, counter[:]); err != nil {
			return fmt.Errorf("set day counter: %w", err)
		}
		if err := txn.Set(tsKey, data); err != nil {
			return fmt.Errorf("set shot: %w", err)
		}
		if err := txn.Set(shotKey, tsKey); err != nil {
			return fmt.Errorf("set id index: %w", err)
		}
		assigned = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]models.Shot, error) {
	if limit <= 0 {
		return []models.Shot{}, nil
	}
	shots := make([]models.Shot, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(tsKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the last key <= seek key.
		seek := append([]byte(tsKeyPrefix), 0xff)
		for it.Seek(seek); it.Valid() && len(shots) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var shot models.Shot
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &shot)
			}); err != nil {
				return fmt.Errorf("decode shot %s: %w", it.Item().Key(), err)
			}
			shots = append(shots, shot)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: recent shots: %v", store.ErrUnavailable, err)
	}
	return shots, nil
}

func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("%w: badger closed", store.ErrUnavailable)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func timeKey(ms int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", tsKeyPrefix, ms, id))
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{}) {
	logging.Error().Str("component", "badger").Msgf(f, v...)
}

func (badgerLogger) Warningf(f string, v ...interface{}) {
	logging.Warn().Str("component", "badger").Msgf(f, v...)
}

func (badgerLogger) Infof(f string, v ...interface{}) {
	logging.Debug().Str("component", "badger").Msgf(f, v...)
}

func (badgerLogger) Debugf(f string, v ...interface{}) {
	logging.Debug().Str("component", "badger").Msgf(f, v...)
}
