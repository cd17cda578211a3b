// Package normalize turns an untyped device payload into a canonical shot.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/PratikDhanave/shotlog/internal/models"
)

// ErrInvalidDuration rejects payloads without a finite, non-negative duration.
var ErrInvalidDuration = errors.New("invalid_duration")

// Accepted aliases, first finite match wins.
var (
	durationKeys    = []string{"shot_ms", "ms", "duration_ms"}
	epochKeys       = []string{"epoch", "ts"}
	shotIndexKeys   = []string{"shot_index", "shotIndex", "index"}
	bootIDKeys      = []string{"boot_id", "bootId", "boot"}
	brewCounterKeys = []string{"brew_counter", "brewCounter"}
	avgMsKeys       = []string{"avg_ms", "avgMs"}
)

// maxEpochSeconds bounds device epochs used as timestamps (year ~5138).
const maxEpochSeconds = 1e11

// IdentitySource records how a shot's identity was obtained.
type IdentitySource string

const (
	IdentityExplicit IdentitySource = "explicit"
	IdentityBoot     IdentitySource = "device_boot_index"
	IdentityEpoch    IdentitySource = "device_index_epoch"
	IdentityRandom   IdentitySource = "random"
)

// Draft is a normalized shot that has not been sequenced yet.
type Draft struct {
	Shot   models.Shot
	Source IdentitySource
}

// Normalizer is a pure payload -> Draft function apart from its clock and ID source.
type Normalizer struct {
	Now   func() time.Time
	NewID func() string
}

// New returns a Normalizer using wall-clock time and random UUIDs.
func New() *Normalizer {
	return &Normalizer{
		Now:   time.Now,
		NewID: func() string { return uuid.New().String() },
	}
}

// Normalize validates payload and derives the shot's identity and timestamp.
func (n *Normalizer) Normalize(payload map[string]any) (Draft, error) {
	durationMs, ok := firstNumber(payload, durationKeys)
	if !ok || durationMs < 0 {
		return Draft{}, ErrInvalidDuration
	}

	// Any finite epoch takes part in identity; only a non-zero one within
	// maxEpochSeconds is trusted as the shot's time.
	epochSec, hasEpoch := firstNumber(payload, epochKeys)

	var occurredAt int64
	if hasEpoch && epochSec != 0 && math.Abs(epochSec) <= maxEpochSeconds {
		occurredAt = int64(epochSec * 1000)
	} else {
		occurredAt = n.Now().UnixMilli()
	}

	shot := models.Shot{
		OccurredAt:  occurredAt,
		DurationMs:  durationMs,
		DeviceID:    stringField(payload, "device_id"),
		ShotIndex:   optionalNumber(payload, shotIndexKeys),
		BootID:      optionalNumber(payload, bootIDKeys),
		BrewCounter: optionalNumber(payload, brewCounterKeys),
		AvgMs:       optionalNumber(payload, avgMsKeys),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Draft{}, fmt.Errorf("encode payload: %w", err)
	}
	shot.Payload = raw

	var src IdentitySource
	shot.ID, src = n.identity(payload, shot, epochSec, hasEpoch)
	return Draft{Shot: shot, Source: src}, nil
}

// identity precedence:
// 1) explicit id
// 2) device:boot:index
// 3) device:index:epoch
// 4) random (a retried request will not dedupe)
func (n *Normalizer) identity(payload map[string]any, shot models.Shot, epochSec float64, hasEpoch bool) (string, IdentitySource) {
	if id := stringField(payload, "id"); id != "" {
		return id, IdentityExplicit
	}
	if shot.DeviceID != "" && shot.ShotIndex != nil {
		if shot.BootID != nil {
			return shot.DeviceID + ":" + formatNumber(*shot.BootID) + ":" + formatNumber(*shot.ShotIndex), IdentityBoot
		}
		if hasEpoch {
			return shot.DeviceID + ":" + formatNumber(*shot.ShotIndex) + ":" + formatNumber(epochSec), IdentityEpoch
		}
	}
	return n.NewID(), IdentityRandom
}

// Number converts a decoded JSON value to a finite float64.
// Numeric strings are accepted; booleans, empty strings and NaN/Inf are not.
func Number(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func firstNumber(payload map[string]any, keys []string) (float64, bool) {
	for _, k := range keys {
		if v, ok := payload[k]; ok && v != nil {
			if f, ok := Number(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func optionalNumber(payload map[string]any, keys []string) *float64 {
	if f, ok := firstNumber(payload, keys); ok {
		return &f
	}
	return nil
}

func stringField(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case bool:
		if !v {
			return ""
		}
		return "true"
	default:
		if f, ok := Number(v); ok {
			if f == 0 {
				return ""
			}
			return formatNumber(f)
		}
		return fmt.Sprint(v)
	}
}

// formatNumber renders integers without a fractional part ("3", not "3.000000").
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
