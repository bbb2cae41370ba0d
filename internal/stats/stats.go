// Package stats keeps lightweight per-day submission counters. Counters
// live in the record store under a reserved id per day, so every driver
// gets them for free.
package stats

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/DaanH/buildings-visualizer/internal/domain"
)

const (
	keyPrefix = "stats:"

	counterSubmitted = "submitted"
	counterCompleted = "completed"
	counterFailed    = "failed"
	countryPrefix    = "country:"
)

// Recorder accumulates counters. A single process owns its day records,
// so a mutex around the read-modify-write cycle is enough.
type Recorder struct {
	store  domain.Store
	logger zerolog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// NewRecorder constructs a recorder writing through store.
func NewRecorder(store domain.Store, logger zerolog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger, now: time.Now}
}

func (r *Recorder) dayID() string {
	return keyPrefix + r.now().UTC().Format("2006-01-02")
}

// RecordSubmission counts one upload, attributed to an ISO country code
// when one could be resolved.
func (r *Recorder) RecordSubmission(ctx context.Context, country string) {
	counters := []string{counterSubmitted}
	if country = strings.ToUpper(strings.TrimSpace(country)); country != "" {
		counters = append(counters, countryPrefix+country)
	}
	r.increment(ctx, counters...)
}

// RecordOutcome counts one terminal generation result.
func (r *Recorder) RecordOutcome(ctx context.Context, status domain.Status) {
	switch status {
	case domain.StatusCompleted:
		r.increment(ctx, counterCompleted)
	case domain.StatusError:
		r.increment(ctx, counterFailed)
	}
}

func (r *Recorder) increment(ctx context.Context, counters ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.dayID()
	meta := map[string]any{}
	rec, err := r.store.Get(ctx, id)
	switch {
	case err == nil:
		meta = rec.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
	case errors.Is(err, domain.ErrNotFound):
		// first counter of the day
	default:
		r.logger.Error().Err(err).Msg("stats: load day counters")
		return
	}

	for _, name := range counters {
		meta[name] = asInt(meta[name]) + 1
	}
	patch := domain.RecordPatch{
		Status:    domain.StatusOf(domain.StatusCompleted),
		Timestamp: domain.String(r.now().UTC().Format(time.RFC3339)),
		Metadata:  meta,
	}
	if err := r.store.Put(ctx, id, patch); err != nil {
		r.logger.Error().Err(err).Msg("stats: persist day counters")
	}
}

// Summary returns today's counters split into totals and per-country
// submission counts.
func (r *Recorder) Summary(ctx context.Context) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	day := strings.TrimPrefix(r.dayID(), keyPrefix)
	out := map[string]any{
		"day":        day,
		"submitted":  0,
		"completed":  0,
		"failed":     0,
		"by_country": map[string]int{},
	}
	rec, err := r.store.Get(ctx, r.dayID())
	if errors.Is(err, domain.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	byCountry := out["by_country"].(map[string]int)
	for name, value := range rec.Metadata {
		switch {
		case name == counterSubmitted:
			out["submitted"] = asInt(value)
		case name == counterCompleted:
			out["completed"] = asInt(value)
		case name == counterFailed:
			out["failed"] = asInt(value)
		case strings.HasPrefix(name, countryPrefix):
			byCountry[strings.TrimPrefix(name, countryPrefix)] = asInt(value)
		}
	}
	return out, nil
}

// Metadata round-trips through JSON, so numbers come back as float64.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
