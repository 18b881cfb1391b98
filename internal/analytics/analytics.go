// Package analytics records search traffic for ranking improvement. Emission
// is best-effort: a broken sink must never slow down or fail a search.
package analytics

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atriumhq/omnisearch/internal/domain"
)

// Record is one search event.
type Record struct {
	QueryID     string
	TenantID    string
	PrincipalID string
	Tier        domain.Tier
	Text        string
	Entities    []domain.Entity
	ResultCount int
	FromCache   bool
	Latency     time.Duration
	At          time.Time
}

// Sink receives search events.
type Sink interface {
	Emit(ctx context.Context, rec Record)
}

// stream is the consumer interface for append-only event storage (ISP).
type stream interface {
	StreamAdd(ctx context.Context, stream string, fields map[string]string, maxLen int64) error
}

// StreamSink appends search events to a capped stream.
type StreamSink struct {
	store  stream
	name   string
	maxLen int64
	logger *zap.Logger
}

// NewStreamSink creates a sink writing to the named stream, trimmed to
// roughly maxLen entries.
func NewStreamSink(s stream, name string, maxLen int64, logger *zap.Logger) *StreamSink {
	return &StreamSink{store: s, name: name, maxLen: maxLen, logger: logger}
}

// Emit appends one event. Failures are logged and dropped.
func (s *StreamSink) Emit(ctx context.Context, rec Record) {
	entities := make([]string, 0, len(rec.Entities))
	for _, e := range rec.Entities {
		entities = append(entities, e.String())
	}

	at := rec.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	fields := map[string]string{
		"query_id":     rec.QueryID,
		"tenant_id":    rec.TenantID,
		"principal_id": rec.PrincipalID,
		"tier":         string(rec.Tier),
		"text":         rec.Text,
		"entities":     strings.Join(entities, ","),
		"result_count": strconv.Itoa(rec.ResultCount),
		"from_cache":   strconv.FormatBool(rec.FromCache),
		"latency_ms":   strconv.FormatInt(rec.Latency.Milliseconds(), 10),
		"at":           at.Format(time.RFC3339Nano),
	}

	if err := s.store.StreamAdd(ctx, s.name, fields, s.maxLen); err != nil {
		s.logger.Warn("Failed to emit search analytics",
			zap.String("query_id", rec.QueryID), zap.Error(err))
	}
}

// NopSink discards events. Used when analytics is disabled.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(context.Context, Record) {}
