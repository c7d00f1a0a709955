// Package validationlog implements the per-run validation log sink:
// PHI-safe structured log writes tied to a validation run, one row per
// call, or many rows in one round-trip through LogBatch.
//
// SafeMetadata is restricted by the type system to a closed set of
// technical keys (row counts, durations, encoding, delimiter, error
// codes, rule id, job id, progress) so raw CSV row content can never be
// passed as metadata. On persistence failure the sink falls back to the
// process logger; it never propagates the failure to the caller.
package validationlog

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

// SafeMetadata is the closed set of technical fields a log line may carry.
// Any field not named here cannot be attached, by construction.
type SafeMetadata struct {
	RowCount     *int
	Row          *int
	DurationMS   *int64
	Encoding     string
	Delimiter    string
	ErrorCode    string
	RuleID       string
	JobID        string
	Progress     *int
	BatchSize    *int
	AttemptCount *int
}

func (m SafeMetadata) toMap() map[string]interface{} {
	out := map[string]interface{}{}
	if m.RowCount != nil {
		out["rowCount"] = *m.RowCount
	}
	if m.Row != nil {
		out["row"] = *m.Row
	}
	if m.DurationMS != nil {
		out["durationMs"] = *m.DurationMS
	}
	if m.Encoding != "" {
		out["encoding"] = m.Encoding
	}
	if m.Delimiter != "" {
		out["delimiter"] = m.Delimiter
	}
	if m.ErrorCode != "" {
		out["errorCode"] = m.ErrorCode
	}
	if m.RuleID != "" {
		out["ruleId"] = m.RuleID
	}
	if m.JobID != "" {
		out["jobId"] = m.JobID
	}
	if m.Progress != nil {
		out["progress"] = *m.Progress
	}
	if m.BatchSize != nil {
		out["batchSize"] = *m.BatchSize
	}
	if m.AttemptCount != nil {
		out["attemptCount"] = *m.AttemptCount
	}
	return out
}

// Store persists ValidationLog rows. Implemented by the persistence
// gateway; kept as a narrow interface so the sink can be unit tested
// without a live Postgres.
type Store interface {
	CreateValidationLog(ctx context.Context, entry domain.ValidationLog) error
	CreateValidationLogsBatch(ctx context.Context, entries []domain.ValidationLog) error
}

// Sink writes per-run operator log lines. Safe for concurrent use.
type Sink struct {
	store Store
	log   *logrus.Entry
}

// New builds a Sink backed by store, falling back to log on persistence
// failure.
func New(store Store, log *logrus.Entry) *Sink {
	return &Sink{store: store, log: log}
}

func (s *Sink) write(ctx context.Context, runID string, level domain.LogLevel, source, message string, meta SafeMetadata) {
	entry := domain.ValidationLog{
		ValidationRunID: runID,
		Timestamp:       time.Now().UTC(),
		Level:           level,
		Source:          source,
		Message:         message,
		Metadata:        meta.toMap(),
	}
	if err := s.store.CreateValidationLog(ctx, entry); err != nil {
		// Never fail the caller: fall back to the process logger.
		s.log.WithFields(logrus.Fields{
			"runId":  runID,
			"source": source,
			"level":  level,
		}).WithError(err).Warn(message)
	}
}

func (s *Sink) Debug(ctx context.Context, runID, source, message string, meta SafeMetadata) {
	s.write(ctx, runID, domain.LogDebug, source, message, meta)
}

func (s *Sink) Info(ctx context.Context, runID, source, message string, meta SafeMetadata) {
	s.write(ctx, runID, domain.LogInfo, source, message, meta)
}

func (s *Sink) Warn(ctx context.Context, runID, source, message string, meta SafeMetadata) {
	s.write(ctx, runID, domain.LogWarn, source, message, meta)
}

func (s *Sink) Error(ctx context.Context, runID, source, message string, meta SafeMetadata) {
	s.write(ctx, runID, domain.LogError, source, message, meta)
}

// LogBatch coalesces multiple lines into one round-trip.
func (s *Sink) LogBatch(ctx context.Context, runID string, lines []struct {
	Level   domain.LogLevel
	Source  string
	Message string
	Meta    SafeMetadata
}) {
	entries := make([]domain.ValidationLog, 0, len(lines))
	now := time.Now().UTC()
	for _, l := range lines {
		entries = append(entries, domain.ValidationLog{
			ValidationRunID: runID,
			Timestamp:       now,
			Level:           l.Level,
			Source:          l.Source,
			Message:         l.Message,
			Metadata:        l.Meta.toMap(),
		})
	}
	if err := s.store.CreateValidationLogsBatch(ctx, entries); err != nil {
		s.log.WithField("runId", runID).WithError(err).Warn("validation log batch write failed, entries dropped to process log")
		for _, e := range entries {
			s.log.WithFields(logrus.Fields{"runId": runID, "source": e.Source}).Warn(e.Message)
		}
	}
}
