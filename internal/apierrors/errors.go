// Package apierrors classifies pipeline failures by kind so that
// the job layer and run orchestrator can decide retry-vs-fail behavior by
// kind instead of matching on error message text.
package apierrors

import (
	"errors"
	"fmt"
)

// Kind names one of the pipeline's seven error classes.
type Kind string

const (
	KindIngestionFatal      Kind = "ingestion_fatal"
	KindIngestionPartial    Kind = "ingestion_partial"
	KindRuleInternal        Kind = "rule_internal"
	KindPersistenceTransient Kind = "persistence_transient"
	KindPersistenceIntegrity Kind = "persistence_integrity"
	KindCacheUnavailable    Kind = "cache_unavailable"
	KindQueueUnavailable    Kind = "queue_unavailable"
)

// Retryable reports whether a job-layer retry is appropriate for this kind.
// Only transient persistence failures and queue unavailability are retried;
// everything else is either already handled in-process (cache, rule
// failures) or deterministic and therefore pointless to retry.
func (k Kind) Retryable() bool {
	switch k {
	case KindPersistenceTransient, KindQueueUnavailable:
		return true
	default:
		return false
	}
}

// Classified wraps an underlying error with its Kind.
type Classified struct {
	Kind Kind
	Err  error
}

func (c *Classified) Error() string {
	return fmt.Sprintf("%s: %v", c.Kind, c.Err)
}

func (c *Classified) Unwrap() error {
	return c.Err
}

// New wraps err with kind.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Kind: kind, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Classified{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, if it (or something it wraps) is
// Classified. Returns ok=false for plain errors.
func KindOf(err error) (Kind, bool) {
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind, true
	}
	return "", false
}

// Retryable reports whether err should be retried by the job layer. An
// unclassified error is retried: only errors whose kind is known to be
// deterministic may skip the retry budget.
func Retryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return true
	}
	return kind.Retryable()
}
