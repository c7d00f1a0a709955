package validationlog

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

type recordingStore struct {
	entries []domain.ValidationLog
	failNext bool
}

func (r *recordingStore) CreateValidationLog(ctx context.Context, entry domain.ValidationLog) error {
	if r.failNext {
		return errors.New("db unavailable")
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingStore) CreateValidationLogsBatch(ctx context.Context, entries []domain.ValidationLog) error {
	if r.failNext {
		return errors.New("db unavailable")
	}
	r.entries = append(r.entries, entries...)
	return nil
}

func TestSink_InfoWritesSafeMetadataOnly(t *testing.T) {
	store := &recordingStore{}
	logger, _ := test.NewNullLogger()
	sink := New(store, logger.WithField("component", "test"))

	rows := 42
	sink.Info(context.Background(), "run-1", "ingest", "parsed file", SafeMetadata{RowCount: &rows, Encoding: "utf-8"})

	require.Len(t, store.entries, 1)
	assert.Equal(t, domain.LogInfo, store.entries[0].Level)
	assert.Equal(t, 42, store.entries[0].Metadata["rowCount"])
	assert.Equal(t, "utf-8", store.entries[0].Metadata["encoding"])
	assert.NotContains(t, store.entries[0].Metadata, "patient")
}

func TestSink_FallsBackToProcessLogOnPersistenceFailure(t *testing.T) {
	store := &recordingStore{failNext: true}
	logger, hook := test.NewNullLogger()
	sink := New(store, logger.WithField("component", "test"))

	assert.NotPanics(t, func() {
		sink.Error(context.Background(), "run-2", "rules", "handler crashed", SafeMetadata{RuleID: "office-fee"})
	})
	assert.Empty(t, store.entries)

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			found = true
		}
	}
	assert.True(t, found, "expected a warning entry logging the fallback")
}
