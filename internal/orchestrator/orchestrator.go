// Package orchestrator implements the run orchestrator:
// the job handler that ties CSV ingestion, persistence, the reference
// cache, and the rule engine into one run.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/montignypatrik/facnet-validator-core/internal/apierrors"
	"github.com/montignypatrik/facnet-validator-core/internal/domain"
	"github.com/montignypatrik/facnet-validator-core/internal/ingest"
	"github.com/montignypatrik/facnet-validator-core/internal/phi"
	"github.com/montignypatrik/facnet-validator-core/internal/queue"
	"github.com/montignypatrik/facnet-validator-core/internal/rules"
	"github.com/montignypatrik/facnet-validator-core/internal/rules/generic"
	"github.com/montignypatrik/facnet-validator-core/internal/ruleengine"
	"github.com/montignypatrik/facnet-validator-core/internal/store"
	"github.com/montignypatrik/facnet-validator-core/internal/validationlog"
)

// RunStore is the slice of the Persistence Gateway the orchestrator needs.
type RunStore interface {
	GetValidationRun(ctx context.Context, id string) (domain.ValidationRun, error)
	UpdateValidationRun(ctx context.Context, run domain.ValidationRun) error
	GetUploadedFile(ctx context.Context, id string) (domain.UploadedFile, error)
	MarkBlobDeleted(ctx context.Context, fileID string, at time.Time) error
	CreateBillingRecords(ctx context.Context, records []domain.BillingRecord) error
	GetBillingRecords(ctx context.Context, runID string, page, pageSize int) ([]domain.BillingRecord, error)
	CreateValidationResults(ctx context.Context, results []domain.ValidationResult) error
	CleanupValidationData(ctx context.Context, runID string) error
}

// RunLog is the validation-log sink slice the orchestrator writes
// per-run operator diagnostics through. Satisfied by *validationlog.Sink.
type RunLog interface {
	Info(ctx context.Context, runID, source, message string, meta validationlog.SafeMetadata)
	Warn(ctx context.Context, runID, source, message string, meta validationlog.SafeMetadata)
	Error(ctx context.Context, runID, source, message string, meta validationlog.SafeMetadata)
}

// ReferenceSource is the slice of the Reference Cache the orchestrator
// consults to build the rule catalogue for a run.
type ReferenceSource interface {
	GetCodes(ctx context.Context) ([]domain.Code, error)
	GetContexts(ctx context.Context) ([]domain.Context, error)
	GetEstablishments(ctx context.Context) ([]domain.Establishment, error)
	GetRules(ctx context.Context) ([]domain.Rule, error)
}

// BlobStore is the slice of the blob store the orchestrator needs to fetch
// the uploaded CSV and delete it once the run completes. A failed run
// leaves the blob in place.
type BlobStore interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Orchestrator runs one job end to end. It implements queue.Processor.
type Orchestrator struct {
	store       RunStore
	reference   ReferenceSource
	blobs       BlobStore
	sink        RunLog
	telemetry   *phi.TelemetryRedactor
	log         *logrus.Entry
	concurrency int
}

func New(store RunStore, reference ReferenceSource, blobs BlobStore, sink RunLog, log *logrus.Entry, concurrency int) *Orchestrator {
	return &Orchestrator{
		store:       store,
		reference:   reference,
		blobs:       blobs,
		sink:        sink,
		telemetry:   phi.NewTelemetryRedactor(),
		log:         log,
		concurrency: concurrency,
	}
}

const logSource = "orchestrator"

// Process runs the full ingestion+validation pipeline for job. On any failure
// it transitions the run to failed with a sanitized error message and
// returns the original error so the job layer applies its retry policy.
func (o *Orchestrator) Process(ctx context.Context, job queue.Job) error {
	log := o.log.WithFields(logrus.Fields{"runId": job.RunID, "jobId": job.ID})

	run, err := o.store.GetValidationRun(ctx, job.RunID)
	if err != nil {
		return store.Classify(fmt.Errorf("load validation run %s: %w", job.RunID, err))
	}

	if err := o.run(ctx, log, &run, job.FileName); err != nil {
		run.Status = domain.RunFailed
		run.ErrorMessage = o.telemetry.SanitizeMessage(err.Error())
		now := time.Now()
		run.CompletedAt = &now
		if updateErr := o.store.UpdateValidationRun(ctx, run); updateErr != nil {
			log.WithError(updateErr).Error("failed to persist run failure")
		}
		attempt := job.Attempt
		o.sink.Error(ctx, run.ID, logSource, run.ErrorMessage, validationlog.SafeMetadata{
			JobID:        job.ID,
			AttemptCount: &attempt,
		})
		return err
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, log *logrus.Entry, run *domain.ValidationRun, fileName string) error {
	file, err := o.store.GetUploadedFile(ctx, run.FileID)
	if err != nil {
		return store.Classify(fmt.Errorf("load uploaded file %s: %w", run.FileID, err))
	}

	exists, err := o.blobs.Exists(ctx, file.StoredName)
	if err != nil {
		return fmt.Errorf("check source blob %s: %w", file.StoredName, err)
	}
	if !exists {
		// Deterministic: the source is gone, a retry cannot bring it back.
		return apierrors.Newf(apierrors.KindIngestionFatal, "source blob %s no longer exists", file.StoredName)
	}

	now := time.Now()
	run.Status = domain.RunProcessing
	run.Progress = 0
	run.StartedAt = &now
	if err := o.store.UpdateValidationRun(ctx, *run); err != nil {
		return store.Classify(fmt.Errorf("transition run to processing: %w", err))
	}

	// A retried job restarts from the beginning. Drop
	// whatever partial data a previous attempt wrote under this run so the
	// batch inserts below cannot duplicate records.
	if err := o.store.CleanupValidationData(ctx, run.ID); err != nil {
		return store.Classify(fmt.Errorf("truncate partial data from previous attempt: %w", err))
	}

	localPath, cleanup, err := o.stageBlob(ctx, file.StoredName)
	if err != nil {
		return fmt.Errorf("stage source blob: %w", err)
	}
	defer cleanup()

	ingestResult, err := ingest.IngestFile(localPath, run.ID, func(percent int) {
		run.Progress = percent
		if updateErr := o.store.UpdateValidationRun(ctx, *run); updateErr != nil {
			log.WithError(updateErr).Warn("failed to persist ingestion progress")
		}
	})
	if err != nil {
		// Structural file problems do not heal on retry.
		return apierrors.New(apierrors.KindIngestionFatal, fmt.Errorf("ingest billing export: %w", err))
	}
	for _, parseErr := range ingestResult.ParseErrors {
		log.WithField("row", parseErr.Row).Warn(parseErr.Error())
		row := parseErr.Row
		o.sink.Warn(ctx, run.ID, logSource, parseErr.Reason, validationlog.SafeMetadata{
			ErrorCode: "parse_error",
			Row:       &row,
		})
	}
	rowCount := len(ingestResult.Records)
	o.sink.Info(ctx, run.ID, logSource, "ingestion terminée", validationlog.SafeMetadata{
		RowCount:  &rowCount,
		Encoding:  string(ingestResult.Encoding),
		Delimiter: string(rune(ingestResult.Delimiter)),
	})

	if err := o.store.CreateBillingRecords(ctx, ingestResult.Records); err != nil {
		return store.Classify(fmt.Errorf("persist billing records: %w", err))
	}

	run.Progress = 50
	if err := o.store.UpdateValidationRun(ctx, *run); err != nil {
		return store.Classify(fmt.Errorf("checkpoint progress after ingestion: %w", err))
	}

	persisted, err := o.store.GetBillingRecords(ctx, run.ID, 0, 0)
	if err != nil {
		return store.Classify(fmt.Errorf("re-read persisted billing records: %w", err))
	}

	engine, err := o.buildEngine(ctx, log)
	if err != nil {
		return fmt.Errorf("build rule engine: %w", err)
	}

	results := engine.Run(ctx, run.ID, persisted, func(percent int) {
		run.Progress = percent
		if updateErr := o.store.UpdateValidationRun(ctx, *run); updateErr != nil {
			log.WithError(updateErr).Warn("failed to persist validation progress")
		}
	})

	if err := o.store.CreateValidationResults(ctx, results); err != nil {
		return store.Classify(fmt.Errorf("persist validation results: %w", err))
	}
	resultCount := len(results)
	o.sink.Info(ctx, run.ID, logSource, "validation terminée", validationlog.SafeMetadata{
		RowCount: &resultCount,
	})

	run.Progress = 100
	if err := o.store.UpdateValidationRun(ctx, *run); err != nil {
		return store.Classify(fmt.Errorf("checkpoint progress after validation: %w", err))
	}

	if err := o.blobs.Delete(ctx, file.StoredName); err != nil {
		return fmt.Errorf("delete source blob %s: %w", file.StoredName, err)
	}
	if err := o.store.MarkBlobDeleted(ctx, file.ID, time.Now()); err != nil {
		return store.Classify(fmt.Errorf("record blob deletion for file %s: %w", file.ID, err))
	}

	completedAt := time.Now()
	run.Status = domain.RunCompleted
	run.Progress = 100
	run.CompletedAt = &completedAt
	if err := o.store.UpdateValidationRun(ctx, *run); err != nil {
		return store.Classify(fmt.Errorf("transition run to completed: %w", err))
	}
	return nil
}

// stageBlob downloads key to a local temp file for ingest.IngestFile, which
// streams from disk rather than an in-memory reader.
func (o *Orchestrator) stageBlob(ctx context.Context, key string) (path string, cleanup func(), err error) {
	body, err := o.blobs.Download(ctx, key)
	if err != nil {
		return "", nil, fmt.Errorf("download blob %s: %w", key, err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp("", "validation-run-*.csv")
	if err != nil {
		return "", nil, fmt.Errorf("create staging file: %w", err)
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, body); err != nil {
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("stage blob %s to disk: %w", key, err)
	}

	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

// buildEngine assembles the full rule catalogue for this run: the
// hard-coded handlers plus every enabled data-driven rules-table
// rule, loaded fresh each run so a newly added/edited
// rule takes effect on the next job without a worker restart.
func (o *Orchestrator) buildEngine(ctx context.Context, log *logrus.Entry) (*ruleengine.Engine, error) {
	codes, err := o.reference.GetCodes(ctx)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("load reference codes: %w", err))
	}
	establishments, err := o.reference.GetEstablishments(ctx)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("load reference establishments: %w", err))
	}
	dataRules, err := o.reference.GetRules(ctx)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("load data-driven rules: %w", err))
	}

	registry := ruleengine.NewRegistry(log)
	for _, h := range rules.BuildCatalogue(codes, establishments) {
		registry.RegisterBuiltin(h)
	}

	loader := generic.NewLoader(codes, establishments, log)
	for _, r := range dataRules {
		if !r.Enabled {
			continue
		}
		if h := loader.Build(r); h != nil {
			registry.RegisterGeneric(h)
		}
	}

	concurrency := o.concurrency
	if concurrency < 1 {
		concurrency = 4
	}
	return ruleengine.New(registry, log, concurrency), nil
}
