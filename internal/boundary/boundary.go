// Package boundary exposes the operations the HTTP surface calls into the
// core: file registration, run creation with immediate enqueue, and
// ownership-filtered reads. All reads pass through a single redaction
// point parameterized by the caller's phiRedactionEnabled flag; when an
// admin deliberately reads raw data, an audit log row is written before
// the data is returned.
package boundary

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
	"github.com/montignypatrik/facnet-validator-core/internal/phi"
)

// Store is the persistence-gateway slice the boundary needs.
type Store interface {
	CreateUploadedFile(ctx context.Context, f domain.UploadedFile) (domain.UploadedFile, error)
	GetUploadedFile(ctx context.Context, id string) (domain.UploadedFile, error)
	CreateValidationRun(ctx context.Context, run domain.ValidationRun) (domain.ValidationRun, error)
	UpdateValidationRun(ctx context.Context, run domain.ValidationRun) error
	GetValidationRun(ctx context.Context, id string) (domain.ValidationRun, error)
	GetValidationRuns(ctx context.Context, filter domain.RunFilter) ([]domain.ValidationRun, error)
	GetBillingRecords(ctx context.Context, runID string, page, pageSize int) ([]domain.BillingRecord, error)
	GetValidationResults(ctx context.Context, runID string) ([]domain.ValidationResult, error)
	CleanupValidationData(ctx context.Context, runID string) error
	CleanupOldValidations(ctx context.Context, daysOld int) (int, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}

// Enqueuer pushes validation jobs. Satisfied by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, runID, fileName string) (string, error)
}

// BlobUploader stores uploaded CSV content. Satisfied by *blobstore.Store.
type BlobUploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
}

// ErrNotOwner is returned when a non-admin caller reads a run they do not
// own.
var ErrNotOwner = fmt.Errorf("validation run does not belong to caller")

// Service implements the core's ingestion/run boundary.
type Service struct {
	store    Store
	queue    Enqueuer
	blobs    BlobUploader
	redactor *phi.BoundaryRedactor
	log      *logrus.Entry
}

func New(store Store, q Enqueuer, blobs BlobUploader, redactor *phi.BoundaryRedactor, log *logrus.Entry) *Service {
	return &Service{store: store, queue: q, blobs: blobs, redactor: redactor, log: log}
}

// CreateFile registers an uploaded CSV and stores its content. The stored
// blob name is assigned by the persistence gateway; the metadata row
// outlives the blob itself.
func (s *Service) CreateFile(ctx context.Context, meta domain.UploadedFile, content io.Reader) (domain.UploadedFile, error) {
	file, err := s.store.CreateUploadedFile(ctx, meta)
	if err != nil {
		return domain.UploadedFile{}, fmt.Errorf("register uploaded file: %w", err)
	}
	if err := s.blobs.Upload(ctx, file.StoredName, content); err != nil {
		return domain.UploadedFile{}, fmt.Errorf("store uploaded file content: %w", err)
	}
	return file, nil
}

// CreateRun creates a ValidationRun in queued state for fileID, owned by
// ownerUserID, and immediately enqueues its job. The call returns without
// waiting for processing; callers poll GetRun.
func (s *Service) CreateRun(ctx context.Context, fileID, ownerUserID string) (domain.ValidationRun, error) {
	file, err := s.store.GetUploadedFile(ctx, fileID)
	if err != nil {
		return domain.ValidationRun{}, fmt.Errorf("load uploaded file %s: %w", fileID, err)
	}

	run, err := s.store.CreateValidationRun(ctx, domain.ValidationRun{
		FileID:    file.ID,
		FileName:  file.OriginalName,
		CreatedBy: ownerUserID,
		Status:    domain.RunQueued,
		Progress:  0,
	})
	if err != nil {
		return domain.ValidationRun{}, fmt.Errorf("create validation run: %w", err)
	}

	jobID, err := s.queue.Enqueue(ctx, run.ID, file.StoredName)
	if err != nil {
		return domain.ValidationRun{}, fmt.Errorf("enqueue validation job: %w", err)
	}
	run.JobID = jobID
	if err := s.store.UpdateValidationRun(ctx, run); err != nil {
		return domain.ValidationRun{}, fmt.Errorf("record job id on run: %w", err)
	}
	return run, nil
}

// GetRun returns the run if caller owns it or is an admin.
func (s *Service) GetRun(ctx context.Context, runID string, caller domain.User) (domain.ValidationRun, error) {
	run, err := s.store.GetValidationRun(ctx, runID)
	if err != nil {
		return domain.ValidationRun{}, err
	}
	if err := s.authorize(run, caller); err != nil {
		return domain.ValidationRun{}, err
	}
	return run, nil
}

// GetRuns lists the caller's runs; admins see everything.
func (s *Service) GetRuns(ctx context.Context, filter domain.RunFilter, caller domain.User) ([]domain.ValidationRun, error) {
	if caller.Role != domain.RoleAdmin {
		filter.OwnerUserID = caller.ID
	}
	return s.store.GetValidationRuns(ctx, filter)
}

// GetResults returns a run's validation results through the redaction
// point. A raw read (redaction disabled) is only honored for admins and is
// audited before the data leaves the core.
func (s *Service) GetResults(ctx context.Context, runID string, caller domain.User) ([]domain.ValidationResult, error) {
	run, err := s.GetRun(ctx, runID, caller)
	if err != nil {
		return nil, err
	}

	results, err := s.store.GetValidationResults(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	enabled := s.redactionEnabled(caller)
	if !enabled {
		if err := s.audit(ctx, caller, "run/results", run.ID, len(results)); err != nil {
			return nil, err
		}
	}
	out := make([]domain.ValidationResult, len(results))
	for i, r := range results {
		out[i] = s.redactor.RedactResult(r, enabled)
	}
	return out, nil
}

// GetRecords returns a page of a run's billing records through the
// redaction point, auditing raw reads the same way as GetResults.
func (s *Service) GetRecords(ctx context.Context, runID string, page, pageSize int, caller domain.User) ([]domain.BillingRecord, error) {
	run, err := s.GetRun(ctx, runID, caller)
	if err != nil {
		return nil, err
	}

	records, err := s.store.GetBillingRecords(ctx, run.ID, page, pageSize)
	if err != nil {
		return nil, err
	}

	enabled := s.redactionEnabled(caller)
	if !enabled {
		if err := s.audit(ctx, caller, "run/records", run.ID, len(records)); err != nil {
			return nil, err
		}
	}
	return s.redactor.RedactRecords(records, enabled), nil
}

// CleanupRun cascade-deletes a run's records, results, and logs.
func (s *Service) CleanupRun(ctx context.Context, runID string, caller domain.User) error {
	run, err := s.GetRun(ctx, runID, caller)
	if err != nil {
		return err
	}
	return s.store.CleanupValidationData(ctx, run.ID)
}

// CleanupOld removes runs older than daysOld. Admin only.
func (s *Service) CleanupOld(ctx context.Context, daysOld int, caller domain.User) (int, error) {
	if caller.Role != domain.RoleAdmin {
		return 0, ErrNotOwner
	}
	return s.store.CleanupOldValidations(ctx, daysOld)
}

func (s *Service) authorize(run domain.ValidationRun, caller domain.User) error {
	if caller.Role == domain.RoleAdmin || run.CreatedBy == caller.ID {
		return nil
	}
	return ErrNotOwner
}

// redactionEnabled resolves the caller's effective redaction flag. Only
// admins may turn redaction off; any other role always reads redacted
// data, whatever their stored flag says.
func (s *Service) redactionEnabled(caller domain.User) bool {
	if caller.Role != domain.RoleAdmin {
		return true
	}
	return caller.PHIRedactionEnabled
}

func (s *Service) audit(ctx context.Context, caller domain.User, endpoint, runID string, count int) error {
	entry := domain.AuditLog{
		UserID:      caller.ID,
		Email:       caller.Email,
		Endpoint:    endpoint,
		RunID:       runID,
		Timestamp:   time.Now().UTC(),
		RecordCount: count,
	}
	if err := s.store.CreateAuditLog(ctx, entry); err != nil {
		// The raw read must not proceed unaudited.
		return fmt.Errorf("record raw PHI access: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"userId":   caller.ID,
		"endpoint": endpoint,
		"runId":    runID,
	}).Warn("PHI redaction bypassed by admin")
	return nil
}
