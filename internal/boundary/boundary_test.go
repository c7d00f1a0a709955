package boundary

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
	"github.com/montignypatrik/facnet-validator-core/internal/phi"
)

type fakeStore struct {
	file    domain.UploadedFile
	run     domain.ValidationRun
	records []domain.BillingRecord
	results []domain.ValidationResult

	audits      []domain.AuditLog
	cleanedRuns []string
}

func (f *fakeStore) CreateUploadedFile(ctx context.Context, file domain.UploadedFile) (domain.UploadedFile, error) {
	file.ID = "file-1"
	if file.StoredName == "" {
		file.StoredName = "stored-1.csv"
	}
	f.file = file
	return file, nil
}
func (f *fakeStore) GetUploadedFile(ctx context.Context, id string) (domain.UploadedFile, error) {
	return f.file, nil
}
func (f *fakeStore) CreateValidationRun(ctx context.Context, run domain.ValidationRun) (domain.ValidationRun, error) {
	run.ID = "run-1"
	f.run = run
	return run, nil
}
func (f *fakeStore) UpdateValidationRun(ctx context.Context, run domain.ValidationRun) error {
	f.run = run
	return nil
}
func (f *fakeStore) GetValidationRun(ctx context.Context, id string) (domain.ValidationRun, error) {
	return f.run, nil
}
func (f *fakeStore) GetValidationRuns(ctx context.Context, filter domain.RunFilter) ([]domain.ValidationRun, error) {
	if filter.OwnerUserID != "" && f.run.CreatedBy != filter.OwnerUserID {
		return nil, nil
	}
	return []domain.ValidationRun{f.run}, nil
}
func (f *fakeStore) GetBillingRecords(ctx context.Context, runID string, page, pageSize int) ([]domain.BillingRecord, error) {
	return f.records, nil
}
func (f *fakeStore) GetValidationResults(ctx context.Context, runID string) ([]domain.ValidationResult, error) {
	return f.results, nil
}
func (f *fakeStore) CleanupValidationData(ctx context.Context, runID string) error {
	f.cleanedRuns = append(f.cleanedRuns, runID)
	return nil
}
func (f *fakeStore) CleanupOldValidations(ctx context.Context, daysOld int) (int, error) {
	return 2, nil
}
func (f *fakeStore) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	f.audits = append(f.audits, entry)
	return nil
}

type fakeEnqueuer struct {
	enqueued []string
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, runID, fileName string) (string, error) {
	f.enqueued = append(f.enqueued, runID)
	return "job-" + runID, nil
}

type fakeUploader struct {
	uploaded map[string][]byte
}

func (f *fakeUploader) Upload(ctx context.Context, key string, body io.Reader) error {
	data, _ := io.ReadAll(body)
	if f.uploaded == nil {
		f.uploaded = map[string][]byte{}
	}
	f.uploaded[key] = data
	return nil
}

func newTestService(store *fakeStore) (*Service, *fakeEnqueuer, *fakeUploader) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	q := &fakeEnqueuer{}
	up := &fakeUploader{}
	return New(store, q, up, phi.NewBoundaryRedactor("salt"), logrus.NewEntry(l)), q, up
}

func owner() domain.User {
	return domain.User{ID: "user-1", Role: domain.RoleEditor, PHIRedactionEnabled: true}
}

func adminRaw() domain.User {
	return domain.User{ID: "admin-1", Email: "admin@clinic.qc.ca", Role: domain.RoleAdmin, PHIRedactionEnabled: false}
}

func TestCreateRun_EnqueuesAndRecordsJobID(t *testing.T) {
	store := &fakeStore{file: domain.UploadedFile{ID: "file-1", OriginalName: "export.csv", StoredName: "stored-1.csv"}}
	svc, q, _ := newTestService(store)

	run, err := svc.CreateRun(context.Background(), "file-1", "user-1")
	require.NoError(t, err)

	assert.Equal(t, domain.RunQueued, run.Status)
	assert.Equal(t, "job-run-1", run.JobID)
	assert.Equal(t, []string{"run-1"}, q.enqueued)
}

func TestCreateFile_StoresBlobUnderAssignedName(t *testing.T) {
	store := &fakeStore{}
	svc, _, up := newTestService(store)

	file, err := svc.CreateFile(context.Background(), domain.UploadedFile{OriginalName: "export.csv"}, bytes.NewBufferString("a;b\n1;2\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a;b\n1;2\n"), up.uploaded[file.StoredName])
}

func TestGetRecords_RedactsForNonAdmin(t *testing.T) {
	store := &fakeStore{
		run:     domain.ValidationRun{ID: "run-1", CreatedBy: "user-1"},
		records: []domain.BillingRecord{{ID: "r1", Patient: "PAT1", DoctorInfo: "Dr Roy", IDRamq: "INV-9"}},
	}
	svc, _, _ := newTestService(store)

	out, err := svc.GetRecords(context.Background(), "run-1", 0, 0, owner())
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Contains(t, out[0].Patient, "[PATIENT-")
	assert.Equal(t, "[REDACTED]", out[0].DoctorInfo)
	assert.Equal(t, "INV-9", out[0].IDRamq, "idRamq must never be redacted")
	assert.Empty(t, store.audits)
}

func TestGetRecords_NonAdminCannotDisableRedaction(t *testing.T) {
	store := &fakeStore{
		run:     domain.ValidationRun{ID: "run-1", CreatedBy: "user-1"},
		records: []domain.BillingRecord{{ID: "r1", Patient: "PAT1"}},
	}
	svc, _, _ := newTestService(store)

	caller := owner()
	caller.PHIRedactionEnabled = false
	out, err := svc.GetRecords(context.Background(), "run-1", 0, 0, caller)
	require.NoError(t, err)
	assert.Contains(t, out[0].Patient, "[PATIENT-")
	assert.Empty(t, store.audits)
}

func TestGetRecords_AdminRawReadIsAudited(t *testing.T) {
	store := &fakeStore{
		run:     domain.ValidationRun{ID: "run-1", CreatedBy: "user-1"},
		records: []domain.BillingRecord{{ID: "r1", Patient: "PAT1"}, {ID: "r2", Patient: "PAT2"}},
	}
	svc, _, _ := newTestService(store)

	out, err := svc.GetRecords(context.Background(), "run-1", 0, 0, adminRaw())
	require.NoError(t, err)
	assert.Equal(t, "PAT1", out[0].Patient)

	require.Len(t, store.audits, 1)
	assert.Equal(t, "admin-1", store.audits[0].UserID)
	assert.Equal(t, "run/records", store.audits[0].Endpoint)
	assert.Equal(t, 2, store.audits[0].RecordCount)
}

func TestGetRun_RejectsNonOwner(t *testing.T) {
	store := &fakeStore{run: domain.ValidationRun{ID: "run-1", CreatedBy: "someone-else"}}
	svc, _, _ := newTestService(store)

	_, err := svc.GetRun(context.Background(), "run-1", owner())
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestCleanupOld_AdminOnly(t *testing.T) {
	store := &fakeStore{}
	svc, _, _ := newTestService(store)

	_, err := svc.CleanupOld(context.Background(), 30, owner())
	assert.ErrorIs(t, err, ErrNotOwner)

	n, err := svc.CleanupOld(context.Background(), 30, adminRaw())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
