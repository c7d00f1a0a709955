package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/montignypatrik/facnet-validator-core/internal/cache"
	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

// batchChunkSize bounds how many rows a single multi-row INSERT carries,
// keeping the parameter count well under PostgreSQL's per-statement limit
// regardless of how wide a row is.
const batchChunkSize = 500

// invalidator is satisfied by *cache.ReferenceCache; reference-entity
// writes invalidate the corresponding well-known key so the next read goes
// to this gateway instead of a stale cached snapshot.
type invalidator interface {
	Invalidate(ctx context.Context, key string) error
}

// Gateway is the sole SQL-speaking component. Every other component
// reaches Postgres through it.
type Gateway struct {
	db    Querier
	cache invalidator
	log   *logrus.Entry
}

func New(db Querier, cache invalidator, log *logrus.Entry) *Gateway {
	return &Gateway{db: db, cache: cache, log: log}
}

// --- ValidationRun ---------------------------------------------------------

func (g *Gateway) CreateValidationRun(ctx context.Context, run domain.ValidationRun) (domain.ValidationRun, error) {
	row := g.db.QueryRowContext(ctx, `
		INSERT INTO validation_runs (file_id, file_name, created_by, status, progress, job_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, run.FileID, run.FileName, run.CreatedBy, run.Status, run.Progress, run.JobID)

	if err := row.Scan(&run.ID, &run.CreatedAt); err != nil {
		return domain.ValidationRun{}, fmt.Errorf("create validation run: %w", err)
	}
	return run, nil
}

func (g *Gateway) UpdateValidationRun(ctx context.Context, run domain.ValidationRun) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE validation_runs
		SET status = $2, progress = $3, error_message = $4, started_at = $5, completed_at = $6
		WHERE id = $1
	`, run.ID, run.Status, run.Progress, run.ErrorMessage, run.StartedAt, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("update validation run %s: %w", run.ID, err)
	}
	return nil
}

func (g *Gateway) GetValidationRun(ctx context.Context, id string) (domain.ValidationRun, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, file_id, file_name, created_by, status, progress, job_id, error_message, created_at, started_at, completed_at
		FROM validation_runs WHERE id = $1
	`, id)
	return scanValidationRun(row)
}

func (g *Gateway) GetValidationRuns(ctx context.Context, filter domain.RunFilter) ([]domain.ValidationRun, error) {
	query := `
		SELECT id, file_id, file_name, created_by, status, progress, job_id, error_message, created_at, started_at, completed_at
		FROM validation_runs WHERE 1=1`
	var args []interface{}
	n := 0
	arg := func(v interface{}) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}

	if filter.OwnerUserID != "" {
		query += " AND created_by = " + arg(filter.OwnerUserID)
	}
	if filter.Status != "" {
		query += " AND status = " + arg(filter.Status)
	}
	query += " ORDER BY created_at DESC"

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	page := filter.Page
	if page < 0 {
		page = 0
	}
	query += " LIMIT " + arg(pageSize) + " OFFSET " + arg(page*pageSize)

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list validation runs: %w", err)
	}
	defer rows.Close()

	var out []domain.ValidationRun
	for rows.Next() {
		run, err := scanValidationRunRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanValidationRun(row rowScanner) (domain.ValidationRun, error) {
	return scanValidationRunRows(row)
}

func scanValidationRunRows(row rowScanner) (domain.ValidationRun, error) {
	var run domain.ValidationRun
	var errMsg sql.NullString
	var started, completed sql.NullTime
	err := row.Scan(&run.ID, &run.FileID, &run.FileName, &run.CreatedBy, &run.Status, &run.Progress,
		&run.JobID, &errMsg, &run.CreatedAt, &started, &completed)
	if err != nil {
		return domain.ValidationRun{}, fmt.Errorf("scan validation run: %w", err)
	}
	run.ErrorMessage = errMsg.String
	if started.Valid {
		run.StartedAt = &started.Time
	}
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	return run, nil
}

// --- BillingRecord ----------------------------------------------------------

func (g *Gateway) CreateBillingRecords(ctx context.Context, records []domain.BillingRecord) error {
	for start := 0; start < len(records); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(records) {
			end = len(records)
		}
		if err := g.insertBillingRecordChunk(ctx, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) insertBillingRecordChunk(ctx context.Context, chunk []domain.BillingRecord) error {
	const cols = 17
	var sb strings.Builder
	sb.WriteString(`INSERT INTO billing_records (
		validation_run_id, facture, id_ramq, patient, doctor_info, date_service, debut, fin,
		lieu_pratique, secteur_activite, diagnostic, code, unites, element_contexte,
		montant_preliminaire, montant_paye, custom_fields
	) VALUES `)

	args := make([]interface{}, 0, len(chunk)*cols)
	for i, r := range chunk {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * cols
		sb.WriteString("(")
		for c := 0; c < cols; c++ {
			if c > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, "$%d", base+c+1)
		}
		sb.WriteString(")")

		customFields, err := json.Marshal(r.CustomFields)
		if err != nil {
			return fmt.Errorf("marshal custom fields: %w", err)
		}
		args = append(args,
			r.ValidationRunID, r.Facture, r.IDRamq, r.Patient, r.DoctorInfo, r.DateService, r.Debut, r.Fin,
			r.LieuPratique, r.SecteurActivite, r.Diagnostic, r.Code, r.Unites, r.ElementContexte,
			r.MontantPreliminaire, r.MontantPaye, customFields,
		)
	}

	if _, err := g.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert billing records batch: %w", err)
	}
	return nil
}

func (g *Gateway) GetBillingRecords(ctx context.Context, runID string, page, pageSize int) ([]domain.BillingRecord, error) {
	if pageSize <= 0 {
		pageSize = 0 // 0 means "no limit" below
	}
	query := `
		SELECT id, validation_run_id, facture, id_ramq, patient, doctor_info, date_service, debut, fin,
			lieu_pratique, secteur_activite, diagnostic, code, unites, element_contexte,
			montant_preliminaire, montant_paye, custom_fields, created_at
		FROM billing_records WHERE validation_run_id = $1
		ORDER BY seq ASC`
	args := []interface{}{runID}
	if pageSize > 0 {
		if page < 0 {
			page = 0
		}
		query += " LIMIT $2 OFFSET $3"
		args = append(args, pageSize, page*pageSize)
	}

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list billing records for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []domain.BillingRecord
	for rows.Next() {
		var r domain.BillingRecord
		var customFields []byte
		if err := rows.Scan(&r.ID, &r.ValidationRunID, &r.Facture, &r.IDRamq, &r.Patient, &r.DoctorInfo,
			&r.DateService, &r.Debut, &r.Fin, &r.LieuPratique, &r.SecteurActivite, &r.Diagnostic, &r.Code,
			&r.Unites, &r.ElementContexte, &r.MontantPreliminaire, &r.MontantPaye, &customFields, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan billing record: %w", err)
		}
		if len(customFields) > 0 {
			if err := json.Unmarshal(customFields, &r.CustomFields); err != nil {
				return nil, fmt.Errorf("unmarshal custom fields: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- ValidationResult ---------------------------------------------------------

func (g *Gateway) CreateValidationResults(ctx context.Context, results []domain.ValidationResult) error {
	for start := 0; start < len(results); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(results) {
			end = len(results)
		}
		if err := g.insertValidationResultChunk(ctx, results[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) insertValidationResultChunk(ctx context.Context, chunk []domain.ValidationResult) error {
	const cols = 9
	var sb strings.Builder
	sb.WriteString(`INSERT INTO validation_results (
		validation_run_id, rule_id, billing_record_id, id_ramq, severity, category, message, solution, rule_data
	) VALUES `)

	args := make([]interface{}, 0, len(chunk)*cols)
	for i, r := range chunk {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * cols
		sb.WriteString("(")
		for c := 0; c < cols; c++ {
			if c > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, "$%d", base+c+1)
		}
		sb.WriteString(")")

		ruleData, err := json.Marshal(resultPayload{
			AffectedRecords: r.AffectedRecords,
			MonetaryImpact:  r.RuleData.MonetaryImpact,
			Specific:        r.RuleData.Specific,
		})
		if err != nil {
			return fmt.Errorf("marshal rule data: %w", err)
		}
		args = append(args,
			r.ValidationRunID, r.RuleID, r.BillingRecordID, r.IDRamq, r.Severity, r.Category, r.Message, r.Solution, ruleData,
		)
	}

	if _, err := g.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert validation results batch: %w", err)
	}
	return nil
}

type resultPayload struct {
	AffectedRecords []string               `json:"affectedRecords"`
	MonetaryImpact  float64                `json:"monetaryImpact"`
	Specific        map[string]interface{} `json:"specific"`
}

func (g *Gateway) GetValidationResults(ctx context.Context, runID string) ([]domain.ValidationResult, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, validation_run_id, rule_id, billing_record_id, id_ramq, severity, category, message, solution, rule_data, created_at
		FROM validation_results WHERE validation_run_id = $1 ORDER BY created_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list validation results for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []domain.ValidationResult
	for rows.Next() {
		var res domain.ValidationResult
		var billingRecordID, idRamq, solution sql.NullString
		var payload []byte
		if err := rows.Scan(&res.ID, &res.ValidationRunID, &res.RuleID, &billingRecordID, &idRamq,
			&res.Severity, &res.Category, &res.Message, &solution, &payload, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan validation result: %w", err)
		}
		if billingRecordID.Valid {
			res.BillingRecordID = &billingRecordID.String
		}
		if idRamq.Valid {
			res.IDRamq = &idRamq.String
		}
		if solution.Valid {
			res.Solution = &solution.String
		}
		var p resultPayload
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, fmt.Errorf("unmarshal rule data: %w", err)
			}
		}
		res.AffectedRecords = p.AffectedRecords
		res.RuleData = domain.RuleData{MonetaryImpact: p.MonetaryImpact, Specific: p.Specific}
		out = append(out, res)
	}
	return out, rows.Err()
}

// --- Cleanup ---------------------------------------------------------------

// CleanupValidationData deletes the BillingRecord, ValidationResult and
// ValidationLog rows for runID, leaving the ValidationRun row itself intact.
func (g *Gateway) CleanupValidationData(ctx context.Context, runID string) error {
	if _, err := g.db.ExecContext(ctx, `DELETE FROM validation_results WHERE validation_run_id = $1`, runID); err != nil {
		return fmt.Errorf("cleanup validation results for run %s: %w", runID, err)
	}
	if _, err := g.db.ExecContext(ctx, `DELETE FROM billing_records WHERE validation_run_id = $1`, runID); err != nil {
		return fmt.Errorf("cleanup billing records for run %s: %w", runID, err)
	}
	if _, err := g.db.ExecContext(ctx, `DELETE FROM validation_logs WHERE validation_run_id = $1`, runID); err != nil {
		return fmt.Errorf("cleanup validation logs for run %s: %w", runID, err)
	}
	return nil
}

// CleanupOldValidations deletes entire runs (and their dependent rows via
// CleanupValidationData) older than daysOld, returning the count removed.
func (g *Gateway) CleanupOldValidations(ctx context.Context, daysOld int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -daysOld)
	rows, err := g.db.QueryContext(ctx, `SELECT id FROM validation_runs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find old validation runs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan old run id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := g.CleanupValidationData(ctx, id); err != nil {
			return 0, err
		}
		if _, err := g.db.ExecContext(ctx, `DELETE FROM validation_runs WHERE id = $1`, id); err != nil {
			return 0, fmt.Errorf("delete old run %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// --- Reference data (cache.Source) -------------------------------------------

func (g *Gateway) GetCodes(ctx context.Context) ([]domain.Code, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT code, description, tariff_value, leaf, top_level, level1_group, active FROM codes`)
	if err != nil {
		return nil, fmt.Errorf("list codes: %w", err)
	}
	defer rows.Close()
	var out []domain.Code
	for rows.Next() {
		var c domain.Code
		if err := rows.Scan(&c.Code, &c.Description, &c.TariffValue, &c.Leaf, &c.TopLevel, &c.Level1Group, &c.Active); err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (g *Gateway) GetContexts(ctx context.Context) ([]domain.Context, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT code, description FROM contexts`)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()
	var out []domain.Context
	for rows.Next() {
		var c domain.Context
		if err := rows.Scan(&c.Code, &c.Description); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (g *Gateway) GetEstablishments(ctx context.Context) ([]domain.Establishment, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT numero, nom, ep33 FROM establishments`)
	if err != nil {
		return nil, fmt.Errorf("list establishments: %w", err)
	}
	defer rows.Close()
	var out []domain.Establishment
	for rows.Next() {
		var e domain.Establishment
		if err := rows.Scan(&e.Numero, &e.Nom, &e.EP33); err != nil {
			return nil, fmt.Errorf("scan establishment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (g *Gateway) GetRules(ctx context.Context) ([]domain.Rule, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT id, name, rule_type, condition, threshold, enabled FROM rules WHERE enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	var out []domain.Rule
	for rows.Next() {
		var r domain.Rule
		var threshold sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.Name, &r.RuleType, &r.Condition, &threshold, &r.Enabled); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if threshold.Valid {
			r.Threshold = &threshold.Float64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertCode writes c and invalidates the codes cache key.
func (g *Gateway) UpsertCode(ctx context.Context, c domain.Code) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO codes (code, description, tariff_value, leaf, top_level, level1_group, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description, tariff_value = EXCLUDED.tariff_value,
			leaf = EXCLUDED.leaf, top_level = EXCLUDED.top_level,
			level1_group = EXCLUDED.level1_group, active = EXCLUDED.active
	`, c.Code, c.Description, c.TariffValue, c.Leaf, c.TopLevel, c.Level1Group, c.Active)
	if err != nil {
		return fmt.Errorf("upsert code %s: %w", c.Code, err)
	}
	return g.cache.Invalidate(ctx, cache.KeyCodes)
}

// UpsertEstablishment writes e and invalidates the establishments cache key.
func (g *Gateway) UpsertEstablishment(ctx context.Context, e domain.Establishment) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO establishments (numero, nom, ep33)
		VALUES ($1, $2, $3)
		ON CONFLICT (numero) DO UPDATE SET nom = EXCLUDED.nom, ep33 = EXCLUDED.ep33
	`, e.Numero, e.Nom, e.EP33)
	if err != nil {
		return fmt.Errorf("upsert establishment %s: %w", e.Numero, err)
	}
	return g.cache.Invalidate(ctx, cache.KeyEstablishments)
}

// UpsertRule writes r and invalidates the rules cache key.
func (g *Gateway) UpsertRule(ctx context.Context, r domain.Rule) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO rules (id, name, rule_type, condition, threshold, enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, rule_type = EXCLUDED.rule_type, condition = EXCLUDED.condition,
			threshold = EXCLUDED.threshold, enabled = EXCLUDED.enabled
	`, r.ID, r.Name, r.RuleType, r.Condition, r.Threshold, r.Enabled)
	if err != nil {
		return fmt.Errorf("upsert rule %s: %w", r.ID, err)
	}
	return g.cache.Invalidate(ctx, cache.KeyRules)
}

// DeleteRule removes a data-driven rule and invalidates the rules cache key.
func (g *Gateway) DeleteRule(ctx context.Context, id string) error {
	if _, err := g.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	return g.cache.Invalidate(ctx, cache.KeyRules)
}

// --- Logs & audit -----------------------------------------------------------

func (g *Gateway) CreateValidationLog(ctx context.Context, entry domain.ValidationLog) error {
	return g.CreateValidationLogsBatch(ctx, []domain.ValidationLog{entry})
}

func (g *Gateway) CreateValidationLogsBatch(ctx context.Context, entries []domain.ValidationLog) error {
	for start := 0; start < len(entries); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(entries) {
			end = len(entries)
		}
		if err := g.insertValidationLogChunk(ctx, entries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) insertValidationLogChunk(ctx context.Context, chunk []domain.ValidationLog) error {
	const cols = 5
	var sb strings.Builder
	sb.WriteString(`INSERT INTO validation_logs (validation_run_id, level, source, message, metadata) VALUES `)
	args := make([]interface{}, 0, len(chunk)*cols)
	for i, e := range chunk {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * cols
		sb.WriteString("(")
		for c := 0; c < cols; c++ {
			if c > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, "$%d", base+c+1)
		}
		sb.WriteString(")")

		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal log metadata: %w", err)
		}
		args = append(args, e.ValidationRunID, e.Level, e.Source, e.Message, metadata)
	}
	if _, err := g.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert validation logs batch: %w", err)
	}
	return nil
}

func (g *Gateway) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, email, endpoint, run_id, record_count)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.UserID, entry.Email, entry.Endpoint, entry.RunID, entry.RecordCount)
	if err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// --- UploadedFile ------------------------------------------------------------

func (g *Gateway) CreateUploadedFile(ctx context.Context, f domain.UploadedFile) (domain.UploadedFile, error) {
	if f.StoredName == "" {
		f.StoredName = uuid.NewString() + path.Ext(f.OriginalName)
	}
	row := g.db.QueryRowContext(ctx, `
		INSERT INTO uploaded_files (original_name, stored_name, byte_size, mime_type, uploaded_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, f.OriginalName, f.StoredName, f.ByteSize, f.MIMEType, f.UploadedBy)
	if err := row.Scan(&f.ID, &f.CreatedAt); err != nil {
		return domain.UploadedFile{}, fmt.Errorf("create uploaded file: %w", err)
	}
	return f, nil
}

func (g *Gateway) GetUploadedFile(ctx context.Context, id string) (domain.UploadedFile, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, original_name, stored_name, byte_size, mime_type, uploaded_by, blob_deleted_at, created_at
		FROM uploaded_files WHERE id = $1
	`, id)
	var f domain.UploadedFile
	var blobDeletedAt sql.NullTime
	if err := row.Scan(&f.ID, &f.OriginalName, &f.StoredName, &f.ByteSize, &f.MIMEType, &f.UploadedBy, &blobDeletedAt, &f.CreatedAt); err != nil {
		return domain.UploadedFile{}, fmt.Errorf("get uploaded file %s: %w", id, err)
	}
	if blobDeletedAt.Valid {
		f.BlobDeletedAt = &blobDeletedAt.Time
	}
	return f, nil
}

// MarkBlobDeleted records that the uploaded blob for fileID was deleted,
// while keeping the metadata row.
func (g *Gateway) MarkBlobDeleted(ctx context.Context, fileID string, at time.Time) error {
	_, err := g.db.ExecContext(ctx, `UPDATE uploaded_files SET blob_deleted_at = $2 WHERE id = $1`, fileID, at)
	if err != nil {
		return fmt.Errorf("mark blob deleted for file %s: %w", fileID, err)
	}
	return nil
}
