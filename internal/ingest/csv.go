// Package ingest implements billing-export CSV ingestion: encoding and
// delimiter detection, header normalization against a French/English
// synonym table, Quebec-locale value parsing, and streaming row emission
// with a bounded-progress callback.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

// ParseError records one row that failed to canonicalize. Ingestion
// collects these rather than aborting the whole file.
type ParseError struct {
	Row    int
	Reason string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// ProgressFunc reports ingestion progress in [0,50]. Implementations must
// not block; a bounded, latest-wins channel is sufficient.
type ProgressFunc func(percent int)

// progressReportInterval is the row count between progress callback
// invocations.
const progressReportInterval = 100

// Result is the output of IngestFile.
type Result struct {
	Records     []domain.BillingRecord
	ParseErrors []ParseError
	Encoding    Encoding
	Delimiter   Delimiter
}

// IngestFile parses path into canonical BillingRecord values for runID,
// invoking progress with a value in [0,50]. Returns a fatal error only on
// unrecoverable structural problems (cannot open, no header, undetectable
// encoding); per-row problems are instead collected into Result.ParseErrors.
func IngestFile(path string, runID string, progress ProgressFunc) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("cannot open file: %w", err)
	}
	defer f.Close()

	totalRows, err := countDataRows(path)
	if err != nil {
		return Result{}, fmt.Errorf("cannot scan file: %w", err)
	}

	probe := make([]byte, 8192)
	n, _ := f.Read(probe)
	probe = probe[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("cannot rewind file: %w", err)
	}

	enc := DetectEncoding(probe)

	raw, err := io.ReadAll(f)
	if err != nil {
		return Result{}, fmt.Errorf("cannot read file: %w", err)
	}
	utf8Bytes, err := TranscodeToUTF8(raw, enc)
	if err != nil {
		return Result{}, fmt.Errorf("cannot decode file as %s: %w", enc, err)
	}

	lines := splitLines(utf8Bytes, 4)
	if len(lines) == 0 {
		return Result{}, fmt.Errorf("file has no header row")
	}
	delim := DetectDelimiter(lines)

	reader := csv.NewReader(bytes.NewReader(utf8Bytes))
	reader.Comma = rune(delim)
	reader.FieldsPerRecord = -1 // tolerate ragged rows; reported as parse errors
	reader.LazyQuotes = true

	headerRow, err := reader.Read()
	if err != nil {
		return Result{}, fmt.Errorf("cannot read header row: %w", err)
	}
	columnIndex, unknownHeaders := ResolveHeaders(headerRow)
	if len(columnIndex) == 0 {
		return Result{}, fmt.Errorf("no recognized columns in header")
	}

	result := Result{Encoding: enc, Delimiter: delim}
	rowNum := 1
	processed := 0

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			result.ParseErrors = append(result.ParseErrors, ParseError{Row: rowNum, Reason: err.Error()})
			continue
		}

		rec, parseErr := canonicalizeRow(row, columnIndex, unknownHeaders, runID, rowNum)
		if parseErr != nil {
			result.ParseErrors = append(result.ParseErrors, *parseErr)
			continue
		}
		result.Records = append(result.Records, rec)

		processed++
		if processed%progressReportInterval == 0 && progress != nil {
			reportProgress(progress, processed, totalRows)
		}
	}

	if progress != nil {
		reportProgress(progress, processed, totalRows)
	}

	return result, nil
}

func reportProgress(progress ProgressFunc, processed, total int) {
	if total <= 0 {
		progress(50)
		return
	}
	pct := (processed * 50) / total
	if pct > 50 {
		pct = 50
	}
	progress(pct)
}

func canonicalizeRow(row []string, columnIndex map[Column]int, unknownHeaders map[string]int, runID string, rowNum int) (domain.BillingRecord, *ParseError) {
	get := func(col Column) string {
		idx, ok := columnIndex[col]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	rec := domain.BillingRecord{
		ValidationRunID: runID,
		Facture:         get(ColFacture),
		IDRamq:          get(ColIDRamq),
		Patient:         get(ColPatient),
		DoctorInfo:      get(ColDoctorInfo),
		LieuPratique:    get(ColLieuPratique),
		SecteurActivite: get(ColSecteurActivite),
		Diagnostic:      get(ColDiagnostic),
		Code:            get(ColCode),
		ElementContexte: get(ColElementContexte),
	}

	if dateRaw := get(ColDateService); dateRaw != "" {
		d, err := ParseDate(dateRaw)
		if err != nil {
			return domain.BillingRecord{}, &ParseError{Row: rowNum, Reason: err.Error()}
		}
		rec.DateService = d
	} else {
		return domain.BillingRecord{}, &ParseError{Row: rowNum, Reason: "missing date de service"}
	}

	debut, err := ParseTimeOfDay(get(ColDebut))
	if err != nil {
		return domain.BillingRecord{}, &ParseError{Row: rowNum, Reason: err.Error()}
	}
	rec.Debut = debut

	fin, err := ParseTimeOfDay(get(ColFin))
	if err != nil {
		return domain.BillingRecord{}, &ParseError{Row: rowNum, Reason: err.Error()}
	}
	rec.Fin = fin

	unites, err := ParseUnites(get(ColUnites))
	if err != nil {
		return domain.BillingRecord{}, &ParseError{Row: rowNum, Reason: err.Error()}
	}
	rec.Unites = unites

	prelim, err := ParseAmount(get(ColMontantPreliminaire))
	if err != nil {
		return domain.BillingRecord{}, &ParseError{Row: rowNum, Reason: err.Error()}
	}
	rec.MontantPreliminaire = prelim

	paye, err := ParseAmount(get(ColMontantPaye))
	if err != nil {
		return domain.BillingRecord{}, &ParseError{Row: rowNum, Reason: err.Error()}
	}
	rec.MontantPaye = paye

	if len(unknownHeaders) > 0 {
		custom := make(map[string]string, len(unknownHeaders))
		for header, idx := range unknownHeaders {
			if idx < len(row) {
				custom[header] = row[idx]
			}
		}
		rec.CustomFields = custom
	}

	return rec, nil
}

// countDataRows does a cheap line-count scan used only to normalize
// progress reporting; it need not be exact.
func countDataRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	count := 0
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if count > 0 {
		count-- // exclude header row
	}
	return count, nil
}

func splitLines(data []byte, max int) []string {
	var lines []string
	for _, line := range bytes.SplitN(data, []byte("\n"), max+1) {
		l := strings.TrimRight(string(line), "\r")
		if l != "" {
			lines = append(lines, l)
		}
		if len(lines) >= max {
			break
		}
	}
	return lines
}
