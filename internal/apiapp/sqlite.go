package apiapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/phillip-england/fieldsuite/internal/evidence"
)

// sqliteStore drives the sqlite3 command line tool. Parameters are bound by
// literal substitution with quoting.
type sqliteStore struct {
	dbPath string
}

func (s *sqliteStore) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS evidence_types (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS evidence (
			id TEXT PRIMARY KEY,
			report_id INTEGER NOT NULL,
			evidence_type_id INTEGER NOT NULL,
			file_name TEXT NOT NULL,
			file_mime TEXT NOT NULL,
			file_size INTEGER NOT NULL,
			file_data TEXT NOT NULL,
			signer_name TEXT NOT NULL DEFAULT '',
			device_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			FOREIGN KEY(evidence_type_id) REFERENCES evidence_types(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_evidence_report ON evidence(report_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			report_id INTEGER NOT NULL,
			description TEXT NOT NULL,
			amount_cents INTEGER NOT NULL,
			spent_on TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_report ON expenses(report_id);`,
	}
	for _, t := range evidence.Types {
		statements = append(statements, bindSQLParams(
			`INSERT OR IGNORE INTO evidence_types (id, name) VALUES (@id, @name);`,
			map[string]string{"id": strconv.FormatInt(t.ID, 10), "name": t.Name},
		))
	}
	for _, stmt := range statements {
		if _, err := s.exec(ctx, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) createEvidence(ctx context.Context, rec evidence.Record, data []byte) error {
	_, err := s.exec(ctx, `
		INSERT INTO evidence (
			id, report_id, evidence_type_id, file_name, file_mime, file_size, file_data, signer_name, device_id, created_at
		)
		VALUES (
			@id, @report_id, @evidence_type_id, @file_name, @file_mime, @file_size, @file_data, @signer_name, @device_id, @created_at
		);
	`, map[string]string{
		"id":               rec.ID,
		"report_id":        strconv.FormatInt(rec.ReportID, 10),
		"evidence_type_id": strconv.FormatInt(rec.EvidenceTypeID, 10),
		"file_name":        rec.FileName,
		"file_mime":        rec.MimeType,
		"file_size":        strconv.FormatInt(rec.SizeBytes, 10),
		"file_data":        base64.StdEncoding.EncodeToString(data),
		"signer_name":      rec.SignerName,
		"device_id":        rec.DeviceID,
		"created_at":       strconv.FormatInt(rec.CreatedAt.Unix(), 10),
	})
	return err
}

const evidenceColumns = `id, report_id, evidence_type_id, file_name, file_mime, file_size, signer_name, device_id, created_at`

func (s *sqliteStore) listEvidence(ctx context.Context, reportID int64) ([]evidence.Record, error) {
	rows, err := s.query(ctx, `
		SELECT `+evidenceColumns+`
		FROM evidence
		WHERE report_id = @report_id
		ORDER BY created_at ASC, id ASC;
	`, map[string]string{"report_id": strconv.FormatInt(reportID, 10)})
	if err != nil {
		return nil, err
	}
	out := make([]evidence.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := evidenceFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *sqliteStore) getEvidence(ctx context.Context, id string) (*evidence.Record, error) {
	rows, err := s.query(ctx, `
		SELECT `+evidenceColumns+`
		FROM evidence
		WHERE id = @id
		LIMIT 1;
	`, map[string]string{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errNotFound
	}
	rec, err := evidenceFromRow(rows[0])
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *sqliteStore) getEvidenceFile(ctx context.Context, id string) ([]byte, error) {
	rows, err := s.query(ctx, `SELECT file_data FROM evidence WHERE id = @id LIMIT 1;`, map[string]string{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errNotFound
	}
	encoded, err := columnString(rows[0], "file_data")
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func (s *sqliteStore) deleteEvidence(ctx context.Context, id string) error {
	rows, err := s.query(ctx, `DELETE FROM evidence WHERE id = @id RETURNING id;`, map[string]string{"id": id})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errNotFound
	}
	return nil
}

func (s *sqliteStore) addExpenses(ctx context.Context, reportID int64, rows []expense) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	var b strings.Builder
	b.WriteString("BEGIN;\n")
	for _, row := range rows {
		b.WriteString(bindSQLParams(`
			INSERT INTO expenses (report_id, description, amount_cents, spent_on, created_at)
			VALUES (@report_id, @description, @amount_cents, @spent_on, @created_at);
		`, map[string]string{
			"report_id":    strconv.FormatInt(reportID, 10),
			"description":  row.Description,
			"amount_cents": strconv.FormatInt(row.AmountCents, 10),
			"spent_on":     row.SpentOn,
			"created_at":   now,
		}))
	}
	b.WriteString("COMMIT;")
	if _, err := s.exec(ctx, b.String(), nil); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *sqliteStore) listExpenses(ctx context.Context, reportID int64) ([]expense, error) {
	rows, err := s.query(ctx, `
		SELECT id, report_id, description, amount_cents, spent_on, created_at
		FROM expenses
		WHERE report_id = @report_id
		ORDER BY id ASC;
	`, map[string]string{"report_id": strconv.FormatInt(reportID, 10)})
	if err != nil {
		return nil, err
	}
	out := make([]expense, 0, len(rows))
	for _, row := range rows {
		var e expense
		if e.ID, err = columnInt64(row, "id"); err != nil {
			return nil, err
		}
		if e.ReportID, err = columnInt64(row, "report_id"); err != nil {
			return nil, err
		}
		if e.Description, err = columnString(row, "description"); err != nil {
			return nil, err
		}
		if e.AmountCents, err = columnInt64(row, "amount_cents"); err != nil {
			return nil, err
		}
		if e.SpentOn, err = columnString(row, "spent_on"); err != nil {
			return nil, err
		}
		created, err := columnInt64(row, "created_at")
		if err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, e)
	}
	return out, nil
}

func evidenceFromRow(row map[string]any) (evidence.Record, error) {
	var rec evidence.Record
	var err error
	if rec.ID, err = columnString(row, "id"); err != nil {
		return rec, err
	}
	if rec.ReportID, err = columnInt64(row, "report_id"); err != nil {
		return rec, err
	}
	if rec.EvidenceTypeID, err = columnInt64(row, "evidence_type_id"); err != nil {
		return rec, err
	}
	if rec.FileName, err = columnString(row, "file_name"); err != nil {
		return rec, err
	}
	if rec.MimeType, err = columnString(row, "file_mime"); err != nil {
		return rec, err
	}
	if rec.SizeBytes, err = columnInt64(row, "file_size"); err != nil {
		return rec, err
	}
	rec.SignerName, _ = columnString(row, "signer_name")
	rec.DeviceID, _ = columnString(row, "device_id")
	created, err := columnInt64(row, "created_at")
	if err != nil {
		return rec, err
	}
	rec.CreatedAt = time.Unix(created, 0).UTC()
	return rec, nil
}

func (s *sqliteStore) exec(ctx context.Context, statement string, params map[string]string) (string, error) {
	var out string
	err := withSQLiteRetry(ctx, func() error {
		var err error
		out, err = s.run(ctx, statement, params, false)
		return err
	})
	return out, err
}

func (s *sqliteStore) query(ctx context.Context, statement string, params map[string]string) ([]map[string]any, error) {
	var out string
	if err := withSQLiteRetry(ctx, func() error {
		var err error
		out, err = s.run(ctx, statement, params, true)
		return err
	}); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return []map[string]any{}, nil
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode sqlite3 output: %w", err)
	}
	return rows, nil
}

// run feeds one script to sqlite3 on stdin. File payloads are bound into the
// statement as base64 literals and would not fit in a single argv entry.
func (s *sqliteStore) run(ctx context.Context, statement string, params map[string]string, jsonMode bool) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	var script strings.Builder
	script.WriteString(".bail on\n.timeout 5000\n")
	if jsonMode {
		script.WriteString(".mode json\n")
	}
	script.WriteString("PRAGMA foreign_keys = ON;\n")
	script.WriteString(strings.TrimRight(strings.TrimSpace(bindSQLParams(statement, params)), ";"))
	script.WriteString(";\n")

	cmd := exec.CommandContext(runCtx, "sqlite3", "-batch", s.dbPath)
	cmd.Stdin = strings.NewReader(script.String())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("sqlite3 command failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// bindSQLParams replaces @name placeholders with quoted literals in a single
// pass, so bound values are never scanned for placeholders themselves.
// Unknown names are left as written.
func bindSQLParams(statement string, params map[string]string) string {
	if len(params) == 0 {
		return statement
	}
	var b strings.Builder
	b.Grow(len(statement))
	for i := 0; i < len(statement); {
		if statement[i] != '@' {
			b.WriteByte(statement[i])
			i++
			continue
		}
		j := i + 1
		for j < len(statement) && isParamNameByte(statement[j]) {
			j++
		}
		if value, ok := params[statement[i+1:j]]; ok {
			b.WriteString(sqliteStringLiteral(value))
		} else {
			b.WriteString(statement[i:j])
		}
		i = j
	}
	return b.String()
}

func isParamNameByte(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func isSQLiteBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database is busy")
}

// withSQLiteRetry retries fn up to three times while the database is locked.
func withSQLiteRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !isSQLiteBusy(err) || attempt == 3 {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * 125 * time.Millisecond):
		}
	}
}

func columnString(row map[string]any, column string) (string, error) {
	switch v := row[column].(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("column %s: unexpected %T", column, v)
	}
}

func columnInt64(row map[string]any, column string) (int64, error) {
	var raw string
	switch v := row[column].(type) {
	case json.Number:
		raw = v.String()
	case string:
		raw = v
	default:
		return 0, fmt.Errorf("column %s: unexpected %T", column, v)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", column, err)
	}
	return n, nil
}

func sqliteStringLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
