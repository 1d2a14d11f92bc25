package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/canvass-ai/canvass/pkg/models"
)

// Recorder writes and queries lineage records in a dedicated SQLite
// database. The log is append-only and chronologically ordered: records
// are never updated or deleted, and it is the sole source of truth for
// what produced what.
type Recorder struct {
	db *sql.DB
}

// New opens the audit database and creates the schema.
func New(dbPath string) (*Recorder, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	return &Recorder{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_records (
		record_id  TEXT PRIMARY KEY,
		run_id     TEXT NOT NULL,
		stage      TEXT NOT NULL,
		input_ids  TEXT NOT NULL,
		output_id  TEXT NOT NULL,
		status     TEXT NOT NULL,
		detail     TEXT,
		created_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_output ON audit_records(output_id)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_records(run_id)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_stage ON audit_records(stage)`)
	return err
}

// Record appends one audit record. A nil error is the only acceptable
// outcome for the caller to continue: traceability is a correctness
// requirement, so a stage that cannot persist its record must abort.
func (r *Recorder) Record(ctx context.Context, rec models.AuditRecord) (string, error) {
	if rec.RecordID == "" {
		rec.RecordID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	inputs, err := json.Marshal(rec.InputIDs)
	if err != nil {
		return "", fmt.Errorf("marshal input ids: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_records
		(record_id, run_id, stage, input_ids, output_id, status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RecordID, rec.RunID, string(rec.Stage), string(inputs),
		rec.OutputID, string(rec.Status), rec.Detail, rec.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("record audit: %w", err)
	}
	return rec.RecordID, nil
}

// Query returns audit records matching the given options, oldest first.
func (r *Recorder) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditRecord, error) {
	q := `SELECT record_id, run_id, stage, input_ids, output_id, status, detail, created_at
		FROM audit_records WHERE 1=1`
	var args []any

	if opts.RunID != "" {
		q += " AND run_id = ?"
		args = append(args, opts.RunID)
	}
	if opts.Stage != "" {
		q += " AND stage = ?"
		args = append(args, string(opts.Stage))
	}
	if opts.Status != "" {
		q += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.OutputID != "" {
		q += " AND output_id = ?"
		args = append(args, opts.OutputID)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}

	q += " ORDER BY created_at ASC, record_id ASC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var recs []models.AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanRecord(rows *sql.Rows) (models.AuditRecord, error) {
	var rec models.AuditRecord
	var stage, status, inputs string
	var detail sql.NullString
	if err := rows.Scan(
		&rec.RecordID, &rec.RunID, &stage, &inputs,
		&rec.OutputID, &status, &detail, &rec.CreatedAt,
	); err != nil {
		return rec, fmt.Errorf("scan audit row: %w", err)
	}
	rec.Stage = models.Stage(stage)
	rec.Status = models.AuditStatus(status)
	rec.Detail = detail.String
	if err := json.Unmarshal([]byte(inputs), &rec.InputIDs); err != nil {
		return rec, fmt.Errorf("decode input ids: %w", err)
	}
	return rec, nil
}

// Lineage is the traceable chain from one derived record back to the
// raw inputs that produced it.
type Lineage struct {
	Records []models.AuditRecord `json:"records"`
	RawIDs  []string             `json:"raw_ids"`
}

// Trace walks the audit log backwards from outputID, collecting every
// record on the path. Ids that no record claims as an output are raw
// input ids: the roots of the chain.
func (r *Recorder) Trace(ctx context.Context, outputID string) (*Lineage, error) {
	lin := &Lineage{}
	seen := map[string]bool{}
	queue := []string{outputID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		recs, err := r.Query(ctx, models.AuditQueryOpts{OutputID: id})
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			if id != outputID {
				lin.RawIDs = append(lin.RawIDs, id)
			}
			continue
		}
		for _, rec := range recs {
			lin.Records = append(lin.Records, rec)
			queue = append(queue, rec.InputIDs...)
		}
	}

	if len(lin.Records) == 0 {
		return nil, fmt.Errorf("no audit records for output %s", outputID)
	}
	return lin, nil
}

// Summary returns per-stage outcome counts for a run.
func (r *Recorder) Summary(ctx context.Context, runID string) ([]models.StageSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT stage, status, count(*) FROM audit_records
		 WHERE run_id = ? GROUP BY stage, status ORDER BY stage, status`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit summary: %w", err)
	}
	defer rows.Close()

	byStage := map[models.Stage]*models.StageSummary{}
	var order []models.Stage
	for rows.Next() {
		var stage, status string
		var count int
		if err := rows.Scan(&stage, &status, &count); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		s := models.Stage(stage)
		sum, ok := byStage[s]
		if !ok {
			sum = &models.StageSummary{Stage: s}
			byStage[s] = sum
			order = append(order, s)
		}
		switch models.AuditStatus(status) {
		case models.AuditSuccess:
			sum.Processed += count
		case models.AuditCached:
			sum.Cached += count
		case models.AuditSkipped:
			sum.Skipped += count
		case models.AuditFailure:
			sum.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.StageSummary, 0, len(order))
	for _, s := range order {
		out = append(out, *byStage[s])
	}
	return out, nil
}

// Close closes the database.
func (r *Recorder) Close() error {
	return r.db.Close()
}
