package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/stackconsult/prospectpulse/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS workspaces (
	id         TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	openai_key TEXT NOT NULL DEFAULT '',
	gemini_key TEXT NOT NULL DEFAULT '',
	tavily_key TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS leads (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	raw_input    TEXT NOT NULL,
	mined        TEXT,
	validated    TEXT,
	synthesized  TEXT,
	grade        TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	lead_id      TEXT NOT NULL REFERENCES leads(id),
	workspace_id TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	reason       TEXT NOT NULL DEFAULT '',
	attempts     INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_lead_workspace ON jobs(lead_id, workspace_id);
CREATE INDEX IF NOT EXISTS idx_leads_workspace ON leads(workspace_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, leadID, workspaceID string) (*model.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin create job")
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM jobs WHERE lead_id = ? AND workspace_id = ? AND status NOT IN (?, ?) LIMIT 1`,
		leadID, workspaceID, string(model.JobStatusSucceeded), string(model.JobStatusFailed),
	).Scan(&exists)
	if err == nil {
		return nil, eris.Wrapf(ErrDuplicateActiveJob, "lead %s in workspace %s", leadID, workspaceID)
	}
	if err != sql.ErrNoRows {
		return nil, eris.Wrap(err, "sqlite: check active job")
	}

	job := newJob(leadID, workspaceID)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (id, lead_id, workspace_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.LeadID, job.WorkspaceID, string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit create job")
	}
	return job, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, lead_id, workspace_id, status, reason, attempts, created_at, updated_at FROM jobs WHERE id = ?`,
		jobID,
	)
	return scanJob(row, jobID)
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	return s.transition(ctx, jobID, status, "")
}

func (s *SQLiteStore) MarkJobFailed(ctx context.Context, jobID, reason string) error {
	return s.transition(ctx, jobID, model.JobStatusFailed, reason)
}

// transition performs the compare-and-set status move: read the current
// status, validate the step, and update only while the status is still
// the one observed. A concurrent winner leaves rows=0.
func (s *SQLiteStore) transition(ctx context.Context, jobID string, status model.JobStatus, reason string) error {
	if !status.Valid() {
		return eris.Wrapf(ErrInvalidTransition, "unknown status %q", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin transition")
	}
	defer tx.Rollback()

	var cur string
	var updatedAt time.Time
	err = tx.QueryRowContext(ctx, `SELECT status, updated_at FROM jobs WHERE id = ?`, jobID).
		Scan(&cur, &updatedAt)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: read job status")
	}

	if !model.CanTransition(model.JobStatus(cur), status) {
		return eris.Wrapf(ErrInvalidTransition, "job %s: %s -> %s", jobID, cur, status)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, reason = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(status), reason, bumpClock(updatedAt), jobID, cur,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrInvalidTransition, "job %s: lost race moving to %s", jobID, status)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit transition")
}

func (s *SQLiteStore) IncJobAttempts(ctx context.Context, jobID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET attempts = attempts + 1 WHERE id = ?`, jobID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: inc attempts %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	var attempts int
	err = s.db.QueryRowContext(ctx, `SELECT attempts FROM jobs WHERE id = ?`, jobID).Scan(&attempts)
	return attempts, eris.Wrap(err, "sqlite: read attempts")
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, lead_id, workspace_id, status, reason, attempts, created_at, updated_at FROM jobs WHERE 1=1`
	var args []any

	if filter.WorkspaceID != "" {
		query += ` AND workspace_id = ?`
		args = append(args, filter.WorkspaceID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows, "")
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) EnsureLead(ctx context.Context, workspaceID string, input model.LeadInput) (*model.Lead, error) {
	id := model.LeadID(input)
	rawJSON, err := json.Marshal(input)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal lead input")
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, workspace_id, raw_input, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, workspaceID, string(rawJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: ensure lead")
	}
	return s.GetLead(ctx, id)
}

func (s *SQLiteStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, raw_input, mined, validated, synthesized, grade, created_at, updated_at
		 FROM leads WHERE id = ?`,
		leadID,
	)
	return scanLead(row, leadID)
}

func (s *SQLiteStore) UpsertLeadResult(ctx context.Context, leadID string, stage model.Stage, result any) (bool, error) {
	col, err := stageColumn(stage)
	if err != nil {
		return false, err
	}
	doc, err := json.Marshal(result)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: marshal %s result", stage)
	}

	// Append-only: the write lands only while the column is still NULL.
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET `+col+` = ?, updated_at = ? WHERE id = ? AND `+col+` IS NULL`,
		string(doc), time.Now().UTC(), leadID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: upsert %s result", stage)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM leads WHERE id = ?`, leadID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, eris.Wrapf(ErrNotFound, "lead %s", leadID)
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: check lead")
	}
	return false, nil
}

func (s *SQLiteStore) SetLeadGrade(ctx context.Context, leadID, grade string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET grade = ?, updated_at = ? WHERE id = ? AND grade IS NULL AND synthesized IS NOT NULL`,
		grade, time.Now().UTC(), leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set grade %s", leadID)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM leads WHERE id = ?`, leadID).Scan(&exists)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "lead %s", leadID)
	}
	return eris.Wrap(err, "sqlite: check lead")
}

func (s *SQLiteStore) ListLeads(ctx context.Context, workspaceID string, limit, offset int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, workspace_id, raw_input, mined, validated, synthesized, grade, created_at, updated_at
	          FROM leads`
	var args []any
	if workspaceID != "" {
		query += ` WHERE workspace_id = ?`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows, "")
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) PutWorkspace(ctx context.Context, ws model.Workspace) error {
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, provider, openai_key, gemini_key, tavily_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET provider = excluded.provider,
		   openai_key = excluded.openai_key, gemini_key = excluded.gemini_key,
		   tavily_key = excluded.tavily_key`,
		ws.ID, ws.Provider, ws.OpenAIKey, ws.GeminiKey, ws.TavilyKey, ws.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: put workspace %s", ws.ID)
}

func (s *SQLiteStore) GetWorkspace(ctx context.Context, id string) (*model.Workspace, error) {
	var ws model.Workspace
	err := s.db.QueryRowContext(ctx,
		`SELECT id, provider, openai_key, gemini_key, tavily_key, created_at FROM workspaces WHERE id = ?`,
		id,
	).Scan(&ws.ID, &ws.Provider, &ws.OpenAIKey, &ws.GeminiKey, &ws.TavilyKey, &ws.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "workspace %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get workspace")
	}
	return &ws, nil
}

func (s *SQLiteStore) ListWorkspaces(ctx context.Context) ([]model.Workspace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider, openai_key, gemini_key, tavily_key, created_at FROM workspaces ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list workspaces")
	}
	defer rows.Close()

	var out []model.Workspace
	for rows.Next() {
		var ws model.Workspace
		if err := rows.Scan(&ws.ID, &ws.Provider, &ws.OpenAIKey, &ws.GeminiKey, &ws.TavilyKey, &ws.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan workspace")
		}
		out = append(out, ws)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list workspaces iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable, jobID string) (*model.Job, error) {
	var j model.Job
	var status string
	err := row.Scan(&j.ID, &j.LeadID, &j.WorkspaceID, &status, &j.Reason, &j.Attempts, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan job")
	}
	j.Status = model.JobStatus(status)
	return &j, nil
}

func scanLead(row scannable, leadID string) (*model.Lead, error) {
	var l model.Lead
	var rawJSON string
	var mined, validated, synthesized, grade sql.NullString

	err := row.Scan(&l.ID, &l.WorkspaceID, &rawJSON, &mined, &validated, &synthesized, &grade, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", leadID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan lead")
	}
	if err := json.Unmarshal([]byte(rawJSON), &l.RawInput); err != nil {
		return nil, eris.Wrap(err, "unmarshal lead input")
	}
	if mined.Valid {
		l.Mined = []byte(mined.String)
	}
	if validated.Valid {
		l.Validated = []byte(validated.String)
	}
	if synthesized.Valid {
		l.Synthesized = []byte(synthesized.String)
	}
	if grade.Valid {
		l.Grade = grade.String
	}
	return &l, nil
}
