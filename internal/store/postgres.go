package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/stackconsult/prospectpulse/internal/db"
	"github.com/stackconsult/prospectpulse/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot paths of the job lifecycle.
var preparedStatements = map[string]string{
	"insert_job": `INSERT INTO jobs (id, lead_id, workspace_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_job":    `SELECT id, lead_id, workspace_id, status, reason, attempts, created_at, updated_at FROM jobs WHERE id = $1`,
	"cas_job":    `UPDATE jobs SET status = $1, reason = $2, updated_at = $3 WHERE id = $4 AND status = $5`,
	"get_lead":   `SELECT id, workspace_id, raw_input, mined, validated, synthesized, grade, created_at, updated_at FROM leads WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS workspaces (
	id         TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	openai_key TEXT NOT NULL DEFAULT '',
	gemini_key TEXT NOT NULL DEFAULT '',
	tavily_key TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leads (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	raw_input    JSONB NOT NULL,
	mined        JSONB,
	validated    JSONB,
	synthesized  JSONB,
	grade        TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	lead_id      TEXT NOT NULL REFERENCES leads(id),
	workspace_id TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	reason       TEXT NOT NULL DEFAULT '',
	attempts     INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_lead_workspace ON jobs(lead_id, workspace_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_active_lead ON jobs(lead_id, workspace_id)
	WHERE status NOT IN ('succeeded', 'failed');
CREATE INDEX IF NOT EXISTS idx_leads_workspace ON leads(workspace_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, leadID, workspaceID string) (*model.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin create job")
	}
	defer tx.Rollback(ctx)

	var exists int
	err = tx.QueryRow(ctx,
		`SELECT 1 FROM jobs WHERE lead_id = $1 AND workspace_id = $2 AND status NOT IN ($3, $4) LIMIT 1`,
		leadID, workspaceID, string(model.JobStatusSucceeded), string(model.JobStatusFailed),
	).Scan(&exists)
	if err == nil {
		return nil, eris.Wrapf(ErrDuplicateActiveJob, "lead %s in workspace %s", leadID, workspaceID)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(err, "postgres: check active job")
	}

	job := newJob(leadID, workspaceID)
	_, err = tx.Exec(ctx,
		`INSERT INTO jobs (id, lead_id, workspace_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.LeadID, job.WorkspaceID, string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		// Concurrent creates slip past the pre-check; idx_jobs_active_lead
		// rejects the second insert with a unique violation.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, eris.Wrapf(ErrDuplicateActiveJob, "lead %s in workspace %s", leadID, workspaceID)
		}
		return nil, eris.Wrap(err, "postgres: insert job")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit create job")
	}
	return job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, lead_id, workspace_id, status, reason, attempts, created_at, updated_at FROM jobs WHERE id = $1`,
		jobID,
	)
	return scanPgJob(row, jobID)
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	return s.transition(ctx, jobID, status, "")
}

func (s *PostgresStore) MarkJobFailed(ctx context.Context, jobID, reason string) error {
	return s.transition(ctx, jobID, model.JobStatusFailed, reason)
}

func (s *PostgresStore) transition(ctx context.Context, jobID string, status model.JobStatus, reason string) error {
	if !status.Valid() {
		return eris.Wrapf(ErrInvalidTransition, "unknown status %q", status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin transition")
	}
	defer tx.Rollback(ctx)

	var cur string
	var updatedAt time.Time
	err = tx.QueryRow(ctx, `SELECT status, updated_at FROM jobs WHERE id = $1`, jobID).
		Scan(&cur, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return eris.Wrap(err, "postgres: read job status")
	}

	if !model.CanTransition(model.JobStatus(cur), status) {
		return eris.Wrapf(ErrInvalidTransition, "job %s: %s -> %s", jobID, cur, status)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET status = $1, reason = $2, updated_at = $3 WHERE id = $4 AND status = $5`,
		string(status), reason, bumpClock(updatedAt), jobID, cur,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrInvalidTransition, "job %s: lost race moving to %s", jobID, status)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit transition")
}

func (s *PostgresStore) IncJobAttempts(ctx context.Context, jobID string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx,
		`UPDATE jobs SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`, jobID,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return attempts, eris.Wrapf(err, "postgres: inc attempts %s", jobID)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, lead_id, workspace_id, status, reason, attempts, created_at, updated_at FROM jobs WHERE 1=1`
	var args []any

	if filter.WorkspaceID != "" {
		args = append(args, filter.WorkspaceID)
		query += ` AND workspace_id = $` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows, "")
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) EnsureLead(ctx context.Context, workspaceID string, input model.LeadInput) (*model.Lead, error) {
	id := model.LeadID(input)
	rawJSON, err := json.Marshal(input)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal lead input")
	}
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO leads (id, workspace_id, raw_input, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		id, workspaceID, rawJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: ensure lead")
	}
	return s.GetLead(ctx, id)
}

func (s *PostgresStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, workspace_id, raw_input, mined, validated, synthesized, grade, created_at, updated_at FROM leads WHERE id = $1`,
		leadID,
	)
	return scanPgLead(row, leadID)
}

func (s *PostgresStore) UpsertLeadResult(ctx context.Context, leadID string, stage model.Stage, result any) (bool, error) {
	col, err := stageColumn(stage)
	if err != nil {
		return false, err
	}
	doc, err := json.Marshal(result)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: marshal %s result", stage)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET `+col+` = $1, updated_at = $2 WHERE id = $3 AND `+col+` IS NULL`,
		doc, time.Now().UTC(), leadID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert %s result", stage)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM leads WHERE id = $1`, leadID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, eris.Wrapf(ErrNotFound, "lead %s", leadID)
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: check lead")
	}
	return false, nil
}

func (s *PostgresStore) SetLeadGrade(ctx context.Context, leadID, grade string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET grade = $1, updated_at = $2 WHERE id = $3 AND grade IS NULL AND synthesized IS NOT NULL`,
		grade, time.Now().UTC(), leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set grade %s", leadID)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM leads WHERE id = $1`, leadID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "lead %s", leadID)
	}
	return eris.Wrap(err, "postgres: check lead")
}

func (s *PostgresStore) ListLeads(ctx context.Context, workspaceID string, limit, offset int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, workspace_id, raw_input, mined, validated, synthesized, grade, created_at, updated_at FROM leads`
	var args []any
	if workspaceID != "" {
		args = append(args, workspaceID)
		query += ` WHERE workspace_id = $` + strconv.Itoa(len(args))
	}
	args = append(args, limit, offset)
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanPgLead(rows, "")
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) PutWorkspace(ctx context.Context, ws model.Workspace) error {
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO workspaces (id, provider, openai_key, gemini_key, tavily_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET provider = EXCLUDED.provider,
		   openai_key = EXCLUDED.openai_key, gemini_key = EXCLUDED.gemini_key,
		   tavily_key = EXCLUDED.tavily_key`,
		ws.ID, ws.Provider, ws.OpenAIKey, ws.GeminiKey, ws.TavilyKey, ws.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: put workspace %s", ws.ID)
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, id string) (*model.Workspace, error) {
	var ws model.Workspace
	err := s.pool.QueryRow(ctx,
		`SELECT id, provider, openai_key, gemini_key, tavily_key, created_at FROM workspaces WHERE id = $1`,
		id,
	).Scan(&ws.ID, &ws.Provider, &ws.OpenAIKey, &ws.GeminiKey, &ws.TavilyKey, &ws.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "workspace %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get workspace")
	}
	return &ws, nil
}

func (s *PostgresStore) ListWorkspaces(ctx context.Context) ([]model.Workspace, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, provider, openai_key, gemini_key, tavily_key, created_at FROM workspaces ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list workspaces")
	}
	defer rows.Close()

	var out []model.Workspace
	for rows.Next() {
		var ws model.Workspace
		if err := rows.Scan(&ws.ID, &ws.Provider, &ws.OpenAIKey, &ws.GeminiKey, &ws.TavilyKey, &ws.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan workspace")
		}
		out = append(out, ws)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list workspaces iterate")
}

// helpers

func scanPgJob(row scannable, jobID string) (*model.Job, error) {
	var j model.Job
	var status string
	err := row.Scan(&j.ID, &j.LeadID, &j.WorkspaceID, &status, &j.Reason, &j.Attempts, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}
	j.Status = model.JobStatus(status)
	return &j, nil
}

func scanPgLead(row scannable, leadID string) (*model.Lead, error) {
	var l model.Lead
	var rawJSON []byte
	var mined, validated, synthesized []byte
	var grade *string

	err := row.Scan(&l.ID, &l.WorkspaceID, &rawJSON, &mined, &validated, &synthesized, &grade, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", leadID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan lead")
	}
	if err := json.Unmarshal(rawJSON, &l.RawInput); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal lead input")
	}
	l.Mined = mined
	l.Validated = validated
	l.Synthesized = synthesized
	if grade != nil {
		l.Grade = *grade
	}
	return &l, nil
}
