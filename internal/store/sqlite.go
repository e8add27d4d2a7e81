package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/weaver/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// One connection: an in-memory database lives per connection, and a
	// single writer makes the read-modify-write of job status atomic.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// timeLayout keeps a fixed number of fractional digits so that stored
// timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}

// marshalJSON encodes the JSON columns of a row, stopping at the first error.
func marshalJSON(fields map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for name, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", name, err)
		}
		out[name] = string(data)
	}
	return out, nil
}

// --- Process CRUD ---

const processColumns = `id, type, title, abstract, version, keywords, package, payload, inputs, outputs,
	visibility, process_url, additional_parameters, created_at`

func (s *SQLiteStore) CreateProcess(ctx context.Context, p *model.Process) error {
	s.logger.Debug("sql", "op", "insert", "table", "processes", "id", p.ID)

	cols, err := marshalJSON(map[string]any{
		"keywords":              p.Keywords,
		"package":               p.Package,
		"payload":               p.Payload,
		"inputs":                p.Inputs,
		"outputs":               p.Outputs,
		"additional_parameters": p.AdditionalParameters,
	})
	if err != nil {
		return err
	}
	if p.Visibility == "" {
		p.Visibility = model.VisibilityPublic
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO processes (`+processColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Type), p.Title, p.Abstract, p.Version,
		cols["keywords"], cols["package"], cols["payload"], cols["inputs"], cols["outputs"],
		string(p.Visibility), p.ProcessURL, cols["additional_parameters"], formatTime(p.CreatedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return model.NewConflictError(fmt.Sprintf("process '%s' already exists", p.ID))
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcess(row rowScanner) (*model.Process, error) {
	var p model.Process
	var ptype, visibility, createdAt string
	var keywords, pkg, payload, inputs, outputs, params string

	if err := row.Scan(&p.ID, &ptype, &p.Title, &p.Abstract, &p.Version,
		&keywords, &pkg, &payload, &inputs, &outputs,
		&visibility, &p.ProcessURL, &params, &createdAt); err != nil {
		return nil, err
	}
	p.Type = model.ProcessType(ptype)
	p.Visibility = model.Visibility(visibility)
	for _, col := range []struct {
		name string
		raw  string
		dst  any
	}{
		{"keywords", keywords, &p.Keywords},
		{"package", pkg, &p.Package},
		{"payload", payload, &p.Payload},
		{"inputs", inputs, &p.Inputs},
		{"outputs", outputs, &p.Outputs},
		{"additional_parameters", params, &p.AdditionalParameters},
	} {
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return nil, fmt.Errorf("process %s: unmarshal %s: %w", p.ID, col.name, err)
		}
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &p, nil
}

func (s *SQLiteStore) GetProcess(ctx context.Context, id string) (*model.Process, error) {
	s.logger.Debug("sql", "op", "select", "table", "processes", "id", id)

	p, err := scanProcess(s.db.QueryRowContext(ctx,
		`SELECT `+processColumns+` FROM processes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrProcessNotFound, id)
	}
	return p, err
}

func (s *SQLiteStore) ListProcesses(ctx context.Context, opts model.ListOptions) ([]*model.Process, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "processes", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	whereSQL := ""
	var args []any
	if opts.Visibility != "" {
		whereSQL = " WHERE visibility = ?"
		args = append(args, opts.Visibility)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processes`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+processColumns+` FROM processes`+whereSQL+` ORDER BY id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var processes []*model.Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, 0, err
		}
		processes = append(processes, p)
	}
	return processes, total, rows.Err()
}

func (s *SQLiteStore) DeleteProcess(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "delete", "table", "processes", "id", id)

	result, err := s.db.ExecContext(ctx, `DELETE FROM processes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrProcessNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) SetProcessVisibility(ctx context.Context, id string, visibility model.Visibility) error {
	s.logger.Debug("sql", "op", "update", "table", "processes", "id", id, "visibility", visibility)

	result, err := s.db.ExecContext(ctx, `UPDATE processes SET visibility = ? WHERE id = ?`, string(visibility), id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrProcessNotFound, id)
	}
	return nil
}

// --- Job operations ---

const jobColumns = `id, process_id, parent_id, status, message, progress, inputs, outputs, results,
	mode, service, remote_location, created_at, started_at, finished_at`

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	s.logger.Debug("sql", "op", "insert", "table", "jobs", "id", job.ID)

	cols, err := marshalJSON(map[string]any{
		"inputs":  job.Inputs,
		"outputs": job.Outputs,
		"results": job.Results,
	})
	if err != nil {
		return err
	}
	if job.Status == "" {
		job.Status = model.StatusAccepted
	}
	if job.ExecutionMode == "" {
		job.ExecutionMode = model.ExecutionModeAsync
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ProcessID, job.ParentID, string(job.Status), job.StatusMessage, job.Progress,
		cols["inputs"], cols["outputs"], cols["results"],
		string(job.ExecutionMode), job.Service, job.RemoteLocation,
		formatTime(job.CreatedAt), formatTimePtr(job.StartedAt), formatTimePtr(job.FinishedAt),
		formatTime(job.CreatedAt),
	)
	if err != nil {
		return err
	}
	for _, line := range job.Logs {
		if err := s.AppendLog(ctx, job.ID, line); err != nil {
			return err
		}
	}
	return nil
}

func scanJob(row rowScanner) (*model.Job, error) {
	var job model.Job
	var status, mode, createdAt string
	var inputs, outputs, results string
	var startedAt, finishedAt *string

	if err := row.Scan(&job.ID, &job.ProcessID, &job.ParentID, &status, &job.StatusMessage, &job.Progress,
		&inputs, &outputs, &results,
		&mode, &job.Service, &job.RemoteLocation, &createdAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	job.Status = model.Status(status)
	job.ExecutionMode = model.ExecutionMode(mode)
	for _, col := range []struct {
		name string
		raw  string
		dst  *map[string]any
	}{
		{"inputs", inputs, &job.Inputs},
		{"outputs", outputs, &job.Outputs},
		{"results", results, &job.Results},
	} {
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return nil, fmt.Errorf("job %s: unmarshal %s: %w", job.ID, col.name, err)
		}
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	job.StartedAt = parseTimePtr(startedAt)
	job.FinishedAt = parseTimePtr(finishedAt)
	return &job, nil
}

// GetJob returns the job with its log lines.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	s.logger.Debug("sql", "op", "select", "table", "jobs", "id", id)

	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT line FROM job_logs WHERE job_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("load logs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		job.Logs = append(job.Logs, line)
	}
	return job, rows.Err()
}

// ListJobs returns jobs newest first, without their log lines.
func (s *SQLiteStore) ListJobs(ctx context.Context, opts model.ListOptions) ([]*model.Job, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "jobs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var whereClauses []string
	var args []any
	if opts.Status != "" {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.ProcessID != "" {
		whereClauses = append(whereClauses, "process_id = ?")
		args = append(args, opts.ProcessID)
	}
	if opts.ParentID != "" {
		whereClauses = append(whereClauses, "parent_id = ?")
		args = append(args, opts.ParentID)
	} else if opts.RootOnly {
		whereClauses = append(whereClauses, "parent_id = ''")
	}
	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs`+whereSQL+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.Job) error {
	s.logger.Debug("sql", "op", "update", "table", "jobs", "id", job.ID)

	cols, err := marshalJSON(map[string]any{
		"inputs":  job.Inputs,
		"outputs": job.Outputs,
		"results": job.Results,
	})
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET inputs=?, outputs=?, results=?, service=?, remote_location=?, updated_at=?
		 WHERE id=?`,
		cols["inputs"], cols["outputs"], cols["results"], job.Service, job.RemoteLocation,
		formatTime(time.Now()), job.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrJobNotFound, job.ID)
	}
	return nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status model.Status, progress int, message string) error {
	s.logger.Debug("sql", "op", "update_status", "table", "jobs", "id", id, "status", status, "progress", progress)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	var currentProgress int
	err = tx.QueryRowContext(ctx, `SELECT status, progress FROM jobs WHERE id = ?`, id).Scan(&current, &currentProgress)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", model.ErrJobNotFound, id)
	}
	if err != nil {
		return err
	}

	from := model.Status(current)
	if from != status && !from.CanTransitionTo(status) {
		return &model.InvalidTransitionError{Entity: "job", ID: id, From: current, To: string(status)}
	}
	if from == status && from.IsTerminal() {
		return &model.InvalidTransitionError{Entity: "job", ID: id, From: current, To: string(status)}
	}
	progress = max(progress, currentProgress)
	now := formatTime(time.Now())

	var startedAt, finishedAt *string
	if status == model.StatusRunning {
		startedAt = &now
	}
	if status.IsTerminal() {
		finishedAt = &now
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status=?, progress=?, message=?, updated_at=?,
		 started_at=COALESCE(started_at, ?), finished_at=COALESCE(finished_at, ?)
		 WHERE id=?`,
		string(status), progress, message, now, startedAt, finishedAt, id,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendLog(ctx context.Context, id string, line string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_logs (job_id, line, created_at) VALUES (?, ?, ?)`,
		id, line, formatTime(time.Now()),
	)
	return err
}

func (s *SQLiteStore) ClaimJob(ctx context.Context) (*model.Job, error) {
	now := formatTime(time.Now())
	var id string
	err := s.db.QueryRowContext(ctx,
		`UPDATE jobs SET status='running', started_at=COALESCE(started_at, ?), updated_at=?
		 WHERE id = (SELECT id FROM jobs WHERE status='accepted' AND mode='async' AND parent_id=''
		             ORDER BY created_at, id LIMIT 1)
		 RETURNING id`,
		now, now,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	s.logger.Debug("sql", "op", "claim", "table", "jobs", "id", id)
	return s.GetJob(ctx, id)
}
