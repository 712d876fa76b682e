package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"rentline/internal/domain"
)

const defaultMaxAttempts = 5

// Options tune a single enqueue.
type Options struct {
	// Delay is "not before" — the job becomes due no earlier than now+Delay.
	Delay time.Duration
	// DedupeKey suppresses the enqueue when a pending or active job with the
	// same key already exists on the queue.
	DedupeKey   string
	MaxAttempts int
}

// Queue is a durable, delay-capable job queue over the shared SQLite store.
type Queue struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewQueue(db *sql.DB) *Queue {
	return &Queue{DB: db, Now: time.Now}
}

func (q *Queue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

const jobColumns = `id,queue,kind,payload_json,dedupe_key,status,run_at,attempts,max_attempts,last_error,created_at,updated_at`

func scanJob(scan func(dest ...any) error) (domain.Job, error) {
	var j domain.Job
	var dedupe, lastErr sql.NullString
	err := scan(&j.ID, &j.Queue, &j.Kind, &j.PayloadJSON, &dedupe, &j.Status, &j.RunAt, &j.Attempts, &j.MaxAttempts, &lastErr, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, sql.ErrNoRows
	}
	if err != nil {
		return j, err
	}
	if dedupe.Valid {
		j.DedupeKey = dedupe.String
	}
	if lastErr.Valid {
		j.LastError = lastErr.String
	}
	return j, nil
}

// Enqueue adds a job to the named queue. When a dedupe key is given and a
// non-terminal job with that key already exists, the existing job is
// returned unchanged.
func (q *Queue) Enqueue(ctx context.Context, queue, kind string, payload any, opts Options) (domain.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshal job payload: %w", err)
	}
	now := q.now().UTC()
	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	if opts.DedupeKey != "" {
		row := tx.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE queue=? AND dedupe_key=? AND status IN (?,?) LIMIT 1`,
			queue, opts.DedupeKey, domain.JobPending, domain.JobActive)
		existing, err := scanJob(row.Scan)
		if err == nil {
			return existing, nil
		}
		if err != sql.ErrNoRows {
			return domain.Job{}, err
		}
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	nowStr := now.Format(time.RFC3339)
	job := domain.Job{
		ID:          uuid.New().String(),
		Queue:       queue,
		Kind:        kind,
		PayloadJSON: string(data),
		DedupeKey:   opts.DedupeKey,
		Status:      domain.JobPending,
		RunAt:       now.Add(opts.Delay).Format(time.RFC3339),
		MaxAttempts: maxAttempts,
		CreatedAt:   nowStr,
		UpdatedAt:   nowStr,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO jobs(id,queue,kind,payload_json,dedupe_key,status,run_at,attempts,max_attempts,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		job.ID, job.Queue, job.Kind, job.PayloadJSON, nullable(job.DedupeKey), job.Status, job.RunAt, job.Attempts, job.MaxAttempts, job.CreatedAt, job.UpdatedAt); err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// Due returns pending jobs whose run_at has passed, oldest first.
func (q *Queue) Due(ctx context.Context, queue string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.DB.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE queue=? AND status=? AND run_at<=? ORDER BY run_at, created_at LIMIT ?`,
		queue, domain.JobPending, q.now().UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// Claim moves a pending job to active. It returns false when another worker
// got there first.
func (q *Queue) Claim(ctx context.Context, id string) (bool, error) {
	res, err := q.DB.ExecContext(ctx,
		`UPDATE jobs SET status=?, updated_at=? WHERE id=? AND status=?`,
		domain.JobActive, q.now().UTC().Format(time.RFC3339), id, domain.JobPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Complete marks an active job done.
func (q *Queue) Complete(ctx context.Context, id string) error {
	_, err := q.DB.ExecContext(ctx,
		`UPDATE jobs SET status=?, last_error=NULL, updated_at=? WHERE id=?`,
		domain.JobDone, q.now().UTC().Format(time.RFC3339), id)
	return err
}

// Fail records a failed execution. The job goes back to pending with a
// retry delay until attempts reach max_attempts, then it is parked failed.
func (q *Queue) Fail(ctx context.Context, job domain.Job, execErr error, retryDelay time.Duration) error {
	attempts := job.Attempts + 1
	status := domain.JobPending
	now := q.now().UTC()
	runAt := now.Add(time.Duration(attempts) * retryDelay)
	if attempts >= job.MaxAttempts {
		status = domain.JobFailed
		runAt = now
	}
	_, err := q.DB.ExecContext(ctx,
		`UPDATE jobs SET status=?, attempts=?, run_at=?, last_error=?, updated_at=? WHERE id=?`,
		status, attempts, runAt.Format(time.RFC3339), execErr.Error(), now.Format(time.RFC3339), job.ID)
	return err
}

func (q *Queue) Get(ctx context.Context, id string) (domain.Job, error) {
	row := q.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return j, fmt.Errorf("job %s: not found", id)
	}
	return j, err
}

type Filters struct {
	Queue  string
	Kind   string
	Status string
	Limit  int
}

func (q *Queue) List(ctx context.Context, f Filters) ([]domain.Job, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Queue != "" {
		clauses = append(clauses, "queue=?")
		args = append(args, f.Queue)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT ` + jobColumns + ` FROM jobs ` + where + ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := q.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
