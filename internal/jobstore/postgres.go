package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/transcriber/internal/domain"
	"github.com/cuongbtq/transcriber/internal/jobstore/migrations"
	"github.com/cuongbtq/transcriber/shared/postgresql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// DefaultTombstoneRetention is how long an expired row is kept after its
// payload has been purged. After that the id reads as not found.
const DefaultTombstoneRetention = 7 * 24 * time.Hour

// PostgresRecords stores job records in the transcription_jobs table. The
// record itself is a JSONB document; owner, type and status are copied into
// columns for listing.
type PostgresRecords struct {
	client    *postgresql.Client
	db        *sqlx.DB
	logger    *slog.Logger
	now       func() time.Time
	retention time.Duration
}

// NewPostgresRecords applies pending migrations and returns the store.
func NewPostgresRecords(client *postgresql.Client, retention time.Duration, logger *slog.Logger) (*PostgresRecords, error) {
	if err := client.Migrate(migrations.FS, migrations.Dir); err != nil {
		return nil, err
	}
	if retention <= 0 {
		retention = DefaultTombstoneRetention
	}
	return &PostgresRecords{
		client:    client,
		db:        client.GetDB(),
		logger:    logger,
		now:       time.Now,
		retention: retention,
	}, nil
}

func (p *PostgresRecords) Create(ctx context.Context, job *domain.Job, ttl time.Duration, enqueue func(context.Context) error) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO transcription_jobs (
			job_id, owner, job_type, status,
			record, expires_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8
		)
	`
	_, err = tx.ExecContext(ctx, query,
		job.ID,
		job.Owner,
		job.Type,
		job.Status,
		string(data),
		p.now().Add(ttl),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	if enqueue != nil {
		if err := enqueue(ctx); err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		p.logger.Error("Job enqueued but commit failed; the queue entry will be dropped by the worker",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to commit job: %w", err)
	}
	return nil
}

// lookup distinguishes a missing id from an expired one without loading the
// record payload.
func (p *PostgresRecords) lookup(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.NewJobNotFoundError(id)
	}

	var row struct {
		ExpiresAt time.Time `db:"expires_at"`
		HasRecord bool      `db:"has_record"`
	}
	err := p.db.GetContext(ctx, &row,
		`SELECT expires_at, record IS NOT NULL AS has_record FROM transcription_jobs WHERE job_id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewJobNotFoundError(id)
		}
		return fmt.Errorf("failed to look up job: %w", err)
	}
	if !row.HasRecord || !p.now().Before(row.ExpiresAt) {
		return domain.NewJobExpiredError(id)
	}
	return nil
}

func (p *PostgresRecords) Get(ctx context.Context, id string) (*domain.Job, error) {
	if err := p.lookup(ctx, id); err != nil {
		return nil, err
	}

	var data []byte
	err := p.db.GetContext(ctx, &data,
		`SELECT record FROM transcription_jobs WHERE job_id = $1 AND record IS NOT NULL`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewJobExpiredError(id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (p *PostgresRecords) Put(ctx context.Context, job *domain.Job, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	now := p.now()
	query := `
		UPDATE transcription_jobs
		SET status = $2,
			record = $3,
			expires_at = $4,
			updated_at = $5
		WHERE job_id = $1
		  AND record IS NOT NULL
		  AND expires_at > $6
	`
	res, err := p.db.ExecContext(ctx, query, job.ID, job.Status, string(data), now.Add(ttl), job.UpdatedAt, now)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return p.requireRow(ctx, res, job.ID)
}

func (p *PostgresRecords) Touch(ctx context.Context, id string, ttl time.Duration) error {
	now := p.now()
	res, err := p.db.ExecContext(ctx,
		`UPDATE transcription_jobs SET expires_at = $2 WHERE job_id = $1 AND record IS NOT NULL AND expires_at > $3`,
		id, now.Add(ttl), now)
	if err != nil {
		return fmt.Errorf("failed to touch job: %w", err)
	}
	return p.requireRow(ctx, res, id)
}

func (p *PostgresRecords) requireRow(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	if err := p.lookup(ctx, id); err != nil {
		return err
	}
	// The row expired between the update and the lookup.
	return domain.NewJobExpiredError(id)
}

func (p *PostgresRecords) List(ctx context.Context, filter ListFilter) ([]*domain.Job, error) {
	query := `
		SELECT record
		FROM transcription_jobs
		WHERE record IS NOT NULL
		  AND expires_at > $1
	`
	args := []interface{}{p.now()}
	argIdx := 2

	if filter.Owner != "" {
		query += fmt.Sprintf(" AND owner = $%d", argIdx)
		args = append(args, filter.Owner)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Type != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.Type)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d::uuid)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Fetch one extra row so the caller can tell whether another page exists.
	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, ClampPageSize(filter.PageSize)+1)

	var payloads [][]byte
	if err := p.db.SelectContext(ctx, &payloads, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(payloads))
	for _, data := range payloads {
		var job domain.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// PurgeExpired clears the payload of expired rows and deletes tombstones older
// than the retention window.
func (p *PostgresRecords) PurgeExpired(ctx context.Context) (int64, error) {
	now := p.now()

	res, err := p.db.ExecContext(ctx,
		`UPDATE transcription_jobs SET record = NULL WHERE record IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired jobs: %w", err)
	}
	purged, _ := res.RowsAffected()

	res, err = p.db.ExecContext(ctx,
		`DELETE FROM transcription_jobs WHERE record IS NULL AND expires_at <= $1`, now.Add(-p.retention))
	if err != nil {
		return purged, fmt.Errorf("failed to delete job tombstones: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if purged > 0 || deleted > 0 {
		p.logger.Info("Expired jobs purged",
			slog.Int64("purged", purged),
			slog.Int64("tombstones_deleted", deleted),
		)
	}
	return purged, nil
}

func (p *PostgresRecords) HealthCheck(ctx context.Context) error {
	return p.client.HealthCheck(ctx)
}
