package repositories

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"lipsync/internal/models"
	"lipsync/internal/ports"
)

var ErrRunExists = errors.New("run id already exists")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	video_name      TEXT NOT NULL,
	audio_name      TEXT NOT NULL,
	video_key       TEXT NOT NULL,
	audio_key       TEXT NOT NULL,
	use_float16     BOOLEAN NOT NULL DEFAULT FALSE,
	batch_size      INTEGER NOT NULL,
	progress        DOUBLE PRECISION NOT NULL DEFAULT 0,
	progress_source TEXT NOT NULL DEFAULT '',
	line_count      INTEGER NOT NULL DEFAULT 0,
	log_tail        TEXT[] NOT NULL DEFAULT '{}',
	stderr_text     TEXT NOT NULL DEFAULT '',
	exit_code       INTEGER,
	result_key      TEXT NOT NULL DEFAULT '',
	result_name     TEXT NOT NULL DEFAULT '',
	error_text      TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at      TIMESTAMPTZ,
	finished_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS runs_status_created_idx ON runs (status, created_at DESC);
`

const runColumns = `id, status, video_name, audio_name, video_key, audio_key, use_float16, batch_size,
	progress, progress_source, line_count, log_tail, stderr_text, exit_code,
	result_key, result_name, error_text, created_at, started_at, finished_at`

// RunRepository stores runs in the Postgres "runs" table.
type RunRepository struct {
	db *pgxpool.Pool
}

var _ ports.RunStore = (*RunRepository)(nil)

func NewRunRepository(db *pgxpool.Pool) *RunRepository {
	return &RunRepository{db: db}
}

// Migrate creates the runs table when it does not exist yet.
func (r *RunRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	if run.LogTail == nil {
		run.LogTail = []string{}
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO runs (id, status, video_name, audio_name, video_key, audio_key, use_float16, batch_size)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, run.ID, string(run.Status), run.VideoName, run.AudioName, run.VideoKey, run.AudioKey,
		run.UseFloat16, run.BatchSize,
	).Scan(&run.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRunExists
		}
		return err
	}
	return nil
}

func (r *RunRepository) Get(ctx context.Context, id string) (*models.Run, error) {
	row := r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id=$1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

func (r *RunRepository) List(ctx context.Context, filter models.ListRunsFilter) ([]models.Run, error) {
	limit := clampLimit(filter.Limit)

	var (
		rows pgx.Rows
		err  error
	)
	if filter.Status != "" {
		rows, err = r.db.Query(ctx, `
			SELECT `+runColumns+` FROM runs
			WHERE status=$1
			ORDER BY created_at DESC
			LIMIT $2
		`, string(filter.Status), limit)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT `+runColumns+` FROM runs
			ORDER BY created_at DESC
			LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func (r *RunRepository) MarkRunning(ctx context.Context, id string) error {
	return r.exec(ctx, `
		UPDATE runs
		SET status='RUNNING', started_at=NOW(), finished_at=NULL, error_text=''
		WHERE id=$1
	`, id)
}

func (r *RunRepository) UpdateProgress(ctx context.Context, id string, snap models.ProgressSnapshot) error {
	tail := make([]string, len(snap.LogTail))
	for i, line := range snap.LogTail {
		tail[i] = models.CleanText(line)
	}
	return r.exec(ctx, `
		UPDATE runs
		SET progress=$2, progress_source=$3, line_count=$4, log_tail=$5
		WHERE id=$1
	`, id, snap.Fraction, snap.Source, snap.LineCount, tail)
}

func (r *RunRepository) Finish(ctx context.Context, id string, outcome models.RunOutcome) error {
	return r.exec(ctx, `
		UPDATE runs
		SET status=$2, stderr_text=$3, exit_code=$4, result_key=$5, result_name=$6,
		    error_text=$7, finished_at=NOW()
		WHERE id=$1
	`, id, string(outcome.Status), models.CleanText(outcome.StderrText), outcome.ExitCode,
		outcome.ResultKey, outcome.ResultName, truncate(models.CleanText(outcome.ErrorText), 2000))
}

func (r *RunRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *RunRepository) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrRunNotFound
	}
	return nil
}

func scanRun(row pgx.Row) (*models.Run, error) {
	var (
		run    models.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&status,
		&run.VideoName,
		&run.AudioName,
		&run.VideoKey,
		&run.AudioKey,
		&run.UseFloat16,
		&run.BatchSize,
		&run.Progress,
		&run.ProgressSource,
		&run.LineCount,
		&run.LogTail,
		&run.StderrText,
		&run.ExitCode,
		&run.ResultKey,
		&run.ResultName,
		&run.ErrorText,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	return &run, nil
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// 23505 = unique_violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
