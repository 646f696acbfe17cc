package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foch-qualite/sequad/internal/analysis"
	"github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/shared/metrics"
	"github.com/foch-qualite/sequad/internal/shared/types"
)

const runColumns = `id::text, sequence, hash, COALESCE(prev_hash, ''), username,
	COALESCE(session_id::text, ''), mode, start_date, end_date,
	venue_count, letter_count, document_count, stay_count, no_data, error,
	duration_ms, created_at`

// Repository is the Postgres run log.
type Repository struct {
	pool     *pgxpool.Pool
	mu       sync.Mutex
	lastHash string
}

// NewRepository creates a run log over pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Initialize loads the hash of the last stored run.
func (r *Repository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var hash string
	err := r.pool.QueryRow(ctx, `
		SELECT hash FROM report_runs
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&hash)
	if err != nil && !strings.Contains(err.Error(), "no rows") {
		return errors.Wrap(err, "failed to get last run hash")
	}

	r.lastHash = hash
	return nil
}

// Append stores run. It is safe for concurrent use.
func (r *Repository) Append(ctx context.Context, run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run.PrevHash = r.lastHash
	run.Hash = run.calculateHash()

	var prevHash *string
	if run.PrevHash != "" {
		prevHash = &run.PrevHash
	}

	start := time.Now()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO report_runs (
			id, hash, prev_hash, username, session_id, mode, start_date, end_date,
			venue_count, letter_count, document_count, stay_count, no_data, error,
			duration_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		) RETURNING sequence`,
		run.ID, run.Hash, prevHash, run.Username, run.SessionID, string(run.Mode),
		run.StartDate, run.EndDate,
		run.VenueCount, run.LetterCount, run.DocumentCount, run.StayCount, run.NoData, run.Error,
		run.DurationMS, run.CreatedAt,
	).Scan(&run.Sequence)
	metrics.RecordDBQuery("insert_report_run", time.Since(start))
	if err != nil {
		return errors.Wrap(err, "failed to append report run")
	}

	r.lastHash = run.Hash
	return nil
}

func scanRun(row pgx.Row) (Run, error) {
	var run Run
	var mode string
	err := row.Scan(
		&run.ID, &run.Sequence, &run.Hash, &run.PrevHash, &run.Username,
		&run.SessionID, &mode, &run.StartDate, &run.EndDate,
		&run.VenueCount, &run.LetterCount, &run.DocumentCount, &run.StayCount, &run.NoData, &run.Error,
		&run.DurationMS, &run.CreatedAt,
	)
	run.Mode = analysis.Mode(mode)
	return run, err
}

// List lists runs matching filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListRunsFilter) ([]Run, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.Username != "" {
		conditions = append(conditions, fmt.Sprintf("username = $%d", argNum))
		args = append(args, filter.Username)
		argNum++
	}

	if filter.Mode != "" {
		conditions = append(conditions, fmt.Sprintf("mode = $%d", argNum))
		args = append(args, string(filter.Mode))
		argNum++
	}

	if filter.FailedOnly {
		conditions = append(conditions, "error <> ''")
	}

	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argNum))
		args = append(args, *filter.Since)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM report_runs %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count report runs")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM report_runs
		%s
		ORDER BY sequence DESC
		LIMIT $%d OFFSET $%d`, runColumns, whereClause, argNum, argNum+1)
	args = append(args, pageSize(filter.Limit), filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list report runs")
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan report run")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to list report runs")
	}

	return runs, total, nil
}

// FindByID finds a run by id.
func (r *Repository) FindByID(ctx context.Context, id types.ID) (*Run, error) {
	run, err := scanRun(r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM report_runs WHERE id = $1`, runColumns), id))
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, errors.NotFound("report run", id.String())
		}
		return nil, errors.Wrap(err, "failed to find report run")
	}
	return &run, nil
}

// VerifyChain verifies the latest limit runs.
func (r *Repository) VerifyChain(ctx context.Context, limit int) (*VerifyResult, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM report_runs
		ORDER BY sequence DESC
		LIMIT $1`, runColumns), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query report runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan report run")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to query report runs")
	}

	return Verify(runs), nil
}

// Health pings the run log database.
func (r *Repository) Health(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func pageSize(limit int) int {
	if limit > 0 && limit <= 100 {
		return limit
	}
	return 50
}
