// Copyright 2025 James Ross
package jobstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store is the PostgreSQL-backed JobStore. Every mutating method is a
// single statement or a short transaction; lease transitions use an
// ownership-checked UPDATE so a concurrent loser sees rows-affected=0
// rather than silently overwriting the winner's state. Item transitions
// update by item id alone.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New wraps an already-configured pool. Callers are expected to run the
// migrations/ directory with goose before first use.
func New(pool *pgxpool.Pool, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{pool: pool, log: log}
}

// CreateJob inserts a job and its items in one transaction.
func (s *Store) CreateJob(ctx context.Context, spec JobSpec, items []ItemSpec) error {
	hints, err := json.Marshal(spec.GenerationHints)
	if err != nil {
		return fmt.Errorf("jobstore: marshal generation hints: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("jobstore: begin create job tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (
			id, tenant, job_type, phase, status, total,
			language, meta_title, meta_description, generation_hints, apply_only_changed
		) VALUES ($1, $2, $3, 'Generating', 'Queued', $4, $5, $6, $7, $8, $9)
	`, spec.ID, spec.Tenant, spec.JobType, len(items), spec.Language, spec.MetaTitle,
		spec.MetaDescription, hints, spec.ApplyOnlyChanged)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrJobExists
		}
		return fmt.Errorf("jobstore: insert job: %w", err)
	}

	for _, it := range items {
		_, err = tx.Exec(ctx, `
			INSERT INTO job_items (
				id, job_id, target_type, target_id, parent_id, title, media_id, image_url, seo_description
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, it.ID, spec.ID, it.TargetType, it.TargetID, it.ParentID, it.Title, it.MediaID, it.ImageURL, it.SeoDescription)
		if err != nil {
			return fmt.Errorf("jobstore: insert item %s: %w", it.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("jobstore: commit create job tx: %w", err)
	}

	s.log.Info("job created", zap.String("job_id", spec.ID), zap.String("tenant", spec.Tenant), zap.Int("items", len(items)))
	return nil
}

// AcquireLease performs the CAS described in spec §4.3: the lease is taken
// when it is unheld, expired, or already held by owner (lease renewal by
// the current owner).
func (s *Store) AcquireLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	expiresAt := time.Now().UTC().Add(ttl)
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET lock_owner = $1, lock_expires_at = $2
		WHERE id = $3 AND (lock_owner IS NULL OR lock_expires_at < now() OR lock_owner = $1)
	`, owner, expiresAt, jobID)
	if err != nil {
		return false, fmt.Errorf("jobstore: acquire lease: %w", err)
	}
	acquired := tag.RowsAffected() > 0
	if !acquired {
		s.log.Debug("lease not acquired", zap.String("job_id", jobID), zap.String("owner", owner))
	}
	return acquired, nil
}

// TouchLease extends the lease only when owner still matches, and bumps
// last_heartbeat_at in the same statement.
func (s *Store) TouchLease(ctx context.Context, jobID, owner string, ttl time.Duration) error {
	expiresAt := time.Now().UTC().Add(ttl)
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET lock_expires_at = $1, last_heartbeat_at = now()
		WHERE id = $2 AND lock_owner = $3
	`, expiresAt, jobID, owner)
	if err != nil {
		return fmt.Errorf("jobstore: touch lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOwnershipLost
	}
	return nil
}

// ReleaseLease clears the lease iff owner matches; releasing a lease you
// don't hold is a no-op, not an error (the caller is shutting down anyway).
func (s *Store) ReleaseLease(ctx context.Context, jobID, owner string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET lock_owner = NULL, lock_expires_at = NULL
		WHERE id = $1 AND lock_owner = $2
	`, jobID, owner)
	if err != nil {
		return fmt.Errorf("jobstore: release lease: %w", err)
	}
	return nil
}

// NextItems returns items eligible for the given phase, ordered by id for
// deterministic replay.
func (s *Store) NextItems(ctx context.Context, jobID string, phase Phase, limit int) ([]Item, error) {
	var query string
	switch phase {
	case PhaseGenerating:
		query = `SELECT ` + itemColumns + ` FROM job_items WHERE job_id = $1 AND status IN ('Queued','Failed') ORDER BY id ASC LIMIT $2`
	case PhasePublishing:
		query = `SELECT ` + itemColumns + ` FROM job_items WHERE job_id = $1 AND publish_status IN ('Queued','Failed') ORDER BY id ASC LIMIT $2`
	default:
		return nil, fmt.Errorf("jobstore: NextItems called with non-phase %q", phase)
	}

	rows, err := s.pool.Query(ctx, query, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("jobstore: next items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// MarkItemRunning sets status=Running and started_at for the generate
// phase. It never touches publish fields.
func (s *Store) MarkItemRunning(ctx context.Context, itemID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE job_items SET status = 'Running', started_at = now() WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("jobstore: mark item running: %w", err)
	}
	return nil
}

// MarkItemSuccess records generated output and closes out the generate
// phase for one item.
func (s *Store) MarkItemSuccess(ctx context.Context, itemID, seoTitle, seoDescription string, attempts int, retryWaitMs int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_items SET status = 'Success', finished_at = now(), error = '',
			seo_title = $2, seo_description = $3, gen_attempts = $4, gen_retry_wait_ms = $5
		WHERE id = $1
	`, itemID, seoTitle, seoDescription, attempts, retryWaitMs)
	if err != nil {
		return fmt.Errorf("jobstore: mark item success: %w", err)
	}
	return nil
}

// MarkItemFailed records a permanent generate-phase failure for one item.
func (s *Store) MarkItemFailed(ctx context.Context, itemID, reason string, attempts int, retryWaitMs int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_items SET status = 'Failed', finished_at = now(), error = $2,
			gen_attempts = $3, gen_retry_wait_ms = $4
		WHERE id = $1
	`, itemID, reason, attempts, retryWaitMs)
	if err != nil {
		return fmt.Errorf("jobstore: mark item failed: %w", err)
	}
	return nil
}

// MarkItemPublishRunning/Success/Failed/Skipped are the publish-phase
// counterparts; they never touch the generate-phase fields.
func (s *Store) MarkItemPublishRunning(ctx context.Context, itemID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE job_items SET publish_status = 'Running' WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("jobstore: mark item publish running: %w", err)
	}
	return nil
}

func (s *Store) MarkItemPublishSuccess(ctx context.Context, itemID string, attempts int, retryWaitMs int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_items SET publish_status = 'Success', published_at = now(), publish_error = '',
			publish_attempts = $2, publish_retry_wait_ms = $3
		WHERE id = $1
	`, itemID, attempts, retryWaitMs)
	if err != nil {
		return fmt.Errorf("jobstore: mark item publish success: %w", err)
	}
	return nil
}

func (s *Store) MarkItemPublishFailed(ctx context.Context, itemID, reason string, attempts int, retryWaitMs int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_items SET publish_status = 'Failed', publish_error = $2,
			publish_attempts = $3, publish_retry_wait_ms = $4
		WHERE id = $1
	`, itemID, reason, attempts, retryWaitMs)
	if err != nil {
		return fmt.Errorf("jobstore: mark item publish failed: %w", err)
	}
	return nil
}

func (s *Store) MarkItemPublishSkipped(ctx context.Context, itemID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE job_items SET publish_status = 'Skipped' WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("jobstore: mark item publish skipped: %w", err)
	}
	return nil
}

// SetLastError records the most recent failure message on a job, surfaced
// to operators without requiring a join against job_items.
func (s *Store) SetLastError(ctx context.Context, jobID, msg string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET last_error = $2 WHERE id = $1`, jobID, msg)
	if err != nil {
		return fmt.Errorf("jobstore: set last error: %w", err)
	}
	return nil
}

// UpdateImageBaseline copies a published alt-text draft into an image
// item's baseline field so later diff/badge logic stops reporting it as
// edited-but-unpublished.
func (s *Store) UpdateImageBaseline(ctx context.Context, itemID, alt string) error {
	_, err := s.pool.Exec(ctx, `UPDATE job_items SET seo_description = $2 WHERE id = $1`, itemID, alt)
	if err != nil {
		return fmt.Errorf("jobstore: update image baseline: %w", err)
	}
	return nil
}

// RejectForUsage fails a job and every one of its Queued or Running items
// in one transaction, used when the free-tier monthly cap rejects a job's
// reservation before any generation work has run.
func (s *Store) RejectForUsage(ctx context.Context, jobID, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("jobstore: reject for usage begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE job_items SET status = 'Failed', error = $2
		WHERE job_id = $1 AND status IN ('Queued','Running')
	`, jobID, reason); err != nil {
		return fmt.Errorf("jobstore: reject for usage items: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'Failed', last_error = $2, lock_owner = NULL, lock_expires_at = NULL, finished_at = now()
		WHERE id = $1
	`, jobID, reason); err != nil {
		return fmt.Errorf("jobstore: reject for usage job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("jobstore: reject for usage commit: %w", err)
	}
	return nil
}

// IncrementCounters applies atomic counter deltas to a job row.
func (s *Store) IncrementCounters(ctx context.Context, jobID string, d CounterDeltas) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			ok_count = ok_count + $2,
			failed_count = failed_count + $3,
			publish_ok_count = publish_ok_count + $4,
			publish_failed_count = publish_failed_count + $5,
			total_attempts = total_attempts + $6,
			total_retry_wait_ms = total_retry_wait_ms + $7
		WHERE id = $1
	`, jobID, d.OKCount, d.FailedCount, d.PublishOKCount, d.PublishFailedCount, d.TotalAttempts, d.TotalRetryWaitMs)
	if err != nil {
		return fmt.Errorf("jobstore: increment counters: %w", err)
	}
	return nil
}

// PhaseTransition describes the timestamp bookkeeping SetPhase applies
// alongside the phase/status change.
type PhaseTransition struct {
	Phase            Phase
	Status           Status
	SetStartedAt     bool
	SetFinishedAt    bool
	SetPublishStart  bool
	SetPublishFinish bool
}

// SetPhase transitions a job's phase/status and stamps the relevant
// timestamps in one statement.
func (s *Store) SetPhase(ctx context.Context, jobID string, t PhaseTransition) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			phase = $2,
			status = $3,
			started_at = CASE WHEN $4 THEN now() ELSE started_at END,
			finished_at = CASE WHEN $5 THEN now() ELSE finished_at END,
			publish_started_at = CASE WHEN $6 THEN now() ELSE publish_started_at END,
			publish_finished_at = CASE WHEN $7 THEN now() ELSE publish_finished_at END
		WHERE id = $1
	`, jobID, t.Phase, t.Status, t.SetStartedAt, t.SetFinishedAt, t.SetPublishStart, t.SetPublishFinish)
	if err != nil {
		return fmt.Errorf("jobstore: set phase: %w", err)
	}
	return nil
}

// IsCancelled reports whether a job has been cancelled, so long-running
// phase loops can bail out between items without a full GetJob.
func (s *Store) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	var status Status
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrJobNotFound
	}
	if err != nil {
		return false, fmt.Errorf("jobstore: is cancelled: %w", err)
	}
	return status == StatusCancelled, nil
}

// MarkUsageReserved records that the free-tier reservation for this job
// has already been made, so the dispatcher doesn't reserve twice across
// redeliveries.
func (s *Store) MarkUsageReserved(ctx context.Context, jobID string, count int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET usage_reserved = true, usage_count = $2 WHERE id = $1
	`, jobID, count)
	if err != nil {
		return fmt.Errorf("jobstore: mark usage reserved: %w", err)
	}
	return nil
}

// RefreshTotal recounts a job's items and corrects total if it has
// drifted, self-healing the case where total was computed before all
// items finished inserting.
func (s *Store) RefreshTotal(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET total = sub.n
		FROM (SELECT count(*) AS n FROM job_items WHERE job_id = $1) sub
		WHERE id = $1 AND total != sub.n
	`, jobID)
	if err != nil {
		return fmt.Errorf("jobstore: refresh total: %w", err)
	}
	return nil
}

// FindStuck returns up to 25 jobs whose lease has expired and which show
// no recent heartbeat (or never started), oldest first.
func (s *Store) FindStuck(ctx context.Context, now time.Time, staleAfter time.Duration) ([]Job, error) {
	staleSince := now.Add(-staleAfter)
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'Running' AND lock_expires_at < $1
		  AND (last_heartbeat_at < $2 OR last_heartbeat_at IS NULL)
		ORDER BY created_at ASC
		LIMIT 25
	`, now, staleSince)
	if err != nil {
		return nil, fmt.Errorf("jobstore: find stuck: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// RecoverStuck marks a stuck job's in-flight items Failed, sets the job
// Failed, and clears its lease, all in one transaction.
func (s *Store) RecoverStuck(ctx context.Context, jobID, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("jobstore: begin recover stuck tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		UPDATE job_items SET status = 'Failed', finished_at = now(), error = $2
		WHERE job_id = $1 AND status = 'Running'
	`, jobID, reason)
	if err != nil {
		return fmt.Errorf("jobstore: fail running items: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE job_items SET publish_status = 'Failed', publish_error = $2
		WHERE job_id = $1 AND publish_status = 'Running'
	`, jobID, reason)
	if err != nil {
		return fmt.Errorf("jobstore: fail running publish items: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs SET status = 'Failed', finished_at = now(), last_error = $2,
			lock_owner = NULL, lock_expires_at = NULL
		WHERE id = $1
	`, jobID, reason)
	if err != nil {
		return fmt.Errorf("jobstore: fail job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("jobstore: commit recover stuck tx: %w", err)
	}
	s.log.Warn("recovered stuck job", zap.String("job_id", jobID), zap.String("reason", reason))
	return nil
}

// CancelJob marks a job Cancelled and fails its in-flight items with a
// fixed reason, per the lifecycle rule in spec §3. It returns
// ErrJobNotFound, and changes nothing, both when the job is missing and
// when it is already Success, Failed or Cancelled.
func (s *Store) CancelJob(ctx context.Context, jobID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("jobstore: begin cancel tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const reason = "Cancelled by user"
	_, err = tx.Exec(ctx, `
		UPDATE job_items SET status = 'Failed', finished_at = now(), error = $2
		WHERE job_id = $1 AND status IN ('Queued', 'Running')
	`, jobID, reason)
	if err != nil {
		return fmt.Errorf("jobstore: fail in-flight items on cancel: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE job_items SET publish_status = 'Failed', publish_error = $2
		WHERE job_id = $1 AND publish_status IN ('Queued', 'Running')
	`, jobID, reason)
	if err != nil {
		return fmt.Errorf("jobstore: fail in-flight publish items on cancel: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'Cancelled', finished_at = now()
		WHERE id = $1 AND status NOT IN ('Success', 'Failed', 'Cancelled')
	`, jobID)
	if err != nil {
		return fmt.Errorf("jobstore: cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("jobstore: commit cancel tx: %w", err)
	}
	return nil
}

// GetJob fetches a single job row.
func (s *Store) GetJob(ctx context.Context, jobID string) (Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	j, err := scanJobRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("jobstore: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a keyset-paginated, filtered view over jobs for a
// tenant.
func (s *Store) ListJobs(ctx context.Context, f ListFilter) (ListPage, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE tenant = $1`
	args := []any{f.Tenant}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		query += " AND status = " + arg(f.Status)
	}
	if f.Phase != "" {
		query += " AND phase = " + arg(f.Phase)
	}
	if f.JobType != "" {
		query += " AND job_type = " + arg(f.JobType)
	}
	if f.IDContains != "" {
		query += " AND id LIKE " + arg("%"+f.IDContains+"%")
	}
	if f.Cursor != "" {
		cursorID, err := decodeCursor(f.Cursor)
		if err != nil {
			return ListPage{}, fmt.Errorf("jobstore: decode cursor: %w", err)
		}
		query += " AND id > " + arg(cursorID)
	}
	query += fmt.Sprintf(" ORDER BY id ASC LIMIT %s", arg(limit+1))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return ListPage{}, fmt.Errorf("jobstore: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return ListPage{}, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return ListPage{}, err
	}

	page := ListPage{Jobs: jobs}
	if len(jobs) > limit {
		page.Jobs = jobs[:limit]
		page.NextCursor = encodeCursor(jobs[limit-1].ID)
	}
	return page, nil
}

// ListItems returns every item belonging to a job, in id order, for the
// intake API's job-detail view.
func (s *Store) ListItems(ctx context.Context, jobID string) ([]Item, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+itemColumns+` FROM job_items WHERE job_id = $1 ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// RetryItems flips the given items back to Queued if they are currently
// Failed, and re-opens the job's Generating phase if it had already
// reached Generated/Failed, so the next dispatch picks them back up.
func (s *Store) RetryItems(ctx context.Context, jobID string, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("jobstore: retry items begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE job_items SET status = 'Queued', error = ''
		WHERE job_id = $1 AND id = ANY($2) AND status = 'Failed'
	`, jobID, itemIDs); err != nil {
		return fmt.Errorf("jobstore: retry items: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET phase = 'Generating', status = 'Queued', finished_at = NULL
		WHERE id = $1 AND (phase = 'Generated' OR status = 'Failed')
	`, jobID); err != nil {
		return fmt.Errorf("jobstore: reopen job for retry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("jobstore: retry items commit: %w", err)
	}
	return nil
}

// SelectForPublish flips the chosen items to publishStatus=Queued and
// every other still-eligible item to Skipped, per the producer-side
// publish-selection step in spec §4.10/§4.16.
func (s *Store) SelectForPublish(ctx context.Context, jobID string, selectedItemIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("jobstore: select for publish begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE job_items SET publish_status = 'Queued'
		WHERE job_id = $1 AND id = ANY($2) AND status = 'Success'
	`, jobID, selectedItemIDs); err != nil {
		return fmt.Errorf("jobstore: select for publish: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE job_items SET publish_status = 'Skipped'
		WHERE job_id = $1 AND NOT (id = ANY($2)) AND publish_status = 'Queued'
	`, jobID, selectedItemIDs); err != nil {
		return fmt.Errorf("jobstore: skip unselected items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("jobstore: select for publish commit: %w", err)
	}
	return nil
}

func encodeCursor(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func decodeCursor(cursor string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
