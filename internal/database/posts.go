package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"postpilot/internal/models"
)

const postColumns = `id, public_id, content_id, title, description, hashtags, keywords, cta,
       media_refs, platforms, character_id, service_type, scheduled_at, timezone, repeat_rule,
       status, retry_count, last_error, last_attempt_at, owner_id, template_id, source_post_id,
       created_at, updated_at`

func scanPost(row interface{ Scan(dest ...any) error }) (*models.ScheduledPost, error) {
	var (
		p           models.ScheduledPost
		status      string
		hashtags    string
		mediaRefs   string
		platforms   string
		scheduledAt sql.NullTime
		lastError   sql.NullString
		lastAttempt sql.NullTime
		templateID  sql.NullInt64
		sourceID    sql.NullInt64
	)

	err := row.Scan(
		&p.ID,
		&p.PublicID,
		&p.ContentID,
		&p.Title,
		&p.Description,
		&hashtags,
		&p.Keywords,
		&p.CTA,
		&mediaRefs,
		&platforms,
		&p.CharacterID,
		&p.ServiceType,
		&scheduledAt,
		&p.Timezone,
		&p.Repeat,
		&status,
		&p.RetryCount,
		&lastError,
		&lastAttempt,
		&p.OwnerID,
		&templateID,
		&sourceID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = models.NormalizeStatus(status)
	p.Hashtags = decodeList(hashtags)
	p.MediaRefs = decodeList(mediaRefs)
	p.Platforms = decodeList(platforms)
	if scheduledAt.Valid {
		p.ScheduledAt = scheduledAt.Time
	}
	if lastError.Valid {
		s := lastError.String
		p.LastError = &s
	}
	if lastAttempt.Valid {
		t := lastAttempt.Time
		p.LastAttemptAt = &t
	}
	if templateID.Valid {
		v := templateID.Int64
		p.TemplateID = &v
	}
	if sourceID.Valid {
		v := sourceID.Int64
		p.SourcePostID = &v
	}
	return &p, nil
}

// CreatePost inserts a new post. Status defaults to pending_schedule when
// unset; scheduled_at is stored as NULL until promotion assigns it.
func (db *DB) CreatePost(ctx context.Context, post *models.ScheduledPost) error {
	if post.Status == "" {
		post.Status = models.StatusPendingSchedule
	}
	now := time.Now().UTC()

	var scheduledAt any
	if !post.ScheduledAt.IsZero() {
		scheduledAt = post.ScheduledAt.UTC()
	}

	query := `INSERT INTO scheduled_posts
        (public_id, content_id, title, description, hashtags, keywords, cta, media_refs,
         platforms, character_id, service_type, scheduled_at, timezone, repeat_rule, status,
         retry_count, owner_id, template_id, source_post_id, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := db.ExecContext(ctx, query,
		post.PublicID,
		post.ContentID,
		post.Title,
		post.Description,
		encodeList(post.Hashtags),
		post.Keywords,
		post.CTA,
		encodeList(post.MediaRefs),
		encodeList(post.Platforms),
		post.CharacterID,
		post.ServiceType,
		scheduledAt,
		post.Timezone,
		post.Repeat,
		string(post.Status),
		post.RetryCount,
		post.OwnerID,
		post.TemplateID,
		post.SourcePostID,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	post.ID = id
	post.CreatedAt = now
	post.UpdatedAt = now
	return nil
}

func (db *DB) GetPost(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE id = ?`
	post, err := scanPost(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return post, nil
}

func (db *DB) GetPostByPublicID(ctx context.Context, publicID string) (*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE public_id = ?`
	post, err := scanPost(db.QueryRowContext(ctx, query, publicID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return post, nil
}

// GetDuePosts returns up to limit dispatch-eligible posts whose scheduled
// time has passed, earliest due first. An empty batch is not an error.
func (db *DB) GetDuePosts(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledPost, error) {
	if limit <= 0 {
		limit = models.DefaultBatchSize
	}

	query := `SELECT ` + postColumns + ` FROM scheduled_posts
              WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
              ORDER BY scheduled_at ASC LIMIT ?`

	rows, err := db.QueryContext(ctx, query, string(models.StatusScheduled), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due posts: %w", err)
	}
	defer rows.Close()

	var posts []*models.ScheduledPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (db *DB) ListPostsByStatus(ctx context.Context, status models.Status, limit, offset int) ([]*models.ScheduledPost, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + postColumns + ` FROM scheduled_posts
              WHERE status = ? ORDER BY scheduled_at ASC, id ASC LIMIT ? OFFSET ?`

	rows, err := db.QueryContext(ctx, query, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []*models.ScheduledPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// MarkPublishing claims a scheduled post for an in-flight dispatch attempt.
// Returns false when the post is no longer in scheduled status.
func (db *DB) MarkPublishing(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE scheduled_posts SET status = ?, updated_at = ?
              WHERE id = ? AND status = ?`
	result, err := db.ExecContext(ctx, query,
		string(models.StatusPublishing), time.Now().UTC(), id, string(models.StatusScheduled))
	if err != nil {
		return false, fmt.Errorf("failed to mark publishing: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkPublished finalizes a successful dispatch: terminal published status,
// prior failure reason cleared, retry counter untouched.
func (db *DB) MarkPublished(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	query := `UPDATE scheduled_posts
              SET status = ?, last_error = NULL, last_attempt_at = ?, updated_at = ?
              WHERE id = ? AND status NOT IN (?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		string(models.StatusPublished), now, now, id,
		string(models.StatusPublished), string(models.StatusFailed), string(models.StatusCancelled))
	if err != nil {
		return fmt.Errorf("failed to mark published: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTerminalStatus
	}
	return nil
}

// RecordFailedAttempt increments the retry counter and either re-queues the
// post or marks it permanently failed once the ceiling is reached. Returns
// the refreshed post.
func (db *DB) RecordFailedAttempt(ctx context.Context, id int64, reason string, ceiling int) (*models.ScheduledPost, error) {
	if ceiling < 1 {
		ceiling = models.DefaultRetryCeiling
	}
	if len(reason) > models.FailureReasonMax {
		reason = reason[:models.FailureReasonMax]
	}

	now := time.Now().UTC()
	query := `UPDATE scheduled_posts
              SET retry_count = retry_count + 1,
                  status = CASE WHEN retry_count + 1 >= ? THEN ? ELSE ? END,
                  last_error = ?, last_attempt_at = ?, updated_at = ?
              WHERE id = ? AND status NOT IN (?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		ceiling, string(models.StatusFailed), string(models.StatusScheduled),
		reason, now, now, id,
		string(models.StatusPublished), string(models.StatusFailed), string(models.StatusCancelled))
	if err != nil {
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrTerminalStatus
	}
	return db.GetPost(ctx, id)
}

// RequeueStalePublishing returns posts abandoned mid-attempt (a process
// that died after claiming them) to the dispatch-eligible set. Only rows
// untouched since cutoff qualify; live attempts keep refreshing updated_at.
func (db *DB) RequeueStalePublishing(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE scheduled_posts SET status = ?, updated_at = ?
              WHERE status = ? AND updated_at < ?`
	result, err := db.ExecContext(ctx, query,
		string(models.StatusScheduled), time.Now().UTC(),
		string(models.StatusPublishing), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale posts: %w", err)
	}
	return result.RowsAffected()
}

// CancelPost is the user-initiated terminal transition.
func (db *DB) CancelPost(ctx context.Context, id int64) error {
	query := `UPDATE scheduled_posts SET status = ?, updated_at = ?
              WHERE id = ? AND status NOT IN (?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		string(models.StatusCancelled), time.Now().UTC(), id,
		string(models.StatusPublished), string(models.StatusFailed), string(models.StatusCancelled))
	if err != nil {
		return fmt.Errorf("failed to cancel post: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := db.GetPost(ctx, id); err != nil {
			return err
		}
		return ErrTerminalStatus
	}
	return nil
}

// ReschedulePost is the explicit user-initiated re-schedule of a failed or
// scheduled post. This is the only path that resets the retry counter.
func (db *DB) ReschedulePost(ctx context.Context, id int64, scheduledAt time.Time) error {
	now := time.Now().UTC()
	query := `UPDATE scheduled_posts
              SET status = ?, scheduled_at = ?, retry_count = 0, last_error = NULL, updated_at = ?
              WHERE id = ? AND status IN (?, ?)`
	result, err := db.ExecContext(ctx, query,
		string(models.StatusScheduled), scheduledAt.UTC(), now, id,
		string(models.StatusFailed), string(models.StatusScheduled))
	if err != nil {
		return fmt.Errorf("failed to reschedule post: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := db.GetPost(ctx, id); err != nil {
			return err
		}
		return ErrTerminalStatus
	}

	// Reset stale assignment outcomes so the new attempt starts clean.
	_, err = db.ExecContext(ctx,
		`UPDATE platform_assignments SET status = ?, sent_at = NULL, error = NULL, updated_at = ? WHERE post_id = ?`,
		models.AssignmentPending, now, id)
	if err != nil {
		return fmt.Errorf("failed to reset assignments: %w", err)
	}
	return nil
}

// PromotePost moves a pending_schedule post into the dispatch-eligible set
// and creates one assignment row per selected platform, atomically.
func (db *DB) PromotePost(ctx context.Context, id int64, scheduledAt time.Time, timezone, serviceType, repeat string, platforms []string) (*models.ScheduledPost, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin promotion: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
        UPDATE scheduled_posts
        SET status = ?, scheduled_at = ?, timezone = ?, service_type = ?, repeat_rule = ?,
            platforms = ?, retry_count = 0, last_error = NULL, updated_at = ?
        WHERE id = ? AND status = ?`,
		string(models.StatusScheduled), scheduledAt.UTC(), timezone, serviceType, repeat,
		encodeList(platforms), now, id, string(models.StatusPendingSchedule))
	if err != nil {
		return nil, fmt.Errorf("failed to promote post: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM scheduled_posts WHERE id = ?`, id).Scan(&exists); err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrNotPromotable
	}

	for _, platform := range platforms {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO platform_assignments (post_id, platform, status, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?)`,
			id, platform, models.AssignmentPending, now, now); err != nil {
			return nil, fmt.Errorf("failed to create assignment for %s: %w", platform, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit promotion: %w", err)
	}

	return db.GetPost(ctx, id)
}

// DeletePost removes a post; assignment rows cascade.
func (db *DB) DeletePost(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM scheduled_posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
