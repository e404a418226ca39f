package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"postpilot/internal/models"
)

func (db *DB) GetAssignments(ctx context.Context, postID int64) ([]*models.PlatformAssignment, error) {
	query := `SELECT id, post_id, platform, status, sent_at, error, created_at, updated_at
              FROM platform_assignments WHERE post_id = ? ORDER BY id`

	rows, err := db.QueryContext(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to get assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*models.PlatformAssignment
	for rows.Next() {
		var a models.PlatformAssignment
		var sentAt sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(
			&a.ID,
			&a.PostID,
			&a.Platform,
			&a.Status,
			&sentAt,
			&errMsg,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		if sentAt.Valid {
			t := sentAt.Time
			a.SentAt = &t
		}
		if errMsg.Valid {
			s := errMsg.String
			a.Error = &s
		}
		assignments = append(assignments, &a)
	}
	return assignments, rows.Err()
}

// MarkAssignmentsSent stamps every assignment row of a post as delivered.
func (db *DB) MarkAssignmentsSent(ctx context.Context, postID int64, sentAt time.Time) error {
	_, err := db.ExecContext(ctx, `
        UPDATE platform_assignments
        SET status = ?, sent_at = ?, error = NULL, updated_at = ?
        WHERE post_id = ?`,
		models.AssignmentSent, sentAt.UTC(), time.Now().UTC(), postID)
	if err != nil {
		return fmt.Errorf("failed to mark assignments sent: %w", err)
	}
	return nil
}

// MarkAssignmentsFailed records the dispatch failure reason on every
// assignment row of a post.
func (db *DB) MarkAssignmentsFailed(ctx context.Context, postID int64, reason string) error {
	if len(reason) > models.FailureReasonMax {
		reason = reason[:models.FailureReasonMax]
	}
	_, err := db.ExecContext(ctx, `
        UPDATE platform_assignments
        SET status = ?, error = ?, updated_at = ?
        WHERE post_id = ?`,
		models.AssignmentFailed, reason, time.Now().UTC(), postID)
	if err != nil {
		return fmt.Errorf("failed to mark assignments failed: %w", err)
	}
	return nil
}
