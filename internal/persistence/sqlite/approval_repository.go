package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/activity-planner/internal/persistence"
)

const approvalColumns = `id, activity_id, type, description, sequence, status, username, nominated,
	skip, invalidated, actioned_at, created_at, updated_at`

// CreateApproval inserts a new approval row.
func (s *Store) CreateApproval(ctx context.Context, approval persistence.Approval) error {
	if approval.ID == "" || approval.ActivityID == "" || approval.Type == "" {
		return persistence.ErrConstraintViolation
	}

	now := s.timestamp()
	query := `INSERT INTO activity_approvals (` + approvalColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		approval.ID,
		approval.ActivityID,
		approval.Type,
		approval.Description,
		approval.Sequence,
		approval.Status,
		nullString(approval.Username),
		nullString(approval.Nominated),
		approval.Skip,
		approval.Invalidated,
		nullTime(approval.ActionedAt),
		formatTime(now),
		formatTime(now),
	)
	return mapError(err)
}

// UpdateApproval overwrites the mutable columns of an approval row.
func (s *Store) UpdateApproval(ctx context.Context, approval persistence.Approval) error {
	query := `
		UPDATE activity_approvals
		SET description = ?, sequence = ?, status = ?, username = ?, nominated = ?,
			skip = ?, invalidated = ?, actioned_at = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		approval.Description,
		approval.Sequence,
		approval.Status,
		nullString(approval.Username),
		nullString(approval.Nominated),
		approval.Skip,
		approval.Invalidated,
		nullTime(approval.ActionedAt),
		formatTime(s.timestamp()),
		approval.ID,
	)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(result)
}

// GetApproval retrieves an approval by ID.
func (s *Store) GetApproval(ctx context.Context, id string) (persistence.Approval, error) {
	if id == "" {
		return persistence.Approval{}, persistence.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM activity_approvals WHERE id = ?`, id)
	approval, err := scanApproval(row.Scan)
	if err != nil {
		return persistence.Approval{}, mapError(err)
	}
	return approval, nil
}

// ListApprovals returns an activity's approvals in sequence order.
func (s *Store) ListApprovals(ctx context.Context, activityID string, includeInvalidated bool) ([]persistence.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM activity_approvals WHERE activity_id = ?`
	if !includeInvalidated {
		query += ` AND invalidated = 0`
	}
	query += ` ORDER BY sequence, created_at, id`

	rows, err := s.db.QueryContext(ctx, query, activityID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	approvals := []persistence.Approval{}
	for rows.Next() {
		approval, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, approval)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return approvals, nil
}

// InvalidateApprovals flags every active approval of an activity as invalidated.
func (s *Store) InvalidateApprovals(ctx context.Context, activityID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE activity_approvals SET invalidated = 1, updated_at = ? WHERE activity_id = ? AND invalidated = 0`,
		formatTime(s.timestamp()), activityID)
	return mapError(err)
}

func scanApproval(scan func(dest ...any) error) (persistence.Approval, error) {
	var (
		a                    persistence.Approval
		username, nominated  sql.NullString
		actionedAt           sql.NullString
		createdAt, updatedAt string
	)
	err := scan(
		&a.ID,
		&a.ActivityID,
		&a.Type,
		&a.Description,
		&a.Sequence,
		&a.Status,
		&username,
		&nominated,
		&a.Skip,
		&a.Invalidated,
		&actionedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return persistence.Approval{}, err
	}

	a.Username = stringPtr(username)
	a.Nominated = stringPtr(nominated)
	if a.ActionedAt, err = timePtr(actionedAt); err != nil {
		return persistence.Approval{}, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Approval{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Approval{}, err
	}
	return a, nil
}
