package sqlite

import (
	"context"
	"fmt"

	"github.com/example/activity-planner/internal/persistence"
)

// UpsertRecurrence creates or replaces the recurrence rule of an activity.
func (s *Store) UpsertRecurrence(ctx context.Context, record persistence.RecurrenceRecord) error {
	if record.ActivityID == "" || record.Pattern == "" || len(record.Rule) == 0 {
		return persistence.ErrConstraintViolation
	}

	now := formatTime(s.timestamp())
	query := `
		INSERT INTO activity_recurrences (activity_id, pattern, rule, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(activity_id) DO UPDATE SET
			pattern = excluded.pattern,
			rule = excluded.rule,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, record.ActivityID, record.Pattern, string(record.Rule), now, now)
	return mapError(err)
}

// GetRecurrence retrieves the recurrence rule owned by an activity.
func (s *Store) GetRecurrence(ctx context.Context, activityID string) (persistence.RecurrenceRecord, error) {
	var (
		record               persistence.RecurrenceRecord
		rule                 string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT activity_id, pattern, rule, created_at, updated_at FROM activity_recurrences WHERE activity_id = ?`,
		activityID).Scan(&record.ActivityID, &record.Pattern, &rule, &createdAt, &updatedAt)
	if err != nil {
		return persistence.RecurrenceRecord{}, mapError(err)
	}

	record.Rule = []byte(rule)
	if record.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.RecurrenceRecord{}, err
	}
	if record.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.RecurrenceRecord{}, err
	}
	return record, nil
}

// DeleteRecurrence removes an activity's rule and all of its occurrences.
func (s *Store) DeleteRecurrence(ctx context.Context, activityID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM activity_occurrences WHERE activity_id = ?`, activityID); err != nil {
		return mapError(err)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM activity_recurrences WHERE activity_id = ?`, activityID)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(result)
}

// ReplaceOccurrences deletes every stored occurrence of the activity and
// inserts the given set.
func (s *Store) ReplaceOccurrences(ctx context.Context, activityID string, occurrences []persistence.Occurrence) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM activity_occurrences WHERE activity_id = ?`, activityID); err != nil {
		return mapError(err)
	}

	for _, occ := range occurrences {
		if occ.ID == "" {
			return persistence.ErrConstraintViolation
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO activity_occurrences (id, activity_id, time_start, time_end) VALUES (?, ?, ?, ?)`,
			occ.ID, activityID, formatTime(occ.Start), formatTime(occ.End)); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// ListOccurrences returns an activity's occurrences in chronological order.
func (s *Store) ListOccurrences(ctx context.Context, activityID string) ([]persistence.Occurrence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, activity_id, time_start, time_end FROM activity_occurrences
		 WHERE activity_id = ? ORDER BY time_start, id`, activityID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	occurrences := []persistence.Occurrence{}
	for rows.Next() {
		var (
			occ        persistence.Occurrence
			start, end string
		)
		if err := rows.Scan(&occ.ID, &occ.ActivityID, &start, &end); err != nil {
			return nil, fmt.Errorf("scan occurrence: %w", err)
		}
		if occ.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if occ.End, err = parseTime(end); err != nil {
			return nil, err
		}
		occurrences = append(occurrences, occ)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate occurrences: %w", err)
	}
	return occurrences, nil
}
