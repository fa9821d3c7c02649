package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/activity-planner/internal/persistence"
)

const activityColumns = `id, idnumber, activity_name, description, location, transport, cost,
	activity_type, campus, time_start, time_end, creator, staff_in_charge, assessment_id,
	status, step_name, recurring, deleted, created_at, updated_at`

// CreateActivity inserts an activity together with its planners.
func (s *Store) CreateActivity(ctx context.Context, activity persistence.Activity) error {
	if activity.ID == "" || activity.IDNumber == "" {
		return persistence.ErrConstraintViolation
	}

	now := s.timestamp()
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = now
	}
	activity.UpdatedAt = now

	query := `INSERT INTO activities (` + activityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		activity.ID,
		activity.IDNumber,
		activity.Name,
		activity.Description,
		activity.Location,
		activity.Transport,
		activity.Cost,
		activity.ActivityType,
		activity.Campus,
		formatTime(activity.TimeStart),
		formatTime(activity.TimeEnd),
		activity.Creator,
		activity.StaffInCharge,
		nullString(activity.AssessmentID),
		activity.Status,
		activity.StepName,
		activity.Recurring,
		activity.Deleted,
		formatTime(activity.CreatedAt),
		formatTime(activity.UpdatedAt),
	)
	if err != nil {
		return mapError(err)
	}

	return s.replacePlanners(ctx, activity.ID, activity.Planners)
}

// UpdateActivity overwrites the mutable columns and the planner list.
func (s *Store) UpdateActivity(ctx context.Context, activity persistence.Activity) error {
	if activity.ID == "" {
		return persistence.ErrNotFound
	}

	query := `
		UPDATE activities
		SET idnumber = ?, activity_name = ?, description = ?, location = ?, transport = ?, cost = ?,
			activity_type = ?, campus = ?, time_start = ?, time_end = ?, staff_in_charge = ?,
			assessment_id = ?, status = ?, step_name = ?, recurring = ?, deleted = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		activity.IDNumber,
		activity.Name,
		activity.Description,
		activity.Location,
		activity.Transport,
		activity.Cost,
		activity.ActivityType,
		activity.Campus,
		formatTime(activity.TimeStart),
		formatTime(activity.TimeEnd),
		activity.StaffInCharge,
		nullString(activity.AssessmentID),
		activity.Status,
		activity.StepName,
		activity.Recurring,
		activity.Deleted,
		formatTime(s.timestamp()),
		activity.ID,
	)
	if err != nil {
		return mapError(err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	return s.replacePlanners(ctx, activity.ID, activity.Planners)
}

// UpdateActivityStatus sets the status code and current step name only.
func (s *Store) UpdateActivityStatus(ctx context.Context, id string, status int, stepName string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE activities SET status = ?, step_name = ?, updated_at = ? WHERE id = ?`,
		status, stepName, formatTime(s.timestamp()), id)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(result)
}

// GetActivity retrieves an activity by ID, including soft-deleted rows.
func (s *Store) GetActivity(ctx context.Context, id string) (persistence.Activity, error) {
	if id == "" {
		return persistence.Activity{}, persistence.ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = ?`, id)
	activity, err := scanActivity(row.Scan)
	if err != nil {
		return persistence.Activity{}, mapError(err)
	}

	planners, err := s.listPlanners(ctx, []string{id})
	if err != nil {
		return persistence.Activity{}, err
	}
	activity.Planners = planners[id]
	return activity, nil
}

// ListActivities returns activities matching filter ordered by start time.
func (s *Store) ListActivities(ctx context.Context, filter persistence.ActivityFilter) ([]persistence.Activity, error) {
	var (
		clauses []string
		args    []any
	)
	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted = 0")
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if filter.Campus != "" {
		clauses = append(clauses, "campus = ?")
		args = append(args, filter.Campus)
	}
	if filter.StartsAfter != nil {
		clauses = append(clauses, "time_start >= ?")
		args = append(args, formatTime(*filter.StartsAfter))
	}
	if filter.EndsBefore != nil {
		clauses = append(clauses, "time_end <= ?")
		args = append(args, formatTime(*filter.EndsBefore))
	}

	query := `SELECT ` + activityColumns + ` FROM activities`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY time_start, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}

	activities := []persistence.Activity{}
	for rows.Next() {
		activity, err := scanActivity(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		activities = append(activities, activity)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	rows.Close()

	if len(activities) == 0 {
		return activities, nil
	}

	ids := make([]string, len(activities))
	for i, a := range activities {
		ids[i] = a.ID
	}
	planners, err := s.listPlanners(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range activities {
		activities[i].Planners = planners[activities[i].ID]
	}
	return activities, nil
}

func (s *Store) replacePlanners(ctx context.Context, activityID string, planners []string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM activity_planners WHERE activity_id = ?`, activityID); err != nil {
		return mapError(err)
	}

	seen := make(map[string]struct{}, len(planners))
	position := 0
	for _, username := range planners {
		username = strings.TrimSpace(username)
		if username == "" {
			continue
		}
		if _, dup := seen[username]; dup {
			continue
		}
		seen[username] = struct{}{}

		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO activity_planners (activity_id, username, position) VALUES (?, ?, ?)`,
			activityID, username, position); err != nil {
			return mapError(err)
		}
		position++
	}
	return nil
}

func (s *Store) listPlanners(ctx context.Context, activityIDs []string) (map[string][]string, error) {
	args := make([]any, len(activityIDs))
	for i, id := range activityIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT activity_id, username FROM activity_planners
		 WHERE activity_id IN (`+placeholders(len(activityIDs))+`)
		 ORDER BY activity_id, position`, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	planners := make(map[string][]string, len(activityIDs))
	for rows.Next() {
		var activityID, username string
		if err := rows.Scan(&activityID, &username); err != nil {
			return nil, fmt.Errorf("scan planner: %w", err)
		}
		planners[activityID] = append(planners[activityID], username)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate planners: %w", err)
	}
	return planners, nil
}

func scanActivity(scan func(dest ...any) error) (persistence.Activity, error) {
	var (
		a                                        persistence.Activity
		timeStart, timeEnd, createdAt, updatedAt string
		assessmentID                             sql.NullString
	)
	err := scan(
		&a.ID,
		&a.IDNumber,
		&a.Name,
		&a.Description,
		&a.Location,
		&a.Transport,
		&a.Cost,
		&a.ActivityType,
		&a.Campus,
		&timeStart,
		&timeEnd,
		&a.Creator,
		&a.StaffInCharge,
		&assessmentID,
		&a.Status,
		&a.StepName,
		&a.Recurring,
		&a.Deleted,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return persistence.Activity{}, err
	}

	a.AssessmentID = stringPtr(assessmentID)
	if a.TimeStart, err = parseTime(timeStart); err != nil {
		return persistence.Activity{}, err
	}
	if a.TimeEnd, err = parseTime(timeEnd); err != nil {
		return persistence.Activity{}, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Activity{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Activity{}, err
	}
	return a, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
