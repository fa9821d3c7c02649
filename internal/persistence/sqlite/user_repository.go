package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/activity-planner/internal/persistence"
)

const userColumns = `username, first_name, last_name, email, is_admin, created_at, updated_at`

// UpsertUser inserts a user or refreshes the profile of an existing one.
func (s *Store) UpsertUser(ctx context.Context, user persistence.User) error {
	username := strings.TrimSpace(user.Username)
	if username == "" {
		return persistence.ErrConstraintViolation
	}

	now := formatTime(s.timestamp())
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			email = excluded.email,
			is_admin = excluded.is_admin,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		username,
		user.FirstName,
		user.LastName,
		strings.ToLower(strings.TrimSpace(user.Email)),
		user.IsAdmin,
		now,
		now,
	)
	return mapError(err)
}

// GetUser retrieves a user by username.
func (s *Store) GetUser(ctx context.Context, username string) (persistence.User, error) {
	if username == "" {
		return persistence.User{}, persistence.ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	user, err := scanUser(row.Scan)
	if err != nil {
		return persistence.User{}, mapError(err)
	}
	return user, nil
}

// ListUsers returns the known users among usernames, ordered by username.
// Unknown usernames are omitted.
func (s *Store) ListUsers(ctx context.Context, usernames []string) ([]persistence.User, error) {
	if len(usernames) == 0 {
		return []persistence.User{}, nil
	}

	placeholders := make([]string, len(usernames))
	args := make([]any, len(usernames))
	for i, u := range usernames {
		placeholders[i] = "?"
		args[i] = u
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username IN (`+strings.Join(placeholders, ", ")+`) ORDER BY username`,
		args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	users := []persistence.User{}
	for rows.Next() {
		user, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func scanUser(scan func(dest ...any) error) (persistence.User, error) {
	var (
		user                 persistence.User
		createdAt, updatedAt string
	)
	if err := scan(&user.Username, &user.FirstName, &user.LastName, &user.Email, &user.IsAdmin, &createdAt, &updatedAt); err != nil {
		return persistence.User{}, err
	}

	var err error
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.User{}, err
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.User{}, err
	}
	return user, nil
}
