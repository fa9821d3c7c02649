// Package directory resolves the approvers of directory-backed workflow steps
// from the school's staff database.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrUnavailable reports that the directory could not be consulted. Callers
// treat the step's approvers as unknown rather than empty.
var ErrUnavailable = errors.New("directory: unavailable")

const defaultTimeout = 5 * time.Second

var procedurePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Querier is the part of *sqlx.DB the directory needs.
type Querier interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Options configure a SQLDirectory.
type Options struct {
	// Procedure is a set-returning function taking (step_type, staff_in_charge)
	// and yielding a username column.
	Procedure string
	Timeout   time.Duration
	Logger    *slog.Logger
}

// SQLDirectory looks approvers up through a stored function.
type SQLDirectory struct {
	db      Querier
	query   string
	timeout time.Duration
	logger  *slog.Logger
}

// Open connects to the Postgres staff database at dsn.
func Open(ctx context.Context, dsn string, opts Options) (*SQLDirectory, *sqlx.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, nil, fmt.Errorf("directory: dsn is required")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("directory: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, timeoutOrDefault(opts.Timeout))
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		// The engine copes with an unreachable directory, so a failed ping
		// only gets logged.
		loggerOrDefault(opts.Logger).WarnContext(ctx, "approver directory not reachable at startup", "error", err)
	}

	dir, err := New(db, opts)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return dir, db, nil
}

// New builds a directory over an existing connection.
func New(db Querier, opts Options) (*SQLDirectory, error) {
	if db == nil {
		return nil, fmt.Errorf("directory: db is required")
	}
	if !procedurePattern.MatchString(opts.Procedure) {
		return nil, fmt.Errorf("directory: invalid procedure name %q", opts.Procedure)
	}
	return &SQLDirectory{
		db:      db,
		query:   fmt.Sprintf("SELECT username FROM %s($1, $2)", opts.Procedure),
		timeout: timeoutOrDefault(opts.Timeout),
		logger:  loggerOrDefault(opts.Logger),
	}, nil
}

// ResolveApprovers returns the usernames the directory lists for stepType
// and staffInCharge, lowercased and deduplicated. Any failure wraps
// ErrUnavailable.
func (d *SQLDirectory) ResolveApprovers(ctx context.Context, stepType, staffInCharge string) ([]string, error) {
	if d == nil {
		return nil, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var rows []string
	if err := d.db.SelectContext(ctx, &rows, d.query, stepType, staffInCharge); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, stepType, err)
	}

	usernames := normalize(rows)
	d.logger.DebugContext(ctx, "approvers resolved", "step", stepType, "staff_in_charge", staffInCharge, "count", len(usernames))
	return usernames, nil
}

// Static serves approvers from a fixed table. It stands in for the staff
// database in development and when no directory is configured.
type Static struct {
	approvers map[string][]string
}

// NewStatic copies approvers, keyed by step type.
func NewStatic(approvers map[string][]string) *Static {
	copied := make(map[string][]string, len(approvers))
	for stepType, usernames := range approvers {
		copied[stepType] = normalize(usernames)
	}
	return &Static{approvers: copied}
}

// ResolveApprovers ignores staffInCharge.
func (s *Static) ResolveApprovers(ctx context.Context, stepType, staffInCharge string) ([]string, error) {
	if s == nil {
		return nil, ErrUnavailable
	}
	return append([]string(nil), s.approvers[stepType]...), nil
}

func normalize(usernames []string) []string {
	seen := make(map[string]struct{}, len(usernames))
	out := make([]string, 0, len(usernames))
	for _, u := range usernames {
		u = strings.ToLower(strings.TrimSpace(u))
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	return d
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
