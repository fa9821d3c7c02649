package application

import (
	"fmt"
	"testing"

	"github.com/example/activity-planner/internal/persistence"
	"github.com/example/activity-planner/internal/recurrence"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	empty := &ValidationError{}
	if got := empty.Error(); got != "validation failed" {
		t.Fatalf("expected generic message for empty error, got %q", got)
	}

	withFields := &ValidationError{FieldErrors: map[string]string{"timeend": "bad", "campus": "invalid"}}
	if got := withFields.Error(); got != "validation failed: campus, timeend" {
		t.Fatalf("expected sorted field list, got %q", got)
	}
}

func TestValidationError_HasErrors(t *testing.T) {
	t.Parallel()

	var nilErr *ValidationError
	if nilErr.HasErrors() {
		t.Fatalf("expected HasErrors to report false for nil error")
	}

	base := &ValidationError{}
	if base.HasErrors() {
		t.Fatalf("expected HasErrors to report false for empty error")
	}
	base.add("campus", "required")
	if !base.HasErrors() || base.FieldErrors["campus"] != "required" {
		t.Fatalf("expected add to record the field, got %#v", base.FieldErrors)
	}
}

func TestMapRepoError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   error
		want error
	}{
		{persistence.ErrNotFound, ErrNotFound},
		{fmt.Errorf("wrapped: %w", persistence.ErrDuplicate), ErrConflict},
		{persistence.ErrForeignKeyViolation, ErrNotFound},
	}
	for _, tc := range cases {
		if got := mapRepoError(tc.in); got != tc.want {
			t.Fatalf("mapRepoError(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if mapRepoError(nil) != nil {
		t.Fatalf("expected nil to stay nil")
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	cases := map[error]string{
		ErrUnauthorized:                  "unauthorized",
		fmt.Errorf("x: %w", ErrNotFound): "not_found",
		ErrInvalidTransition:             "invalid_transition",
		ErrConflict:                      "conflict",
		recurrence.ErrInvalidRule:        "invalid_rule",
		&ValidationError{}:               "validation",
		fmt.Errorf("boom"):               "unexpected",
	}
	for err, want := range cases {
		if got := ErrorKind(err); got != want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", err, got, want)
		}
	}
	if ErrorKind(nil) != "" {
		t.Fatalf("expected empty kind for nil")
	}
}
