package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type querierStub struct {
	rows  []string
	err   error
	query string
	args  []any
}

func (q *querierStub) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	q.query = query
	q.args = args
	if q.err != nil {
		return q.err
	}
	out, ok := dest.(*[]string)
	if !ok {
		return errors.New("unexpected destination")
	}
	*out = append(*out, q.rows...)
	return nil
}

func TestSQLDirectory_ResolveApprovers(t *testing.T) {
	t.Parallel()

	db := &querierStub{rows: []string{" HOD.Science ", "hod.science", "", "deputy.hod"}}
	dir, err := New(db, Options{Procedure: "staff.step_approvers"})
	require.NoError(t, err)

	got, err := dir.ResolveApprovers(context.Background(), "senior_hod", "teacher")
	require.NoError(t, err)

	assert.Equal(t, []string{"hod.science", "deputy.hod"}, got)
	assert.Equal(t, "SELECT username FROM staff.step_approvers($1, $2)", db.query)
	assert.Equal(t, []any{"senior_hod", "teacher"}, db.args)
}

func TestSQLDirectory_EmptyResultIsKnown(t *testing.T) {
	t.Parallel()

	dir, err := New(&querierStub{}, Options{Procedure: "step_approvers"})
	require.NoError(t, err)

	got, err := dir.ResolveApprovers(context.Background(), "senior_hod", "teacher")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLDirectory_FailureIsUnavailable(t *testing.T) {
	t.Parallel()

	dir, err := New(&querierStub{err: errors.New("connection reset")}, Options{Procedure: "step_approvers"})
	require.NoError(t, err)

	_, err = dir.ResolveApprovers(context.Background(), "senior_hod", "teacher")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "connection reset")

	var nilDir *SQLDirectory
	_, err = nilDir.ResolveApprovers(context.Background(), "senior_hod", "teacher")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNew_RejectsUnsafeProcedure(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "approvers; DROP TABLE staff", "a.b.c", "1abc"} {
		_, err := New(&querierStub{}, Options{Procedure: name})
		assert.Error(t, err, "procedure %q", name)
	}

	_, err := New(nil, Options{Procedure: "step_approvers"})
	assert.Error(t, err)
}

func TestOpen_RequiresDSN(t *testing.T) {
	t.Parallel()

	_, _, err := Open(context.Background(), "  ", Options{Procedure: "step_approvers"})
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	t.Parallel()

	source := map[string][]string{"senior_hod": {"HOD.Science", "hod.science"}}
	dir := NewStatic(source)
	source["senior_hod"][0] = "changed"

	got, err := dir.ResolveApprovers(context.Background(), "senior_hod", "anyone")
	require.NoError(t, err)
	assert.Equal(t, []string{"hod.science"}, got)

	got[0] = "mutated"
	again, err := dir.ResolveApprovers(context.Background(), "senior_hod", "anyone")
	require.NoError(t, err)
	assert.Equal(t, []string{"hod.science"}, again)

	none, err := dir.ResolveApprovers(context.Background(), "primary_hod", "anyone")
	require.NoError(t, err)
	assert.Empty(t, none)
}
