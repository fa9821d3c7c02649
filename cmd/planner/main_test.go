package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/activity-planner/internal/application"
	"github.com/example/activity-planner/internal/config"
	"github.com/example/activity-planner/internal/persistence/sqlite"
	"github.com/example/activity-planner/internal/recurrence"
	"github.com/example/activity-planner/internal/storage"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const weeklyFridays = `{"pattern":"weekly","weekly":{"days":[5]},"end_after":3}`

func TestExpandCommand(t *testing.T) {
	t.Parallel()

	rule := writeFile(t, "rule.json", weeklyFridays)
	out, err := execute(t, "", "expand", "--rule", rule,
		"--start", "2026-03-13T09:00:00+11:00", "--end", "2026-03-13T15:00:00+11:00")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4, out)
	assert.Equal(t, recurrence.Describe(recurrence.Rule{
		Pattern:  recurrence.PatternWeekly,
		Weekly:   &recurrence.WeeklyRule{Days: []time.Weekday{time.Friday}},
		EndAfter: 3,
	}), lines[0])
	assert.Equal(t, "  Fri 13 Mar 2026, 9:00am - 3:00pm", lines[1])
	assert.Equal(t, "  Fri 27 Mar 2026, 9:00am - 3:00pm", lines[3])
}

func TestExpandCommand_JSONFromStdin(t *testing.T) {
	t.Parallel()

	out, err := execute(t, weeklyFridays, "expand", "--rule", "-", "--json", "--timezone", "UTC",
		"--start", "2026-03-13T09:00:00Z", "--end", "2026-03-13T15:00:00Z")
	require.NoError(t, err)

	var expansion recurrence.Expansion
	require.NoError(t, json.Unmarshal([]byte(out), &expansion))
	require.Len(t, expansion.Occurrences, 3)
	assert.True(t, expansion.Occurrences[2].Start.Equal(time.Date(2026, 3, 27, 9, 0, 0, 0, time.UTC)))
}

func TestExpandCommand_Errors(t *testing.T) {
	t.Parallel()

	rule := writeFile(t, "rule.json", `{"pattern":"daily","daily":{"interval":1}}`)
	_, err := execute(t, "", "expand", "--rule", rule,
		"--start", "2026-03-13T09:00:00Z", "--end", "2026-03-15T09:00:00Z")
	assert.True(t, errors.Is(err, recurrence.ErrInvalidRule), "got %v", err)

	_, err = execute(t, "", "expand", "--rule", rule, "--start", "friday", "--end", "2026-03-15T09:00:00Z")
	assert.ErrorContains(t, err, "start")

	_, err = execute(t, "", "expand", "--start", "2026-03-13T09:00:00Z", "--end", "2026-03-13T10:00:00Z")
	assert.Error(t, err, "--rule is required")
}

func TestMigrateAndLoadUsers(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "planner.db")
	t.Setenv("PLANNER_SQLITE_DSN", dsn)

	out, err := execute(t, "", "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 002 (2 applied, 0 pending)")

	staff := writeFile(t, "staff.yaml", `
users:
  - username: Teacher
    first_name: Tess
    last_name: Teacher
    email: teacher@school.example
  - username: admin
    email: admin@school.example
    admin: true
`)
	out, err = execute(t, "", "users", "load", staff)
	require.NoError(t, err)
	assert.Equal(t, "loaded 2 users\n", out)

	db, err := sqlite.Open(context.Background(), sqlite.DefaultConfig(dsn), nil)
	require.NoError(t, err)
	defer db.Close()
	store := storage.NewStore(sqlite.NewStore(db))

	teacher, err := store.GetUser(context.Background(), "teacher")
	require.NoError(t, err)
	assert.Equal(t, "Tess Teacher", teacher.FullName())
	admin, err := store.GetUser(context.Background(), "admin")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)

	bad := writeFile(t, "bad.yaml", "users:\n  - first_name: Nobody\n")
	_, err = execute(t, "", "users", "load", bad)
	assert.ErrorContains(t, err, "username is required")
}

func TestServeHandler_EndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, sqlite.DefaultConfig(filepath.Join(t.TempDir(), "planner.db")), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := storage.NewStore(sqlite.NewStore(db))
	for _, u := range []application.User{
		{Username: "teacher", FirstName: "Tess", LastName: "Teacher", Email: "teacher@school.example"},
		{Username: "hod.science", FirstName: "Hana", LastName: "Head", Email: "hod.science@school.example"},
		{Username: "senior.admin", FirstName: "Sam", LastName: "Admin", Email: "senior.admin@school.example"},
	} {
		require.NoError(t, store.UpsertUser(ctx, u))
	}

	cfg := config.Config{
		Location:        time.FixedZone("AEDT", 11*3600),
		StaticApprovers: map[string][]string{"senior_hod": {"hod.science"}},
		AppName:         "Activity Planner",
		BaseURL:         "https://planner.school.example",
		FromEmail:       mail.Address{Name: "Activity Planner", Address: "planner@school.example"},
	}
	var console bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := buildApp(ctx, cfg, db, &console, logger)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	server := httptest.NewServer(newHandler(a, cfg, logger))
	t.Cleanup(server.Close)

	send := func(user, method, path, body string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, server.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		if user != "" {
			req.Header.Set("X-Remote-User", user)
		}
		resp, err := server.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := send("", http.MethodGet, "/activities", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = send("teacher", http.MethodPost, "/activities", `{"activityname":"Science museum","activitytype":"excursion","campus":"senior","timestart":"2026-03-20T09:00:00+11:00","timeend":"2026-03-20T15:00:00+11:00","staffincharge":"teacher","submit":true}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Activity struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"activity"`
		Workflow struct {
			StepName string `json:"stepname"`
		} `json:"workflow"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "inreview", created.Activity.Status)
	assert.Equal(t, "Head of department", created.Workflow.StepName)
	assert.Contains(t, console.String(), "hod.science@school.example")
	assert.Contains(t, console.String(), "Open the activity: https://planner.school.example/activities/"+created.Activity.ID)
	assert.Contains(t, console.String(), "From: \"Activity Planner\" <planner@school.example>")

	resp = send("hod.science", http.MethodGet, "/activities/"+created.Activity.ID+"/workflow", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var steps []struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		CanApprove bool   `json:"can_approve"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&steps))
	require.NotEmpty(t, steps)
	assert.Equal(t, "senior_hod", steps[0].Type)
	assert.True(t, steps[0].CanApprove)

	resp = send("hod.science", http.MethodPost, "/activities/"+created.Activity.ID+"/approvals/"+steps[0].ID, `{"status":"approved"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
