package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltmpl "html/template"
	"strings"
	"sync"
	texttmpl "text/template"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/example/activity-planner/internal/application"
	"github.com/example/activity-planner/internal/workflow"
)

//go:embed templates/*
var templateFS embed.FS

const timeLayout = "Mon 2 Jan 2006, 3:04pm"

// Diffs are rendered for multi-line values or values longer than this.
const diffThreshold = 80

var subjects = map[workflow.Kind]string{
	workflow.KindApprovalRequired:        "Approval required: %s",
	workflow.KindApproverNominated:       "You have been nominated to approve: %s",
	workflow.KindStatusChanged:           "Status changed: %s",
	workflow.KindActivityApproved:        "Approved: %s",
	workflow.KindApprovalRejected:        "Approval rejected: %s",
	workflow.KindApprovedActivityChanged: "Approved activity changed: %s",
}

var fieldLabels = map[string]string{
	workflow.FieldActivityName:  "Name",
	workflow.FieldDescription:   "Description",
	workflow.FieldLocation:      "Location",
	workflow.FieldTransport:     "Transport",
	workflow.FieldCost:          "Cost",
	workflow.FieldTimeStart:     "Start",
	workflow.FieldTimeEnd:       "End",
	workflow.FieldCampus:        "Campus",
	workflow.FieldActivityType:  "Activity type",
	workflow.FieldStaffInCharge: "Staff in charge",
	workflow.FieldPlanners:      "Planners",
	workflow.FieldAssessment:    "Assessment",
}

var statusNames = map[application.ActivityStatus]string{
	application.StatusAutosave:  "an autosaved draft",
	application.StatusDraft:     "a draft",
	application.StatusInReview:  "in review",
	application.StatusApproved:  "approved",
	application.StatusCancelled: "cancelled",
}

type renderer struct {
	once sync.Once
	err  error
	text map[workflow.Kind]*texttmpl.Template
	html *htmltmpl.Template
}

func (r *renderer) load() error {
	r.once.Do(func() {
		r.text = make(map[workflow.Kind]*texttmpl.Template, len(subjects))
		for kind := range subjects {
			tmpl, err := texttmpl.New(string(kind)).Option("missingkey=error").ParseFS(templateFS, "templates/"+string(kind)+".txt")
			if err != nil {
				r.err = fmt.Errorf("parse %s template: %w", kind, err)
				return
			}
			r.text[kind] = tmpl
		}
		r.html, r.err = htmltmpl.ParseFS(templateFS, "templates/_base.gohtml")
	})
	return r.err
}

type changeView struct {
	Label  string
	Before string
	After  string
	Diff   string
}

type bodyData struct {
	Recipient string
	Activity  application.Activity
	StepName  string
	Actor     string
	Status    string
	Start     string
	End       string
	Changes   []changeView
}

type pageData struct {
	AppName string
	Text    string
	Link    string
}

// render produces the subject and bodies for n.
func (r *renderer) render(n application.Notification, appName, link string, loc *time.Location) (subject, text, html string, err error) {
	if err = r.load(); err != nil {
		return
	}
	tmpl, ok := r.text[n.Kind]
	if !ok {
		err = fmt.Errorf("no template for notification kind %q", n.Kind)
		return
	}

	data := bodyData{
		Recipient: n.Recipient.Name,
		Activity:  n.Activity,
		StepName:  n.StepName,
		Actor:     n.Actor,
		Status:    statusNames[n.Activity.Status],
		Start:     formatTime(n.Activity.TimeStart, loc),
		End:       formatTime(n.Activity.TimeEnd, loc),
		Changes:   changeViews(n.Changes),
	}
	if data.Recipient == "" {
		data.Recipient = n.Recipient.Username
	}

	var buf bytes.Buffer
	if err = tmpl.ExecuteTemplate(&buf, "body", data); err != nil {
		err = fmt.Errorf("render %s text: %w", n.Kind, err)
		return
	}
	text = strings.TrimSpace(buf.String()) + "\n"

	buf.Reset()
	if err = r.html.ExecuteTemplate(&buf, "base", pageData{AppName: appName, Text: text, Link: link}); err != nil {
		err = fmt.Errorf("render %s html: %w", n.Kind, err)
		return
	}
	html = buf.String()

	if link != "" {
		text += "\nOpen the activity: " + link + "\n"
	}

	subject = fmt.Sprintf(subjects[n.Kind], n.Activity.Name)
	return
}

func changeViews(changes []application.FieldChange) []changeView {
	if len(changes) == 0 {
		return nil
	}
	out := make([]changeView, 0, len(changes))
	for _, c := range changes {
		label, ok := fieldLabels[c.Field]
		if !ok {
			label = c.Field
		}
		view := changeView{Label: label, Before: c.Before, After: c.After}
		if needsDiff(c.Before) || needsDiff(c.After) {
			view.Diff = lineDiff(c.Field, c.Before, c.After)
		}
		out = append(out, view)
	}
	return out
}

func needsDiff(value string) bool {
	return strings.Contains(value, "\n") || len(value) > diffThreshold
}

// lineDiff renders a unified diff of two text values.
func lineDiff(field, before, after string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(ensureNewline(before)),
		B:        difflib.SplitLines(ensureNewline(after)),
		FromFile: field + " (before)",
		ToFile:   field + " (after)",
		Context:  1,
	})
	if err != nil {
		return ""
	}
	return diff
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func formatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(timeLayout)
}
