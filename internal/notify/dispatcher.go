package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/example/activity-planner/internal/application"
)

// DispatcherOptions configure a Dispatcher.
type DispatcherOptions struct {
	Sender  Sender
	AppName string
	// BaseURL prefixes activity links. Links are omitted when empty.
	BaseURL  string
	Location *time.Location
	Logger   *slog.Logger
}

// Dispatcher renders workflow notifications and hands them to a Sender.
type Dispatcher struct {
	sender   Sender
	appName  string
	baseURL  string
	loc      *time.Location
	logger   *slog.Logger
	renderer *renderer
}

var _ application.Notifier = (*Dispatcher)(nil)

// NewDispatcher constructs a dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Sender == nil {
		return nil, errors.New("notify: sender is required")
	}
	if opts.AppName == "" {
		opts.AppName = "Activity Planner"
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	d := &Dispatcher{
		sender:   opts.Sender,
		appName:  opts.AppName,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		loc:      opts.Location,
		logger:   opts.Logger,
		renderer: &renderer{},
	}
	if err := d.renderer.load(); err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	return d, nil
}

// Notify renders n and sends it. Recipients without an address are skipped.
func (d *Dispatcher) Notify(ctx context.Context, n application.Notification) error {
	msg, err := d.Message(n)
	if err != nil {
		return err
	}

	logger := d.logger.With("kind", string(n.Kind), "recipient", n.Recipient.Username, "activity_id", n.Activity.ID)
	if !msg.HasRecipients() {
		logger.DebugContext(ctx, "notification skipped, recipient has no address")
		return nil
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send %s: %w", n.Kind, err)
	}
	logger.DebugContext(ctx, "notification sent")
	return nil
}

// Message renders n without sending it.
func (d *Dispatcher) Message(n application.Notification) (Message, error) {
	subject, text, html, err := d.renderer.render(n, d.appName, d.link(n.Activity.ID), d.loc)
	if err != nil {
		return Message{}, fmt.Errorf("notify: %w", err)
	}

	msg := Message{
		Subject: subject,
		Text:    text,
		HTML:    html,
		Kind:    string(n.Kind),
	}
	for _, email := range n.Recipient.Emails {
		if addr, ok := parseAddress(n.Recipient.Name, email); ok {
			msg.To = append(msg.To, addr)
		}
	}
	for _, email := range n.Bcc {
		if addr, ok := parseAddress("", email); ok {
			msg.Bcc = append(msg.Bcc, addr)
		}
	}
	return msg, nil
}

func (d *Dispatcher) link(activityID string) string {
	if d.baseURL == "" || activityID == "" {
		return ""
	}
	return d.baseURL + "/activities/" + activityID
}

func parseAddress(name, email string) (mail.Address, bool) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return mail.Address{}, false
	}
	if addr.Name == "" {
		addr.Name = name
	}
	return *addr, true
}
