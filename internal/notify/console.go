package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
)

// ConsoleSender writes messages to w instead of delivering them. It is the
// sender used in development.
type ConsoleSender struct {
	mu     sync.Mutex
	w      io.Writer
	from   mail.Address
	logger *slog.Logger
}

// NewConsoleSender writes to w.
func NewConsoleSender(w io.Writer, from mail.Address, logger *slog.Logger) *ConsoleSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleSender{w: w, from: from, logger: logger}
}

// Send prints msg as a plain text email.
func (c *ConsoleSender) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	body := new(strings.Builder)
	_, _ = fmt.Fprintf(body, "From: %s\r\n", c.from.String())
	_, _ = fmt.Fprintf(body, "To: %s\r\n", joinAddresses(msg.To))
	if len(msg.Bcc) > 0 {
		_, _ = fmt.Fprintf(body, "BCC: %s\r\n", joinAddresses(msg.Bcc))
	}
	_, _ = fmt.Fprintf(body, "Subject: %s\r\n\r\n", msg.Subject)
	_, _ = fmt.Fprint(body, msg.Text)

	if _, err := io.WriteString(c.w, body.String()+"\r\n"); err != nil {
		return fmt.Errorf("console sender: %w", err)
	}
	c.logger.DebugContext(ctx, "email written to console", "kind", msg.Kind, "to", joinAddresses(msg.To))
	return nil
}

func joinAddresses(addrs []mail.Address) string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return strings.Join(out, ", ")
}

// Recorder keeps sent messages in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Send records msg.
func (r *Recorder) Send(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}
