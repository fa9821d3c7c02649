// Package notify turns workflow notifications into emails and delivers them.
package notify

import (
	"context"
	"net/mail"
)

// Message is a rendered email.
type Message struct {
	To      []mail.Address
	Bcc     []mail.Address
	Subject string
	Text    string
	HTML    string
	// Kind is the notification kind the message was rendered from.
	Kind string
}

// HasRecipients reports whether the message can be delivered.
func (m Message) HasRecipients() bool { return len(m.To) > 0 }

// Sender delivers rendered messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
