package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGridSender delivers messages through the SendGrid v3 API.
type SendGridSender struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	host       string
	post       func(ctx context.Context, key, host string, body []byte) (int, string, error)
}

// NewSendGridSender builds a sender using apiKey and the from address.
func NewSendGridSender(apiKey string, from mail.Address, appName string) (*SendGridSender, error) {
	if apiKey == "" {
		return nil, errors.New("notify: sendgrid api key is required")
	}
	if from.Address == "" {
		return nil, errors.New("notify: from address is required")
	}
	s := &SendGridSender{
		key:  apiKey,
		from: sgmail.NewEmail(from.Name, from.Address),
		host: sendgridHost,
		post: postSendGrid,
	}
	if appName != "" {
		s.subjPrefix = "[" + appName + "] "
	}
	return s, nil
}

// Send posts msg to SendGrid.
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if !msg.HasRecipients() {
		return nil
	}
	status, body, err := s.post(ctx, s.key, s.host, sgmail.GetRequestBody(s.prepare(msg)))
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid: status %d: %s", status, body)
	}
	return nil
}

func (s *SendGridSender) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	for _, to := range msg.To {
		p.AddTos(sgmail.NewEmail(to.Name, to.Address))
	}
	for _, bcc := range msg.Bcc {
		p.AddBCCs(sgmail.NewEmail(bcc.Name, bcc.Address))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	if msg.HTML != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}
	if msg.Kind != "" {
		m.AddCategories(msg.Kind)
	}
	return m
}

func postSendGrid(ctx context.Context, key, host string, body []byte) (int, string, error) {
	req := sendgrid.GetRequest(key, sendgridEndpoint, host)
	req.Method = http.MethodPost
	req.Body = body

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return 0, "", err
	}
	return res.StatusCode, res.Body, nil
}
