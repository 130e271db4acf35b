package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	auth "github.com/goliatone/go-cms-auth"
)

const (
	RoutingKeyVerifyEmail   = "email.verify"
	RoutingKeyResetPassword = "email.reset_password"
)

// EmailMessage is the payload consumed by the mail worker
type EmailMessage struct {
	To         string             `json:"to"`
	Template   auth.EmailTemplate `json:"template"`
	Subject    string             `json:"subject"`
	Link       string             `json:"link"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// JSONPublisher publishes a value under a routing key
type JSONPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// AMQPDispatcher queues transactional emails. Delivery happens in a
// separate worker so the auth flows never wait on SMTP.
type AMQPDispatcher struct {
	publisher JSONPublisher
	baseURL   string
	now       func() time.Time
}

var _ auth.EmailDispatcher = (*AMQPDispatcher)(nil)

func NewAMQPDispatcher(publisher JSONPublisher, baseURL string) *AMQPDispatcher {
	return &AMQPDispatcher{
		publisher: publisher,
		baseURL:   strings.TrimRight(baseURL, "/"),
		now:       time.Now,
	}
}

func (d *AMQPDispatcher) Send(ctx context.Context, to string, template auth.EmailTemplate, token string) error {
	msg, key, err := buildMessage(d.baseURL, to, template, token)
	if err != nil {
		return err
	}
	msg.OccurredAt = d.now().UTC()

	if err := d.publisher.PublishJSON(ctx, key, msg); err != nil {
		return fmt.Errorf("publish %s email: %w", template, err)
	}
	return nil
}

func buildMessage(baseURL, to string, template auth.EmailTemplate, token string) (EmailMessage, string, error) {
	var (
		path    string
		key     string
		subject string
	)
	switch template {
	case auth.EmailTemplateVerifyEmail:
		path, key, subject = "/verify-email", RoutingKeyVerifyEmail, "Email Verification"
	case auth.EmailTemplateResetPassword:
		path, key, subject = "/reset-password", RoutingKeyResetPassword, "Reset password"
	default:
		return EmailMessage{}, "", fmt.Errorf("unknown email template %q", template)
	}

	return EmailMessage{
		To:       to,
		Template: template,
		Subject:  subject,
		Link:     baseURL + path + "?token=" + url.QueryEscape(token),
	}, key, nil
}
