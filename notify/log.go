package notify

import (
	"context"

	auth "github.com/goliatone/go-cms-auth"
	"github.com/sirupsen/logrus"
)

// LogDispatcher writes emails to the log for local development.
// The link carries the token and is never logged.
type LogDispatcher struct {
	logger  *logrus.Logger
	baseURL string
}

var _ auth.EmailDispatcher = (*LogDispatcher)(nil)

func NewLogDispatcher(logger *logrus.Logger, baseURL string) *LogDispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogDispatcher{logger: logger, baseURL: baseURL}
}

func (d *LogDispatcher) Send(_ context.Context, to string, template auth.EmailTemplate, token string) error {
	msg, key, err := buildMessage(d.baseURL, to, template, token)
	if err != nil {
		return err
	}

	d.logger.WithFields(logrus.Fields{
		"to":       msg.To,
		"template": string(msg.Template),
		"subject":  msg.Subject,
		"key":      key,
	}).Info("email queued")
	return nil
}
