// Package messaging delivers replies to customers over WhatsApp or SMS.
package messaging

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/wwwzy/sweepchat/internal/config"
)

// Sender delivers one text message to a recipient.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// New returns the sender configured in cfg.
func New(cfg config.MessagingConfig, log logrus.FieldLogger) (Sender, error) {
	switch cfg.Provider {
	case config.MessagingTwilio:
		return NewTwilio(TwilioConfig{
			AccountSID: cfg.AccountSID,
			AuthToken:  cfg.AuthToken,
			From:       cfg.FromNumber,
			WhatsApp:   cfg.Channel == config.ChannelWhatsApp,
			BaseURL:    cfg.BaseURL,
			Timeout:    cfg.Timeout,
		}, nil)
	case config.MessagingLog, "":
		return &LogSender{Log: log}, nil
	default:
		return nil, fmt.Errorf("unknown messaging provider %q", cfg.Provider)
	}
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	Log logrus.FieldLogger
}

func (s *LogSender) Send(_ context.Context, to, body string) error {
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{"to": to, "body": body}).Info("outbound message")
	return nil
}

// Notifier is the best-effort outbound boundary: failures are logged, never returned.
type Notifier struct {
	sender Sender
	log    logrus.FieldLogger
}

func NewNotifier(sender Sender, log logrus.FieldLogger) *Notifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Notifier{sender: sender, log: log}
}

// Notify sends body to the recipient and reports whether it was delivered.
func (n *Notifier) Notify(ctx context.Context, to, body string) bool {
	if n == nil || n.sender == nil {
		return false
	}
	if err := n.sender.Send(ctx, to, body); err != nil {
		n.log.WithError(err).WithField("to", to).Error("send message failed")
		return false
	}
	n.log.WithField("to", to).Info("message sent")
	return true
}
