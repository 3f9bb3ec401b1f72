package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/victorgomez09/sentinel/internal/auth/models"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Alerter notifies operators of a severe security event.
type Alerter interface {
	Alert(ctx context.Context, ev models.SecurityEvent) error
}

// AlertingConfig holds SMTP settings for alert emails.
type AlertingConfig struct {
	SMTPHost  string
	SMTPPort  int
	FromEmail string
	FromPass  string
	ToEmails  []string
}

type EmailAlerter struct {
	client    *mail.Client
	fromEmail string
	toEmails  []string
	logger    *zap.Logger
}

func NewEmailAlerter(cfg AlertingConfig, logger *zap.Logger) (*EmailAlerter, error) {
	client, err := mail.NewClient(cfg.SMTPHost,
		mail.WithPort(cfg.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.FromEmail),
		mail.WithPassword(cfg.FromPass),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return &EmailAlerter{
		client:    client,
		fromEmail: cfg.FromEmail,
		toEmails:  cfg.ToEmails,
		logger:    logger,
	}, nil
}

func (e *EmailAlerter) Alert(ctx context.Context, ev models.SecurityEvent) error {
	msg := mail.NewMsg()
	if err := msg.From(e.fromEmail); err != nil {
		return fmt.Errorf("failed to set From address: %w", err)
	}

	if err := msg.To(e.toEmails...); err != nil {
		return fmt.Errorf("failed to set To address: %w", err)
	}

	msg.Subject(fmt.Sprintf("[%s] Security event %s", ev.Severity, ev.Type))
	msg.SetBodyString(mail.TypeTextPlain, FormatAlert(ev))

	if err := e.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	e.logger.Info("Security alert sent",
		zap.String("event_id", ev.ID),
		zap.Strings("recipients", e.toEmails))
	return nil
}

// FormatAlert renders the plain-text alert body.
func FormatAlert(ev models.SecurityEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event:    %s\n", ev.Type)
	fmt.Fprintf(&b, "Severity: %s\n", ev.Severity)
	fmt.Fprintf(&b, "Time:     %s\n", ev.At.Format(time.RFC3339))
	if ev.IP != "" {
		fmt.Fprintf(&b, "IP:       %s\n", ev.IP)
	}
	if ev.Username != "" {
		fmt.Fprintf(&b, "Username: %s\n", ev.Username)
	}

	if len(ev.Details) > 0 {
		keys := make([]string, 0, len(ev.Details))
		for k := range ev.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\nDetails:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, ev.Details[k])
		}
	}
	return b.String()
}

// NoopAlerter implements Alerter but does nothing
type NoopAlerter struct{}

func (n *NoopAlerter) Alert(ctx context.Context, ev models.SecurityEvent) error {
	return nil
}
