package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gaveldrop/auction-backend/internal/infrastructure/config"
)

// Mailer delivers transactional mail to a user. Implementations are best
// effort; callers log failures and move on.
type Mailer interface {
	SendToUser(ctx context.Context, userID uuid.UUID, subject, body string) error
}

// AddressResolver maps a user id to a deliverable address. Account data
// lives outside this service, so resolution is injected.
type AddressResolver func(ctx context.Context, userID uuid.UUID) (string, bool)

// NewMailer returns the SMTP mailer when email is enabled and an address
// resolver is wired, otherwise a mailer that only logs. Without a resolver no
// mail is deliverable, so SMTP configuration alone is not enough.
func NewMailer(cfg *config.EmailConfig, resolve AddressResolver, logger *zap.Logger) Mailer {
	if cfg.Enabled && cfg.SMTPURL != "" && resolve != nil {
		return &smtpMailer{
			addr:    cfg.SMTPURL,
			from:    cfg.From,
			resolve: resolve,
			logger:  logger,
		}
	}
	return &logMailer{logger: logger}
}

// logMailer records the mail instead of sending it. Used in development and
// whenever SMTP is not configured.
type logMailer struct {
	logger *zap.Logger
}

func (m *logMailer) SendToUser(_ context.Context, userID uuid.UUID, subject, body string) error {
	m.logger.Info("email suppressed (smtp disabled)",
		zap.String("user_id", userID.String()),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)))
	return nil
}

type smtpMailer struct {
	addr    string
	from    string
	resolve AddressResolver
	logger  *zap.Logger
}

func (m *smtpMailer) SendToUser(ctx context.Context, userID uuid.UUID, subject, body string) error {
	if m.resolve == nil {
		return fmt.Errorf("no address resolver configured")
	}
	to, ok := m.resolve(ctx, userID)
	if !ok {
		return fmt.Errorf("no address for user %s", userID)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.from, to, subject, body)
	if err := smtp.SendMail(m.addr, nil, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	m.logger.Debug("email sent",
		zap.String("user_id", userID.String()),
		zap.String("subject", subject))
	return nil
}
