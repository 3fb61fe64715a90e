package email

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/gaveldrop/auction-backend/internal/infrastructure/config"
)

func TestNewMailerSelection(t *testing.T) {
	resolver := func(context.Context, uuid.UUID) (string, bool) { return "user@example.com", true }

	tests := []struct {
		name     string
		cfg      config.EmailConfig
		resolve  AddressResolver
		wantSMTP bool
	}{
		{
			name:     "enabled with resolver",
			cfg:      config.EmailConfig{Enabled: true, SMTPURL: "localhost:25", From: "noreply@example.com"},
			resolve:  resolver,
			wantSMTP: true,
		},
		{
			// SMTP configuration without a resolver cannot deliver anything
			name:    "enabled without resolver",
			cfg:     config.EmailConfig{Enabled: true, SMTPURL: "localhost:25", From: "noreply@example.com"},
			resolve: nil,
		},
		{
			name:    "disabled",
			cfg:     config.EmailConfig{Enabled: false},
			resolve: resolver,
		},
		{
			name:    "enabled without smtp url",
			cfg:     config.EmailConfig{Enabled: true},
			resolve: resolver,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMailer(&tt.cfg, tt.resolve, zaptest.NewLogger(t))
			_, isSMTP := m.(*smtpMailer)
			assert.Equal(t, tt.wantSMTP, isSMTP)
		})
	}
}

func TestLogMailerNeverFails(t *testing.T) {
	m := NewMailer(&config.EmailConfig{Enabled: true, SMTPURL: "localhost:25"}, nil, zaptest.NewLogger(t))

	err := m.SendToUser(context.Background(), uuid.New(), "You won the auction", "body")
	assert.NoError(t, err)
}
