package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/M-Moiz598/tenantgate/internal/errors"
	"github.com/M-Moiz598/tenantgate/internal/model"
	"github.com/M-Moiz598/tenantgate/internal/store"
)

type recordingMailer struct {
	to      []string
	subject []string
	err     error
}

func (m *recordingMailer) Send(ctx context.Context, to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.to = append(m.to, to)
	m.subject = append(m.subject, subject)
	return nil
}

func envelope(kind string, payload string) *model.JobEnvelope {
	return &model.JobEnvelope{
		ID:          "env-1",
		Kind:        kind,
		Payload:     json.RawMessage(payload),
		PartitionID: "acme",
		MaxAttempts: 3,
	}
}

func TestSendWelcome(t *testing.T) {
	mailer := &recordingMailer{}
	h := NewHandlers(store.NewWorkspaceStore(), mailer, nil, zap.NewNop())

	err := h.SendWelcome(context.Background(), envelope(KindSendWelcome, `{"email":"owner@acme.test","name":"Pat"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"owner@acme.test"}, mailer.to)
}

func TestSendWelcome_NoRecipientIsNoop(t *testing.T) {
	mailer := &recordingMailer{}
	h := NewHandlers(store.NewWorkspaceStore(), mailer, nil, zap.NewNop())

	err := h.SendWelcome(context.Background(), envelope(KindSendWelcome, `{"name":"Pat"}`))
	require.NoError(t, err)
	assert.Empty(t, mailer.to)
}

func TestSendWelcome_MailerFailureIsTransient(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp refused")}
	h := NewHandlers(store.NewWorkspaceStore(), mailer, nil, zap.NewNop())

	err := h.SendWelcome(context.Background(), envelope(KindSendWelcome, `{"email":"owner@acme.test"}`))
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
}

func TestMalformedPayloadsArePermanent(t *testing.T) {
	h := NewHandlers(store.NewWorkspaceStore(), &recordingMailer{}, nil, zap.NewNop())

	cases := []struct {
		name string
		run  func() error
	}{
		{KindSendWelcome, func() error {
			return h.SendWelcome(context.Background(), envelope(KindSendWelcome, `{broken`))
		}},
		{KindSendReminder, func() error {
			return h.SendReminder(context.Background(), envelope(KindSendReminder, `{broken`))
		}},
		{KindCleanupOldData, func() error {
			return h.CleanupOldData(context.Background(), envelope(KindCleanupOldData, `{broken`))
		}},
		{KindGenerateReport, func() error {
			return h.GenerateReport(context.Background(), envelope(KindGenerateReport, `{broken`))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			require.Error(t, err)
			// Bad payloads never improve on retry
			assert.False(t, apperrors.IsTransient(err))
		})
	}
}

func TestCheckOverdue_RequiresPartitionScope(t *testing.T) {
	h := NewHandlers(store.NewWorkspaceStore(), &recordingMailer{}, nil, zap.NewNop())

	err := h.CheckOverdue(context.Background(), envelope(KindCheckOverdue, `{}`))
	assert.ErrorIs(t, err, apperrors.ErrNoActiveContext)
}
