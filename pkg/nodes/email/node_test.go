package email

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, message Message) error {
	return m.Called(ctx, message).Error(0)
}

func request() protocol.Request {
	return protocol.Request{
		Node: &models.Node{ID: "notify", Kind: models.KindEmailSend, Config: &models.EmailSendConfig{
			To:      "{{.input.agent_email}}, broker@example.com",
			Subject: "New lead: {{.input.name}}",
			Body:    "Score {{.input.score}}",
		}},
		Inbound: map[string]any{"agent_email": "ana@example.com", "name": "Rui", "score": 82},
	}
}

func TestNode_SendsRenderedMessage(t *testing.T) {
	mailer := &mockMailer{}
	mailer.On("Send", mock.Anything, Message{
		To:      []string{"ana@example.com", "broker@example.com"},
		Subject: "New lead: Rui",
		Body:    "Score 82",
	}).Return(nil).Once()

	out, err := New(mailer).Handle(t.Context(), request())
	require.NoError(t, err)
	assert.Equal(t, true, out["sent"])
	assert.Equal(t, []any{"ana@example.com", "broker@example.com"}, out["to"])
	mailer.AssertExpectations(t)
}

func TestNode_DeliveryFailure(t *testing.T) {
	refused := errors.New("connection refused")

	mailer := &mockMailer{}
	mailer.On("Send", mock.Anything, mock.Anything).Return(refused)

	_, err := New(mailer).Handle(t.Context(), request())
	assert.ErrorIs(t, err, refused)
}

func TestNode_NoRecipients(t *testing.T) {
	req := request()
	req.Node.Config = &models.EmailSendConfig{To: "{{.input.missing}}", Subject: "hi"}

	_, err := New(&mockMailer{}).Handle(t.Context(), req)
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestFormat(t *testing.T) {
	raw := string(format("leads@example.com", Message{To: []string{"a@x.io", "b@x.io"}, Subject: "Hi", Body: "Hello"}))

	assert.Contains(t, raw, "From: leads@example.com\r\n")
	assert.Contains(t, raw, "To: a@x.io, b@x.io\r\n")
	assert.Contains(t, raw, "Subject: Hi\r\n")
	assert.Contains(t, raw, "\r\n\r\nHello")
}
