package clientmessage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/leadflow/pkg/channels/gochannel"
	"github.com/dukex/leadflow/pkg/events"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_QueuesOutboundMessage(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)
	defer pub.Close()

	messages, err := sub.Subscribe(t.Context(), events.OutboundMessageTopic)
	require.NoError(t, err)

	out, err := New(pub).Handle(t.Context(), protocol.Request{
		ExecutionID: "exec-1",
		TenantID:    "acme",
		Node: &models.Node{ID: "confirm", Kind: models.KindClientMessage, Config: &models.ClientMessageConfig{
			Channel:   "sms",
			Recipient: "{{.input.phone}}",
			Message:   "Hi {{.input.name}}, your visit is booked.",
		}},
		Inbound: map[string]any{"phone": "+351900000000", "name": "Rui"},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["queued"])

	select {
	case msg := <-messages:
		msg.Ack()

		var outbound events.OutboundMessage
		require.NoError(t, json.Unmarshal(msg.Payload, &outbound))

		assert.Equal(t, out["message_id"], outbound.ID)
		assert.Equal(t, "acme", outbound.TenantID)
		assert.Equal(t, "+351900000000", outbound.Recipient)
		assert.Equal(t, "Hi Rui, your visit is booked.", outbound.Message)
		assert.Equal(t, "sms", msg.Metadata.Get("channel"))
	case <-time.After(2 * time.Second):
		t.Fatal("outbound message was not published")
	}
}
