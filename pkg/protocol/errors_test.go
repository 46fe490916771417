package protocol_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	raw := errors.New("connection refused")

	classified := protocol.Classify("call", raw)
	assert.True(t, protocol.IsHandlerError(classified))
	assert.ErrorIs(t, classified, raw)

	dispatch := &protocol.DispatchError{NodeID: "agent", Role: "specialist", Err: raw}
	assert.Same(t, dispatch, protocol.Classify("agent", dispatch))

	wrapped := fmt.Errorf("outer: %w", &protocol.TimeoutError{NodeID: "mail", Timeout: time.Second})
	assert.Equal(t, wrapped, protocol.Classify("mail", wrapped))
	assert.True(t, protocol.IsTimeoutError(wrapped))
	assert.False(t, protocol.IsHandlerError(wrapped))

	assert.NoError(t, protocol.Classify("x", nil))
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "structural error in workflow wf: [cycle]",
		(&protocol.StructuralError{WorkflowID: "wf", Issues: []string{"cycle"}}).Error())
	assert.Equal(t, "cannot dispatch node a to role notifier: boom",
		(&protocol.DispatchError{NodeID: "a", Role: "notifier", Err: errors.New("boom")}).Error())
	assert.Equal(t, "node m timed out after 2s",
		(&protocol.TimeoutError{NodeID: "m", Timeout: 2 * time.Second}).Error())
}
