package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/testutil"
	"github.com/dukex/leadflow/pkg/triggers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListCatalog(t *testing.T) {
	var out bytes.Buffer

	require.NoError(t, listCatalog(&out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Greater(t, len(lines), 1)
}

func TestValidateWorkflow(t *testing.T) {
	valid, err := json.Marshal(testutil.CreateTestWorkflow())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, validateWorkflow(bytes.NewReader(valid), &out))
	assert.Contains(t, out.String(), "Lead intake is valid")
	assert.Contains(t, out.String(), "1. trigger")

	cyclic, err := json.Marshal(testutil.CreateTestWorkflow(func(w *models.Workflow) {
		w.Connections = append(w.Connections, &models.Connection{ID: "back", Source: "notify", Target: "qualify"})
	}))
	require.NoError(t, err)

	out.Reset()
	err = validateWorkflow(bytes.NewReader(cyclic), &out)
	require.ErrorIs(t, err, ErrInvalidWorkflow)
	assert.NotEmpty(t, out.String())

	err = validateWorkflow(strings.NewReader("{"), &out)
	require.Error(t, err)
}

func TestEnqueue(t *testing.T) {
	server := miniredis.RunT(t)
	url := "redis://" + server.Addr()

	var out bytes.Buffer
	require.NoError(t, enqueue(t.Context(), url, "runs", enqueueRequest{
		WorkflowID: "wf-1",
		TenantID:   "acme",
		Input:      `{"email": "lead@example.com"}`,
	}, &out))
	assert.Contains(t, out.String(), "(1 waiting)")

	queued, err := server.List("runs")
	require.NoError(t, err)
	require.Len(t, queued, 1)

	item, err := triggers.DecodeItem([]byte(queued[0]))
	require.NoError(t, err)
	assert.Equal(t, "lead@example.com", item.Input["email"])

	err = enqueue(t.Context(), url, "runs", enqueueRequest{WorkflowID: "wf-1", Input: "{}"}, &out)
	require.ErrorIs(t, err, triggers.ErrInvalidItem)

	err = enqueue(t.Context(), url, "runs", enqueueRequest{WorkflowID: "wf-1", TenantID: "acme", Input: "[1]"}, &out)
	require.Error(t, err)
}
