package portalsync

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_PostsSelectedFields(t *testing.T) {
	var received payload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer k-acme", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"external_id": "idealista-77"}`))
	}))
	defer server.Close()

	out, err := New(nil).Handle(t.Context(), protocol.Request{
		ExecutionID: "exec-1",
		TenantID:    "acme",
		Node: &models.Node{ID: "sync", Kind: models.KindExternalPortalSync, Config: &models.PortalSyncConfig{
			Portal:   "idealista",
			Endpoint: server.URL,
			Fields:   []string{"price", "address.city"},
			Headers:  map[string]string{"Authorization": "Bearer k-{{.execution.tenant_id}}"},
		}},
		Inbound: map[string]any{
			"price":   350000,
			"address": map[string]any{"city": "Porto", "street": "Rua das Flores"},
			"notes":   "private",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "idealista", received.Portal)
	assert.Equal(t, "acme", received.TenantID)
	assert.Equal(t, map[string]any{"price": float64(350000), "address.city": "Porto"}, received.Listing)

	assert.Equal(t, true, out["synced"])
	assert.Equal(t, http.StatusCreated, out["status_code"])
	assert.Equal(t, map[string]any{"external_id": "idealista-77"}, out["response"])
}

func TestNode_PortalRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	_, err := New(nil).Handle(t.Context(), protocol.Request{
		Node: &models.Node{ID: "sync", Config: &models.PortalSyncConfig{Portal: "casa", Endpoint: server.URL}},
	})
	assert.ErrorContains(t, err, "sync to casa failed: HTTP 422")
}
