package authz

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func checkServer(t *testing.T) (*engineFixture, *httptest.Server) {
	t.Helper()
	f := newEngineFixture(t)
	r := chi.NewRouter()
	NewHandler(nil, f.service).MountRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestCheckEndpoint(t *testing.T) {
	f, srv := checkServer(t)
	f.store.setGrants(1, []AssignmentGrant{docsViewGrant(100, 7, 10, ActionView)})

	resp := postJSON(t, srv.URL+"/permissions/check", map[string]any{
		"actorId": 1, "entityId": 10, "resource": "documents", "action": "view",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out checkResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.Allowed)
	require.Equal(t, string(SourceStore), out.Source)
}

func TestCheckEndpointRejectsUnknownAction(t *testing.T) {
	_, srv := checkServer(t)

	resp := postJSON(t, srv.URL+"/permissions/check", map[string]any{
		"actorId": 1, "entityId": 10, "resource": "documents", "action": "fly",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckEndpointFailsClosedOnStoreOutage(t *testing.T) {
	f, srv := checkServer(t)
	f.store.setFailing(true)

	resp := postJSON(t, srv.URL+"/permissions/check", map[string]any{
		"actorId": 1, "entityId": 10, "resource": "documents", "action": "view",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out checkResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.False(t, out.Allowed)
	require.Equal(t, string(SourceFailClosed), out.Source)
}

func TestCheckEndpointDeniesUnknownActor(t *testing.T) {
	_, srv := checkServer(t)

	resp := postJSON(t, srv.URL+"/permissions/check", map[string]any{
		"actorId": 999, "entityId": 10, "resource": "documents", "action": "view",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out checkResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.False(t, out.Allowed)
}

func TestCheckBatchEndpoint(t *testing.T) {
	f, srv := checkServer(t)
	f.store.setGrants(1, []AssignmentGrant{docsViewGrant(100, 7, 10, ActionUpdate)})

	resp := postJSON(t, srv.URL+"/permissions/check-batch", map[string]any{
		"actorId": 1, "entityId": 10,
		"checks": []map[string]string{
			{"resource": "documents", "action": "view"},
			{"resource": "documents", "action": "delete"},
			{"resource": "invoices", "action": "view"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out batchCheckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, []bool{true, false, false}, out.Results)
}

func TestCheckBatchEndpointFailsClosedOnStoreOutage(t *testing.T) {
	f, srv := checkServer(t)
	f.store.setFailing(true)

	resp := postJSON(t, srv.URL+"/permissions/check-batch", map[string]any{
		"actorId": 1, "entityId": 10,
		"checks": []map[string]string{{"resource": "documents", "action": "view"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out batchCheckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, []bool{false}, out.Results)
}
