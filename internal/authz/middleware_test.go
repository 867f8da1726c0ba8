package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequireActor(t *testing.T) {
	f := newEngineFixture(t)
	mw := Middleware{Service: f.service}

	var captured Actor
	handler := mw.RequireActor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("resolves actor onto the context", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/roles", nil)
		req.Header.Set("X-Actor-ID", "1")
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, int64(1), captured.ID)
		require.Equal(t, "alice", captured.Name)
	})

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roles", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown actor", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/roles", nil)
		req.Header.Set("X-Actor-ID", "999")
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("store outage surfaces as unavailable", func(t *testing.T) {
		f.store.setFailing(true)
		defer f.store.setFailing(false)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/roles", nil)
		req.Header.Set("X-Actor-ID", "3")
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
