package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	err error
}

func (p fakeProber) Probe(context.Context) error { return p.err }

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		probe      Prober
		wantStatus int
		wantBody   string
	}{
		{"reachable", fakeProber{}, http.StatusOK, "ok"},
		{"unreachable", fakeProber{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "unavailable"},
		{"no database", nil, http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, NewServer(tt.probe, nil, nil), "/healthz")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

			var body healthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body.Status)
			assert.NotContains(t, body.Error, "connection refused")
		})
	}
}

func TestStatus(t *testing.T) {
	status := NewStatus("run-1")
	status.SetStage("load:empresas")

	rec := get(t, NewServer(nil, status, nil), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap StatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, "load:empresas", snap.Stage)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "cnpjload_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	rec := get(t, NewServer(nil, nil, reg), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cnpjload_test_total 3")
}

func TestUnknownRoute(t *testing.T) {
	rec := get(t, NewServer(nil, nil, nil), "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShutdownWithoutStart(t *testing.T) {
	assert.NoError(t, NewServer(nil, nil, nil).Shutdown(context.Background()))
}
