package telemetry_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ramiqadoumi/go-agent-flow/pkg/telemetry"
)

func serve(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMetricsMux_Healthz(t *testing.T) {
	mux := telemetry.NewMetricsMux(nil)
	assert.Equal(t, http.StatusOK, serve(t, mux, "/healthz").Code)
}

func TestMetricsMux_Readyz(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	assert.Equal(t, http.StatusOK, serve(t, telemetry.NewMetricsMux(map[string]telemetry.ReadyCheck{"redis": ok}), "/readyz").Code)

	rec := serve(t, telemetry.NewMetricsMux(map[string]telemetry.ReadyCheck{"redis": ok, "postgres": down}), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "postgres")
}

func TestMetricsMux_Metrics(t *testing.T) {
	telemetry.BroadcastTruncationsTotal.Add(0)
	rec := serve(t, telemetry.NewMetricsMux(nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agentflow_broadcast_truncations_total")
}
