package monitor

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/banshee-data/spacecal/internal/testutil"
	"github.com/banshee-data/spacecal/internal/transform"
)

func TestStatusEndpoint(t *testing.T) {
	state := NewState()
	state.SetMode("calibrating", "collecting samples")
	state.SetProgress(42, 500)
	state.ObserveDeviation(0.003)
	state.ObserveDeviation(0.002)

	ws := NewWebServer("127.0.0.1:0", state)
	h := ws.setupRoutes()

	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/api/status"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var snap Snapshot
	testutil.AssertNoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	if snap.Mode != "calibrating" || snap.Collected != 42 || snap.Total != 500 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.DeviationCount != 2 || snap.LastDeviation != 0.002 {
		t.Errorf("deviation fields = %+v", snap)
	}
}

func TestStatusRejectsPost(t *testing.T) {
	ws := NewWebServer("127.0.0.1:0", NewState())
	h := ws.setupRoutes()

	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodPost, "/api/status"))
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestDeviationChartRenders(t *testing.T) {
	state := NewState()
	for i := 0; i < 10; i++ {
		state.ObserveDeviation(float64(i) * 0.001)
	}

	ws := NewWebServer("127.0.0.1:0", state)
	h := ws.setupRoutes()

	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/charts/deviation"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "echarts") {
		t.Error("chart page does not reference echarts")
	}
}

func TestResidualPlotPNG(t *testing.T) {
	state := NewState()
	state.SetResiduals([]transform.Vec3{
		{X: 0.01, Y: 0, Z: -0.02},
		{X: -0.005, Y: 0.001, Z: 0.015},
	})

	ws := NewWebServer("127.0.0.1:0", state)
	h := ws.setupRoutes()

	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/plots/residuals.png"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	// PNG magic bytes.
	if body := w.Body.Bytes(); len(body) < 8 || body[1] != 'P' || body[2] != 'N' || body[3] != 'G' {
		t.Error("response is not a PNG")
	}
}

func TestResidualPlotEmpty(t *testing.T) {
	ws := NewWebServer("127.0.0.1:0", NewState())
	h := ws.setupRoutes()

	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/plots/residuals.png"))
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}

func TestDeviationRingBounded(t *testing.T) {
	state := NewState()
	for i := 0; i < maxDeviationSamples+100; i++ {
		state.ObserveDeviation(1)
	}
	series, first := state.deviationSeries()
	if len(series) != maxDeviationSamples {
		t.Errorf("len(series) = %d, want %d", len(series), maxDeviationSamples)
	}
	if first != 100 {
		t.Errorf("first tick = %d, want 100", first)
	}
}
