package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urbansim/internal/engine"
	"urbansim/internal/repository"
	"urbansim/internal/service"
	"urbansim/internal/stream"
	"urbansim/pkg/apperror"
	"urbansim/pkg/config"
	"urbansim/pkg/logger"
	"urbansim/pkg/ratelimit"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	os.Exit(m.Run())
}

// stubRunner подменяет оркестратор: отдаёт заготовленный ответ и
// публикует пару событий в хаб
type stubRunner struct {
	resp *service.SimulationResponse
	err  error
}

func (s *stubRunner) Run(_ context.Context, markers []repository.Marker, _ service.RunOptions, hub *stream.Hub) (*service.SimulationResponse, error) {
	if len(markers) == 0 {
		return nil, apperror.ErrEmptyInput
	}
	if s.err != nil {
		return nil, s.err
	}
	if hub != nil {
		hub.Status("Running simulation")
		hub.LiveData(map[string]any{"timestamp": 10, "total_vehicles": 5}, "5 vehicles active")
	}
	return s.resp, nil
}

func stubResponse() *service.SimulationResponse {
	return &service.SimulationResponse{
		Metrics: &service.FinalMetrics{
			DrivingDistanceKm:   412.4,
			CongestionLengthKm:  1.83,
			CO2EmissionsKg:      84.6,
			RoadsCount:          320,
			NodesCount:          280,
			AffectedEdges:       3,
			TotalVehicles:       450,
			ArrivedVehicles:     390,
			VehicleSample:       []service.VehicleSummary{{ID: "vehicle_0", Arrived: true}},
			ConstructionImpacts: []engine.ConstructionImpact{},
		},
		AISummary:       "Simulated 450 vehicles",
		RiskAssessment:  service.RiskLow,
		Recommendations: []string{"Traffic conditions are stable, no interventions required"},
	}
}

func testCfg(rateLimited bool) *config.Config {
	cfg := &config.Config{}
	cfg.App.Name = "traffic-svc"
	cfg.App.Version = "test"
	cfg.HTTP.Port = 8080
	cfg.RateLimit.Enabled = rateLimited
	return cfg
}

func newTestServer(t *testing.T, sim SimulationRunner, limiter ratelimit.Limiter, rateLimited bool) (*httptest.Server, *repository.Repositories) {
	t.Helper()

	repos := repository.New(nil, nil)
	srv := New(testCfg(rateLimited), NewHandlers(testCfg(rateLimited), repos, sim), limiter)

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, repos
}

func placeMarker(t *testing.T, ts *httptest.Server, markerType string) repository.Marker {
	t.Helper()

	body := `{"type":"` + markerType + `","coordinates":{"lat":35.6895,"lng":139.6917}}`
	resp, err := http.Post(ts.URL+"/markers", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var m repository.Marker
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func TestMarkers_CRUD(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{resp: stubResponse()}, nil, false)

	// Пустой список это [], не null
	resp, err := http.Get(ts.URL + "/markers")
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", strings.TrimSpace(string(raw)))

	m := placeMarker(t, ts, "construction")
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "construction", m.Type)
	assert.InDelta(t, 35.6895, m.Coordinate.Lat, 1e-9)

	resp, err = http.Get(ts.URL + "/markers")
	require.NoError(t, err)
	var listed []repository.Marker
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Len(t, listed, 1)
	assert.Equal(t, m.ID, listed[0].ID)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/markers", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/markers")
	require.NoError(t, err)
	raw, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "[]", strings.TrimSpace(string(raw)))
}

func TestCreateMarker_Invalid(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{resp: stubResponse()}, nil, false)

	tests := []struct {
		name string
		body string
	}{
		{"unknown type", `{"type":"roundabout","coordinates":{"lat":35,"lng":139}}`},
		{"latitude out of range", `{"type":"construction","coordinates":{"lat":95,"lng":139}}`},
		{"longitude out of range", `{"type":"facility","coordinates":{"lat":35,"lng":190}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/markers", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var payload map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
			assert.Equal(t, string(apperror.CodeInvalidMarker), payload["code"])
		})
	}
}

func TestCreateMarker_MalformedJSON(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{resp: stubResponse()}, nil, false)

	resp, err := http.Post(ts.URL+"/markers", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSimulate_NoMarkers(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{resp: stubResponse()}, nil, false)

	resp, err := http.Post(ts.URL+"/simulate", "application/json", strings.NewReader(`{"duration":30}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "No markers placed for simulation", payload["message"])
}

func TestSimulate_FormattedMetrics(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{resp: stubResponse()}, nil, false)
	placeMarker(t, ts, "construction")

	resp, err := http.Post(ts.URL+"/simulate", "application/json",
		strings.NewReader(`{"duration":30,"radius":2}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Metrics struct {
			DrivingDistanceKm  float64 `json:"driving_distance_km"`
			CO2EmissionsKg     float64 `json:"co2_emissions_kg"`
			CongestionLengthKm float64 `json:"congestion_length_km"`
			DrivingDistance    string  `json:"driving_distance"`
			CO2Emissions       string  `json:"co2_emissions"`
			CongestionLength   string  `json:"congestion_length"`
			RoadsCount         int     `json:"roads_count"`
			NodesCount         int     `json:"nodes_count"`
			VehicleSample      []any   `json:"vehicle_sample"`
		} `json:"metrics"`
		AISummary       string   `json:"ai_summary"`
		RiskAssessment  string   `json:"risk_assessment"`
		Recommendations []string `json:"recommendations"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))

	m := payload.Metrics
	assert.Equal(t, "412 km", m.DrivingDistance)
	assert.Equal(t, "85 kg", m.CO2Emissions)
	assert.Equal(t, "1.8 km", m.CongestionLength)
	assert.InDelta(t, 412.4, m.DrivingDistanceKm, 1e-9)
	assert.Greater(t, m.RoadsCount, 0)
	assert.Greater(t, m.NodesCount, 0)
	require.Len(t, m.VehicleSample, 1)

	assert.NotEmpty(t, payload.AISummary)
	assert.Equal(t, service.RiskLow, payload.RiskAssessment)
	assert.NotEmpty(t, payload.Recommendations)
}

func TestSimulate_NegativeOptions(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{resp: stubResponse()}, nil, false)
	placeMarker(t, ts, "construction")

	resp, err := http.Post(ts.URL+"/simulate", "application/json", strings.NewReader(`{"duration":-5}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// sseFrames читает все кадры data: из тела ответа
func sseFrames(t *testing.T, body io.Reader) []map[string]any {
	t.Helper()

	var frames []map[string]any
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(line[len("data: "):]), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func TestSimulateStream(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{resp: stubResponse()}, nil, false)
	placeMarker(t, ts, "construction")

	resp, err := http.Get(ts.URL + "/simulate/stream?duration=10&radius=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := sseFrames(t, resp.Body)
	require.NotEmpty(t, frames)

	last := frames[len(frames)-1]
	assert.Equal(t, true, last["done"])
	require.Contains(t, last, "response")

	var sawStatus bool
	for _, f := range frames[:len(frames)-1] {
		if _, ok := f["message"]; ok {
			sawStatus = true
		}
		// Кадры live_data в этот поток не попадают
		assert.NotContains(t, f, "type")
	}
	assert.True(t, sawStatus)
}

func TestSimulateStream_FramesClassifiable(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{resp: stubResponse()}, nil, false)
	placeMarker(t, ts, "construction")

	resp, err := http.Get(ts.URL + "/simulate/stream?duration=10&radius=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	frames := sseFrames(t, resp.Body)
	require.NotEmpty(t, frames)

	// Каждый нетерминальный кадр различим по type либо message
	for i, f := range frames {
		if done, ok := f["done"].(bool); ok && done {
			continue
		}
		_, hasType := f["type"]
		_, hasMessage := f["message"]
		assert.True(t, hasType || hasMessage, "frame %d: %v", i, f)
	}
}

func TestSimulateStream_NoMarkers(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{resp: stubResponse()}, nil, false)

	resp, err := http.Get(ts.URL + "/simulate/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSimulateLive(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{resp: stubResponse()}, nil, false)
	placeMarker(t, ts, "facility")

	resp, err := http.Get(ts.URL + "/simulate/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := sseFrames(t, resp.Body)
	require.NotEmpty(t, frames)

	types := make([]string, 0, len(frames))
	for _, f := range frames {
		types = append(types, f["type"].(string))
	}
	assert.Contains(t, types, "status")
	assert.Equal(t, "complete", types[len(types)-1])
}

func TestSimulateLive_NoMarkers(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{resp: stubResponse()}, nil, false)

	resp, err := http.Get(ts.URL + "/simulate/live")
	require.NoError(t, err)
	defer resp.Body.Close()

	frames := sseFrames(t, resp.Body)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0]["type"])
	assert.Equal(t, "No markers placed for simulation", frames[0]["message"])
}

func TestSimulateLive_RunnerFailure(t *testing.T) {
	sim := &stubRunner{err: apperror.New(apperror.CodeGraphEmpty, "road graph has no usable edges")}
	ts, _ := newTestServer(t, sim, nil, false)
	placeMarker(t, ts, "construction")

	resp, err := http.Get(ts.URL + "/simulate/live")
	require.NoError(t, err)
	defer resp.Body.Close()

	frames := sseFrames(t, resp.Body)
	require.NotEmpty(t, frames)
	assert.Equal(t, "error", frames[len(frames)-1]["type"])
}

func TestExportResult(t *testing.T) {
	ts, repos := newTestServer(t, &stubRunner{resp: stubResponse()}, nil, false)

	metricsJSON, err := json.Marshal(stubResponse().Metrics)
	require.NoError(t, err)
	stored := &repository.SimulationResult{
		Status:  repository.ResultStatusCompleted,
		Metrics: metricsJSON,
	}
	require.NoError(t, repos.Results.Save(context.Background(), stored))

	resp, err := http.Get(ts.URL + "/results/" + stored.ID + "/export?format=csv")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".csv")

	raw, _ := io.ReadAll(resp.Body)
	assert.True(t, bytes.HasPrefix(raw, []byte("metric,value")))
	assert.Contains(t, string(raw), "driving_distance_km,412.4")
}

func TestExportResult_NotFound(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{resp: stubResponse()}, nil, false)

	resp, err := http.Get(ts.URL + "/results/missing/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateLimit_Simulate(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(&ratelimit.Config{
		Requests:        1,
		Window:          time.Minute,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(func() { _ = limiter.Close() })

	ts, _ := newTestServer(t, &stubRunner{resp: stubResponse()}, limiter, true)
	placeMarker(t, ts, "construction")

	resp, err := http.Post(ts.URL+"/simulate", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/simulate", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestRateLimit_MarkersUnlimited(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(&ratelimit.Config{
		Requests:        1,
		Window:          time.Minute,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(func() { _ = limiter.Close() })

	ts, _ := newTestServer(t, &stubRunner{resp: stubResponse()}, limiter, true)

	// CRUD маркеров не лимитируется
	for i := 0; i < 5; i++ {
		placeMarker(t, ts, "construction")
	}
}

func TestHealthAndReady(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{resp: stubResponse()}, nil, false)

	for _, path := range []string{"/health", "/ready"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestCORS_Preflight(t *testing.T) {
	cfg := testCfg(false)
	cfg.HTTP.CORS = config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         600,
	}

	repos := repository.New(nil, nil)
	srv := New(cfg, NewHandlers(cfg, repos, &stubRunner{resp: stubResponse()}), nil)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/markers", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "600", resp.Header.Get("Access-Control-Max-Age"))
}
