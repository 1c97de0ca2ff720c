package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"urbansim/internal/export"
	"urbansim/internal/repository"
	"urbansim/internal/service"
	"urbansim/internal/stream"
	"urbansim/pkg/apperror"
	"urbansim/pkg/config"
	"urbansim/pkg/geo"
	"urbansim/pkg/logger"
	"urbansim/pkg/metrics"
)

// Ограничение на тело запроса
const maxBodyBytes = 1 << 20

// SimulationRunner запускает прогон симуляции
type SimulationRunner interface {
	Run(ctx context.Context, markers []repository.Marker, opts service.RunOptions, hub *stream.Hub) (*service.SimulationResponse, error)
}

// Handlers обработчики HTTP запросов
type Handlers struct {
	cfg   *config.Config
	repos *repository.Repositories
	sim   SimulationRunner
}

// NewHandlers создаёт обработчики
func NewHandlers(cfg *config.Config, repos *repository.Repositories, sim SimulationRunner) *Handlers {
	return &Handlers{cfg: cfg, repos: repos, sim: sim}
}

type createMarkerRequest struct {
	Type        string    `json:"type"`
	Coordinates geo.Point `json:"coordinates"`
}

type simulateRequest struct {
	Duration int `json:"duration"` // минуты
	Radius   int `json:"radius"`   // километры
}

// metricsDTO добавляет к числовым метрикам отформатированные строки,
// которые фронтенд показывает без постобработки
type metricsDTO struct {
	*service.FinalMetrics
	DrivingDistance  string `json:"driving_distance"`
	CO2Emissions     string `json:"co2_emissions"`
	CongestionLength string `json:"congestion_length"`
}

type simulationResponseDTO struct {
	Metrics         metricsDTO `json:"metrics"`
	AISummary       string     `json:"ai_summary"`
	RiskAssessment  string     `json:"risk_assessment"`
	Recommendations []string   `json:"recommendations"`
}

func toResponseDTO(resp *service.SimulationResponse) simulationResponseDTO {
	m := resp.Metrics
	return simulationResponseDTO{
		Metrics: metricsDTO{
			FinalMetrics:     m,
			DrivingDistance:  fmt.Sprintf("%.0f km", m.DrivingDistanceKm),
			CO2Emissions:     fmt.Sprintf("%.0f kg", m.CO2EmissionsKg),
			CongestionLength: fmt.Sprintf("%.1f km", m.CongestionLengthKm),
		},
		AISummary:       resp.AISummary,
		RiskAssessment:  resp.RiskAssessment,
		Recommendations: resp.Recommendations,
	}
}

// ListMarkers возвращает все размещённые маркеры
func (h *Handlers) ListMarkers(w http.ResponseWriter, r *http.Request) {
	markers, err := h.repos.Markers.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if markers == nil {
		markers = []repository.Marker{}
	}
	writeJSON(w, http.StatusOK, markers)
}

// CreateMarker размещает новый маркер
func (h *Handlers) CreateMarker(w http.ResponseWriter, r *http.Request) {
	var req createMarkerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := validateMarker(req); err != nil {
		writeError(w, err)
		return
	}

	marker := &repository.Marker{
		Type:       req.Type,
		Coordinate: req.Coordinates,
	}
	if err := h.repos.Markers.Create(r.Context(), marker); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, marker)
}

func validateMarker(req createMarkerRequest) error {
	if req.Type != "construction" && req.Type != "facility" {
		return apperror.NewWithField(apperror.CodeInvalidMarker,
			fmt.Sprintf("marker type must be construction or facility, got %q", req.Type), "type")
	}
	if req.Coordinates.Lat < -90 || req.Coordinates.Lat > 90 {
		return apperror.NewWithField(apperror.CodeInvalidMarker,
			"latitude must be within [-90, 90]", "coordinates.lat")
	}
	if req.Coordinates.Lng < -180 || req.Coordinates.Lng > 180 {
		return apperror.NewWithField(apperror.CodeInvalidMarker,
			"longitude must be within [-180, 180]", "coordinates.lng")
	}
	return nil
}

// DeleteMarkers удаляет все маркеры
func (h *Handlers) DeleteMarkers(w http.ResponseWriter, r *http.Request) {
	if err := h.repos.Markers.DeleteAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "All markers deleted"})
}

// Simulate синхронный запуск: блокируется до конца прогона
func (h *Handlers) Simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Duration < 0 || req.Radius < 0 {
		writeError(w, apperror.New(apperror.CodeInvalidRequest,
			"duration and radius must be non-negative"))
		return
	}

	markers, err := h.repos.Markers.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.sim.Run(r.Context(), markers, service.RunOptions{
		DurationMinutes: req.Duration,
		RadiusKm:        req.Radius,
	}, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponseDTO(resp))
}

// SimulateStream SSE-поток: строки прогресса, затем финальный кадр
// с полным ответом
func (h *Handlers) SimulateStream(w http.ResponseWriter, r *http.Request) {
	opts := optionsFromQuery(r)

	markers, err := h.repos.Markers.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if len(markers) == 0 {
		writeError(w, apperror.ErrEmptyInput)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, apperror.Wrap(err, apperror.CodeInternal, "streaming is not supported"))
		return
	}

	m := metrics.Get()
	m.ActiveStreams.Inc()
	defer m.ActiveStreams.Dec()

	hub := h.launch(r.Context(), markers, opts)
	defer hub.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-hub.Events():
			if !ok {
				return
			}

			var frame any
			switch ev.Type {
			case stream.EventStatus:
				// Строки прогресса без поля type, клиент отличает их
				// по верхнеуровневому message
				frame = map[string]string{"message": ev.Message}
			case stream.EventComplete:
				frame = map[string]any{"done": true, "response": ev.Data}
			case stream.EventError:
				frame = map[string]any{"done": true, "error": ev.Message}
			default:
				// live_data в этом потоке не транслируется
				continue
			}

			if err := sse.Send(frame); err != nil {
				logger.Warn("sse stream write failed", "error", err)
				return
			}
		}
	}
}

// SimulateLive SSE-поток тегированных событий, включая live-снапшоты
func (h *Handlers) SimulateLive(w http.ResponseWriter, r *http.Request) {
	opts := optionsFromQuery(r)

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, apperror.Wrap(err, apperror.CodeInternal, "streaming is not supported"))
		return
	}

	m := metrics.Get()
	m.ActiveStreams.Inc()
	defer m.ActiveStreams.Dec()

	markers, err := h.repos.Markers.List(r.Context())
	if err != nil {
		_ = sse.Send(stream.Event{Type: stream.EventError, Message: apperror.FromError(err).Message})
		return
	}
	if len(markers) == 0 {
		_ = sse.Send(stream.Event{Type: stream.EventError, Message: apperror.ErrEmptyInput.Message})
		return
	}

	hub := h.launch(r.Context(), markers, opts)
	defer hub.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-hub.Events():
			if !ok {
				return
			}
			if err := sse.Send(ev); err != nil {
				logger.Warn("sse live write failed", "error", err)
				return
			}
		}
	}
}

// launch запускает прогон в фоне и публикует терминальное событие в хаб
func (h *Handlers) launch(ctx context.Context, markers []repository.Marker, opts service.RunOptions) *stream.Hub {
	hub := stream.NewHub()

	go func() {
		resp, err := h.sim.Run(ctx, markers, opts, hub)
		if err != nil {
			hub.Error(apperror.FromError(err).Message)
			return
		}
		hub.Complete(toResponseDTO(resp))
	}()

	return hub
}

func optionsFromQuery(r *http.Request) service.RunOptions {
	var opts service.RunOptions
	if v, err := strconv.Atoi(r.URL.Query().Get("duration")); err == nil && v > 0 {
		opts.DurationMinutes = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("radius")); err == nil && v > 0 {
		opts.RadiusKm = v
	}
	return opts
}

// ExportResult отдаёт сохранённый результат в формате json, csv или xlsx
func (h *Handlers) ExportResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	res, err := h.repos.Results.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	report, err := export.Render(res, r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(report.Body); err != nil {
		logger.Warn("failed to write export body", "error", err)
	}
}

// Health проверка живости
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": h.cfg.App.Name,
		"version": h.cfg.App.Version,
	})
}

// Ready проверка готовности принимать трафик
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.repos.Markers.List(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func decodeBody(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()

	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		return apperror.Wrap(err, apperror.CodeInvalidRequest, "request body is not valid JSON")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	appErr := apperror.FromError(err)
	writeJSON(w, appErr.HTTPStatus(), map[string]any{
		"message": appErr.Message,
		"code":    appErr.Code,
	})
}
