// Package service связывает провайдеров, граф, спрос и движок в один
// прогон симуляции и собирает итоговые метрики.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"urbansim/internal/engine"
	"urbansim/internal/providers"
	"urbansim/internal/repository"
	"urbansim/internal/roadgraph"
	"urbansim/internal/routing"
	"urbansim/internal/stream"
	"urbansim/pkg/apperror"
	"urbansim/pkg/config"
	"urbansim/pkg/geo"
	"urbansim/pkg/logger"
	"urbansim/pkg/metrics"
	"urbansim/pkg/telemetry"
)

// Отступ рамки вокруг маркеров, градусы
const bboxMarginDeg = 0.01

// Доля стохастического разброса итоговых величин
const varianceShare = 0.05

// RunOptions параметры запуска симуляции
type RunOptions struct {
	DurationMinutes int
	RadiusKm        int
}

// VehicleSummary краткая сводка по машине для итогового отчёта
type VehicleSummary struct {
	ID                string  `json:"id"`
	RouteLengthM      float64 `json:"route_length_m"`
	DistanceTraveledM float64 `json:"distance_traveled_m"`
	EmissionsG        float64 `json:"emissions_g"`
	Arrived           bool    `json:"arrived"`
}

// PopulationSummary сводка по населению области
type PopulationSummary struct {
	Total             int     `json:"total"`
	DensityPerKm2     float64 `json:"density_per_km2"`
	EstimatedVehicles int     `json:"estimated_vehicles"`
	Source            string  `json:"source"`
}

// FinalMetrics итоговые метрики прогона
type FinalMetrics struct {
	DrivingDistanceKm   float64                     `json:"driving_distance_km"`
	CongestionLengthKm  float64                     `json:"congestion_length_km"`
	CO2EmissionsKg      float64                     `json:"co2_emissions_kg"`
	RoadsCount          int                         `json:"roads_count"`
	NodesCount          int                         `json:"nodes_count"`
	IncidentsCount      int                         `json:"incidents_count"`
	AffectedEdges       int                         `json:"affected_edges"`
	TotalVehicles       int                         `json:"total_vehicles"`
	ArrivedVehicles     int                         `json:"arrived_vehicles"`
	VehicleSample       []VehicleSummary            `json:"vehicle_sample"`
	ConstructionImpacts []engine.ConstructionImpact `json:"construction_impacts"`
	PopulationSummary   *PopulationSummary          `json:"population_summary,omitempty"`
}

// SimulationResponse полный ответ симуляции
type SimulationResponse struct {
	Metrics         *FinalMetrics `json:"metrics"`
	AISummary       string        `json:"ai_summary"`
	RiskAssessment  string        `json:"risk_assessment"`
	Recommendations []string      `json:"recommendations"`
}

// Service оркестратор симуляций
type Service struct {
	cfg        *config.Config
	roadNet    providers.RoadNetworkProvider
	traffic    providers.TrafficProvider
	population providers.PopulationProvider
	results    repository.ResultRepository
}

// New создаёт оркестратор
func New(
	cfg *config.Config,
	roadNet providers.RoadNetworkProvider,
	traffic providers.TrafficProvider,
	population providers.PopulationProvider,
	results repository.ResultRepository,
) *Service {
	return &Service{
		cfg:        cfg,
		roadNet:    roadNet,
		traffic:    traffic,
		population: population,
		results:    results,
	}
}

// Run выполняет симуляцию для набора маркеров. Пустой набор - ошибка
// empty_input. Любой внутренний сбой после валидации не роняет запрос:
// ответ собирается детерминированным оценщиком.
// hub может быть nil для синхронных запросов.
func (s *Service) Run(ctx context.Context, markers []repository.Marker, opts RunOptions, hub *stream.Hub) (*SimulationResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.Run")
	defer span.End()

	if len(markers) == 0 {
		return nil, apperror.ErrEmptyInput
	}

	opts = s.normalize(opts)
	started := time.Now()

	rng := s.newRand()
	mode := "sync"
	if hub != nil {
		mode = "stream"
	}

	runID := uuid.NewString()
	telemetry.SetAttributes(ctx,
		telemetry.SimulationAttributes(runID, mode, opts.DurationMinutes, len(markers))...)
	log := logger.WithRun(runID)

	response, err := s.runSimulation(ctx, markers, opts, rng, hub)
	if err != nil {
		if apperror.Is(err, apperror.CodeSimulationAborted) {
			metrics.Get().RecordSimulation(mode, false, time.Since(started), 0)
			return nil, err
		}

		log.Error("simulation failed, falling back to estimator", "error", err)
		if hub != nil {
			hub.Status("Simulation failed, using deterministic estimate")
		}
		response = s.estimateResponse(markers, rng)
	}

	s.persist(ctx, runID, markers, response)

	metrics.Get().RecordSimulation(mode, true, time.Since(started), response.Metrics.TotalVehicles)
	return response, nil
}

func (s *Service) normalize(opts RunOptions) RunOptions {
	if opts.DurationMinutes <= 0 {
		opts.DurationMinutes = s.cfg.Simulation.DurationMinutes
	}
	if opts.RadiusKm <= 0 {
		opts.RadiusKm = s.cfg.Simulation.RadiusKm
	}
	return opts
}

// newRand создаёт генератор прогона. Нулевое зерно в конфиге означает
// зерно от текущего времени.
func (s *Service) newRand() *rand.Rand {
	seed := s.cfg.Simulation.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// runSimulation шаги 2-8 прогона: провайдеры, граф, маркеры, спрос,
// движок, сборка метрик
func (s *Service) runSimulation(
	ctx context.Context,
	markers []repository.Marker,
	opts RunOptions,
	rng *rand.Rand,
	hub *stream.Hub,
) (*SimulationResponse, error) {
	points := markerPoints(markers)
	bbox := geo.BBoxFromPoints(points, bboxMarginDeg)
	center := geo.Centroid(points)

	status(hub, "Fetching road network, traffic and population data")

	var (
		network    *providers.NetworkData
		traffic    *providers.TrafficData
		population *providers.PopulationData
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		network, err = s.roadNet.FetchRoadNetwork(gctx, center, float64(opts.RadiusKm))
		return err
	})
	g.Go(func() error {
		var err error
		traffic, err = s.traffic.FetchTraffic(gctx, bbox)
		return err
	})
	g.Go(func() error {
		var err error
		population, err = s.population.FetchPopulation(gctx, bbox)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeProviderUnavailable, "provider fetch failed")
	}

	if network.Source != providers.SourcePrimary {
		status(hub, "Road network provider unavailable, using synthetic network")
	}

	status(hub, "Building road graph")
	graph := roadgraph.Build(network.Roads)
	if graph.IsEmpty() {
		return nil, apperror.ErrGraphEmpty
	}
	metrics.Get().RecordGraphSize(network.Source, graph.EdgeCount())
	telemetry.SetAttributes(ctx,
		telemetry.GraphAttributes(graph.EdgeCount(), graph.NodeCount(), network.Source, float64(opts.RadiusKm))...)

	builder := routing.NewBuilder(graph, rng)

	status(hub, "Applying marker impacts")
	impacts := engine.ApplyMarkers(graph, builder, engineMarkers(markers), population.DensityPerKm2, rng)

	status(hub, "Generating traffic demand")
	vehicles := engine.GenerateDemand(graph, builder, population, traffic, s.cfg.Simulation.MaxVehicles, rng)
	vehicles = append(vehicles, impacts.ExtraVehicles...)

	status(hub, fmt.Sprintf("Running simulation: %d vehicles, %d minutes", len(vehicles), opts.DurationMinutes))

	eng := engine.New(graph, vehicles, traffic)

	var emit func(*engine.Snapshot)
	if hub != nil {
		emit = func(snap *engine.Snapshot) {
			hub.LiveData(snap, fmt.Sprintf("%d vehicles active", snap.TotalVehicles))
			metrics.Get().RecordSnapshot("live_data")
		}
	}

	result, err := eng.Run(ctx, engine.Options{
		DurationS:      opts.DurationMinutes * 60,
		LiveSampleSize: s.cfg.Simulation.LiveSampleSize,
		SegmentCap:     engine.DefaultSegmentCap,
	}, emit)
	if err != nil {
		return nil, err
	}

	final := s.assemble(graph, traffic, population, impacts, result, rng)
	summary, risk, recommendations := Summarize(final)

	return &SimulationResponse{
		Metrics:         final,
		AISummary:       summary,
		RiskAssessment:  risk,
		Recommendations: recommendations,
	}, nil
}

// assemble собирает итоговые метрики с разбросом ±5% на суммарных величинах
func (s *Service) assemble(
	graph *roadgraph.Graph,
	traffic *providers.TrafficData,
	population *providers.PopulationData,
	impacts *engine.ImpactResult,
	result *engine.Result,
	rng *rand.Rand,
) *FinalMetrics {
	sample := make([]VehicleSummary, 0, 5)
	for _, v := range result.Vehicles {
		if len(sample) == 5 {
			break
		}
		sample = append(sample, VehicleSummary{
			ID:                v.ID,
			RouteLengthM:      round1(v.RouteLengthM),
			DistanceTraveledM: round1(v.DistanceTraveledM),
			EmissionsG:        round1(v.EmissionsG),
			Arrived:           v.Arrived(),
		})
	}

	final := &FinalMetrics{
		DrivingDistanceKm:   round1(vary(result.TotalDistanceKm(), rng)),
		CongestionLengthKm:  round1(vary(result.CongestionLengthKm, rng)),
		CO2EmissionsKg:      round1(vary(result.TotalEmissionsKg(), rng)),
		RoadsCount:          graph.EdgeCount(),
		NodesCount:          graph.NodeCount(),
		AffectedEdges:       impacts.AffectedEdges,
		TotalVehicles:       len(result.Vehicles),
		ArrivedVehicles:     result.ArrivedCount,
		VehicleSample:       sample,
		ConstructionImpacts: impacts.Impacts,
	}
	if final.ConstructionImpacts == nil {
		final.ConstructionImpacts = []engine.ConstructionImpact{}
	}

	if traffic != nil {
		final.IncidentsCount = len(traffic.Incidents)
	}
	if population != nil {
		final.PopulationSummary = &PopulationSummary{
			Total:             population.Total,
			DensityPerKm2:     population.DensityPerKm2,
			EstimatedVehicles: population.EstimatedVehicles,
			Source:            population.Source,
		}
	}

	return final
}

// persist сохраняет результат прогона; сбой записи не влияет на ответ
func (s *Service) persist(ctx context.Context, runID string, markers []repository.Marker, response *SimulationResponse) {
	if s.results == nil {
		return
	}

	metricsJSON, err := json.Marshal(response.Metrics)
	if err != nil {
		logger.Warn("failed to marshal metrics for storage", "error", err)
		return
	}
	summaryJSON, err := json.Marshal(map[string]any{
		"ai_summary":      response.AISummary,
		"risk_assessment": response.RiskAssessment,
		"recommendations": response.Recommendations,
	})
	if err != nil {
		logger.Warn("failed to marshal summary for storage", "error", err)
		return
	}

	now := time.Now().UTC()
	record := &repository.SimulationResult{
		ID:         runID,
		Status:     repository.ResultStatusCompleted,
		MarkerIDs:  markerIDs(markers),
		Metrics:    metricsJSON,
		Summary:    summaryJSON,
		FinishedAt: &now,
	}
	if err := s.results.Save(ctx, record); err != nil {
		logger.Warn("failed to persist simulation result", "error", err)
	}
}

func status(hub *stream.Hub, message string) {
	if hub != nil {
		hub.Status(message)
	}
}

func markerPoints(markers []repository.Marker) []geo.Point {
	points := make([]geo.Point, len(markers))
	for i, m := range markers {
		points[i] = m.Coordinate
	}
	return points
}

func markerIDs(markers []repository.Marker) []string {
	ids := make([]string, len(markers))
	for i, m := range markers {
		ids[i] = m.ID
	}
	return ids
}

func engineMarkers(markers []repository.Marker) []engine.Marker {
	out := make([]engine.Marker, len(markers))
	for i, m := range markers {
		out[i] = engine.Marker{Type: m.Type, Coordinate: m.Coordinate}
	}
	return out
}

// vary добавляет равномерный разброс ±5%
func vary(v float64, rng *rand.Rand) float64 {
	return v * (1 - varianceShare + rng.Float64()*2*varianceShare)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
