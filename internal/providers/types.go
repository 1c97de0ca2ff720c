// Package providers подключает внешние источники данных: дорожную сеть,
// дорожную обстановку и население. Каждый провайдер при недоступности
// источника детерминированно генерирует запасные данные, так что запуск
// симуляции никогда не падает из-за внешнего сервиса.
package providers

import (
	"context"

	"urbansim/internal/roadgraph"
	"urbansim/pkg/geo"
)

// Источники данных
const (
	SourcePrimary          = "primary"
	SourceRegionalFallback = "regional_fallback"
	SourceEstimate         = "estimate"
)

// Уровни загруженности сети
const (
	CongestionLow    = "LOW"
	CongestionMedium = "MEDIUM"
	CongestionHigh   = "HIGH"
	CongestionSevere = "SEVERE"
)

// NetworkData дорожная сеть вокруг центра
type NetworkData struct {
	Roads  []roadgraph.Road `json:"roads"`
	Source string           `json:"source"`
}

// Incident дорожное происшествие
type Incident struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	Coordinate  geo.Point `json:"coordinate"`
}

// Flow замер потока на участке дороги
type Flow struct {
	RoadName      string      `json:"road_name"`
	CurrentSpeed  float64     `json:"current_speed"`
	FreeFlowSpeed float64     `json:"free_flow_speed"`
	Confidence    float64     `json:"confidence"`
	Coordinates   []geo.Point `json:"coordinates"`
}

// TrafficData дорожная обстановка для bbox
type TrafficData struct {
	Incidents       []Incident `json:"incidents"`
	Flows           []Flow     `json:"flows"`
	AverageDelayS   float64    `json:"average_delay_s"`
	CongestionLevel string     `json:"congestion_level"`
	Source          string     `json:"source"`
}

// TrafficMultiplier возвращает множитель спроса для уровня загруженности
func TrafficMultiplier(level string) float64 {
	switch level {
	case CongestionSevere:
		return 1.3
	case CongestionHigh:
		return 1.2
	case CongestionMedium:
		return 1.1
	default:
		return 1.0
	}
}

// PopulationData население области
type PopulationData struct {
	Total             int                `json:"total"`
	DensityPerKm2     float64            `json:"density_per_km2"`
	EstimatedVehicles int                `json:"estimated_vehicles"`
	PeakHourFactor    float64            `json:"peak_hour_factor"`
	AgeDistribution   map[string]float64 `json:"age_distribution"`
	WorkingPopulation int                `json:"working_population"`
	Source            string             `json:"source"`
}

// RoadNetworkProvider источник дорожной сети
type RoadNetworkProvider interface {
	FetchRoadNetwork(ctx context.Context, center geo.Point, radiusKm float64) (*NetworkData, error)
}

// TrafficProvider источник дорожной обстановки
type TrafficProvider interface {
	FetchTraffic(ctx context.Context, bbox geo.BBox) (*TrafficData, error)
}

// PopulationProvider источник данных о населении
type PopulationProvider interface {
	FetchPopulation(ctx context.Context, bbox geo.BBox) (*PopulationData, error)
}
