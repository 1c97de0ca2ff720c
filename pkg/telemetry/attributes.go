package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Стандартные ключи атрибутов
const (
	// Симуляция
	AttrSimulationID     = "simulation.id"
	AttrSimulationMode   = "simulation.mode"
	AttrDurationMinutes  = "simulation.duration_minutes"
	AttrVehiclesTotal    = "simulation.vehicles_total"
	AttrVehiclesArrived  = "simulation.vehicles_arrived"
	AttrMarkersCount     = "simulation.markers"

	// Граф
	AttrGraphEdges  = "graph.edges"
	AttrGraphNodes  = "graph.nodes"
	AttrGraphSource = "graph.source"
	AttrRadiusKm    = "graph.radius_km"

	// Провайдеры
	AttrProviderName   = "provider.name"
	AttrProviderSource = "provider.source"

	// Хранилище
	AttrRepoOperation = "repo.operation"
	AttrRepoDriver    = "repo.driver"
)

// SimulationAttributes возвращает атрибуты запуска симуляции
func SimulationAttributes(id, mode string, durationMinutes, markers int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSimulationID, id),
		attribute.String(AttrSimulationMode, mode),
		attribute.Int(AttrDurationMinutes, durationMinutes),
		attribute.Int(AttrMarkersCount, markers),
	}
}

// GraphAttributes возвращает атрибуты дорожного графа
func GraphAttributes(edges, nodes int, source string, radiusKm float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrGraphEdges, edges),
		attribute.Int(AttrGraphNodes, nodes),
		attribute.String(AttrGraphSource, source),
		attribute.Float64(AttrRadiusKm, radiusKm),
	}
}

// ProviderAttributes возвращает атрибуты вызова провайдера
func ProviderAttributes(name, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrProviderName, name),
		attribute.String(AttrProviderSource, source),
	}
}
