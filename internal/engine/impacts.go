package engine

import (
	"fmt"
	"math"
	"math/rand"

	"urbansim/internal/roadgraph"
	"urbansim/internal/routing"
	"urbansim/pkg/geo"
	"urbansim/pkg/logger"
)

// Типы маркеров
const (
	MarkerConstruction = "construction"
	MarkerFacility     = "facility"
)

// Marker точечный объект, влияющий на симуляцию
type Marker struct {
	Type       string    `json:"type"`
	Coordinate geo.Point `json:"coordinates"`
}

// ConstructionImpact запись о снижении характеристик ребра
type ConstructionImpact struct {
	EdgeID        string  `json:"edge_id"`
	OriginalSpeed float64 `json:"original_speed"`
	ReducedSpeed  float64 `json:"reduced_speed"`
}

// ImpactResult итог применения маркеров
type ImpactResult struct {
	Impacts       []ConstructionImpact
	AffectedEdges int
	ExtraVehicles []*Vehicle
}

// Параметры влияния маркеров
const (
	constructionRadiusM = 500.0
	facilityRadiusM     = 200.0

	constructionSpeedFactor    = 0.4
	constructionCapacityFactor = 0.6
	constructionSpeedFloor     = 5.0
	constructionCapacityFloor  = 50.0

	// Вероятность полного перекрытия
	severeBlockProbability = 0.05
	severeBlockSpeed       = 5.0
	severeBlockCapacity    = 10.0

	facilityTripCap      = 100
	facilityDepartWindow = 3600
	facilityDestMinM     = 1000.0
)

// ApplyMarkers применяет маркеры к графу: construction снижает скорость и
// пропускную способность ближних рёбер, facility добавляет локальные
// поездки. Повторные facility-маркеры в одной точке игнорируются.
func ApplyMarkers(
	g *roadgraph.Graph,
	builder *routing.Builder,
	markers []Marker,
	densityPerKm2 float64,
	rng *rand.Rand,
) *ImpactResult {
	result := &ImpactResult{}
	affected := make(map[string]bool)
	seenFacilities := make(map[string]bool)

	for _, m := range markers {
		switch m.Type {
		case MarkerConstruction:
			applyConstruction(g, m, affected, result, rng)
		case MarkerFacility:
			key := facilityKey(m.Coordinate)
			if seenFacilities[key] {
				continue
			}
			seenFacilities[key] = true
			applyFacility(g, builder, m, densityPerKm2, result, rng)
		default:
			logger.Warn("unknown marker type skipped", "type", m.Type)
		}
	}

	result.AffectedEdges = len(affected)
	return result
}

// applyConstruction снижает характеристики рёбер в радиусе 500 м.
// Каждое ребро затрагивается не более одного раза.
func applyConstruction(g *roadgraph.Graph, m Marker, affected map[string]bool, result *ImpactResult, rng *rand.Rand) {
	for _, e := range g.Edges() {
		if affected[e.ID] {
			continue
		}
		if geo.Distance(m.Coordinate, e.Start()) > constructionRadiusM {
			continue
		}

		original := e.Speed

		var reduced float64
		if rng.Float64() < severeBlockProbability {
			// Полное перекрытие
			reduced = e.ApplyReduction(0, 0, severeBlockSpeed, severeBlockCapacity)
		} else {
			reduced = e.ApplyReduction(
				constructionSpeedFactor, constructionCapacityFactor,
				constructionSpeedFloor, constructionCapacityFloor,
			)
		}

		result.Impacts = append(result.Impacts, ConstructionImpact{
			EdgeID:        e.ID,
			OriginalSpeed: original,
			ReducedSpeed:  reduced,
		})
		affected[e.ID] = true
	}
}

// applyFacility добавляет поездки, порождённые объектом притяжения
func applyFacility(g *roadgraph.Graph, builder *routing.Builder, m Marker, densityPerKm2 float64, result *ImpactResult, rng *rand.Rand) {
	count := int(math.Round(densityPerKm2 * 4 * 0.05))
	if count > facilityTripCap {
		count = facilityTripCap
	}
	if count <= 0 {
		return
	}

	var nearby []*roadgraph.Edge
	for _, e := range g.Edges() {
		if geo.Distance(m.Coordinate, e.Start()) <= facilityRadiusM {
			nearby = append(nearby, e)
		}
	}
	if len(nearby) == 0 {
		return
	}

	base := len(result.ExtraVehicles)
	for i := 0; i < count; i++ {
		origin := nearby[rng.Intn(len(nearby))]
		dest := builder.RandomDistantEdge(origin.Start(), facilityDestMinM)

		v := buildVehicle(fmt.Sprintf("facility_trip_%d", base+i), origin, dest, builder, rng)
		if v == nil {
			continue
		}

		v.DepartTimeS = rng.Intn(facilityDepartWindow)
		v.SpeedKmh = math.Max(10, origin.Speed*0.6)

		result.ExtraVehicles = append(result.ExtraVehicles, v)
	}
}

// facilityKey ключ дедупликации по координате с точностью 6 знаков
func facilityKey(p geo.Point) string {
	return fmt.Sprintf("%.6f:%.6f", p.Lat, p.Lng)
}
