package engine

import (
	"fmt"
	"math"
	"math/rand"

	"urbansim/internal/providers"
	"urbansim/internal/roadgraph"
	"urbansim/internal/routing"
	"urbansim/pkg/geo"
	"urbansim/pkg/logger"
)

// Параметры генерации спроса
const (
	// Жёсткий потолок машин фонового спроса
	DefaultMaxVehicles = 500

	// Окно времени отправления, секунд
	departWindowS = 2400

	// Маршруты короче отбрасываются
	minRouteLengthM = 200.0

	// Минимальное удаление пункта назначения от отправления
	destMinDistanceM = 2000.0
)

// GenerateDemand превращает данные о населении и загруженности в набор
// машин с маршрутами и временами отправления. Машины с маршрутом короче
// 200 м отбрасываются.
func GenerateDemand(
	g *roadgraph.Graph,
	builder *routing.Builder,
	population *providers.PopulationData,
	traffic *providers.TrafficData,
	maxVehicles int,
	rng *rand.Rand,
) []*Vehicle {
	if g.IsEmpty() || population == nil {
		return nil
	}
	if maxVehicles <= 0 {
		maxVehicles = DefaultMaxVehicles
	}

	multiplier := 1.0
	if traffic != nil {
		multiplier = providers.TrafficMultiplier(traffic.CongestionLevel)
	}

	raw := int(math.Round(float64(population.EstimatedVehicles) * population.PeakHourFactor * multiplier))
	demand := raw
	if demand > maxVehicles {
		demand = maxVehicles
	}

	vehicles := make([]*Vehicle, 0, demand)
	for i := 0; i < demand; i++ {
		origin := builder.RandomEdge()
		if origin == nil {
			break
		}
		dest := builder.RandomDistantEdge(origin.Start(), destMinDistanceM)

		v := buildVehicle(fmt.Sprintf("vehicle_%d", i), origin, dest, builder, rng)
		if v == nil {
			continue
		}

		v.DepartTimeS = rng.Intn(departWindowS)
		v.SpeedKmh = initialSpeed(origin.FreeFlowSpeed, rng)

		vehicles = append(vehicles, v)
	}

	logger.Info("demand generated",
		"raw", raw, "demand", demand, "vehicles", len(vehicles),
		"multiplier", multiplier)

	return vehicles
}

// buildVehicle собирает машину с маршрутом между двумя рёбрами.
// Возвращает nil, если маршрут слишком короткий.
func buildVehicle(id string, origin, dest *roadgraph.Edge, builder *routing.Builder, rng *rand.Rand) *Vehicle {
	if origin == nil {
		return nil
	}

	var route *routing.Route
	if dest != nil && dest.ID != origin.ID {
		route = builder.BuildRoute(origin, dest)
	}
	if route == nil {
		route = singleEdgeRoute(origin)
	}

	if route.LengthM < minRouteLengthM {
		return nil
	}

	trail := make([]string, len(route.EdgeIDs))
	copy(trail, route.EdgeIDs)

	return &Vehicle{
		ID:           id,
		Route:        route.EdgeIDs,
		EdgeTrail:    trail,
		Polyline:     route.Coordinates,
		RouteLengthM: route.LengthM,
		ArrivalTimeS: -1,
	}
}

// singleEdgeRoute строит вырожденный маршрут из одного ребра. Полилиния
// уплотняется тем же шагом 5 м, что и у построителя маршрутов.
func singleEdgeRoute(e *roadgraph.Edge) *routing.Route {
	dense := geo.Densify(e.Geometry, 5)
	return &routing.Route{
		EdgeIDs:     []string{e.ID},
		Coordinates: dense,
		LengthM:     geo.PolylineLength(dense),
	}
}

// initialSpeed задаёт стартовую скорость относительно free-flow ребра
func initialSpeed(freeFlow float64, rng *rand.Rand) float64 {
	speed := freeFlow * (0.6 + rng.Float64()*0.4)
	if speed < 15 {
		speed = 15
	}
	return speed
}
