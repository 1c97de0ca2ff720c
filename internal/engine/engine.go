package engine

import (
	"context"
	"math"

	"urbansim/internal/providers"
	"urbansim/internal/roadgraph"
	"urbansim/pkg/apperror"
	"urbansim/pkg/geo"
	"urbansim/pkg/logger"
	"urbansim/pkg/telemetry"
)

// Параметры цикла симуляции
const (
	// Порог числа активных машин для мелкого шага
	fineStepThreshold = 100
	fineStepS         = 1
	coarseStepS       = 10

	congestionSampleEveryS = 300
	snapshotEveryS         = 10
	progressLogEveryS      = 600

	// Порог загрузки ребра, после которого скорость падает
	utilizationThreshold = 0.7

	// Радиус привязки замера потока к ребру
	flowMatchRadiusM = 1000.0

	smoothingFactor = 0.2
	antiStallSpeed  = 5.0

	// Прогресс по ребру ограничен, чтобы гарантировать продвижение
	maxEdgeProgress = 0.95

	emissionEveryS  = 10
	emissionBaseGKm = 120.0
)

// Options параметры одного прогона
type Options struct {
	DurationS      int
	LiveSampleSize int // машин в снапшоте
	SegmentCap     int // сегментов затора в снапшоте
}

// Result итог прогона симуляции
type Result struct {
	Vehicles           []*Vehicle
	CongestionLengthKm float64
	DurationS          int
	ArrivedCount       int
}

// TotalDistanceKm суммарный пробег всех машин
func (r *Result) TotalDistanceKm() float64 {
	var total float64
	for _, v := range r.Vehicles {
		total += v.DistanceTraveledM
	}
	return total / 1000
}

// TotalEmissionsKg суммарные выбросы в килограммах
func (r *Result) TotalEmissionsKg() float64 {
	var total float64
	for _, v := range r.Vehicles {
		total += v.EmissionsG
	}
	return total / 1000
}

// Engine пошаговая микросимуляция. Машины и изменяемые поля рёбер
// принадлежат циклу; внешний код их не трогает во время прогона.
type Engine struct {
	graph    *roadgraph.Graph
	vehicles []*Vehicle

	// Скорость потока, привязанная к рёбрам по близости замера
	flowSpeedByEdge map[string]float64
}

// New создаёт движок. Замеры трафика заранее привязываются к рёбрам.
func New(g *roadgraph.Graph, vehicles []*Vehicle, traffic *providers.TrafficData) *Engine {
	e := &Engine{
		graph:           g,
		vehicles:        vehicles,
		flowSpeedByEdge: make(map[string]float64),
	}

	if traffic != nil {
		e.bindFlows(traffic.Flows)
	}
	return e
}

// bindFlows сопоставляет замеры потока рёбрам в радиусе 1000 м
func (e *Engine) bindFlows(flows []providers.Flow) {
	for _, f := range flows {
		if len(f.Coordinates) == 0 {
			continue
		}
		origin := f.Coordinates[0]
		for _, edge := range e.graph.Edges() {
			if geo.Distance(origin, edge.Start()) > flowMatchRadiusM {
				continue
			}
			if cur, ok := e.flowSpeedByEdge[edge.ID]; !ok || f.CurrentSpeed < cur {
				e.flowSpeedByEdge[edge.ID] = f.CurrentSpeed
			}
		}
	}
}

// Run выполняет прогон. emit вызывается для периодических снапшотов и
// может быть nil. Отмена контекста останавливает цикл на границе шага.
func (e *Engine) Run(ctx context.Context, opts Options, emit func(*Snapshot)) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.Run")
	defer span.End()

	log := logger.WithComponent("engine")

	var congestionSum float64
	var samples int

	lastCongestion := -congestionSampleEveryS
	lastSnapshot := -snapshotEveryS
	lastLog := 0
	lastEmission := make(map[string]int, len(e.vehicles))

	t := 0
	for t < opts.DurationS {
		select {
		case <-ctx.Done():
			telemetry.SetError(ctx, ctx.Err())
			return nil, apperror.Wrap(ctx.Err(), apperror.CodeSimulationAborted, "simulation cancelled")
		default:
		}

		active := e.activeVehicles(t)

		dt := coarseStepS
		if len(active) > fineStepThreshold {
			dt = fineStepS
		}

		occupancy := e.occupancy(active)

		for _, v := range active {
			e.advance(v, t, dt, occupancy, lastEmission)
		}

		if t-lastCongestion >= congestionSampleEveryS {
			congestionSum += e.congestionLengthKm(occupancy)
			samples++
			lastCongestion = t
		}

		if emit != nil && t-lastSnapshot >= snapshotEveryS {
			emit(e.Snapshot(t, opts.LiveSampleSize, opts.SegmentCap))
			lastSnapshot = t
		}

		if t-lastLog >= progressLogEveryS {
			log.Info("simulation progress",
				"t", t, "active", len(active), "arrived", e.arrivedCount())
			lastLog = t
		}

		t += dt
	}

	result := &Result{
		Vehicles:           e.vehicles,
		CongestionLengthKm: normalizeCongestion(congestionSum, opts.DurationS),
		DurationS:          opts.DurationS,
		ArrivedCount:       e.arrivedCount(),
	}

	log.Info("simulation finished",
		"duration_s", opts.DurationS,
		"vehicles", len(e.vehicles),
		"arrived", result.ArrivedCount,
		"distance_km", result.TotalDistanceKm())

	return result, nil
}

// normalizeCongestion усредняет накопленные замеры по пятиминутным окнам
func normalizeCongestion(sum float64, durationS int) float64 {
	windows := float64(durationS) / 60 / 5
	if windows < 1 {
		windows = 1
	}
	return sum / windows
}

// activeVehicles возвращает машины, движущиеся в момент t
func (e *Engine) activeVehicles(t int) []*Vehicle {
	var active []*Vehicle
	for _, v := range e.vehicles {
		if v.Active(t) {
			active = append(active, v)
		}
	}
	return active
}

// occupancy считает машины на каждом ребре
func (e *Engine) occupancy(active []*Vehicle) map[string]int {
	occ := make(map[string]int, len(active))
	for _, v := range active {
		if id, ok := v.CurrentEdge(); ok {
			occ[id]++
		}
	}
	return occ
}

func (e *Engine) arrivedCount() int {
	var n int
	for _, v := range e.vehicles {
		if v.Arrived() {
			n++
		}
	}
	return n
}

// advance продвигает машину на один шаг: целевая скорость из ребра,
// замера потока и загрузки, сглаживание, проход по рёбрам, выбросы.
func (e *Engine) advance(v *Vehicle, t, dt int, occupancy map[string]int, lastEmission map[string]int) {
	edgeID, ok := v.CurrentEdge()
	if !ok {
		return
	}
	edge, ok := e.graph.EdgeByID(edgeID)
	if !ok {
		// Битое ребро в маршруте: машина завершает поездку
		v.Route = nil
		v.ArrivalTimeS = t
		return
	}

	target := edge.Speed
	if flowSpeed, ok := e.flowSpeedByEdge[edgeID]; ok && flowSpeed < target {
		target = flowSpeed
	}

	utilization := float64(occupancy[edgeID]) / math.Max(1, edge.Capacity/3600)
	if utilization > utilizationThreshold {
		factor := 1 - (utilization-utilizationThreshold)*0.5
		if factor < 0.1 {
			factor = 0.1
		}
		target *= factor
	}

	v.SpeedKmh += smoothingFactor * (target - v.SpeedKmh)
	if v.SpeedKmh < 0 {
		v.SpeedKmh = 0
	}
	if target > 0 && v.SpeedKmh < antiStallSpeed {
		v.SpeedKmh = math.Max(antiStallSpeed, target*0.3)
	}

	// Метры за шаг
	d := v.SpeedKmh * float64(dt) / 3.6

	remaining := edge.LengthM * (1 - v.EdgeProgress)
	if d >= remaining {
		v.DistanceTraveledM += remaining
		v.Route = v.Route[1:]
		v.EdgeProgress = 0

		if len(v.Route) == 0 {
			v.ArrivalTimeS = t
		} else if next, ok := e.graph.EdgeByID(v.Route[0]); ok && next.LengthM > 0 {
			carry := d - remaining
			v.EdgeProgress = math.Min(maxEdgeProgress, carry/next.LengthM)
		}
	} else {
		v.DistanceTraveledM += d
		v.EdgeProgress = math.Min(maxEdgeProgress, v.EdgeProgress+d/edge.LengthM)
	}

	if t-lastEmission[v.ID] >= emissionEveryS {
		v.EmissionsG += emissionFactor(v.SpeedKmh) * (v.SpeedKmh / 3600)
		lastEmission[v.ID] = t
	}
}

// emissionFactor г/км в зависимости от скорости
func emissionFactor(speedKmh float64) float64 {
	switch {
	case speedKmh < 20:
		return emissionBaseGKm * 1.6
	case speedKmh < 40:
		return emissionBaseGKm * 1.2
	case speedKmh > 80:
		return emissionBaseGKm * 1.3
	default:
		return emissionBaseGKm
	}
}

// congestionLengthKm мгновенная длина перегруженных рёбер в километрах
func (e *Engine) congestionLengthKm(occupancy map[string]int) float64 {
	var meters float64
	for _, edge := range e.graph.Edges() {
		utilization := float64(occupancy[edge.ID]) / math.Max(1, edge.Capacity/3600)
		if utilization > utilizationThreshold {
			meters += edge.LengthM
		}
	}
	return meters / 1000
}
