package engine

import (
	"math"
	"sort"

	"urbansim/pkg/geo"
)

// Параметры снапшота по умолчанию
const (
	DefaultLiveSampleSize = 50
	DefaultSegmentCap     = 20
)

// Уровни перегрузки сегмента
const (
	levelHighThreshold   = 0.8
	levelMediumThreshold = 0.5
	levelLowThreshold    = 0.3
)

// VehiclePosition положение машины в снапшоте
type VehiclePosition struct {
	ID         string      `json:"id"`
	Coordinate geo.Point   `json:"coordinate"`
	Speed      float64     `json:"speed"`
	Bearing    float64     `json:"bearing"`
	Progress   float64     `json:"progress"`
	Route      []string    `json:"route"`
	Polyline   []geo.Point `json:"route_coordinates"`
}

// CongestionSegment перегруженный участок дороги
type CongestionSegment struct {
	Coordinates []geo.Point `json:"coordinates"`
	Level       string      `json:"level"`
}

// Snapshot мгновенное состояние симуляции для живой трансляции
type Snapshot struct {
	TimestampS         int                 `json:"timestamp"`
	Vehicles           []VehiclePosition   `json:"vehicles"`
	CongestionSegments []CongestionSegment `json:"congestion_segments"`
	TotalVehicles      int                 `json:"total_vehicles"`
	AverageSpeed       float64             `json:"average_speed"`
}

// Snapshot строит снапшот момента t: до sampleSize машин с
// интерполированными позициями и до segmentCap перегруженных участков.
// Выборка машин устойчива между тиками за счёт сортировки по id.
func (e *Engine) Snapshot(t, sampleSize, segmentCap int) *Snapshot {
	if sampleSize <= 0 {
		sampleSize = DefaultLiveSampleSize
	}
	if segmentCap <= 0 {
		segmentCap = DefaultSegmentCap
	}

	active := e.activeVehicles(t)

	sorted := make([]*Vehicle, len(active))
	copy(sorted, active)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	sample := sorted
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}

	positions := make([]VehiclePosition, 0, len(sample))
	var speedSum float64
	for _, v := range active {
		speedSum += v.SpeedKmh
	}
	for _, v := range sample {
		positions = append(positions, position(v))
	}

	avg := 0.0
	if len(active) > 0 {
		avg = math.Round(speedSum/float64(len(active))*10) / 10
	}

	return &Snapshot{
		TimestampS:         t,
		Vehicles:           positions,
		CongestionSegments: e.congestionSegments(active, segmentCap),
		TotalVehicles:      len(active),
		AverageSpeed:       avg,
	}
}

// position интерполирует машину вдоль её уплотнённой полилинии
func position(v *Vehicle) VehiclePosition {
	progress := v.Progress()

	lineLength := geo.PolylineLength(v.Polyline)
	coord := geo.PointAtDistance(v.Polyline, progress*lineLength)

	aheadProgress := math.Min(1, progress+0.001)
	ahead := geo.PointAtDistance(v.Polyline, aheadProgress*lineLength)

	return VehiclePosition{
		ID:         v.ID,
		Coordinate: coord,
		Speed:      v.SpeedKmh,
		Bearing:    geo.Bearing(coord, ahead),
		Progress:   progress,
		Route:      v.EdgeTrail,
		Polyline:   v.Polyline,
	}
}

// congestionSegments перечисляет перегруженные рёбра по уровню загрузки
func (e *Engine) congestionSegments(active []*Vehicle, limit int) []CongestionSegment {
	occupancy := e.occupancy(active)

	var segments []CongestionSegment
	for _, edge := range e.graph.Edges() {
		if len(segments) >= limit {
			break
		}

		utilization := float64(occupancy[edge.ID]) / math.Max(1, edge.Capacity/3600)

		var level string
		switch {
		case utilization > levelHighThreshold:
			level = "high"
		case utilization > levelMediumThreshold:
			level = "medium"
		case utilization > levelLowThreshold:
			level = "low"
		default:
			continue
		}

		segments = append(segments, CongestionSegment{
			Coordinates: edge.Geometry,
			Level:       level,
		})
	}

	return segments
}
