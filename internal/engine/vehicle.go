// Package engine содержит ядро микросимуляции: генерацию спроса,
// применение маркеров, пошаговый цикл движения и сборку снапшотов.
package engine

import (
	"urbansim/pkg/geo"
)

// VehicleState состояние машины в жизненном цикле
type VehicleState string

const (
	StateScheduled VehicleState = "SCHEDULED"
	StateActive    VehicleState = "ACTIVE"
	StateArrived   VehicleState = "ARRIVED"
)

// Vehicle машина симуляции. Создаётся один раз при генерации спроса,
// маршрут не пересчитывается. Поля мутирует только цикл симуляции.
type Vehicle struct {
	ID string `json:"id"`

	// Route - оставшиеся рёбра; пройденные снимаются с головы.
	// EdgeTrail - полный упорядоченный след для снапшотов.
	Route     []string `json:"route"`
	EdgeTrail []string `json:"edge_trail"`

	Polyline     []geo.Point `json:"route_coordinates"`
	RouteLengthM float64     `json:"route_length_m"`

	DepartTimeS  int `json:"depart_time_s"`
	ArrivalTimeS int `json:"arrival_time_s"` // -1 пока не прибыла

	SpeedKmh          float64 `json:"speed"`
	EdgeProgress      float64 `json:"current_edge_progress"`
	DistanceTraveledM float64 `json:"distance_traveled_m"`
	EmissionsG        float64 `json:"emissions_g"`
}

// State возвращает состояние машины в момент времени t
func (v *Vehicle) State(t int) VehicleState {
	switch {
	case v.Arrived():
		return StateArrived
	case v.DepartTimeS <= t:
		return StateActive
	default:
		return StateScheduled
	}
}

// Active сообщает, движется ли машина в момент t
func (v *Vehicle) Active(t int) bool {
	return v.DepartTimeS <= t && !v.Arrived()
}

// Arrived сообщает, завершила ли машина маршрут
func (v *Vehicle) Arrived() bool {
	return v.ArrivalTimeS >= 0
}

// CurrentEdge возвращает идентификатор текущего ребра
func (v *Vehicle) CurrentEdge() (string, bool) {
	if len(v.Route) == 0 {
		return "", false
	}
	return v.Route[0], true
}

// Progress возвращает долю пройденного маршрута в [0, 1]
func (v *Vehicle) Progress() float64 {
	if v.RouteLengthM <= 0 {
		return 0
	}
	p := v.DistanceTraveledM / v.RouteLengthM
	if p > 1 {
		p = 1
	}
	return p
}
