package service

import (
	"fmt"
)

// Уровни риска итоговой оценки
const (
	RiskLow      = "low"
	RiskModerate = "moderate"
	RiskHigh     = "high"
)

// Summarize строит текстовую сводку, оценку риска и рекомендации из
// итоговых метрик. Правила детерминированы: одинаковые метрики всегда
// дают одинаковый текст.
func Summarize(m *FinalMetrics) (summary, risk string, recommendations []string) {
	risk = assessRisk(m)

	summary = fmt.Sprintf(
		"Simulated %d vehicles over a network of %d road segments. "+
			"Total driving distance %.1f km, CO2 emissions %.1f kg, "+
			"average congested length %.1f km. %d road segments are affected by construction.",
		m.TotalVehicles, m.RoadsCount,
		m.DrivingDistanceKm, m.CO2EmissionsKg, m.CongestionLengthKm,
		m.AffectedEdges,
	)

	if m.AffectedEdges > 0 {
		recommendations = append(recommendations,
			fmt.Sprintf("Plan detours around %d construction-affected road segments", m.AffectedEdges))
	}
	if m.CongestionLengthKm > 2 {
		recommendations = append(recommendations,
			"Consider staggering departure times to relieve sustained congestion")
	}
	if m.AffectedEdges > 10 {
		recommendations = append(recommendations,
			"Split construction works into phases to reduce simultaneous closures")
	}
	if m.TotalVehicles > 0 && m.ArrivedVehicles*2 < m.TotalVehicles {
		recommendations = append(recommendations,
			"Less than half of the trips completed in time, extend the observation window")
	}
	if len(recommendations) == 0 {
		recommendations = append(recommendations,
			"Traffic conditions are stable, no interventions required")
	}

	return summary, risk, recommendations
}

// assessRisk оценивает риск по числу затронутых рёбер и длине заторов
func assessRisk(m *FinalMetrics) string {
	switch {
	case m.AffectedEdges > 20 || m.CongestionLengthKm > 5:
		return RiskHigh
	case m.AffectedEdges > 5 || m.CongestionLengthKm > 1:
		return RiskModerate
	default:
		return RiskLow
	}
}
