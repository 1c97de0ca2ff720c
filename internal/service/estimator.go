package service

import (
	"math/rand"

	"urbansim/internal/engine"
	"urbansim/internal/repository"
)

// Базовые значения закрытой оценки и вклад одного маркера
const (
	baselineDistanceKm   = 385.0
	baselineCongestionKm = 0.8
	baselineEmissionsKg  = 72.0

	constructionDistanceKm   = 15.0
	constructionCongestionKm = 0.8
	constructionEmissionsKg  = 12.0

	facilityDistanceKm   = 8.0
	facilityCongestionKm = 0.3
	facilityEmissionsKg  = 6.0
)

// estimateResponse собирает ответ закрытой формулой, когда симуляция
// невозможна: базовые величины плюс вклад каждого маркера, с разбросом
// ±5%. construction_impacts в этом режиме пуст.
func (s *Service) estimateResponse(markers []repository.Marker, rng *rand.Rand) *SimulationResponse {
	distance := baselineDistanceKm
	congestion := baselineCongestionKm
	emissions := baselineEmissionsKg

	for _, m := range markers {
		switch m.Type {
		case engine.MarkerConstruction:
			distance += constructionDistanceKm
			congestion += constructionCongestionKm
			emissions += constructionEmissionsKg
		case engine.MarkerFacility:
			distance += facilityDistanceKm
			congestion += facilityCongestionKm
			emissions += facilityEmissionsKg
		}
	}

	final := &FinalMetrics{
		DrivingDistanceKm:   round1(vary(distance, rng)),
		CongestionLengthKm:  round1(vary(congestion, rng)),
		CO2EmissionsKg:      round1(vary(emissions, rng)),
		VehicleSample:       []VehicleSummary{},
		ConstructionImpacts: []engine.ConstructionImpact{},
	}

	summary, risk, recommendations := Summarize(final)
	return &SimulationResponse{
		Metrics:         final,
		AISummary:       summary,
		RiskAssessment:  risk,
		Recommendations: recommendations,
	}
}
