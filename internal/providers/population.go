package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"urbansim/pkg/config"
	"urbansim/pkg/geo"
	"urbansim/pkg/logger"
	"urbansim/pkg/metrics"
	"urbansim/pkg/telemetry"
)

// Константы оценки населения при недоступном источнике
const (
	fallbackDensityPerKm2 = 3000.0
	vehicleOwnershipRate  = 0.35
	defaultPeakHourFactor = 0.8
	workingShare          = 0.55
)

// HTTPPopulationProvider получает данные о населении области.
// При недоступности источника оценивает население по площади рамки.
type HTTPPopulationProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *slog.Logger
}

// NewPopulationProvider создаёт провайдера населения
func NewPopulationProvider(cfg config.ProvidersConfig) *HTTPPopulationProvider {
	timeout := cfg.Population.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPopulationProvider{
		baseURL: cfg.Population.BaseURL,
		apiKey:  cfg.Population.APIKey,
		client:  &http.Client{Timeout: timeout},
		log:     logger.WithComponent("provider.population"),
	}
}

// FetchPopulation возвращает данные о населении рамки. Ошибка источника
// не прерывает запуск: возвращается оценка с Source=estimate.
func (p *HTTPPopulationProvider) FetchPopulation(ctx context.Context, bbox geo.BBox) (*PopulationData, error) {
	ctx, span := telemetry.StartSpan(ctx, "providers.FetchPopulation")
	defer span.End()

	data, err := p.fetchRemote(ctx, bbox)
	if err != nil {
		p.log.Warn("population fetch failed, using area estimate", "error", err)
		metrics.Get().RecordProviderFallback("population")
		data = EstimatePopulation(bbox)
	}

	telemetry.SetAttributes(ctx, telemetry.ProviderAttributes("population", data.Source)...)
	return data, nil
}

type populationResponse struct {
	Total           int                `json:"total_population"`
	Density         float64            `json:"density_per_km2"`
	AgeDistribution map[string]float64 `json:"age_distribution"`
	WorkingShare    float64            `json:"working_share"`
}

func (p *HTTPPopulationProvider) fetchRemote(ctx context.Context, bbox geo.BBox) (*PopulationData, error) {
	if p.baseURL == "" {
		return nil, fmt.Errorf("population base url is not configured")
	}

	q := url.Values{}
	q.Set("bbox", fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", bbox.MinLat, bbox.MinLng, bbox.MaxLat, bbox.MaxLng))
	if p.apiKey != "" {
		q.Set("key", p.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build population request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("population request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("population api returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read population response: %w", err)
	}

	var pr populationResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("decode population response: %w", err)
	}
	if pr.Total <= 0 {
		return nil, fmt.Errorf("population api returned empty data")
	}

	ws := pr.WorkingShare
	if ws <= 0 || ws > 1 {
		ws = workingShare
	}
	density := pr.Density
	if density <= 0 {
		if area := bbox.AreaKm2(); area > 0 {
			density = float64(pr.Total) / area
		}
	}

	return &PopulationData{
		Total:             pr.Total,
		DensityPerKm2:     density,
		EstimatedVehicles: int(math.Round(float64(pr.Total) * vehicleOwnershipRate)),
		PeakHourFactor:    defaultPeakHourFactor,
		AgeDistribution:   pr.AgeDistribution,
		WorkingPopulation: int(math.Round(float64(pr.Total) * ws)),
		Source:            SourcePrimary,
	}, nil
}

// EstimatePopulation оценивает население по площади рамки и типичной
// городской плотности. Оценка детерминирована.
func EstimatePopulation(bbox geo.BBox) *PopulationData {
	area := bbox.AreaKm2()
	if area <= 0 {
		area = 1
	}

	total := int(math.Round(area * fallbackDensityPerKm2))

	return &PopulationData{
		Total:             total,
		DensityPerKm2:     fallbackDensityPerKm2,
		EstimatedVehicles: int(math.Round(float64(total) * vehicleOwnershipRate)),
		PeakHourFactor:    defaultPeakHourFactor,
		AgeDistribution: map[string]float64{
			"0-17":  0.18,
			"18-34": 0.27,
			"35-59": 0.35,
			"60+":   0.20,
		},
		WorkingPopulation: int(math.Round(float64(total) * workingShare)),
		Source:            SourceEstimate,
	}
}
