package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"urbansim/pkg/config"
	"urbansim/pkg/geo"
	"urbansim/pkg/logger"
	"urbansim/pkg/metrics"
	"urbansim/pkg/telemetry"
)

// HTTPTrafficProvider получает дорожную обстановку из flow-segment API.
// При недоступности источника подставляет детерминированные данные,
// выведенные из координат рамки.
type HTTPTrafficProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *slog.Logger
}

// NewTrafficProvider создаёт провайдера дорожной обстановки
func NewTrafficProvider(cfg config.ProvidersConfig) *HTTPTrafficProvider {
	timeout := cfg.Traffic.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTrafficProvider{
		baseURL: cfg.Traffic.BaseURL,
		apiKey:  cfg.Traffic.APIKey,
		client:  &http.Client{Timeout: timeout},
		log:     logger.WithComponent("provider.traffic"),
	}
}

// FetchTraffic возвращает обстановку для рамки. Ошибка источника не
// прерывает запуск: возвращаются запасные данные с Source=estimate.
func (p *HTTPTrafficProvider) FetchTraffic(ctx context.Context, bbox geo.BBox) (*TrafficData, error) {
	ctx, span := telemetry.StartSpan(ctx, "providers.FetchTraffic")
	defer span.End()

	data, err := p.fetchRemote(ctx, bbox)
	if err != nil {
		p.log.Warn("traffic fetch failed, using fallback", "error", err)
		metrics.Get().RecordProviderFallback("traffic")
		data = FallbackTraffic(bbox)
	}

	telemetry.SetAttributes(ctx, telemetry.ProviderAttributes("traffic", data.Source)...)
	return data, nil
}

type flowSegmentResponse struct {
	FlowSegmentData struct {
		FRC           string  `json:"frc"`
		CurrentSpeed  float64 `json:"currentSpeed"`
		FreeFlowSpeed float64 `json:"freeFlowSpeed"`
		Confidence    float64 `json:"confidence"`
		Coordinates   struct {
			Coordinate []struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"coordinate"`
		} `json:"coordinates"`
	} `json:"flowSegmentData"`
}

func (p *HTTPTrafficProvider) fetchRemote(ctx context.Context, bbox geo.BBox) (*TrafficData, error) {
	if p.baseURL == "" {
		return nil, fmt.Errorf("traffic base url is not configured")
	}

	center := bbox.Center()
	q := url.Values{}
	q.Set("point", fmt.Sprintf("%.6f,%.6f", center.Lat, center.Lng))
	if p.apiKey != "" {
		q.Set("key", p.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build traffic request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("traffic request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("traffic api returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read traffic response: %w", err)
	}

	var seg flowSegmentResponse
	if err := json.Unmarshal(body, &seg); err != nil {
		return nil, fmt.Errorf("decode traffic response: %w", err)
	}

	fd := seg.FlowSegmentData
	if fd.FreeFlowSpeed == 0 {
		return nil, fmt.Errorf("traffic api returned empty segment")
	}

	coords := make([]geo.Point, 0, len(fd.Coordinates.Coordinate))
	for _, c := range fd.Coordinates.Coordinate {
		coords = append(coords, geo.Point{Lat: c.Latitude, Lng: c.Longitude})
	}

	flow := Flow{
		RoadName:      fd.FRC,
		CurrentSpeed:  fd.CurrentSpeed,
		FreeFlowSpeed: fd.FreeFlowSpeed,
		Confidence:    fd.Confidence,
		Coordinates:   coords,
	}

	return &TrafficData{
		Flows:           []Flow{flow},
		AverageDelayS:   delayFromFlow(flow),
		CongestionLevel: levelFromFlow(flow),
		Source:          SourcePrimary,
	}, nil
}

// delayFromFlow оценивает среднюю задержку по отношению скоростей
func delayFromFlow(f Flow) float64 {
	if f.FreeFlowSpeed <= 0 || f.CurrentSpeed >= f.FreeFlowSpeed {
		return 0
	}
	ratio := f.CurrentSpeed / f.FreeFlowSpeed
	return (1 - ratio) * 300
}

func levelFromFlow(f Flow) string {
	if f.FreeFlowSpeed <= 0 {
		return CongestionLow
	}
	switch ratio := f.CurrentSpeed / f.FreeFlowSpeed; {
	case ratio < 0.4:
		return CongestionSevere
	case ratio < 0.6:
		return CongestionHigh
	case ratio < 0.8:
		return CongestionMedium
	default:
		return CongestionLow
	}
}

// FallbackTraffic генерирует детерминированную обстановку из координат
// рамки. Одна и та же рамка всегда даёт один и тот же уровень.
func FallbackTraffic(bbox geo.BBox) *TrafficData {
	center := bbox.Center()
	rng := rand.New(rand.NewSource(trafficSeed(center)))

	levels := []string{CongestionLow, CongestionLow, CongestionMedium, CongestionMedium, CongestionHigh, CongestionSevere}
	level := levels[rng.Intn(len(levels))]

	delay := map[string]float64{
		CongestionLow:    15,
		CongestionMedium: 45,
		CongestionHigh:   90,
		CongestionSevere: 180,
	}[level]

	return &TrafficData{
		AverageDelayS:   delay + rng.Float64()*10,
		CongestionLevel: level,
		Source:          SourceEstimate,
	}
}

func trafficSeed(center geo.Point) int64 {
	lat := int64(center.Lat * 1e4)
	lng := int64(center.Lng * 1e4)
	return lat*1_000_003 + lng
}
