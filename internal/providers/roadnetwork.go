package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"urbansim/internal/roadgraph"
	"urbansim/pkg/cache"
	"urbansim/pkg/config"
	"urbansim/pkg/geo"
	"urbansim/pkg/logger"
	"urbansim/pkg/metrics"
	"urbansim/pkg/telemetry"
)

// OverpassProvider загружает дорожную сеть из Overpass API.
// Ответы кэшируются; при недоступности API генерируется синтетическая сетка.
type OverpassProvider struct {
	baseURL string
	client  *http.Client
	cache   cache.Cache
	ttl     time.Duration
	log     *slog.Logger
}

// NewOverpassProvider создаёт провайдера дорожной сети
func NewOverpassProvider(cfg config.ProvidersConfig, c cache.Cache) *OverpassProvider {
	timeout := cfg.RoadNetwork.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ttl := cfg.RoadCacheTTL
	if ttl == 0 {
		ttl = 10 * time.Minute
	}

	return &OverpassProvider{
		baseURL: cfg.RoadNetwork.BaseURL,
		client:  &http.Client{Timeout: timeout},
		cache:   c,
		ttl:     ttl,
		log:     logger.WithComponent("provider.road_network"),
	}
}

// FetchRoadNetwork возвращает дороги в радиусе radiusKm от центра.
// Порядок: кэш, затем Overpass, затем синтетическая сетка.
func (p *OverpassProvider) FetchRoadNetwork(ctx context.Context, center geo.Point, radiusKm float64) (*NetworkData, error) {
	ctx, span := telemetry.StartSpan(ctx, "providers.FetchRoadNetwork")
	defer span.End()

	key := cacheKey(center, radiusKm)

	if p.cache != nil {
		if raw, err := p.cache.Get(ctx, key); err == nil {
			var data NetworkData
			if err := json.Unmarshal(raw, &data); err == nil {
				p.log.Debug("road network served from cache", "key", key, "roads", len(data.Roads))
				return &data, nil
			}
		}
	}

	data, err := p.fetchOverpass(ctx, center, radiusKm)
	if err != nil {
		p.log.Warn("overpass fetch failed, generating synthetic network",
			"error", err, "lat", center.Lat, "lng", center.Lng)
		metrics.Get().RecordProviderFallback("road_network")
		data = &NetworkData{
			Roads:  SyntheticNetwork(center, radiusKm),
			Source: SourceRegionalFallback,
		}
	}

	if p.cache != nil {
		if raw, err := json.Marshal(data); err == nil {
			_ = p.cache.Set(ctx, key, raw, p.ttl)
		}
	}

	telemetry.SetAttributes(ctx, telemetry.ProviderAttributes("road_network", data.Source)...)
	return data, nil
}

func cacheKey(center geo.Point, radiusKm float64) string {
	return fmt.Sprintf("roadnet:%.4f:%.4f:%g", center.Lat, center.Lng, radiusKm)
}

func (p *OverpassProvider) fetchOverpass(ctx context.Context, center geo.Point, radiusKm float64) (*NetworkData, error) {
	if p.baseURL == "" {
		return nil, fmt.Errorf("road network base url is not configured")
	}

	query := overpassQuery(center, radiusKm)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, strings.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("build overpass request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("overpass request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("overpass returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read overpass response: %w", err)
	}

	roads, err := ParseOverpass(body)
	if err != nil {
		return nil, err
	}
	if len(roads) == 0 {
		return nil, fmt.Errorf("overpass returned no ways")
	}

	p.log.Info("road network fetched", "roads", len(roads), "radius_km", radiusKm)
	return &NetworkData{Roads: roads, Source: SourcePrimary}, nil
}

// overpassQuery собирает запрос всех дорог в радиусе от точки
func overpassQuery(center geo.Point, radiusKm float64) string {
	radiusM := int(radiusKm * 1000)
	return fmt.Sprintf(
		"[out:json][timeout:25];way[highway](around:%d,%.6f,%.6f);out geom;",
		radiusM, center.Lat, center.Lng,
	)
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Nodes    []int64           `json:"nodes"`
	Tags     map[string]string `json:"tags"`
	Geometry []overpassPoint   `json:"geometry"`
}

type overpassPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ParseOverpass разбирает ответ Overpass в список дорог
func ParseOverpass(raw []byte) ([]roadgraph.Road, error) {
	var resp overpassResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode overpass response: %w", err)
	}

	roads := make([]roadgraph.Road, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		if el.Type != "way" || len(el.Geometry) < 2 {
			continue
		}

		geom := make([]geo.Point, len(el.Geometry))
		for i, g := range el.Geometry {
			geom[i] = geo.Point{Lat: g.Lat, Lng: g.Lon}
		}

		roads = append(roads, roadgraph.Road{
			ID:       strconv.FormatInt(el.ID, 10),
			NodeIDs:  el.Nodes,
			Tags:     el.Tags,
			Geometry: geom,
		})
	}

	return roads, nil
}
