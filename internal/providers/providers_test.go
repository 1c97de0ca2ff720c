package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urbansim/internal/roadgraph"
	"urbansim/pkg/cache"
	"urbansim/pkg/config"
	"urbansim/pkg/geo"
)

var testCenter = geo.Point{Lat: 48.8566, Lng: 2.3522}

func providersConfig(roadURL, trafficURL, populationURL string) config.ProvidersConfig {
	return config.ProvidersConfig{
		RoadNetwork:  config.ProviderEndpoint{BaseURL: roadURL, Timeout: 2 * time.Second},
		Traffic:      config.ProviderEndpoint{BaseURL: trafficURL, Timeout: 2 * time.Second},
		Population:   config.ProviderEndpoint{BaseURL: populationURL, Timeout: 2 * time.Second},
		RoadCacheTTL: time.Minute,
	}
}

func TestParseOverpass(t *testing.T) {
	raw := []byte(`{
		"elements": [
			{
				"type": "way", "id": 100, "nodes": [1, 2],
				"tags": {"highway": "primary", "lanes": "2"},
				"geometry": [
					{"lat": 48.85, "lon": 2.35},
					{"lat": 48.851, "lon": 2.351}
				]
			},
			{
				"type": "node", "id": 1
			},
			{
				"type": "way", "id": 101, "tags": {"highway": "residential"},
				"geometry": [{"lat": 48.85, "lon": 2.35}]
			}
		]
	}`)

	roads, err := ParseOverpass(raw)
	require.NoError(t, err)

	// Узлы и слишком короткие way отбрасываются
	require.Len(t, roads, 1)
	assert.Equal(t, "100", roads[0].ID)
	assert.Equal(t, []int64{1, 2}, roads[0].NodeIDs)
	assert.Equal(t, "primary", roads[0].HighwayClass())
	assert.Equal(t, geo.Point{Lat: 48.85, Lng: 2.35}, roads[0].Geometry[0])
}

func TestParseOverpass_Invalid(t *testing.T) {
	_, err := ParseOverpass([]byte("not json"))
	assert.Error(t, err)
}

func TestOverpassQuery(t *testing.T) {
	q := overpassQuery(testCenter, 3)
	assert.Contains(t, q, "[out:json]")
	assert.Contains(t, q, "way[highway](around:3000,48.856600,2.352200)")
	assert.Contains(t, q, "out geom;")
}

func TestCacheKey(t *testing.T) {
	key := cacheKey(testCenter, 3)
	assert.Equal(t, "roadnet:48.8566:2.3522:3", key)

	// Округление до 4 знаков склеивает близкие центры
	near := geo.Point{Lat: 48.85661, Lng: 2.35219}
	assert.Equal(t, key, cacheKey(near, 3))
}

func TestFetchRoadNetwork_Primary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{
			"elements": [{
				"type": "way", "id": 7, "tags": {"highway": "secondary"},
				"geometry": [
					{"lat": 48.85, "lon": 2.35},
					{"lat": 48.851, "lon": 2.351}
				]
			}]
		}`))
	}))
	defer srv.Close()

	p := NewOverpassProvider(providersConfig(srv.URL, "", ""), nil)

	data, err := p.FetchRoadNetwork(context.Background(), testCenter, 3)
	require.NoError(t, err)
	assert.Equal(t, SourcePrimary, data.Source)
	require.Len(t, data.Roads, 1)
	assert.Equal(t, "7", data.Roads[0].ID)
}

func TestFetchRoadNetwork_FallbackOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	p := NewOverpassProvider(providersConfig(srv.URL, "", ""), nil)

	data, err := p.FetchRoadNetwork(context.Background(), testCenter, 2)
	require.NoError(t, err)
	assert.Equal(t, SourceRegionalFallback, data.Source)
	assert.NotEmpty(t, data.Roads)

	// Запасная сеть пригодна для построения графа
	g := roadgraph.Build(data.Roads)
	assert.False(t, g.IsEmpty())
}

func TestFetchRoadNetwork_CacheRoundTrip(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{
			"elements": [{
				"type": "way", "id": 7, "tags": {"highway": "secondary"},
				"geometry": [
					{"lat": 48.85, "lon": 2.35},
					{"lat": 48.851, "lon": 2.351}
				]
			}]
		}`))
	}))
	defer srv.Close()

	c := cache.NewMemoryCache(cache.DefaultOptions())
	defer c.Close()

	p := NewOverpassProvider(providersConfig(srv.URL, "", ""), c)

	ctx := context.Background()
	first, err := p.FetchRoadNetwork(ctx, testCenter, 3)
	require.NoError(t, err)

	second, err := p.FetchRoadNetwork(ctx, testCenter, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first.Source, second.Source)
	assert.Equal(t, len(first.Roads), len(second.Roads))
}

func TestSyntheticNetwork_Deterministic(t *testing.T) {
	a := SyntheticNetwork(testCenter, 3)
	b := SyntheticNetwork(testCenter, 3)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
		assert.Equal(t, a[i].Geometry, b[i].Geometry)
	}

	// Другой центр даёт другую сеть
	other := SyntheticNetwork(geo.Point{Lat: 55.7558, Lng: 37.6173}, 3)
	assert.NotEqual(t, a[0].Geometry, other[0].Geometry)
}

func TestSyntheticNetwork_BuildableGraph(t *testing.T) {
	roads := SyntheticNetwork(testCenter, 2)
	g := roadgraph.Build(roads)

	assert.Greater(t, g.EdgeCount(), 20)
	assert.Greater(t, g.NodeCount(), 10)

	// Рёбра связаны: у внутренних узлов есть исходящие рёбра
	var connected int
	for _, e := range g.Edges() {
		if len(g.Outgoing(e.ToNode)) > 0 {
			connected++
		}
	}
	assert.Greater(t, connected, g.EdgeCount()/2)
}

func TestFallbackTraffic_Deterministic(t *testing.T) {
	bbox := geo.BBoxFromPoints([]geo.Point{testCenter}, 0.01)

	a := FallbackTraffic(bbox)
	b := FallbackTraffic(bbox)

	assert.Equal(t, a.CongestionLevel, b.CongestionLevel)
	assert.Equal(t, a.AverageDelayS, b.AverageDelayS)
	assert.Equal(t, SourceEstimate, a.Source)
	assert.Contains(t, []string{CongestionLow, CongestionMedium, CongestionHigh, CongestionSevere}, a.CongestionLevel)
}

func TestFetchTraffic_FallbackOnError(t *testing.T) {
	p := NewTrafficProvider(providersConfig("", "http://127.0.0.1:1", ""))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	data, err := p.FetchTraffic(ctx, geo.BBoxFromPoints([]geo.Point{testCenter}, 0.01))
	require.NoError(t, err)
	assert.Equal(t, SourceEstimate, data.Source)
	assert.NotEmpty(t, data.CongestionLevel)
}

func TestFetchTraffic_Primary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("point"))
		w.Write([]byte(`{
			"flowSegmentData": {
				"frc": "FRC1",
				"currentSpeed": 30,
				"freeFlowSpeed": 60,
				"confidence": 0.95,
				"coordinates": {"coordinate": [
					{"latitude": 48.85, "longitude": 2.35}
				]}
			}
		}`))
	}))
	defer srv.Close()

	p := NewTrafficProvider(providersConfig("", srv.URL, ""))

	data, err := p.FetchTraffic(context.Background(), geo.BBoxFromPoints([]geo.Point{testCenter}, 0.01))
	require.NoError(t, err)
	assert.Equal(t, SourcePrimary, data.Source)
	require.Len(t, data.Flows, 1)
	assert.Equal(t, 30.0, data.Flows[0].CurrentSpeed)
	// 30/60 = 0.5 попадает в HIGH
	assert.Equal(t, CongestionHigh, data.CongestionLevel)
	assert.Greater(t, data.AverageDelayS, 0.0)
}

func TestLevelFromFlow(t *testing.T) {
	tests := []struct {
		current, free float64
		expected      string
	}{
		{10, 60, CongestionSevere},
		{30, 60, CongestionHigh},
		{42, 60, CongestionMedium},
		{55, 60, CongestionLow},
		{0, 0, CongestionLow},
	}

	for _, tt := range tests {
		got := levelFromFlow(Flow{CurrentSpeed: tt.current, FreeFlowSpeed: tt.free})
		assert.Equal(t, tt.expected, got, "current=%v free=%v", tt.current, tt.free)
	}
}

func TestTrafficMultiplier(t *testing.T) {
	assert.Equal(t, 1.3, TrafficMultiplier(CongestionSevere))
	assert.Equal(t, 1.2, TrafficMultiplier(CongestionHigh))
	assert.Equal(t, 1.1, TrafficMultiplier(CongestionMedium))
	assert.Equal(t, 1.0, TrafficMultiplier(CongestionLow))
	assert.Equal(t, 1.0, TrafficMultiplier("unknown"))
}

func TestEstimatePopulation(t *testing.T) {
	bbox := geo.BBox{MinLat: 48.84, MinLng: 2.33, MaxLat: 48.87, MaxLng: 2.37}

	data := EstimatePopulation(bbox)

	assert.Equal(t, SourceEstimate, data.Source)
	assert.Greater(t, data.Total, 0)
	assert.Equal(t, fallbackDensityPerKm2, data.DensityPerKm2)
	assert.Greater(t, data.EstimatedVehicles, 0)
	assert.Less(t, data.EstimatedVehicles, data.Total)
	assert.Equal(t, defaultPeakHourFactor, data.PeakHourFactor)
	assert.Greater(t, data.WorkingPopulation, 0)

	var sum float64
	for _, share := range data.AgeDistribution {
		sum += share
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestFetchPopulation_Primary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("bbox"))
		w.Write([]byte(`{
			"total_population": 50000,
			"density_per_km2": 4200,
			"working_share": 0.6,
			"age_distribution": {"18-34": 0.3}
		}`))
	}))
	defer srv.Close()

	p := NewPopulationProvider(providersConfig("", "", srv.URL))

	data, err := p.FetchPopulation(context.Background(), geo.BBoxFromPoints([]geo.Point{testCenter}, 0.01))
	require.NoError(t, err)
	assert.Equal(t, SourcePrimary, data.Source)
	assert.Equal(t, 50000, data.Total)
	assert.Equal(t, 4200.0, data.DensityPerKm2)
	assert.Equal(t, 17500, data.EstimatedVehicles)
	assert.Equal(t, 30000, data.WorkingPopulation)
}

func TestFetchPopulation_FallbackOnError(t *testing.T) {
	p := NewPopulationProvider(providersConfig("", "", "http://127.0.0.1:1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	data, err := p.FetchPopulation(ctx, geo.BBoxFromPoints([]geo.Point{testCenter}, 0.01))
	require.NoError(t, err)
	assert.Equal(t, SourceEstimate, data.Source)
	assert.Greater(t, data.Total, 0)
}
