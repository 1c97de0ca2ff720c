package routing

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urbansim/internal/roadgraph"
	"urbansim/pkg/geo"
)

// gridGraph строит квадратную сетку dim x dim с шагом spacing метров
func gridGraph(t *testing.T, dim int, spacingM float64) *roadgraph.Graph {
	t.Helper()

	origin := geo.Point{Lat: 48.8566, Lng: 2.3522}
	node := func(row, col int) geo.Point {
		return geo.Offset(origin, float64(row)*spacingM, float64(col)*spacingM)
	}

	var roads []roadgraph.Road
	add := func(id string, from, to geo.Point) {
		roads = append(roads, roadgraph.Road{
			ID:       id,
			Tags:     map[string]string{"highway": "secondary"},
			Geometry: []geo.Point{from, to},
		})
	}

	for row := 0; row < dim; row++ {
		for col := 0; col < dim-1; col++ {
			add(fmt.Sprintf("h_%d_%d", row, col), node(row, col), node(row, col+1))
			add(fmt.Sprintf("hr_%d_%d", row, col), node(row, col+1), node(row, col))
		}
	}
	for col := 0; col < dim; col++ {
		for row := 0; row < dim-1; row++ {
			add(fmt.Sprintf("v_%d_%d", col, row), node(row, col), node(row+1, col))
			add(fmt.Sprintf("vr_%d_%d", col, row), node(row+1, col), node(row, col))
		}
	}

	g := roadgraph.Build(roads)
	require.False(t, g.IsEmpty())
	return g
}

func TestBuildRoute_Basic(t *testing.T) {
	g := gridGraph(t, 8, 400)
	b := NewBuilder(g, rand.New(rand.NewSource(1)))

	origin, _ := g.EdgeByID("h_0_0")
	dest, _ := g.EdgeByID("h_7_5")

	route := b.BuildRoute(origin, dest)
	require.NotNil(t, route)

	assert.GreaterOrEqual(t, len(route.EdgeIDs), 2)
	assert.Equal(t, "h_0_0", route.EdgeIDs[0])
	assert.Equal(t, "h_7_5", route.EdgeIDs[len(route.EdgeIDs)-1])

	// Длина совпадает с длиной полилинии
	assert.InDelta(t, geo.PolylineLength(route.Coordinates), route.LengthM, 0.01)
	assert.Greater(t, route.LengthM, 400.0)

	// Координаты уплотнены с шагом 5 м
	for i := 1; i < len(route.Coordinates)-1; i++ {
		d := geo.Distance(route.Coordinates[i-1], route.Coordinates[i])
		assert.LessOrEqual(t, d, 5.1, "segment %d", i)
	}
}

func TestBuildRoute_TargetsMinimumLength(t *testing.T) {
	// Сетка достаточно большая, чтобы блуждание добирало целевую длину
	g := gridGraph(t, 10, 500)
	b := NewBuilder(g, rand.New(rand.NewSource(7)))

	origin, _ := g.EdgeByID("h_0_0")
	dest, _ := g.EdgeByID("v_9_3")

	route := b.BuildRoute(origin, dest)
	require.NotNil(t, route)

	// Целевая длина лежит в [4000, 8000); маршрут не короче нижней границы
	assert.GreaterOrEqual(t, route.LengthM, 4000.0)
}

func TestBuildRoute_ShortfallReturnsSwappedWalk(t *testing.T) {
	// Граф слишком мал, чтобы добрать целевую длину: оба блуждания
	// не дотягивают, и возвращается результат обратной попытки как есть
	origin := geo.Point{Lat: 48.8566, Lng: 2.3522}
	roads := []roadgraph.Road{
		{
			ID:   "a",
			Tags: map[string]string{"highway": "residential"},
			Geometry: []geo.Point{
				origin,
				geo.Offset(origin, 0, 5),
			},
		},
		{
			ID:   "b",
			Tags: map[string]string{"highway": "residential"},
			Geometry: []geo.Point{
				geo.Offset(origin, 4, 0),
				geo.Offset(origin, 4, 5),
			},
		},
	}

	g := roadgraph.Build(roads)
	b := NewBuilder(g, rand.New(rand.NewSource(13)))

	a, _ := g.EdgeByID("a")
	dest, _ := g.EdgeByID("b")

	route := b.BuildRoute(a, dest)
	require.NotNil(t, route)

	assert.Less(t, route.LengthM, 4000.0)
	assert.Equal(t, "b", route.EdgeIDs[0])
	assert.Equal(t, "a", route.EdgeIDs[len(route.EdgeIDs)-1])
}

func TestBuildRoute_Cached(t *testing.T) {
	g := gridGraph(t, 6, 400)
	b := NewBuilder(g, rand.New(rand.NewSource(3)))

	origin, _ := g.EdgeByID("h_0_0")
	dest, _ := g.EdgeByID("h_5_3")

	first := b.BuildRoute(origin, dest)
	second := b.BuildRoute(origin, dest)

	assert.Same(t, first, second)
	assert.Equal(t, 1, b.CacheSize())

	// Обратное направление кэшируется отдельно
	b.BuildRoute(dest, origin)
	assert.Equal(t, 2, b.CacheSize())
}

func TestBuildRoute_DeadEndEscape(t *testing.T) {
	// Линейная дорога в один конец плюс далёкие рёбра для выхода из тупика
	origin := geo.Point{Lat: 48.8566, Lng: 2.3522}
	roads := []roadgraph.Road{
		{
			ID:   "stub",
			Tags: map[string]string{"highway": "residential"},
			Geometry: []geo.Point{
				origin,
				geo.Offset(origin, 300, 0),
			},
		},
	}
	// Кольцо в 2 км к северу, достижимое только прыжком
	far := geo.Offset(origin, 2500, 0)
	for i := 0; i < 4; i++ {
		roads = append(roads, roadgraph.Road{
			ID:   fmt.Sprintf("ring_%d", i),
			Tags: map[string]string{"highway": "secondary"},
			Geometry: []geo.Point{
				geo.Offset(far, 0, float64(i)*500),
				geo.Offset(far, 0, float64(i+1)*500),
			},
		})
	}

	g := roadgraph.Build(roads)
	b := NewBuilder(g, rand.New(rand.NewSource(11)))

	stub, _ := g.EdgeByID("stub")
	dest, _ := g.EdgeByID("ring_3")

	route := b.BuildRoute(stub, dest)
	require.NotNil(t, route)

	// Блуждание вышло из тупика на дальнее ребро
	assert.Greater(t, len(route.EdgeIDs), 1)
	assert.Equal(t, "stub", route.EdgeIDs[0])
	assert.Equal(t, "ring_3", route.EdgeIDs[len(route.EdgeIDs)-1])
}

func TestBuildRoute_NilEdges(t *testing.T) {
	g := gridGraph(t, 4, 400)
	b := NewBuilder(g, rand.New(rand.NewSource(1)))

	e, _ := g.EdgeByID("h_0_0")
	assert.Nil(t, b.BuildRoute(nil, e))
	assert.Nil(t, b.BuildRoute(e, nil))
}

func TestRandomDistantEdge(t *testing.T) {
	g := gridGraph(t, 10, 500)
	b := NewBuilder(g, rand.New(rand.NewSource(5)))

	from := geo.Point{Lat: 48.8566, Lng: 2.3522}

	for i := 0; i < 20; i++ {
		e := b.RandomDistantEdge(from, 2000)
		require.NotNil(t, e)
		assert.GreaterOrEqual(t, geo.Distance(from, e.Start()), 2000.0)
	}
}

func TestRandomDistantEdge_FallbackWhenNoneQualify(t *testing.T) {
	// Все рёбра ближе порога: возвращается хоть какое-то
	g := gridGraph(t, 3, 100)
	b := NewBuilder(g, rand.New(rand.NewSource(5)))

	e := b.RandomDistantEdge(geo.Point{Lat: 48.8566, Lng: 2.3522}, 50_000)
	assert.NotNil(t, e)
}

func TestRandomDistantEdge_EmptyGraph(t *testing.T) {
	b := NewBuilder(roadgraph.Build(nil), rand.New(rand.NewSource(1)))
	assert.Nil(t, b.RandomDistantEdge(geo.Point{}, 1000))
	assert.Nil(t, b.RandomEdge())
}

func TestBuildRoute_DeterministicWithSeed(t *testing.T) {
	buildOnce := func(seed int64) *Route {
		g := gridGraph(t, 8, 400)
		b := NewBuilder(g, rand.New(rand.NewSource(seed)))
		origin, _ := g.EdgeByID("h_0_0")
		dest, _ := g.EdgeByID("h_7_5")
		return b.BuildRoute(origin, dest)
	}

	a := buildOnce(42)
	b := buildOnce(42)

	assert.Equal(t, a.EdgeIDs, b.EdgeIDs)
	assert.Equal(t, a.LengthM, b.LengthM)
}
