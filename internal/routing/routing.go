// Package routing строит маршруты по дорожному графу случайным блужданием
// с целевой длиной. Детерминированность обеспечивается внешним *rand.Rand.
package routing

import (
	"fmt"
	"math/rand"
	"sync"

	"urbansim/internal/roadgraph"
	"urbansim/pkg/geo"
	"urbansim/pkg/metrics"
)

// Параметры построения маршрута
const (
	// Минимальная длина: baseMinLengthM + U(0, extraMinLengthM)
	baseMinLengthM  = 4000.0
	extraMinLengthM = 4000.0

	maxSteps = 200

	// Минимальное удаление для выхода из тупика
	deadEndEscapeM = 1000.0

	// Минимальное удаление при выборе дальнего ребра по умолчанию
	DefaultDistantEdgeM = 2000.0

	// Множитель попыток на выбор дальнего ребра
	distantRetryFactor = 4

	// Шаг уплотнения координат маршрута
	densifyStepM = 5.0
)

// Route готовый маршрут: рёбра и уплотнённая полилиния
type Route struct {
	EdgeIDs     []string    `json:"edge_ids"`
	Coordinates []geo.Point `json:"coordinates"`
	LengthM     float64     `json:"length_m"`
}

// Builder строит и кэширует маршруты по графу
type Builder struct {
	graph *roadgraph.Graph
	rng   *rand.Rand

	mu    sync.Mutex
	cache map[string]*Route
}

// NewBuilder создаёт построитель маршрутов
func NewBuilder(g *roadgraph.Graph, rng *rand.Rand) *Builder {
	return &Builder{
		graph: g,
		rng:   rng,
		cache: make(map[string]*Route),
	}
}

// BuildRoute строит маршрут от origin к dest. Повторный запрос той же
// пары рёбер возвращает закэшированный маршрут.
func (b *Builder) BuildRoute(origin, dest *roadgraph.Edge) *Route {
	if origin == nil || dest == nil {
		return nil
	}

	key := fmt.Sprintf("%s→%s", origin.ID, dest.ID)

	b.mu.Lock()
	defer b.mu.Unlock()

	if cached, ok := b.cache[key]; ok {
		metrics.Get().RouteCacheHits.WithLabelValues("hit").Inc()
		return cached
	}
	metrics.Get().RouteCacheHits.WithLabelValues("miss").Inc()

	minLength := baseMinLengthM + b.rng.Float64()*extraMinLengthM

	route := b.walk(origin, dest, minLength)
	if route.LengthM < minLength {
		// Одна повторная попытка в обратном направлении, её результат
		// возвращается как есть
		route = b.walk(dest, origin, minLength)
	}

	b.cache[key] = route
	return route
}

// walk выполняет одно случайное блуждание от origin к dest
func (b *Builder) walk(origin, dest *roadgraph.Edge, minLength float64) *Route {
	edges := []*roadgraph.Edge{origin}
	visited := map[string]bool{origin.ID: true}
	total := origin.LengthM
	cursor := origin.ToNode

	for len(edges) < maxSteps && total < minLength {
		candidates := unvisited(b.graph.Outgoing(cursor), visited)
		if len(candidates) == 0 {
			// Тупик: прыжок на случайное удалённое ребро
			escape := b.randomDistantEdge(edges[len(edges)-1].Start(), deadEndEscapeM)
			if escape == nil {
				break
			}
			edges = append(edges, escape)
			visited[escape.ID] = true
			total += escape.LengthM
			cursor = escape.ToNode
			continue
		}

		next := candidates[b.rng.Intn(len(candidates))]
		edges = append(edges, next)
		visited[next.ID] = true
		total += next.LengthM
		cursor = next.ToNode
	}

	if cursor != dest.FromNode || edges[len(edges)-1].ID != dest.ID {
		edges = append(edges, dest)
		total += dest.LengthM
	}

	coords := concatGeometry(edges)
	dense := geo.Densify(coords, densifyStepM)

	return &Route{
		EdgeIDs:     edgeIDs(edges),
		Coordinates: dense,
		LengthM:     geo.PolylineLength(dense),
	}
}

// RandomDistantEdge возвращает случайное ребро, первая точка которого
// удалена от from не менее чем на minDistM. После исчерпания попыток
// возвращается любое случайное ребро.
func (b *Builder) RandomDistantEdge(from geo.Point, minDistM float64) *roadgraph.Edge {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.randomDistantEdge(from, minDistM)
}

func (b *Builder) randomDistantEdge(from geo.Point, minDistM float64) *roadgraph.Edge {
	edges := b.graph.Edges()
	if len(edges) == 0 {
		return nil
	}

	attempts := distantRetryFactor * len(edges)
	for i := 0; i < attempts; i++ {
		candidate := edges[b.rng.Intn(len(edges))]
		if geo.Distance(from, candidate.Start()) >= minDistM {
			return candidate
		}
	}

	// Подходящего нет, берём любое
	return edges[b.rng.Intn(len(edges))]
}

// RandomEdge возвращает случайное ребро графа
func (b *Builder) RandomEdge() *roadgraph.Edge {
	b.mu.Lock()
	defer b.mu.Unlock()

	edges := b.graph.Edges()
	if len(edges) == 0 {
		return nil
	}
	return edges[b.rng.Intn(len(edges))]
}

// CacheSize возвращает число закэшированных маршрутов
func (b *Builder) CacheSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cache)
}

// concatGeometry склеивает геометрию рёбер, отбрасывая первую точку
// каждого ребра после первого, чтобы не дублировать стыки
func concatGeometry(edges []*roadgraph.Edge) []geo.Point {
	var coords []geo.Point
	for i, e := range edges {
		geom := e.Geometry
		if i > 0 && len(geom) > 0 {
			geom = geom[1:]
		}
		coords = append(coords, geom...)
	}
	return coords
}

// unvisited отфильтровывает уже пройденные рёбра
func unvisited(out []*roadgraph.Edge, visited map[string]bool) []*roadgraph.Edge {
	var result []*roadgraph.Edge
	for _, e := range out {
		if !visited[e.ID] {
			result = append(result, e)
		}
	}
	return result
}

func edgeIDs(edges []*roadgraph.Edge) []string {
	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = e.ID
	}
	return ids
}
