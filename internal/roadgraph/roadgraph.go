// Package roadgraph строит направленный дорожный граф из сырых дорог
// внешнего картографического сервиса.
package roadgraph

import (
	"fmt"
	"strconv"

	"urbansim/pkg/geo"
)

// Road сырая дорога из внешнего источника. Неизменяема после загрузки.
type Road struct {
	ID       string            `json:"id"`
	NodeIDs  []int64           `json:"node_ids"`
	Tags     map[string]string `json:"tags"`
	Geometry []geo.Point       `json:"geometry"`
}

// HighwayClass возвращает класс дороги из тегов
func (r Road) HighwayClass() string {
	return r.Tags["highway"]
}

// Edge направленный сегмент графа. Speed и Capacity - единственные
// изменяемые поля; construction-маркеры снижают их через ApplyReduction.
type Edge struct {
	ID            string      `json:"id"`
	FromNode      int64       `json:"from_node"`
	ToNode        int64       `json:"to_node"`
	Lanes         int         `json:"lanes"`
	FreeFlowSpeed float64     `json:"free_flow_speed"` // км/ч, исходная
	Speed         float64     `json:"speed"`           // км/ч, текущая
	LengthM       float64     `json:"length_m"`
	Capacity      float64     `json:"capacity"` // машин/час
	Geometry      []geo.Point `json:"geometry"`
}

// Пороговые значения после любых снижений
const (
	MinSpeed    = 5.0
	MinCapacity = 10.0
)

// ApplyReduction снижает скорость и пропускную способность ребра,
// соблюдая нижние границы. Возвращает фактически установленную скорость.
func (e *Edge) ApplyReduction(speedFactor, capacityFactor, speedFloor, capacityFloor float64) float64 {
	newSpeed := e.Speed * speedFactor
	if newSpeed < speedFloor {
		newSpeed = speedFloor
	}
	if newSpeed < MinSpeed {
		newSpeed = MinSpeed
	}

	newCapacity := e.Capacity * capacityFactor
	if newCapacity < capacityFloor {
		newCapacity = capacityFloor
	}
	if newCapacity < MinCapacity {
		newCapacity = MinCapacity
	}

	e.Speed = newSpeed
	e.Capacity = newCapacity
	return newSpeed
}

// Start возвращает первую точку геометрии ребра
func (e *Edge) Start() geo.Point {
	return e.Geometry[0]
}

// End возвращает последнюю точку геометрии ребра
func (e *Edge) End() geo.Point {
	return e.Geometry[len(e.Geometry)-1]
}

// Таблицы скорости и базовой пропускной способности по классам дорог
var (
	classSpeeds = map[string]float64{
		"motorway":     110,
		"trunk":        90,
		"primary":      70,
		"secondary":    60,
		"tertiary":     50,
		"residential":  30,
		"unclassified": 40,
	}

	classCapacities = map[string]float64{
		"motorway":     2000,
		"trunk":        1500,
		"primary":      1200,
		"secondary":    800,
		"tertiary":     600,
		"residential":  400,
		"unclassified": 300,
	}

	// Классы, исключаемые из графа целиком
	excludedClasses = map[string]bool{
		"footway":  true,
		"cycleway": true,
		"path":     true,
		"steps":    true,
		"service":  true,
	}
)

const (
	defaultSpeed    = 40.0
	defaultCapacity = 300.0
)

// SpeedForClass возвращает free-flow скорость для класса дороги
func SpeedForClass(class string) float64 {
	if s, ok := classSpeeds[class]; ok {
		return s
	}
	return defaultSpeed
}

// CapacityForClass возвращает базовую пропускную способность класса
func CapacityForClass(class string) float64 {
	if c, ok := classCapacities[class]; ok {
		return c
	}
	return defaultCapacity
}

// IsExcludedClass проверяет, исключён ли класс из графа
func IsExcludedClass(class string) bool {
	return excludedClasses[class]
}

// Graph направленный мультиграф дорожной сети
type Graph struct {
	edges          []*Edge
	edgeByID       map[string]*Edge
	outgoingByFrom map[int64][]*Edge
	nodes          map[int64]struct{}
}

// Build строит граф из сырых дорог. Дороги с менее чем двумя точками
// геометрии и исключённые классы пропускаются.
func Build(roads []Road) *Graph {
	g := &Graph{
		edges:          make([]*Edge, 0, len(roads)),
		edgeByID:       make(map[string]*Edge, len(roads)),
		outgoingByFrom: make(map[int64][]*Edge),
		nodes:          make(map[int64]struct{}),
	}

	for _, road := range roads {
		if len(road.Geometry) < 2 {
			continue
		}
		if IsExcludedClass(road.HighwayClass()) {
			continue
		}

		edge := edgeFromRoad(road)
		g.addEdge(edge)
	}

	return g
}

func edgeFromRoad(road Road) *Edge {
	length := geo.PolylineLength(road.Geometry)

	lanes := 1
	if raw, ok := road.Tags["lanes"]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 {
			lanes = n
		}
	}

	class := road.HighwayClass()
	speed := SpeedForClass(class)
	capacity := CapacityForClass(class) * float64(lanes)

	from, to := endpointNodes(road)

	return &Edge{
		ID:            road.ID,
		FromNode:      from,
		ToNode:        to,
		Lanes:         lanes,
		FreeFlowSpeed: speed,
		Speed:         speed,
		LengthM:       length,
		Capacity:      capacity,
		Geometry:      road.Geometry,
	}
}

// endpointNodes возвращает узлы концов дороги. При отсутствии node_ids
// узлы выводятся из округлённых координат концов, чтобы совпадающие концы
// разных дорог склеивались в один узел.
func endpointNodes(road Road) (int64, int64) {
	if len(road.NodeIDs) >= 2 {
		return road.NodeIDs[0], road.NodeIDs[len(road.NodeIDs)-1]
	}
	return nodeFromPoint(road.Geometry[0]), nodeFromPoint(road.Geometry[len(road.Geometry)-1])
}

func nodeFromPoint(p geo.Point) int64 {
	// Округление до ~1 м
	lat := int64(p.Lat * 1e5)
	lng := int64(p.Lng * 1e5)
	return lat*1e9 + lng
}

func (g *Graph) addEdge(e *Edge) {
	g.edges = append(g.edges, e)
	g.edgeByID[e.ID] = e
	g.outgoingByFrom[e.FromNode] = append(g.outgoingByFrom[e.FromNode], e)
	g.nodes[e.FromNode] = struct{}{}
	g.nodes[e.ToNode] = struct{}{}
}

// Edges возвращает все рёбра графа
func (g *Graph) Edges() []*Edge {
	return g.edges
}

// EdgeByID возвращает ребро по идентификатору
func (g *Graph) EdgeByID(id string) (*Edge, bool) {
	e, ok := g.edgeByID[id]
	return e, ok
}

// Outgoing возвращает исходящие рёбра узла
func (g *Graph) Outgoing(node int64) []*Edge {
	return g.outgoingByFrom[node]
}

// EdgeCount возвращает число рёбер
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// NodeCount возвращает число узлов
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// IsEmpty сообщает, пуст ли граф
func (g *Graph) IsEmpty() bool {
	return len(g.edges) == 0
}

// String краткое описание графа для логов
func (g *Graph) String() string {
	return fmt.Sprintf("graph{edges=%d nodes=%d}", g.EdgeCount(), g.NodeCount())
}
