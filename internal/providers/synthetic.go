package providers

import (
	"fmt"
	"math"
	"math/rand"

	"urbansim/internal/roadgraph"
	"urbansim/pkg/geo"
)

// Параметры синтетической сетки
const (
	syntheticSpacingM = 250.0 // шаг между узлами сетки
	syntheticMaxDim   = 24    // предел размерности, чтобы не раздувать граф
)

// SyntheticNetwork генерирует детерминированную прямоугольную сетку улиц
// вокруг центра. Одинаковый центр (с округлением до 4 знаков) и радиус
// всегда дают одинаковую сеть, так что повторные запуски воспроизводимы.
func SyntheticNetwork(center geo.Point, radiusKm float64) []roadgraph.Road {
	rng := rand.New(rand.NewSource(syntheticSeed(center, radiusKm)))

	dim := int(radiusKm*2*1000/syntheticSpacingM) + 1
	if dim < 4 {
		dim = 4
	}
	if dim > syntheticMaxDim {
		dim = syntheticMaxDim
	}

	// Узлы сетки со слабым шумом, чтобы улицы не были идеально прямыми
	grid := make([][]geo.Point, dim)
	half := float64(dim-1) / 2
	for row := 0; row < dim; row++ {
		grid[row] = make([]geo.Point, dim)
		for col := 0; col < dim; col++ {
			northM := (float64(row) - half) * syntheticSpacingM
			eastM := (float64(col) - half) * syntheticSpacingM
			jitterN := (rng.Float64() - 0.5) * syntheticSpacingM * 0.2
			jitterE := (rng.Float64() - 0.5) * syntheticSpacingM * 0.2
			grid[row][col] = geo.Offset(center, northM+jitterN, eastM+jitterE)
		}
	}

	roads := make([]roadgraph.Road, 0, dim*dim*2)

	// Горизонтальные улицы, по ребру на каждую пару соседних узлов
	for row := 0; row < dim; row++ {
		class := syntheticClass(row, dim)
		for col := 0; col < dim-1; col++ {
			roads = append(roads, syntheticRoad(
				fmt.Sprintf("syn_h_%d_%d", row, col),
				class, grid[row][col], grid[row][col+1],
			))
		}
	}

	// Вертикальные улицы
	for col := 0; col < dim; col++ {
		class := syntheticClass(col, dim)
		for row := 0; row < dim-1; row++ {
			roads = append(roads, syntheticRoad(
				fmt.Sprintf("syn_v_%d_%d", col, row),
				class, grid[row][col], grid[row+1][col],
			))
		}
	}

	return roads
}

// syntheticSeed выводит зерно из округлённого центра и радиуса
func syntheticSeed(center geo.Point, radiusKm float64) int64 {
	lat := int64(math.Round(center.Lat * 1e4))
	lng := int64(math.Round(center.Lng * 1e4))
	return lat*31_000_017 + lng*7 + int64(radiusKm*100)
}

// syntheticClass выбирает класс улицы по её положению в сетке:
// центральные оси крупнее, периферия - жилые улицы
func syntheticClass(index, dim int) string {
	center := dim / 2
	switch d := abs(index - center); {
	case d == 0:
		return "primary"
	case d <= 1:
		return "secondary"
	case d <= 3:
		return "tertiary"
	default:
		return "residential"
	}
}

func syntheticRoad(id, class string, from, to geo.Point) roadgraph.Road {
	mid := geo.Point{
		Lat: (from.Lat + to.Lat) / 2,
		Lng: (from.Lng + to.Lng) / 2,
	}
	return roadgraph.Road{
		ID:       id,
		Tags:     map[string]string{"highway": class, "lanes": lanesForClass(class)},
		Geometry: []geo.Point{from, mid, to},
	}
}

func lanesForClass(class string) string {
	switch class {
	case "primary":
		return "2"
	case "secondary":
		return "2"
	default:
		return "1"
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
