// Package geo содержит геодезические примитивы: расстояния по дуге большого
// круга, азимуты, уплотнение полилиний и работу с ограничивающими рамками.
package geo

import (
	"math"
)

// EarthRadiusM радиус Земли в метрах
const EarthRadiusM = 6371000.0

// Point географическая точка
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Distance возвращает расстояние между точками в метрах (haversine)
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	return 2 * EarthRadiusM * math.Asin(math.Sqrt(h))
}

// Bearing возвращает начальный азимут от a к b в градусах.
// 0 - север, по часовой стрелке.
func Bearing(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// PolylineLength возвращает длину полилинии в метрах
func PolylineLength(coords []Point) float64 {
	var total float64
	for i := 1; i < len(coords); i++ {
		total += Distance(coords[i-1], coords[i])
	}
	return total
}

// Densify переразбивает полилинию с фиксированным шагом в метрах.
// Полилинии короче двух точек возвращаются как есть.
func Densify(coords []Point, stepM float64) []Point {
	if len(coords) < 2 || stepM <= 0 {
		return coords
	}

	total := PolylineLength(coords)
	if total == 0 {
		return coords
	}

	n := int(math.Ceil(total / stepM))
	result := make([]Point, 0, n+1)
	for i := 0; i <= n; i++ {
		d := float64(i) * stepM
		if d > total {
			d = total
		}
		result = append(result, PointAtDistance(coords, d))
	}

	return result
}

// PointAtDistance возвращает точку на полилинии на заданном расстоянии
// от её начала (кусочно-линейная интерполяция). Расстояние за пределами
// полилинии прижимается к её концам.
func PointAtDistance(coords []Point, distM float64) Point {
	if len(coords) == 0 {
		return Point{}
	}
	if len(coords) == 1 || distM <= 0 {
		return coords[0]
	}

	var walked float64
	for i := 1; i < len(coords); i++ {
		seg := Distance(coords[i-1], coords[i])
		if seg == 0 {
			continue
		}
		if walked+seg >= distM {
			t := (distM - walked) / seg
			return Point{
				Lat: coords[i-1].Lat + (coords[i].Lat-coords[i-1].Lat)*t,
				Lng: coords[i-1].Lng + (coords[i].Lng-coords[i-1].Lng)*t,
			}
		}
		walked += seg
	}

	return coords[len(coords)-1]
}

// Offset смещает точку на заданные метры по широте и долготе
func Offset(p Point, northM, eastM float64) Point {
	dLat := northM / EarthRadiusM * 180 / math.Pi
	dLng := eastM / (EarthRadiusM * math.Cos(p.Lat*math.Pi/180)) * 180 / math.Pi
	return Point{Lat: p.Lat + dLat, Lng: p.Lng + dLng}
}

// BBox ограничивающая рамка
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// BBoxFromPoints строит рамку вокруг точек с отступом в градусах
func BBoxFromPoints(points []Point, marginDeg float64) BBox {
	if len(points) == 0 {
		return BBox{}
	}

	box := BBox{
		MinLat: points[0].Lat, MaxLat: points[0].Lat,
		MinLng: points[0].Lng, MaxLng: points[0].Lng,
	}
	for _, p := range points[1:] {
		box.MinLat = math.Min(box.MinLat, p.Lat)
		box.MaxLat = math.Max(box.MaxLat, p.Lat)
		box.MinLng = math.Min(box.MinLng, p.Lng)
		box.MaxLng = math.Max(box.MaxLng, p.Lng)
	}

	box.MinLat -= marginDeg
	box.MaxLat += marginDeg
	box.MinLng -= marginDeg
	box.MaxLng += marginDeg
	return box
}

// Center возвращает центр рамки
func (b BBox) Center() Point {
	return Point{
		Lat: (b.MinLat + b.MaxLat) / 2,
		Lng: (b.MinLng + b.MaxLng) / 2,
	}
}

// AreaKm2 возвращает площадь рамки в квадратных километрах
func (b BBox) AreaKm2() float64 {
	heightM := Distance(
		Point{Lat: b.MinLat, Lng: b.MinLng},
		Point{Lat: b.MaxLat, Lng: b.MinLng},
	)
	widthM := Distance(
		Point{Lat: (b.MinLat + b.MaxLat) / 2, Lng: b.MinLng},
		Point{Lat: (b.MinLat + b.MaxLat) / 2, Lng: b.MaxLng},
	)
	return heightM * widthM / 1e6
}

// Contains проверяет попадание точки в рамку
func (b BBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// Centroid возвращает среднюю точку набора
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sumLat, sumLng float64
	for _, p := range points {
		sumLat += p.Lat
		sumLng += p.Lng
	}
	n := float64(len(points))
	return Point{Lat: sumLat / n, Lng: sumLng / n}
}
