package geo

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// Polygon is an outer ring plus optional holes. Rings do not need to be
// explicitly closed; the containment test wraps around.
type Polygon struct {
	Rings [][]Point
}

// Municipality is one reference polygon. The set is loaded once per run
// and read-only afterwards.
type Municipality struct {
	ID       string
	Name     string
	Canton   string
	Boundary Polygon

	// derived at load time
	bbox     bbox
	centroid Point
}

type bbox struct {
	minLat, maxLat float64
	minLon, maxLon float64
}

func (b bbox) contains(p Point) bool {
	return p.Lat >= b.minLat && p.Lat <= b.maxLat && p.Lon >= b.minLon && p.Lon <= b.maxLon
}

func computeBBox(poly Polygon) bbox {
	b := bbox{minLat: 90, maxLat: -90, minLon: 180, maxLon: -180}
	for _, ring := range poly.Rings {
		for _, p := range ring {
			if p.Lat < b.minLat {
				b.minLat = p.Lat
			}
			if p.Lat > b.maxLat {
				b.maxLat = p.Lat
			}
			if p.Lon < b.minLon {
				b.minLon = p.Lon
			}
			if p.Lon > b.maxLon {
				b.maxLon = p.Lon
			}
		}
	}
	return b
}

// computeCentroid averages the outer ring vertices. Good enough as a
// deterministic anchor for the nearest-municipality fallback.
func computeCentroid(poly Polygon) Point {
	if len(poly.Rings) == 0 || len(poly.Rings[0]) == 0 {
		return Point{}
	}
	var lat, lon float64
	outer := poly.Rings[0]
	for _, p := range outer {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(outer))
	return Point{Lat: lat / n, Lon: lon / n}
}
