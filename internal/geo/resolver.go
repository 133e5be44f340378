package geo

import (
	"fmt"
	"math"
	"sort"

	"github.com/hashicorp/go-multierror"

	"mobility-warehouse/internal/snapshot"
)

// cellSizeDeg is the grid bucket size for the spatial index. Swiss
// municipalities are a few km across, so ~0.05° keeps candidate lists short.
const cellSizeDeg = 0.05

// onEdgeEps bounds the collinearity test for points sitting exactly on a
// shared boundary segment.
const onEdgeEps = 1e-9

// Result of resolving one coordinate.
type Result struct {
	MunicipalityID string
	Name           string
	Canton         string
	// Fallback is set when the point was outside every polygon and the
	// nearest centroid was used instead.
	Fallback bool
}

// Resolver answers point-in-polygon lookups against an immutable
// municipality set. It is pure: same input, same output, no side effects.
type Resolver struct {
	municipalities []Municipality
	cells          map[cellKey][]int // candidate indexes per grid cell
}

type cellKey struct{ row, col int }

func cellOf(lat, lon float64) cellKey {
	return cellKey{
		row: int(math.Floor(lat / cellSizeDeg)),
		col: int(math.Floor(lon / cellSizeDeg)),
	}
}

// NewResolver builds the grid index. The set must be non-empty; a missing
// boundary dataset is a configuration error and fatal to the run.
func NewResolver(ms []Municipality) (*Resolver, error) {
	if len(ms) == 0 {
		return nil, fmt.Errorf("municipality set is empty")
	}
	r := &Resolver{
		municipalities: make([]Municipality, len(ms)),
		cells:          make(map[cellKey][]int),
	}
	copy(r.municipalities, ms)
	for i := range r.municipalities {
		m := &r.municipalities[i]
		m.bbox = computeBBox(m.Boundary)
		m.centroid = computeCentroid(m.Boundary)
		lo := cellOf(m.bbox.minLat, m.bbox.minLon)
		hi := cellOf(m.bbox.maxLat, m.bbox.maxLon)
		for row := lo.row; row <= hi.row; row++ {
			for col := lo.col; col <= hi.col; col++ {
				k := cellKey{row: row, col: col}
				r.cells[k] = append(r.cells[k], i)
			}
		}
	}
	return r, nil
}

// Resolve assigns a coordinate to a municipality. Points on a shared edge
// go to the lexicographically smaller municipality_id; points outside every
// polygon fall back to the nearest centroid and are flagged.
func (r *Resolver) Resolve(lat, lon float64) Result {
	p := Point{Lat: lat, Lon: lon}

	var containing []*Municipality
	for _, idx := range r.cells[cellOf(lat, lon)] {
		m := &r.municipalities[idx]
		if !m.bbox.contains(p) {
			continue
		}
		if polygonContains(m.Boundary, p) {
			containing = append(containing, m)
		}
	}
	if len(containing) > 0 {
		sort.Slice(containing, func(i, j int) bool { return containing[i].ID < containing[j].ID })
		m := containing[0]
		return Result{MunicipalityID: m.ID, Name: m.Name, Canton: m.Canton}
	}

	// Outside all polygons (lake, border imprecision): nearest centroid.
	best := -1
	bestDist := math.MaxFloat64
	for i := range r.municipalities {
		m := &r.municipalities[i]
		d := distanceKm(lat, lon, m.centroid.Lat, m.centroid.Lon)
		if d < bestDist || (d == bestDist && best >= 0 && m.ID < r.municipalities[best].ID) {
			best = i
			bestDist = d
		}
	}
	m := &r.municipalities[best]
	return Result{MunicipalityID: m.ID, Name: m.Name, Canton: m.Canton, Fallback: true}
}

// polygonContains runs an even-odd ray cast across all rings, so holes
// subtract. A point exactly on any ring segment counts as contained.
func polygonContains(poly Polygon, p Point) bool {
	inside := false
	for _, ring := range poly.Rings {
		n := len(ring)
		if n < 3 {
			continue
		}
		for i := 0; i < n; i++ {
			a := ring[i]
			b := ring[(i+1)%n]
			if onSegment(a, b, p) {
				return true
			}
			// Cast along +lon from the point.
			if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
				crossLon := a.Lon + (p.Lat-a.Lat)/(b.Lat-a.Lat)*(b.Lon-a.Lon)
				if p.Lon < crossLon {
					inside = !inside
				}
			}
		}
	}
	return inside
}

// onSegment reports whether p lies on the segment a-b.
func onSegment(a, b, p Point) bool {
	cross := (b.Lat-a.Lat)*(p.Lon-a.Lon) - (b.Lon-a.Lon)*(p.Lat-a.Lat)
	if math.Abs(cross) > onEdgeEps {
		return false
	}
	if p.Lat < math.Min(a.Lat, b.Lat)-onEdgeEps || p.Lat > math.Max(a.Lat, b.Lat)+onEdgeEps {
		return false
	}
	if p.Lon < math.Min(a.Lon, b.Lon)-onEdgeEps || p.Lon > math.Max(a.Lon, b.Lon)+onEdgeEps {
		return false
	}
	return true
}

// local distance helper mirroring trips.HaversineKm without the import
func distanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// FromBoundaries converts normalized boundary snapshots into the reference
// set, rejecting duplicates and degenerate rings in one pass.
func FromBoundaries(bs []snapshot.Boundary) ([]Municipality, error) {
	var errs *multierror.Error
	seen := make(map[string]bool, len(bs))
	out := make([]Municipality, 0, len(bs))
	for _, b := range bs {
		if seen[b.MunicipalityID] {
			errs = multierror.Append(errs, fmt.Errorf("duplicate municipality_id %q", b.MunicipalityID))
			continue
		}
		seen[b.MunicipalityID] = true
		poly := Polygon{Rings: make([][]Point, 0, len(b.Rings))}
		for ri, ring := range b.Rings {
			if len(ring) < 3 {
				errs = multierror.Append(errs, fmt.Errorf("municipality %q ring %d has %d points", b.MunicipalityID, ri, len(ring)))
				continue
			}
			pts := make([]Point, len(ring))
			for i, pair := range ring {
				pts[i] = Point{Lat: pair[0], Lon: pair[1]}
			}
			poly.Rings = append(poly.Rings, pts)
		}
		if len(poly.Rings) == 0 {
			continue
		}
		out = append(out, Municipality{
			ID:       b.MunicipalityID,
			Name:     b.Name,
			Canton:   b.Canton,
			Boundary: poly,
		})
	}
	return out, errs.ErrorOrNil()
}
