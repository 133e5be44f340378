package geo

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// boundaryFile is the on-disk shape of a municipality fixture set. The
// boundary dataset is refreshed out-of-band and loaded once per run.
type boundaryFile struct {
	Municipalities []struct {
		ID     string         `yaml:"municipality_id"`
		Name   string         `yaml:"name"`
		Canton string         `yaml:"canton"`
		Rings  [][][2]float64 `yaml:"rings"`
	} `yaml:"municipalities"`
}

// LoadFile reads a municipality set from a YAML file. Used when the run is
// not fed boundary snapshots by a collector.
func LoadFile(path string) ([]Municipality, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read boundary file: %w", err)
	}
	var f boundaryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse boundary file: %w", err)
	}
	out := make([]Municipality, 0, len(f.Municipalities))
	for _, m := range f.Municipalities {
		if m.ID == "" {
			return nil, fmt.Errorf("boundary file entry missing municipality_id")
		}
		poly := Polygon{}
		for _, ring := range m.Rings {
			pts := make([]Point, len(ring))
			for i, pair := range ring {
				pts[i] = Point{Lat: pair[0], Lon: pair[1]}
			}
			poly.Rings = append(poly.Rings, pts)
		}
		out = append(out, Municipality{ID: m.ID, Name: m.Name, Canton: m.Canton, Boundary: poly})
	}
	return out, nil
}
