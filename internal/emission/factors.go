package emission

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Factor holds the per-km emission offsets for one vehicle type. Baseline
// is the displaced car trip; shared is the mode's own footprint (near-zero
// for bikes, charging energy for e-scooters and e-bikes).
type Factor struct {
	BaselineKgPerKm float64 `yaml:"baseline_factor_kg_per_km"`
	SharedKgPerKm   float64 `yaml:"shared_factor_kg_per_km"`
}

// Table maps vehicle_type to its factors. Configuration, not code: updating
// the YAML file changes the numbers without a rebuild.
type Table map[string]Factor

type factorsFile struct {
	Factors Table `yaml:"factors"`
}

// LoadTable reads and validates the factor table. A missing or empty table
// is a configuration error and fatal to the run.
func LoadTable(path string) (Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read factor table: %w", err)
	}
	var f factorsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse factor table: %w", err)
	}
	if len(f.Factors) == 0 {
		return nil, fmt.Errorf("factor table %s has no entries", path)
	}
	var errs *multierror.Error
	for vt, factor := range f.Factors {
		if factor.BaselineKgPerKm < 0 {
			errs = multierror.Append(errs, fmt.Errorf("vehicle_type %q: negative baseline factor", vt))
		}
		if factor.SharedKgPerKm < 0 {
			errs = multierror.Append(errs, fmt.Errorf("vehicle_type %q: negative shared factor", vt))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("invalid factor table: %w", err)
	}
	return f.Factors, nil
}
