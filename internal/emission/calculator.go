package emission

import "fmt"

// UnknownVehicleTypeError marks a trip whose vehicle type has no factor
// table entry. The trip is still loaded, with a null carbon value.
type UnknownVehicleTypeError struct {
	VehicleType string
}

func (e *UnknownVehicleTypeError) Error() string {
	return fmt.Sprintf("no emission factors for vehicle_type %q", e.VehicleType)
}

// Calculator computes carbon savings against an immutable factor table.
type Calculator struct {
	table Table
}

func NewCalculator(table Table) *Calculator {
	return &Calculator{table: table}
}

// CarbonSavedKg estimates the CO2 displaced by one trip:
// distance × (baseline − shared). Negative differences clamp to zero so a
// mode dirtier than the baseline never reports negative savings.
func (c *Calculator) CarbonSavedKg(vehicleType string, distanceKm float64) (float64, error) {
	f, ok := c.table[vehicleType]
	if !ok {
		return 0, &UnknownVehicleTypeError{VehicleType: vehicleType}
	}
	saved := distanceKm * (f.BaselineKgPerKm - f.SharedKgPerKm)
	if saved < 0 {
		saved = 0
	}
	return saved, nil
}
