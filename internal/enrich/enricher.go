package enrich

import (
	"math"
	"time"

	"mobility-warehouse/internal/snapshot"
	"mobility-warehouse/internal/trips"
)

// Ref points at the environmental reading matched to a trip. Nil Ref means
// no reading fell inside the tolerance window; downstream treats that as an
// explicit "unknown", not an error.
type Ref struct {
	StationID  string
	ObservedAt time.Time
}

// WeatherMatch is the weather reading selected for a trip, if any.
type WeatherMatch struct {
	Ref
	Temperature float64
	Humidity    float64
}

// AirQualityMatch is the air-quality reading selected for a trip, if any.
type AirQualityMatch struct {
	Ref
	AQI  float64
	PM25 float64
}

// Enricher matches trips to the nearest-in-time readings of the run window.
// The reading slices are reference data: loaded once, never mutated.
type Enricher struct {
	Tolerance  time.Duration
	weather    []snapshot.Weather
	airQuality []snapshot.AirQuality
}

func NewEnricher(tolerance time.Duration, weather []snapshot.Weather, air []snapshot.AirQuality) *Enricher {
	if tolerance <= 0 {
		tolerance = 90 * time.Minute
	}
	return &Enricher{Tolerance: tolerance, weather: weather, airQuality: air}
}

// Weather picks the reading minimizing |observed_at - at| within the
// tolerance window, ties broken by distance from (lat, lon) to the station.
func (e *Enricher) Weather(at time.Time, lat, lon float64) *WeatherMatch {
	best := -1
	bestDT := time.Duration(math.MaxInt64)
	bestDist := math.MaxFloat64
	for i := range e.weather {
		w := &e.weather[i]
		dt := absDuration(w.ObservedAt.Sub(at))
		if dt > e.Tolerance {
			continue
		}
		dist := trips.HaversineKm(lat, lon, w.Lat, w.Lon)
		if dt < bestDT || (dt == bestDT && dist < bestDist) {
			best = i
			bestDT = dt
			bestDist = dist
		}
	}
	if best < 0 {
		return nil
	}
	w := e.weather[best]
	return &WeatherMatch{
		Ref:         Ref{StationID: w.StationID, ObservedAt: w.ObservedAt},
		Temperature: w.Temperature,
		Humidity:    w.Humidity,
	}
}

// AirQuality mirrors Weather for air-quality readings.
func (e *Enricher) AirQuality(at time.Time, lat, lon float64) *AirQualityMatch {
	best := -1
	bestDT := time.Duration(math.MaxInt64)
	bestDist := math.MaxFloat64
	for i := range e.airQuality {
		a := &e.airQuality[i]
		dt := absDuration(a.ObservedAt.Sub(at))
		if dt > e.Tolerance {
			continue
		}
		dist := trips.HaversineKm(lat, lon, a.Lat, a.Lon)
		if dt < bestDT || (dt == bestDT && dist < bestDist) {
			best = i
			bestDT = dt
			bestDist = dist
		}
	}
	if best < 0 {
		return nil
	}
	a := e.airQuality[best]
	return &AirQualityMatch{
		Ref:  Ref{StationID: a.StationID, ObservedAt: a.ObservedAt},
		AQI:  a.AQI,
		PM25: a.PM25,
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
