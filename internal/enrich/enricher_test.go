package enrich

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mobility-warehouse/internal/snapshot"
)

var tripStart = time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)

func weatherAt(station string, at time.Time, lat, lon float64) snapshot.Weather {
	return snapshot.Weather{
		StationID:   station,
		Lat:         lat,
		Lon:         lon,
		ObservedAt:  at,
		Temperature: 18.0,
		Humidity:    60,
	}
}

func TestWeatherPicksNearestInTime(t *testing.T) {
	e := NewEnricher(90*time.Minute, []snapshot.Weather{
		weatherAt("bern", tripStart.Add(-60*time.Minute), 46.948, 7.447),
		weatherAt("bern", tripStart.Add(-10*time.Minute), 46.948, 7.447),
		weatherAt("bern", tripStart.Add(45*time.Minute), 46.948, 7.447),
	}, nil)

	m := e.Weather(tripStart, 46.95, 7.45)
	require.NotNil(t, m)
	assert.Equal(t, tripStart.Add(-10*time.Minute), m.ObservedAt)
}

func TestWeatherTieBrokenByDistance(t *testing.T) {
	at := tripStart.Add(20 * time.Minute)
	e := NewEnricher(90*time.Minute, []snapshot.Weather{
		weatherAt("zurich", at, 47.3769, 8.5417),
		weatherAt("bern", at, 46.9480, 7.4474),
	}, nil)

	// Trip starts in Bern; both readings share the timestamp.
	m := e.Weather(tripStart, 46.95, 7.45)
	require.NotNil(t, m)
	assert.Equal(t, "bern", m.StationID)
}

func TestWeatherOutsideToleranceIsAMiss(t *testing.T) {
	e := NewEnricher(90*time.Minute, []snapshot.Weather{
		weatherAt("bern", tripStart.Add(-2*time.Hour), 46.948, 7.447),
	}, nil)

	assert.Nil(t, e.Weather(tripStart, 46.95, 7.45))
}

func TestWeatherBoundaryOfToleranceIncluded(t *testing.T) {
	e := NewEnricher(90*time.Minute, []snapshot.Weather{
		weatherAt("bern", tripStart.Add(-90*time.Minute), 46.948, 7.447),
	}, nil)

	assert.NotNil(t, e.Weather(tripStart, 46.95, 7.45))
}

func TestAirQualityMatch(t *testing.T) {
	e := NewEnricher(90*time.Minute, nil, []snapshot.AirQuality{
		{StationID: "waqi-bern", Lat: 46.948, Lon: 7.447, ObservedAt: tripStart.Add(-5 * time.Minute), AQI: 42, PM25: 11.5},
		{StationID: "waqi-zurich", Lat: 47.3769, Lon: 8.5417, ObservedAt: tripStart, AQI: 55, PM25: 14},
	})

	m := e.AirQuality(tripStart, 47.38, 8.54)
	require.NotNil(t, m)
	assert.Equal(t, "waqi-zurich", m.StationID)
	assert.Equal(t, 55.0, m.AQI)
}

func TestAirQualityNoReadings(t *testing.T) {
	e := NewEnricher(90*time.Minute, nil, nil)
	assert.Nil(t, e.AirQuality(tripStart, 46.95, 7.45))
}

func TestNewEnricherDefaultTolerance(t *testing.T) {
	e := NewEnricher(0, nil, nil)
	assert.Equal(t, 90*time.Minute, e.Tolerance)
}
