package snapshot

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var capturedAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func bikeRaw(payload map[string]any) Raw {
	return Raw{Source: SourceBike, CapturedAt: capturedAt, Payload: payload}
}

func TestNormalizeBike(t *testing.T) {
	batch, stats := Normalize([]Raw{bikeRaw(map[string]any{
		"bike_id":     "b-1",
		"provider_id": "publibike",
		"lat":         47.05,
		"lon":         7.62,
		"is_reserved": true,
	})})

	require.Len(t, batch.Bikes, 1)
	assert.Zero(t, stats.Dropped())
	b := batch.Bikes[0]
	assert.Equal(t, "b-1", b.VehicleID)
	assert.Equal(t, "publibike", b.ProviderID)
	assert.Equal(t, "bike", b.VehicleType) // default when the feed omits it
	assert.Equal(t, StatusInUse, b.Status)
	assert.Equal(t, capturedAt, b.ObservedAt)
}

func TestNormalizeBikeWeaklyTypedNumbers(t *testing.T) {
	batch, stats := Normalize([]Raw{bikeRaw(map[string]any{
		"bike_id":     "b-2",
		"provider_id": "lime",
		"lat":         "47.37",
		"lon":         "8.54",
		"is_disabled": "true",
	})})

	require.Len(t, batch.Bikes, 1)
	assert.Zero(t, stats.Dropped())
	assert.Equal(t, 47.37, batch.Bikes[0].Lat)
	assert.Equal(t, StatusUnavailable, batch.Bikes[0].Status)
}

func TestNormalizeDropsOutOfRangeCoordinates(t *testing.T) {
	batch, stats := Normalize([]Raw{bikeRaw(map[string]any{
		"bike_id":     "b-3",
		"provider_id": "lime",
		"lat":         48.8, // Paris, not Switzerland
		"lon":         2.35,
	})})

	assert.Empty(t, batch.Bikes)
	assert.Equal(t, 1, stats.OutOfRange)
}

func TestNormalizeDropsMissingRequiredFields(t *testing.T) {
	batch, stats := Normalize([]Raw{bikeRaw(map[string]any{
		"provider_id": "lime",
		"lat":         47.0,
		"lon":         7.5,
	})})

	assert.Empty(t, batch.Bikes)
	assert.Equal(t, 1, stats.MissingField)
}

func TestNormalizeDropsNonFiniteCoordinates(t *testing.T) {
	batch, stats := Normalize([]Raw{bikeRaw(map[string]any{
		"bike_id":     "b-7",
		"provider_id": "lime",
		"lat":         math.NaN(),
		"lon":         7.5,
	})})

	assert.Empty(t, batch.Bikes)
	assert.Equal(t, 1, stats.NotFinite)
}

func TestNormalizeRejectsNaiveTimestamp(t *testing.T) {
	batch, stats := Normalize([]Raw{bikeRaw(map[string]any{
		"bike_id":     "b-4",
		"provider_id": "lime",
		"lat":         47.0,
		"lon":         7.5,
		"timestamp":   "2024-05-01T09:30:00",
	})})

	assert.Empty(t, batch.Bikes)
	assert.Equal(t, 1, stats.BadTimestamp)
}

func TestNormalizeConvertsZonedTimestampToUTC(t *testing.T) {
	batch, _ := Normalize([]Raw{bikeRaw(map[string]any{
		"bike_id":     "b-5",
		"provider_id": "lime",
		"lat":         47.0,
		"lon":         7.5,
		"timestamp":   "2024-05-01T11:30:00+02:00",
	})})

	require.Len(t, batch.Bikes, 1)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC), batch.Bikes[0].ObservedAt)
}

func TestNormalizeUnknownSourceType(t *testing.T) {
	_, stats := Normalize([]Raw{{Source: "traffic", CapturedAt: capturedAt, Payload: map[string]any{}}})
	assert.Equal(t, 1, stats.UnknownSource)
}

func TestNormalizeWeatherFallsBackToCityStation(t *testing.T) {
	batch, stats := Normalize([]Raw{{
		Source:     SourceWeather,
		CapturedAt: capturedAt,
		Payload: map[string]any{
			"city":        "Bern",
			"lat":         46.9480,
			"lon":         7.4474,
			"temperature": 18.5,
			"humidity":    62,
		},
	}})

	require.Len(t, batch.Weather, 1)
	assert.Zero(t, stats.Dropped())
	assert.Equal(t, "bern", batch.Weather[0].StationID)
	assert.Equal(t, 18.5, batch.Weather[0].Temperature)
	assert.Equal(t, 62.0, batch.Weather[0].Humidity)
}

func TestNormalizeAirQuality(t *testing.T) {
	batch, stats := Normalize([]Raw{{
		Source:     SourceAirQuality,
		CapturedAt: capturedAt,
		Payload: map[string]any{
			"station_id": "waqi-zurich",
			"lat":        47.3769,
			"lon":        8.5417,
			"aqi":        42,
			"pm25":       11.5,
		},
	}})

	require.Len(t, batch.AirQuality, 1)
	assert.Zero(t, stats.Dropped())
	assert.Equal(t, 42.0, batch.AirQuality[0].AQI)
}

func TestNormalizeBoundary(t *testing.T) {
	batch, stats := Normalize([]Raw{{
		Source:     SourceBoundary,
		CapturedAt: capturedAt,
		Payload: map[string]any{
			"municipality_id": "0351",
			"name":            "Bern",
			"canton":          "BE",
			"rings": [][][2]float64{{
				{46.90, 7.40}, {46.90, 7.50}, {47.00, 7.50}, {47.00, 7.40},
			}},
		},
	}})

	require.Len(t, batch.Boundaries, 1)
	assert.Zero(t, stats.Dropped())
	assert.Equal(t, "0351", batch.Boundaries[0].MunicipalityID)
	require.Len(t, batch.Boundaries[0].Rings, 1)
	assert.Len(t, batch.Boundaries[0].Rings[0], 4)
}

func TestNormalizeBoundaryDegenerateRing(t *testing.T) {
	batch, stats := Normalize([]Raw{{
		Source:     SourceBoundary,
		CapturedAt: capturedAt,
		Payload: map[string]any{
			"municipality_id": "0352",
			"rings":           [][][2]float64{{{46.90, 7.40}, {46.90, 7.50}}},
		},
	}})

	assert.Empty(t, batch.Boundaries)
	assert.Equal(t, 1, stats.MissingField)
}
