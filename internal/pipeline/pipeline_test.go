package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mobility-warehouse/internal/emission"
	"mobility-warehouse/internal/snapshot"
	"mobility-warehouse/internal/warehouse"
)

var (
	windowFrom = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	windowTo   = windowFrom.Add(24 * time.Hour)
)

type fakeSource struct {
	raws []snapshot.Raw
	err  error
}

func (f *fakeSource) Fetch(ctx context.Context, from, to time.Time) ([]snapshot.Raw, error) {
	return f.raws, f.err
}

type fakeLoader struct {
	rows []warehouse.FactRow
	err  error
}

func (f *fakeLoader) Load(ctx context.Context, rows []warehouse.FactRow) (warehouse.LoadStats, error) {
	f.rows = append(f.rows, rows...)
	if f.err != nil {
		return warehouse.LoadStats{}, f.err
	}
	return warehouse.LoadStats{Rows: len(rows), Chunks: 1}, nil
}

func bikeRaw(at time.Time, payload map[string]any) snapshot.Raw {
	payload["timestamp"] = at.Format(time.RFC3339)
	return snapshot.Raw{Source: snapshot.SourceBike, CapturedAt: at, Payload: payload}
}

// rideRaws produces one complete trip for a vehicle: parked, riding, parked.
func rideRaws(vehicleType string) []snapshot.Raw {
	t0 := windowFrom.Add(8 * time.Hour)
	mk := func(at time.Time, lat, lon float64, inUse bool) snapshot.Raw {
		return bikeRaw(at, map[string]any{
			"bike_id":      "b-1",
			"provider_id":  "publibike",
			"vehicle_type": vehicleType,
			"lat":          lat,
			"lon":          lon,
			"is_reserved":  inUse,
		})
	}
	return []snapshot.Raw{
		mk(t0, 47.00, 7.45, false),
		mk(t0.Add(5*time.Minute), 47.00, 7.45, true),
		mk(t0.Add(20*time.Minute), 47.01, 7.46, false),
	}
}

func boundaryRaw() snapshot.Raw {
	return snapshot.Raw{
		Source:     snapshot.SourceBoundary,
		CapturedAt: windowFrom,
		Payload: map[string]any{
			"municipality_id": "0351",
			"name":            "Bern",
			"canton":          "BE",
			"rings": [][][2]float64{{
				{46.90, 7.40}, {46.90, 7.50}, {47.10, 7.50}, {47.10, 7.40},
			}},
		},
	}
}

func weatherRaw() snapshot.Raw {
	at := windowFrom.Add(8 * time.Hour)
	return snapshot.Raw{
		Source:     snapshot.SourceWeather,
		CapturedAt: at,
		Payload: map[string]any{
			"city":        "Bern",
			"lat":         46.9480,
			"lon":         7.4474,
			"temperature": 18.5,
			"humidity":    62,
			"timestamp":   at.Format(time.RFC3339),
		},
	}
}

func airRaw() snapshot.Raw {
	at := windowFrom.Add(8 * time.Hour)
	return snapshot.Raw{
		Source:     snapshot.SourceAirQuality,
		CapturedAt: at,
		Payload: map[string]any{
			"station_id": "waqi-bern",
			"lat":        46.9480,
			"lon":        7.4474,
			"aqi":        42,
			"pm25":       11.5,
			"timestamp":  at.Format(time.RFC3339),
		},
	}
}

func testCalculator() *emission.Calculator {
	return emission.NewCalculator(emission.Table{
		"bike": {BaselineKgPerKm: 0.192, SharedKgPerKm: 0},
	})
}

func newPipeline(src *fakeSource, loader *fakeLoader) *Pipeline {
	return &Pipeline{
		Source:          src,
		Calculator:      testCalculator(),
		Loader:          loader,
		MaxTripDuration: 24 * time.Hour,
		EnrichTolerance: 90 * time.Minute,
		Workers:         1,
	}
}

func TestRunEndToEnd(t *testing.T) {
	raws := append(rideRaws("bike"), boundaryRaw(), weatherRaw(), airRaw())
	loader := &fakeLoader{}
	p := newPipeline(&fakeSource{raws: raws}, loader)

	rep, err := p.Run(context.Background(), windowFrom, windowTo)
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, 1, rep.TripsReconstructed)
	assert.Equal(t, 1, rep.RowsUpserted)
	assert.Equal(t, 1, rep.ChunksCommitted)
	assert.Zero(t, rep.SpatialFallbacks)
	assert.Zero(t, rep.WeatherMisses)
	assert.Zero(t, rep.AirQualityMisses)

	require.Len(t, loader.rows, 1)
	row := loader.rows[0]
	assert.Equal(t, "b-1", row.VehicleID)
	assert.Equal(t, "publibike", row.ProviderID)
	assert.Equal(t, "0351", row.MunicipalityID)
	assert.Equal(t, "Bern", row.Municipality)
	assert.False(t, row.SpatialFallback)
	require.NotNil(t, row.Weather)
	assert.Equal(t, "bern", row.Weather.StationID)
	require.NotNil(t, row.AirQuality)
	assert.Equal(t, "waqi-bern", row.AirQuality.StationID)
	require.NotNil(t, row.CarbonSavedKg)
	assert.Greater(t, *row.CarbonSavedKg, 0.0)
	assert.Equal(t, 15.0, row.DurationMin)
}

func TestRunUnknownVehicleTypeLoadsWithNullCarbon(t *testing.T) {
	raws := append(rideRaws("hoverboard"), boundaryRaw())
	loader := &fakeLoader{}
	p := newPipeline(&fakeSource{raws: raws}, loader)

	rep, err := p.Run(context.Background(), windowFrom, windowTo)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.UnknownVehicleTypes)

	require.Len(t, loader.rows, 1)
	assert.Nil(t, loader.rows[0].CarbonSavedKg)
}

func TestRunMissingBoundaryDatasetIsFatal(t *testing.T) {
	p := newPipeline(&fakeSource{raws: rideRaws("bike")}, &fakeLoader{})

	rep, err := p.Run(context.Background(), windowFrom, windowTo)
	require.Error(t, err)
	assert.True(t, rep.Failed)
	assert.Equal(t, "missing boundary dataset", rep.FailReason)
}

func TestRunIngestFailure(t *testing.T) {
	p := newPipeline(&fakeSource{err: errors.New("connection refused")}, &fakeLoader{})

	rep, err := p.Run(context.Background(), windowFrom, windowTo)
	require.Error(t, err)
	assert.True(t, rep.Failed)
}

func TestRunLoaderFailureHaltsRun(t *testing.T) {
	cause := errors.New("deadlock detected")
	loader := &fakeLoader{err: &warehouse.TransactionError{Chunk: 0, Err: cause}}
	raws := append(rideRaws("bike"), boundaryRaw())
	p := newPipeline(&fakeSource{raws: raws}, loader)

	rep, err := p.Run(context.Background(), windowFrom, windowTo)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.True(t, rep.Failed)
}

func TestRunEnrichmentMissOutsideTolerance(t *testing.T) {
	// The only weather reading is 8 hours before the trip.
	w := weatherRaw()
	at := windowFrom
	w.Payload["timestamp"] = at.Format(time.RFC3339)
	w.CapturedAt = at

	raws := append(rideRaws("bike"), boundaryRaw(), w)
	loader := &fakeLoader{}
	p := newPipeline(&fakeSource{raws: raws}, loader)

	rep, err := p.Run(context.Background(), windowFrom, windowTo)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.WeatherMisses)
	assert.Equal(t, 1, rep.AirQualityMisses)
	require.Len(t, loader.rows, 1)
	assert.Nil(t, loader.rows[0].Weather)
}

func TestRunSpatialFallbackCounted(t *testing.T) {
	// Boundary polygon far from the ride: every resolution falls back.
	b := boundaryRaw()
	b.Payload["rings"] = [][][2]float64{{
		{47.30, 8.50}, {47.30, 8.60}, {47.40, 8.60}, {47.40, 8.50},
	}}
	raws := append(rideRaws("bike"), b)
	loader := &fakeLoader{}
	p := newPipeline(&fakeSource{raws: raws}, loader)

	rep, err := p.Run(context.Background(), windowFrom, windowTo)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.SpatialFallbacks)
	require.Len(t, loader.rows, 1)
	assert.True(t, loader.rows[0].SpatialFallback)
}

func TestRunIsIdempotent(t *testing.T) {
	raws := append(rideRaws("bike"), boundaryRaw(), weatherRaw(), airRaw())

	first := &fakeLoader{}
	_, err := newPipeline(&fakeSource{raws: raws}, first).Run(context.Background(), windowFrom, windowTo)
	require.NoError(t, err)

	second := &fakeLoader{}
	_, err = newPipeline(&fakeSource{raws: raws}, second).Run(context.Background(), windowFrom, windowTo)
	require.NoError(t, err)

	// Same window, same rows, same deterministic trip_ids.
	assert.Equal(t, first.rows, second.rows)
}

func TestRunEmptyWindow(t *testing.T) {
	raws := []snapshot.Raw{boundaryRaw()}
	loader := &fakeLoader{}
	p := newPipeline(&fakeSource{raws: raws}, loader)

	rep, err := p.Run(context.Background(), windowFrom, windowTo)
	require.NoError(t, err)
	assert.Zero(t, rep.TripsReconstructed)
	assert.Empty(t, loader.rows)
}
