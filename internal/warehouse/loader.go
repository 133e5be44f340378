package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// WeatherDim and AirQualityDim carry the natural key plus measurements for
// the environmental dimension rows. Nil on a FactRow means the trip had no
// reading inside the enrichment tolerance.
type WeatherDim struct {
	StationID   string
	ObservedAt  time.Time
	Temperature float64
	Humidity    float64
}

type AirQualityDim struct {
	StationID  string
	ObservedAt time.Time
	AQI        float64
	PM25       float64
}

// FactRow is the fully assembled all_trips record. CarbonSavedKg is nil for
// vehicle types without emission factors.
type FactRow struct {
	TripID      string
	VehicleID   string
	ProviderID  string
	VehicleType string

	StartLat, StartLon float64
	EndLat, EndLon     float64
	StartTime, EndTime time.Time
	DistanceKm         float64
	DurationMin        float64

	MunicipalityID  string
	Municipality    string
	Canton          string
	SpatialFallback bool

	Weather    *WeatherDim
	AirQuality *AirQualityDim

	CarbonSavedKg *float64
}

// TransactionError is a failed chunk write. The chunk was rolled back; the
// run halts here and earlier committed chunks remain valid. Rerunning the
// same window is safe because fact upserts are keyed by trip_id.
type TransactionError struct {
	Chunk int
	Err   error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("warehouse chunk %d failed: %v", e.Chunk, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// Loader upserts dimension and fact rows in chunked transactions. Dimension
// rows are written before the facts that reference them inside the same
// transaction, so no fact ever commits without its dimensions.
type Loader struct {
	db        *sql.DB
	chunkSize int
}

func NewLoader(db *sql.DB, chunkSize int) *Loader {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &Loader{db: db, chunkSize: chunkSize}
}

// LoadStats reports what one Load call committed.
type LoadStats struct {
	Rows   int
	Chunks int
}

// Load writes all rows, one transaction per chunk, and returns what was
// committed before any failure.
func (l *Loader) Load(ctx context.Context, rows []FactRow) (LoadStats, error) {
	var st LoadStats
	for ci, chunk := range Chunks(rows, l.chunkSize) {
		if err := l.loadChunk(ctx, chunk); err != nil {
			return st, &TransactionError{Chunk: ci, Err: err}
		}
		st.Rows += len(chunk)
		st.Chunks++
		log.Printf("warehouse: chunk %d committed, %d fact rows", ci, len(chunk))
	}
	return st, nil
}

func (l *Loader) loadChunk(ctx context.Context, chunk []FactRow) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := upsertDimensions(ctx, tx, chunk); err != nil {
		return err
	}
	for _, r := range chunk {
		if err := upsertFact(ctx, tx, r); err != nil {
			return fmt.Errorf("fact %s: %w", r.TripID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// upsertDimensions writes the deduplicated dimension rows of one chunk.
func upsertDimensions(ctx context.Context, tx *sql.Tx, chunk []FactRow) error {
	type vehicleKey struct{ provider, vehicle string }
	type readingKey struct {
		station string
		at      time.Time
	}
	locations := make(map[string]FactRow)
	vehicles := make(map[vehicleKey]FactRow)
	weather := make(map[readingKey]*WeatherDim)
	air := make(map[readingKey]*AirQualityDim)
	for _, r := range chunk {
		if r.MunicipalityID != "" {
			locations[r.MunicipalityID] = r
		}
		vehicles[vehicleKey{r.ProviderID, r.VehicleID}] = r
		if r.Weather != nil {
			weather[readingKey{r.Weather.StationID, r.Weather.ObservedAt}] = r.Weather
		}
		if r.AirQuality != nil {
			air[readingKey{r.AirQuality.StationID, r.AirQuality.ObservedAt}] = r.AirQuality
		}
	}

	for id, r := range locations {
		_, err := tx.ExecContext(ctx, `
INSERT INTO dim_location (municipality_id, name, canton)
VALUES ($1, $2, $3)
ON CONFLICT (municipality_id) DO UPDATE SET name = EXCLUDED.name, canton = EXCLUDED.canton`,
			id, r.Municipality, r.Canton)
		if err != nil {
			return fmt.Errorf("dim_location %s: %w", id, err)
		}
	}
	for k, r := range vehicles {
		_, err := tx.ExecContext(ctx, `
INSERT INTO dim_vehicle (provider_id, vehicle_id, vehicle_type)
VALUES ($1, $2, $3)
ON CONFLICT (provider_id, vehicle_id) DO UPDATE SET vehicle_type = EXCLUDED.vehicle_type`,
			k.provider, k.vehicle, r.VehicleType)
		if err != nil {
			return fmt.Errorf("dim_vehicle %s/%s: %w", k.provider, k.vehicle, err)
		}
	}
	for k, w := range weather {
		_, err := tx.ExecContext(ctx, `
INSERT INTO dim_weather (station_id, observed_at, temperature, humidity)
VALUES ($1, $2, $3, $4)
ON CONFLICT (station_id, observed_at) DO UPDATE SET temperature = EXCLUDED.temperature, humidity = EXCLUDED.humidity`,
			k.station, k.at, w.Temperature, w.Humidity)
		if err != nil {
			return fmt.Errorf("dim_weather %s: %w", k.station, err)
		}
	}
	for k, a := range air {
		_, err := tx.ExecContext(ctx, `
INSERT INTO dim_air_quality (station_id, observed_at, aqi, pm25)
VALUES ($1, $2, $3, $4)
ON CONFLICT (station_id, observed_at) DO UPDATE SET aqi = EXCLUDED.aqi, pm25 = EXCLUDED.pm25`,
			k.station, k.at, a.AQI, a.PM25)
		if err != nil {
			return fmt.Errorf("dim_air_quality %s: %w", k.station, err)
		}
	}
	return nil
}

func upsertFact(ctx context.Context, tx *sql.Tx, r FactRow) error {
	var carbon sql.NullFloat64
	if r.CarbonSavedKg != nil {
		carbon = sql.NullFloat64{Float64: *r.CarbonSavedKg, Valid: true}
	}
	var wStation sql.NullString
	var wAt sql.NullTime
	if r.Weather != nil {
		wStation = sql.NullString{String: r.Weather.StationID, Valid: true}
		wAt = sql.NullTime{Time: r.Weather.ObservedAt, Valid: true}
	}
	var aStation sql.NullString
	var aAt sql.NullTime
	if r.AirQuality != nil {
		aStation = sql.NullString{String: r.AirQuality.StationID, Valid: true}
		aAt = sql.NullTime{Time: r.AirQuality.ObservedAt, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO all_trips (
    trip_id, bike_id, provider_id, vehicle_type,
    trip_start, trip_end, start_lat, start_lon, end_lat, end_lon,
    total_duration, total_distance,
    municipality_id, municipality, canton, spatial_fallback,
    weather_station_id, weather_observed_at, air_station_id, air_observed_at,
    carbon_saved_kg
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
ON CONFLICT (trip_id) DO UPDATE SET
    bike_id = EXCLUDED.bike_id,
    provider_id = EXCLUDED.provider_id,
    vehicle_type = EXCLUDED.vehicle_type,
    trip_start = EXCLUDED.trip_start,
    trip_end = EXCLUDED.trip_end,
    start_lat = EXCLUDED.start_lat,
    start_lon = EXCLUDED.start_lon,
    end_lat = EXCLUDED.end_lat,
    end_lon = EXCLUDED.end_lon,
    total_duration = EXCLUDED.total_duration,
    total_distance = EXCLUDED.total_distance,
    municipality_id = EXCLUDED.municipality_id,
    municipality = EXCLUDED.municipality,
    canton = EXCLUDED.canton,
    spatial_fallback = EXCLUDED.spatial_fallback,
    weather_station_id = EXCLUDED.weather_station_id,
    weather_observed_at = EXCLUDED.weather_observed_at,
    air_station_id = EXCLUDED.air_station_id,
    air_observed_at = EXCLUDED.air_observed_at,
    carbon_saved_kg = EXCLUDED.carbon_saved_kg`,
		r.TripID, r.VehicleID, r.ProviderID, r.VehicleType,
		r.StartTime, r.EndTime, r.StartLat, r.StartLon, r.EndLat, r.EndLon,
		r.DurationMin, r.DistanceKm,
		nullString(r.MunicipalityID), nullString(r.Municipality), nullString(r.Canton), r.SpatialFallback,
		wStation, wAt, aStation, aAt,
		carbon)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Chunks splits rows into batches of at most size.
func Chunks(rows []FactRow, size int) [][]FactRow {
	if size <= 0 {
		size = len(rows)
	}
	var out [][]FactRow
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}
