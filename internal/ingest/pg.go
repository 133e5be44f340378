package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mobility-warehouse/internal/snapshot"
)

// stationCoords maps the collector cities to their station coordinates.
// The weather and air collectors store readings per city without lat/lon,
// so the source re-attaches them here.
var stationCoords = map[string][2]float64{
	"zurich":   {47.3769, 8.5417},
	"lucerne":  {47.0502, 8.3093},
	"geneva":   {46.2044, 6.1432},
	"basel":    {47.5596, 7.5886},
	"bern":     {46.9480, 7.4474},
	"lausanne": {46.5197, 6.6323},
}

// PGSource reads raw snapshots from the collectors' source database:
// bike_status, weather_data and air_quality, as written by the fetchers.
type PGSource struct {
	db *sql.DB
}

func NewPGSource(db *sql.DB) *PGSource {
	return &PGSource{db: db}
}

func (s *PGSource) Fetch(ctx context.Context, from, to time.Time) ([]snapshot.Raw, error) {
	var raws []snapshot.Raw

	bikes, err := s.fetchBikes(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch bike_status: %w", err)
	}
	raws = append(raws, bikes...)

	weather, err := s.fetchWeather(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch weather_data: %w", err)
	}
	raws = append(raws, weather...)

	air, err := s.fetchAirQuality(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch air_quality: %w", err)
	}
	raws = append(raws, air...)

	return raws, nil
}

func (s *PGSource) fetchBikes(ctx context.Context, from, to time.Time) ([]snapshot.Raw, error) {
	q := `
SELECT bike_id, provider_id, lat, lon, is_reserved, is_disabled, COALESCE(vehicle_type, ''), timestamp
FROM bike_status
WHERE timestamp >= $1 AND timestamp < $2
ORDER BY timestamp`
	rows, err := s.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raws []snapshot.Raw
	for rows.Next() {
		var bikeID, providerID, vehicleType string
		var lat, lon float64
		var reserved, disabled bool
		var ts time.Time
		if err := rows.Scan(&bikeID, &providerID, &lat, &lon, &reserved, &disabled, &vehicleType, &ts); err != nil {
			return nil, err
		}
		raws = append(raws, snapshot.Raw{
			Source:     snapshot.SourceBike,
			CapturedAt: ts.UTC(),
			Payload: map[string]any{
				"bike_id":      bikeID,
				"provider_id":  providerID,
				"lat":          lat,
				"lon":          lon,
				"is_reserved":  reserved,
				"is_disabled":  disabled,
				"vehicle_type": vehicleType,
			},
		})
	}
	return raws, rows.Err()
}

func (s *PGSource) fetchWeather(ctx context.Context, from, to time.Time) ([]snapshot.Raw, error) {
	q := `
SELECT city, COALESCE(temperature, 0), COALESCE(humidity, 0), timestamp
FROM weather_data
WHERE timestamp >= $1 AND timestamp < $2
ORDER BY timestamp`
	rows, err := s.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raws []snapshot.Raw
	for rows.Next() {
		var city string
		var temp, humidity float64
		var ts time.Time
		if err := rows.Scan(&city, &temp, &humidity, &ts); err != nil {
			return nil, err
		}
		payload := map[string]any{
			"city":        city,
			"temperature": temp,
			"humidity":    humidity,
		}
		addCoords(payload, city)
		raws = append(raws, snapshot.Raw{
			Source:     snapshot.SourceWeather,
			CapturedAt: ts.UTC(),
			Payload:    payload,
		})
	}
	return raws, rows.Err()
}

func (s *PGSource) fetchAirQuality(ctx context.Context, from, to time.Time) ([]snapshot.Raw, error) {
	q := `
SELECT city, COALESCE(aqi, 0), COALESCE(pm25, 0), timestamp
FROM air_quality
WHERE timestamp >= $1 AND timestamp < $2
ORDER BY timestamp`
	rows, err := s.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raws []snapshot.Raw
	for rows.Next() {
		var city string
		var aqi, pm25 float64
		var ts time.Time
		if err := rows.Scan(&city, &aqi, &pm25, &ts); err != nil {
			return nil, err
		}
		payload := map[string]any{
			"city": city,
			"aqi":  aqi,
			"pm25": pm25,
		}
		addCoords(payload, city)
		raws = append(raws, snapshot.Raw{
			Source:     snapshot.SourceAirQuality,
			CapturedAt: ts.UTC(),
			Payload:    payload,
		})
	}
	return raws, rows.Err()
}

func addCoords(payload map[string]any, city string) {
	if c, ok := stationCoords[strings.ToLower(strings.TrimSpace(city))]; ok {
		payload["lat"] = c[0]
		payload["lon"] = c[1]
	}
}
