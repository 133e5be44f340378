package warehouse

import (
	"context"
	"database/sql"
	"fmt"
)

// Star schema: four dimension tables keyed by natural keys plus the
// all_trips fact table keyed by trip_id. Bootstrap is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS dim_location (
    municipality_id character varying(255) PRIMARY KEY,
    name            character varying(255),
    canton          character varying(255)
);

CREATE TABLE IF NOT EXISTS dim_vehicle (
    provider_id  character varying(255) NOT NULL,
    vehicle_id   character varying(255) NOT NULL,
    vehicle_type character varying(50),
    PRIMARY KEY (provider_id, vehicle_id)
);

CREATE TABLE IF NOT EXISTS dim_weather (
    station_id  character varying(255) NOT NULL,
    observed_at timestamp with time zone NOT NULL,
    temperature double precision,
    humidity    double precision,
    PRIMARY KEY (station_id, observed_at)
);

CREATE TABLE IF NOT EXISTS dim_air_quality (
    station_id  character varying(255) NOT NULL,
    observed_at timestamp with time zone NOT NULL,
    aqi         double precision,
    pm25        double precision,
    PRIMARY KEY (station_id, observed_at)
);

CREATE TABLE IF NOT EXISTS all_trips (
    trip_id          character varying(36) PRIMARY KEY,
    bike_id          character varying(255),
    provider_id      character varying(255),
    vehicle_type     character varying(50),
    trip_start       timestamp with time zone,
    trip_end         timestamp with time zone,
    start_lat        double precision,
    start_lon        double precision,
    end_lat          double precision,
    end_lon          double precision,
    total_duration   double precision,
    total_distance   double precision,
    municipality_id  character varying(255) REFERENCES dim_location (municipality_id),
    municipality     character varying(255),
    canton           character varying(255),
    spatial_fallback boolean NOT NULL DEFAULT false,
    weather_station_id  character varying(255),
    weather_observed_at timestamp with time zone,
    air_station_id      character varying(255),
    air_observed_at     timestamp with time zone,
    carbon_saved_kg  double precision
);

CREATE INDEX IF NOT EXISTS idx_all_trips_bike_id ON all_trips (bike_id);
CREATE INDEX IF NOT EXISTS idx_all_trips_provider_id ON all_trips (provider_id);
CREATE INDEX IF NOT EXISTS idx_all_trips_trip_start ON all_trips (trip_start);
CREATE INDEX IF NOT EXISTS idx_all_trips_municipality ON all_trips (municipality_id);
`

// EnsureSchema creates the warehouse tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
