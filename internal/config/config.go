package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mobility-warehouse/internal/warehouse"
)

type Config struct {
	SourceDatabaseURL string // collectors' raw snapshot tables
	DestDatabaseURL   string // warehouse

	NATSURL           string // empty disables the NATS snapshot source
	NATSSubjectPrefix string

	RunWindow       time.Duration // how far back one run reaches
	MaxTripDuration time.Duration
	EnrichTolerance time.Duration
	ChunkSize       int
	Workers         int

	FactorsPath    string // emission-factor YAML, required
	BoundariesPath string // municipality YAML; empty means boundary snapshots

	MetricsAddr string
	Location    *time.Location
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Base DSN: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	base := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if base == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := getenvDefault("PGDATABASE", "postgres")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			base = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			base = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	}

	// Source and destination may live on the same cluster under different
	// database names, or be full DSNs of their own.
	cfg.SourceDatabaseURL = os.Getenv("SOURCE_DATABASE_URL")
	if cfg.SourceDatabaseURL == "" {
		name := os.Getenv("SOURCE_DB_NAME")
		if name == "" {
			return nil, errors.New("SOURCE_DATABASE_URL or SOURCE_DB_NAME must be set")
		}
		dsn, err := warehouse.WithDBName(base, name)
		if err != nil {
			return nil, fmt.Errorf("compose source DSN: %w", err)
		}
		cfg.SourceDatabaseURL = dsn
	}
	cfg.DestDatabaseURL = os.Getenv("DEST_DATABASE_URL")
	if cfg.DestDatabaseURL == "" {
		name := os.Getenv("DEST_DB_NAME")
		if name == "" {
			return nil, errors.New("DEST_DATABASE_URL or DEST_DB_NAME must be set")
		}
		dsn, err := warehouse.WithDBName(base, name)
		if err != nil {
			return nil, fmt.Errorf("compose dest DSN: %w", err)
		}
		cfg.DestDatabaseURL = dsn
	}

	// Optional NATS snapshot source
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "snapshots")

	// Run window (hours)
	if v := os.Getenv("RUN_WINDOW_HOURS"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h <= 0 {
			return nil, fmt.Errorf("invalid RUN_WINDOW_HOURS: %q", v)
		}
		cfg.RunWindow = time.Duration(h) * time.Hour
	} else {
		cfg.RunWindow = 24 * time.Hour
	}

	// Trip duration ceiling (hours)
	if v := os.Getenv("MAX_TRIP_DURATION_HOURS"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h <= 0 {
			return nil, fmt.Errorf("invalid MAX_TRIP_DURATION_HOURS: %q", v)
		}
		cfg.MaxTripDuration = time.Duration(h) * time.Hour
	} else {
		cfg.MaxTripDuration = 24 * time.Hour
	}

	// Enrichment tolerance (minutes)
	if v := os.Getenv("ENRICH_TOLERANCE_MIN"); v != "" {
		min, err := strconv.Atoi(v)
		if err != nil || min <= 0 {
			return nil, fmt.Errorf("invalid ENRICH_TOLERANCE_MIN: %q", v)
		}
		cfg.EnrichTolerance = time.Duration(min) * time.Minute
	} else {
		cfg.EnrichTolerance = 90 * time.Minute
	}

	// Warehouse chunk size
	if v := os.Getenv("CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid CHUNK_SIZE: %q", v)
		}
		cfg.ChunkSize = n
	} else {
		cfg.ChunkSize = 500
	}

	// Worker pool size for the per-trip stage; 0 means NumCPU
	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid WORKERS: %q", v)
		}
		cfg.Workers = n
	}

	cfg.FactorsPath = os.Getenv("EMISSION_FACTORS_PATH")
	if cfg.FactorsPath == "" {
		return nil, errors.New("EMISSION_FACTORS_PATH must be set")
	}
	cfg.BoundariesPath = os.Getenv("BOUNDARIES_PATH")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Time zone anchoring the run window; collectors run on Swiss local time.
	tzName := getenvDefault("TZ", "Europe/Zurich")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TZ: %v", err)
	}
	cfg.Location = loc

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
