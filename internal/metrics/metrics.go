package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	SnapshotsIngested *prometheus.CounterVec // source_type label
	SnapshotsDropped  *prometheus.CounterVec // reason label

	TripsReconstructed prometheus.Counter
	TripsDropped       *prometheus.CounterVec // reason label

	SpatialFallbacks    prometheus.Counter
	EnrichmentMisses    *prometheus.CounterVec // kind label: weather|air_quality
	UnknownVehicleTypes prometheus.Counter

	RowsUpserted    prometheus.Counter
	ChunksCommitted prometheus.Counter
	ChunksFailed    prometheus.Counter

	NATSReceived   prometheus.Counter
	NATSDecodeErrs prometheus.Counter
	NATSConnected  prometheus.Gauge

	StageDuration *prometheus.HistogramVec // stage label
	RunDuration   prometheus.Histogram

	ChunkSize        prometheus.Gauge
	EnrichToleranceS prometheus.Gauge
	MaxTripDurationS prometheus.Gauge
}

func NewCollector(chunkSize int, enrichTolerance, maxTripDuration time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		SnapshotsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_snapshots_ingested_total",
			Help: "Raw snapshots ingested per source_type.",
		}, []string{"source_type"}),
		SnapshotsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_snapshots_dropped_total",
			Help: "Snapshots dropped during normalization, per reason.",
		}, []string{"reason"}),
		TripsReconstructed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_trips_reconstructed_total",
			Help: "Trips derived from bike snapshot transitions.",
		}),
		TripsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_trips_dropped_total",
			Help: "Trip candidates discarded, per reason.",
		}, []string{"reason"}),
		SpatialFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_spatial_fallbacks_total",
			Help: "Trip endpoints resolved by nearest-centroid fallback.",
		}),
		EnrichmentMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_enrichment_misses_total",
			Help: "Trips with no reading inside the tolerance window, per kind.",
		}, []string{"kind"}),
		UnknownVehicleTypes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_unknown_vehicle_types_total",
			Help: "Trips loaded with null carbon due to a missing factor entry.",
		}),
		RowsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_fact_rows_upserted_total",
			Help: "all_trips rows upserted.",
		}),
		ChunksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_chunks_committed_total",
			Help: "Warehouse chunk transactions committed.",
		}),
		ChunksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_chunks_failed_total",
			Help: "Warehouse chunk transactions rolled back.",
		}),
		NATSReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_nats_snapshots_received_total",
			Help: "Snapshot messages drained from NATS.",
		}),
		NATSDecodeErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_nats_decode_errors_total",
			Help: "Undecodable NATS snapshot messages.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etl_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"stage"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "etl_run_duration_seconds",
			Help:    "End-to-end duration of one pipeline run.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		ChunkSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etl_chunk_size",
			Help: "Configured warehouse chunk size.",
		}),
		EnrichToleranceS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etl_enrich_tolerance_seconds",
			Help: "Configured enrichment tolerance window.",
		}),
		MaxTripDurationS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etl_max_trip_duration_seconds",
			Help: "Configured maximum trip duration.",
		}),
	}

	// Register
	reg.MustRegister(
		c.SnapshotsIngested, c.SnapshotsDropped,
		c.TripsReconstructed, c.TripsDropped,
		c.SpatialFallbacks, c.EnrichmentMisses, c.UnknownVehicleTypes,
		c.RowsUpserted, c.ChunksCommitted, c.ChunksFailed,
		c.NATSReceived, c.NATSDecodeErrs, c.NATSConnected,
		c.StageDuration, c.RunDuration,
		c.ChunkSize, c.EnrichToleranceS, c.MaxTripDurationS,
	)

	c.ChunkSize.Set(float64(chunkSize))
	c.EnrichToleranceS.Set(enrichTolerance.Seconds())
	c.MaxTripDurationS.Set(maxTripDuration.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
