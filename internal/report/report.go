package report

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Report is the run outcome surfaced for operational monitoring. It is not
// part of the warehouse data model; it goes to logs and the exit summary
// while the metrics collector carries the same counts to Prometheus.
type Report struct {
	WindowFrom time.Time
	WindowTo   time.Time

	SnapshotsIngested map[string]int // per source_type
	SnapshotsDropped  map[string]int // per reason

	TripsReconstructed int
	TripsDropped       map[string]int // per anomaly reason

	SpatialFallbacks    int
	WeatherMisses       int
	AirQualityMisses    int
	UnknownVehicleTypes int

	RowsUpserted    int
	ChunksCommitted int

	Failed     bool
	FailReason string
}

func New(from, to time.Time) *Report {
	return &Report{
		WindowFrom:        from,
		WindowTo:          to,
		SnapshotsIngested: make(map[string]int),
		SnapshotsDropped:  make(map[string]int),
		TripsDropped:      make(map[string]int),
	}
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run window %s .. %s\n", r.WindowFrom.Format(time.RFC3339), r.WindowTo.Format(time.RFC3339))
	fmt.Fprintf(&b, "snapshots ingested: %d (%s)\n", sum(r.SnapshotsIngested), kv(r.SnapshotsIngested))
	fmt.Fprintf(&b, "snapshots dropped: %d (%s)\n", sum(r.SnapshotsDropped), kv(r.SnapshotsDropped))
	fmt.Fprintf(&b, "trips reconstructed: %d, dropped: %d (%s)\n", r.TripsReconstructed, sum(r.TripsDropped), kv(r.TripsDropped))
	fmt.Fprintf(&b, "spatial fallbacks: %d, weather misses: %d, air misses: %d, unknown vehicle types: %d\n",
		r.SpatialFallbacks, r.WeatherMisses, r.AirQualityMisses, r.UnknownVehicleTypes)
	fmt.Fprintf(&b, "fact rows upserted: %d in %d chunks", r.RowsUpserted, r.ChunksCommitted)
	if r.Failed {
		fmt.Fprintf(&b, "\nrun FAILED: %s", r.FailReason)
	}
	return b.String()
}

func sum(m map[string]int) int {
	total := 0
	for _, v := range m {
		total += v
	}
	return total
}

func kv(m map[string]int) string {
	if len(m) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, fmt.Sprintf("%s=%d", k, v))
	}
	sort.Strings(parts) // deterministic order for logs
	return strings.Join(parts, " ")
}
