package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReportString(t *testing.T) {
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	r := New(from, from.Add(24*time.Hour))
	r.SnapshotsIngested["bike"] = 120
	r.SnapshotsIngested["weather"] = 24
	r.SnapshotsDropped["out_of_range"] = 2
	r.TripsReconstructed = 40
	r.TripsDropped["zero_duration"] = 1
	r.RowsUpserted = 40
	r.ChunksCommitted = 1

	s := r.String()
	assert.Contains(t, s, "snapshots ingested: 144 (bike=120 weather=24)")
	assert.Contains(t, s, "snapshots dropped: 2 (out_of_range=2)")
	assert.Contains(t, s, "trips reconstructed: 40, dropped: 1 (zero_duration=1)")
	assert.Contains(t, s, "fact rows upserted: 40 in 1 chunks")
	assert.NotContains(t, s, "FAILED")
}

func TestReportStringFailed(t *testing.T) {
	r := New(time.Now(), time.Now())
	r.Failed = true
	r.FailReason = "missing boundary dataset"

	assert.Contains(t, r.String(), "run FAILED: missing boundary dataset")
}

func TestReportStringEmptyMaps(t *testing.T) {
	r := New(time.Now(), time.Now())
	assert.Contains(t, r.String(), "snapshots ingested: 0 (none)")
}
