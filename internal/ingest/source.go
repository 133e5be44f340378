package ingest

import (
	"context"
	"time"

	"mobility-warehouse/internal/snapshot"
)

// Source yields the raw snapshots of one run window, ordered by arrival.
// The transport behind it (collector tables, message queue) is opaque to
// the pipeline.
type Source interface {
	Fetch(ctx context.Context, from, to time.Time) ([]snapshot.Raw, error)
}
