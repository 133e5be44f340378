package pipeline

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"mobility-warehouse/internal/emission"
	"mobility-warehouse/internal/enrich"
	"mobility-warehouse/internal/geo"
	"mobility-warehouse/internal/ingest"
	"mobility-warehouse/internal/metrics"
	"mobility-warehouse/internal/report"
	"mobility-warehouse/internal/snapshot"
	"mobility-warehouse/internal/trips"
	"mobility-warehouse/internal/warehouse"
)

// FactLoader is the warehouse seam. The pgx loader implements it; tests
// swap in an in-memory one.
type FactLoader interface {
	Load(ctx context.Context, rows []warehouse.FactRow) (warehouse.LoadStats, error)
}

// Pipeline runs one batch window: ingest, normalize, reconstruct, resolve,
// enrich, compute carbon, load. Stages run sequentially; record-level work
// inside the resolve/enrich stage fans out over workers because it only
// reads immutable reference data.
type Pipeline struct {
	Source     ingest.Source
	Resolver   *geo.Resolver // nil means build from boundary snapshots
	Calculator *emission.Calculator
	Loader     FactLoader

	MaxTripDuration time.Duration
	EnrichTolerance time.Duration
	Workers         int

	Metrics *metrics.Collector // optional
}

// Run executes the full cycle and always returns a report; err is non-nil
// only for fatal conditions (missing reference data, loader failure).
func (p *Pipeline) Run(ctx context.Context, from, to time.Time) (*report.Report, error) {
	rep := report.New(from, to)
	runStart := time.Now()

	// 1. Ingest
	raws, err := p.timedFetch(ctx, from, to)
	if err != nil {
		rep.Failed = true
		rep.FailReason = err.Error()
		return rep, fmt.Errorf("ingest: %w", err)
	}
	for _, r := range raws {
		rep.SnapshotsIngested[string(r.Source)]++
	}
	log.Printf("pipeline: ingested %d raw snapshots", len(raws))

	// 2. Normalize
	stageStart := time.Now()
	batch, stats := snapshot.Normalize(raws)
	p.observeStage("normalize", stageStart)
	p.recordDrops(rep, stats)
	log.Printf("pipeline: normalized bikes=%d weather=%d air=%d boundaries=%d dropped=%d",
		len(batch.Bikes), len(batch.Weather), len(batch.AirQuality), len(batch.Boundaries), stats.Dropped())

	// 3. Reference data: resolver from preloaded set or boundary snapshots.
	resolver := p.Resolver
	if resolver == nil {
		ms, err := geo.FromBoundaries(batch.Boundaries)
		if err != nil {
			log.Printf("pipeline: boundary snapshot issues: %v", err)
		}
		resolver, err = geo.NewResolver(ms)
		if err != nil {
			rep.Failed = true
			rep.FailReason = "missing boundary dataset"
			return rep, fmt.Errorf("boundary dataset: %w", err)
		}
	}
	if p.Calculator == nil {
		rep.Failed = true
		rep.FailReason = "missing emission-factor table"
		return rep, fmt.Errorf("emission-factor table not configured")
	}

	// 4. Reconstruct
	stageStart = time.Now()
	recon := trips.NewReconstructor(p.MaxTripDuration)
	ts, anomalies := recon.Process(batch.Bikes)
	anomalies = append(anomalies, recon.DrainOpen()...)
	p.observeStage("reconstruct", stageStart)
	rep.TripsReconstructed = len(ts)
	for _, a := range anomalies {
		rep.TripsDropped[string(a.Reason)]++
		if p.Metrics != nil {
			p.Metrics.TripsDropped.WithLabelValues(string(a.Reason)).Inc()
		}
	}
	if p.Metrics != nil {
		p.Metrics.TripsReconstructed.Add(float64(len(ts)))
	}
	log.Printf("pipeline: reconstructed %d trips, %d anomalies", len(ts), len(anomalies))

	// 5. Resolve + enrich + carbon, fanned out per trip.
	stageStart = time.Now()
	enricher := enrich.NewEnricher(p.EnrichTolerance, batch.Weather, batch.AirQuality)
	rows := p.buildRows(ctx, ts, resolver, enricher)
	p.observeStage("enrich", stageStart)
	for _, r := range rows {
		if r.SpatialFallback {
			rep.SpatialFallbacks++
			if p.Metrics != nil {
				p.Metrics.SpatialFallbacks.Inc()
			}
		}
		if r.Weather == nil {
			rep.WeatherMisses++
			if p.Metrics != nil {
				p.Metrics.EnrichmentMisses.WithLabelValues("weather").Inc()
			}
		}
		if r.AirQuality == nil {
			rep.AirQualityMisses++
			if p.Metrics != nil {
				p.Metrics.EnrichmentMisses.WithLabelValues("air_quality").Inc()
			}
		}
		if r.CarbonSavedKg == nil {
			rep.UnknownVehicleTypes++
			if p.Metrics != nil {
				p.Metrics.UnknownVehicleTypes.Inc()
			}
		}
	}

	// 6. Load
	stageStart = time.Now()
	st, err := p.Loader.Load(ctx, rows)
	p.observeStage("load", stageStart)
	rep.RowsUpserted = st.Rows
	rep.ChunksCommitted = st.Chunks
	if p.Metrics != nil {
		p.Metrics.RowsUpserted.Add(float64(st.Rows))
		p.Metrics.ChunksCommitted.Add(float64(st.Chunks))
	}
	if err != nil {
		if p.Metrics != nil {
			p.Metrics.ChunksFailed.Inc()
		}
		rep.Failed = true
		rep.FailReason = err.Error()
		return rep, fmt.Errorf("load: %w", err)
	}

	if p.Metrics != nil {
		p.Metrics.RunDuration.Observe(time.Since(runStart).Seconds())
	}
	return rep, nil
}

func (p *Pipeline) timedFetch(ctx context.Context, from, to time.Time) ([]snapshot.Raw, error) {
	start := time.Now()
	raws, err := p.Source.Fetch(ctx, from, to)
	p.observeStage("ingest", start)
	if err != nil {
		return nil, err
	}
	if p.Metrics != nil {
		for _, r := range raws {
			p.Metrics.SnapshotsIngested.WithLabelValues(string(r.Source)).Inc()
		}
	}
	return raws, nil
}

// buildRows resolves, enriches and prices each trip. Trips are independent
// and the resolver, enricher and factor table are read-only, so the work
// fans out over a small worker pool.
func (p *Pipeline) buildRows(ctx context.Context, ts []trips.Trip, resolver *geo.Resolver, enricher *enrich.Enricher) []warehouse.FactRow {
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(ts) {
		workers = len(ts)
	}
	rows := make([]warehouse.FactRow, len(ts))
	if len(ts) == 0 {
		return rows
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rows[i] = p.buildRow(ts[i], resolver, enricher)
			}
		}()
	}
	for i := range ts {
		select {
		case <-ctx.Done():
			// drain: workers exit when jobs closes
		case jobs <- i:
			continue
		}
		break
	}
	close(jobs)
	wg.Wait()
	return rows
}

func (p *Pipeline) buildRow(t trips.Trip, resolver *geo.Resolver, enricher *enrich.Enricher) warehouse.FactRow {
	// Municipality attribution uses the start point; the end point only
	// breaks ties when the start resolution fell back.
	loc := resolver.Resolve(t.StartLat, t.StartLon)
	if loc.Fallback {
		if end := resolver.Resolve(t.EndLat, t.EndLon); !end.Fallback {
			loc = end
		}
	}

	row := warehouse.FactRow{
		TripID:          t.TripID,
		VehicleID:       t.VehicleID,
		ProviderID:      t.ProviderID,
		VehicleType:     t.VehicleType,
		StartLat:        t.StartLat,
		StartLon:        t.StartLon,
		EndLat:          t.EndLat,
		EndLon:          t.EndLon,
		StartTime:       t.StartTime,
		EndTime:         t.EndTime,
		DistanceKm:      t.DistanceKm,
		DurationMin:     t.DurationMin,
		MunicipalityID:  loc.MunicipalityID,
		Municipality:    loc.Name,
		Canton:          loc.Canton,
		SpatialFallback: loc.Fallback,
	}

	if w := enricher.Weather(t.StartTime, t.StartLat, t.StartLon); w != nil {
		row.Weather = &warehouse.WeatherDim{
			StationID:   w.StationID,
			ObservedAt:  w.ObservedAt,
			Temperature: w.Temperature,
			Humidity:    w.Humidity,
		}
	}
	if a := enricher.AirQuality(t.StartTime, t.StartLat, t.StartLon); a != nil {
		row.AirQuality = &warehouse.AirQualityDim{
			StationID:  a.StationID,
			ObservedAt: a.ObservedAt,
			AQI:        a.AQI,
			PM25:       a.PM25,
		}
	}

	saved, err := p.Calculator.CarbonSavedKg(t.VehicleType, t.DistanceKm)
	if err != nil {
		// Unknown vehicle type: trip still loads, carbon stays null.
		log.Printf("pipeline: %v (trip %s)", err, t.TripID)
	} else {
		row.CarbonSavedKg = &saved
	}
	return row
}

func (p *Pipeline) observeStage(stage string, start time.Time) {
	if p.Metrics != nil {
		p.Metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func (p *Pipeline) recordDrops(rep *report.Report, stats snapshot.Stats) {
	add := func(reason string, n int) {
		if n == 0 {
			return
		}
		rep.SnapshotsDropped[reason] += n
		if p.Metrics != nil {
			p.Metrics.SnapshotsDropped.WithLabelValues(reason).Add(float64(n))
		}
	}
	add("out_of_range", stats.OutOfRange)
	add("missing_field", stats.MissingField)
	add("bad_timestamp", stats.BadTimestamp)
	add("not_finite", stats.NotFinite)
	add("unknown_source", stats.UnknownSource)
}
