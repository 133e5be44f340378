package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mobility-warehouse/internal/config"
	"mobility-warehouse/internal/emission"
	"mobility-warehouse/internal/geo"
	"mobility-warehouse/internal/ingest"
	"mobility-warehouse/internal/metrics"
	"mobility-warehouse/internal/pipeline"
	"mobility-warehouse/internal/warehouse"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Warehouse connection
	destDB, err := warehouse.Open(cfg.DestDatabaseURL)
	if err != nil {
		log.Fatalf("warehouse open error: %v", err)
	}
	defer destDB.Close()
	if err := warehouse.Ping(ctx, destDB); err != nil {
		log.Fatalf("warehouse ping error: %v", err)
	}
	if err := warehouse.EnsureSchema(ctx, destDB); err != nil {
		log.Fatalf("warehouse schema error: %v", err)
	}

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.ChunkSize, cfg.EnrichTolerance, cfg.MaxTripDuration)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Emission factors: configuration, fatal when missing.
	table, err := emission.LoadTable(cfg.FactorsPath)
	if err != nil {
		log.Fatalf("emission factors error: %v", err)
	}

	// Boundary reference set: from file when configured, otherwise the run
	// expects boundary snapshots in the ingest stream.
	var resolver *geo.Resolver
	if cfg.BoundariesPath != "" {
		ms, err := geo.LoadFile(cfg.BoundariesPath)
		if err != nil {
			log.Fatalf("boundary dataset error: %v", err)
		}
		resolver, err = geo.NewResolver(ms)
		if err != nil {
			log.Fatalf("boundary dataset error: %v", err)
		}
		log.Printf("loaded %d municipality polygons from %s", len(ms), cfg.BoundariesPath)
	}

	// Snapshot source: NATS drain when configured, else the collectors'
	// source database.
	var source ingest.Source
	if cfg.NATSURL != "" {
		ns, err := ingest.NewNATSSource(cfg.NATSURL, cfg.NATSSubjectPrefix, wrapSourceMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer ns.Close()
		source = ns
	} else {
		srcDB, err := warehouse.Open(cfg.SourceDatabaseURL)
		if err != nil {
			log.Fatalf("source db open error: %v", err)
		}
		defer srcDB.Close()
		if err := warehouse.Ping(ctx, srcDB); err != nil {
			log.Fatalf("source db ping error: %v", err)
		}
		source = ingest.NewPGSource(srcDB)
	}

	p := &pipeline.Pipeline{
		Source:          source,
		Resolver:        resolver,
		Calculator:      emission.NewCalculator(table),
		Loader:          warehouse.NewLoader(destDB, cfg.ChunkSize),
		MaxTripDuration: cfg.MaxTripDuration,
		EnrichTolerance: cfg.EnrichTolerance,
		Workers:         cfg.Workers,
		Metrics:         mcol,
	}

	// One batch run over the trailing window, anchored to local time like
	// the collectors.
	to := time.Now().In(cfg.Location)
	from := to.Add(-cfg.RunWindow)
	log.Printf("processing window %s .. %s", from.Format(time.RFC3339), to.Format(time.RFC3339))

	rep, err := p.Run(ctx, from.UTC(), to.UTC())
	log.Printf("run report:\n%s", rep)
	if err != nil {
		log.Printf("run failed: %v", err)
		os.Exit(1)
	}
	log.Println("run complete")
}

// wrapSourceMetrics adapts our Collector to the ingest.SourceMetrics interface.
func wrapSourceMetrics(c *metrics.Collector) ingest.SourceMetrics {
	if c == nil {
		return nil
	}
	return &srcMetrics{c: c}
}

type srcMetrics struct{ c *metrics.Collector }

func (s *srcMetrics) NATSReceivedInc()  { s.c.NATSReceived.Inc() }
func (s *srcMetrics) NATSDecodeErrInc() { s.c.NATSDecodeErrs.Inc() }
func (s *srcMetrics) NATSSetConnected(b bool) {
	if b {
		s.c.NATSConnected.Set(1)
	} else {
		s.c.NATSConnected.Set(0)
	}
}
