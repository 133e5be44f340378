package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"mobility-warehouse/internal/snapshot"
)

// SourceMetrics lets the NATS source report into the run's collector
// without importing it.
type SourceMetrics interface {
	NATSReceivedInc()
	NATSDecodeErrInc()
	NATSSetConnected(connected bool)
}

// snapshotMessage is the wire shape collectors publish per snapshot.
type snapshotMessage struct {
	SourceType string         `json:"source_type"`
	CapturedAt time.Time      `json:"captured_at"`
	Payload    map[string]any `json:"payload"`
}

// NATSSource drains queued collector snapshots from per-source subjects
// (<prefix>.bike, <prefix>.weather, ...). It is a batch drain, not a live
// consumer: Fetch returns once the queue goes quiet.
type NATSSource struct {
	nc        *nats.Conn
	prefix    string
	idleAfter time.Duration
	metrics   SourceMetrics
}

func NewNATSSource(url, prefix string, m SourceMetrics) (*NATSSource, error) {
	nc, err := nats.Connect(url,
		nats.Name("mobility-warehouse"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	if prefix == "" {
		prefix = "snapshots"
	}
	return &NATSSource{nc: nc, prefix: prefix, idleAfter: 2 * time.Second, metrics: m}, nil
}

func (s *NATSSource) Close() {
	if s.nc != nil {
		s.nc.Drain()
		s.nc.Close()
	}
}

// Fetch drains every pending snapshot message whose captured_at falls in
// [from, to). Messages outside the window are skipped, not requeued; the
// collectors replay them on the next run if still relevant.
func (s *NATSSource) Fetch(ctx context.Context, from, to time.Time) ([]snapshot.Raw, error) {
	sub, err := s.nc.SubscribeSync(s.prefix + ".>")
	if err != nil {
		return nil, fmt.Errorf("subscribe %s.>: %w", s.prefix, err)
	}
	defer sub.Unsubscribe()

	var raws []snapshot.Raw
	for {
		if err := ctx.Err(); err != nil {
			return raws, err
		}
		msg, err := sub.NextMsg(s.idleAfter)
		if errors.Is(err, nats.ErrTimeout) {
			return raws, nil
		}
		if err != nil {
			return raws, fmt.Errorf("next message: %w", err)
		}
		var m snapshotMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			if s.metrics != nil {
				s.metrics.NATSDecodeErrInc()
			}
			log.Printf("nats: undecodable snapshot on %s: %v", msg.Subject, err)
			continue
		}
		if s.metrics != nil {
			s.metrics.NATSReceivedInc()
		}
		at := m.CapturedAt.UTC()
		if at.Before(from) || !at.Before(to) {
			continue
		}
		raws = append(raws, snapshot.Raw{
			Source:     snapshot.SourceType(m.SourceType),
			CapturedAt: at,
			Payload:    m.Payload,
		})
	}
}
