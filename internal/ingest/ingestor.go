// Package ingest turns telemetry bus messages into persisted samples.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/bus"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/protocol"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/storage"
)

// Store appends telemetry samples
type Store interface {
	AppendTelemetry(ctx context.Context, s *storage.TelemetrySample) error
}

// FaultNotifier receives samples that carry a fault code
type FaultNotifier interface {
	NotifyFault(ctx context.Context, s *storage.TelemetrySample) error
}

// Broadcaster fans persisted samples out to live subscribers
type Broadcaster interface {
	Broadcast(s *storage.TelemetrySample)
}

// Config holds ingestor configuration
type Config struct {
	WriteTimeout time.Duration // bounds store writes made from bus callbacks
	Logger       *slog.Logger
	Now          func() time.Time
}

// DefaultConfig returns default ingestor configuration
func DefaultConfig() Config {
	return Config{WriteTimeout: 5 * time.Second}
}

// Stats counts ingestion outcomes since start
type Stats struct {
	Received       uint64 `json:"received"`
	Stored         uint64 `json:"stored"`
	Dropped        uint64 `json:"dropped"`
	FaultsNotified uint64 `json:"faults_notified"`
}

// Ingestor decodes and persists telemetry
type Ingestor struct {
	config Config
	store  Store
	faults FaultNotifier
	feed   Broadcaster
	log    *slog.Logger
	now    func() time.Time

	received atomic.Uint64
	stored   atomic.Uint64
	dropped  atomic.Uint64
	notified atomic.Uint64
}

// New creates an ingestor. faults and feed may be nil.
func New(config Config, store Store, faults FaultNotifier, feed Broadcaster) *Ingestor {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Ingestor{
		config: config,
		store:  store,
		faults: faults,
		feed:   feed,
		log:    logger.With("component", "ingest"),
		now:    now,
	}
}

// HandleMessage is the bus subscription handler. Failures are logged and
// the message dropped; nothing propagates to the bus client.
func (i *Ingestor) HandleMessage(msg bus.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), i.config.WriteTimeout)
	defer cancel()

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = i.now()
	}

	if _, err := i.Ingest(ctx, msg.Payload, receivedAt); err != nil {
		i.log.Warn("dropping telemetry message", "topic", msg.Topic, "bytes", len(msg.Payload), "error", err)
	}
}

// Ingest decodes payload and appends one sample. Decode errors wrap
// fleet.ErrDecodeFailed.
func (i *Ingestor) Ingest(ctx context.Context, payload []byte, receivedAt time.Time) (*storage.TelemetrySample, error) {
	i.received.Add(1)

	m, err := protocol.DecodeTelemetry(payload, receivedAt)
	if err != nil {
		i.dropped.Add(1)
		return nil, err
	}

	sample := &storage.TelemetrySample{
		TelemetryID:  m.TelemetryID,
		PoleID:       m.PoleID,
		TS:           m.Timestamp,
		State:        m.State,
		Voltage:      m.Voltage,
		CurrentA:     m.CurrentA,
		PowerW:       m.PowerW,
		EnergyKWh:    m.EnergyKWh,
		AmbientLux:   m.AmbientLux,
		TemperatureC: m.TemperatureC,
		DimmingLevel: m.DimmingLevel,
		FaultCode:    m.FaultCode,
		ReceivedAt:   receivedAt.UTC(),
	}
	if sample.TelemetryID == "" {
		sample.TelemetryID = newSampleID()
	}

	if err := i.store.AppendTelemetry(ctx, sample); err != nil {
		i.dropped.Add(1)
		return nil, fmt.Errorf("failed to store telemetry for pole %s: %w", sample.PoleID, err)
	}
	i.stored.Add(1)

	if m.TimestampDefaulted {
		i.log.Debug("telemetry timestamp missing or malformed, using receive time", "pole_id", sample.PoleID)
	}

	if sample.FaultCode != nil && i.faults != nil {
		if err := i.faults.NotifyFault(ctx, sample); err != nil {
			i.log.Warn("fault notification failed", "pole_id", sample.PoleID,
				"fault_code", *sample.FaultCode, "error", err)
		} else {
			i.notified.Add(1)
		}
	}

	if i.feed != nil {
		i.feed.Broadcast(sample)
	}

	return sample, nil
}

// Stats returns ingestion counters
func (i *Ingestor) Stats() Stats {
	return Stats{
		Received:       i.received.Load(),
		Stored:         i.stored.Load(),
		Dropped:        i.dropped.Load(),
		FaultsNotified: i.notified.Load(),
	}
}

// newSampleID returns a time-ordered identifier, falling back to a random
// one if the clock sequence cannot be read
func newSampleID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
