// Package dispatch publishes ON/OFF commands to a single pole or fans them
// out to every pole of a zone, reporting broker acceptance per pole.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/bus"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/protocol"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/storage"
)

// Store is the slice of the record store the dispatcher reads
type Store interface {
	GetAsset(ctx context.Context, poleID string) (*storage.Asset, error)
	ListZonePoleIDs(ctx context.Context, zoneID string) ([]string, error)
}

// Config holds dispatcher configuration
type Config struct {
	ControlTopic string
	Concurrency  int // max in-flight publishes during a zone fan-out
	Logger       *slog.Logger
	Now          func() time.Time
}

// DefaultConfig returns default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		ControlTopic: "streetlight/control",
		Concurrency:  16,
	}
}

// Result is the outcome of a single-pole dispatch
type Result struct {
	PoleID    string        `json:"pole_id"`
	Command   fleet.Command `json:"command"`
	Accepted  bool          `json:"accepted"`
	Timestamp time.Time     `json:"timestamp"`
}

// ZoneResult aggregates a zone fan-out. It is returned even when every
// pole failed.
type ZoneResult struct {
	ZoneID     string            `json:"zone_id"`
	Command    fleet.Command     `json:"command"`
	Total      int               `json:"total"`
	Successful []string          `json:"successful"`
	Failed     []string          `json:"failed"`
	Errors     map[string]string `json:"errors,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Dispatcher turns command intents into bus publications
type Dispatcher struct {
	config Config
	store  Store
	bus    bus.Publisher
	log    *slog.Logger
	now    func() time.Time
}

// New creates a dispatcher
func New(config Config, store Store, publisher bus.Publisher) *Dispatcher {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		config: config,
		store:  store,
		bus:    publisher,
		log:    logger.With("component", "dispatch"),
		now:    now,
	}
}

// DispatchToPole publishes cmd to one pole and waits for broker acceptance.
// Publish failures are returned as *fleet.DispatchError and not retried.
func (d *Dispatcher) DispatchToPole(ctx context.Context, poleID, command string) (*Result, error) {
	cmd, err := fleet.ParseCommand(command)
	if err != nil {
		return nil, err
	}

	if _, err := d.store.GetAsset(ctx, poleID); err != nil {
		return nil, fmt.Errorf("pole %s: %w", poleID, err)
	}

	at := d.now()
	if err := d.publish(ctx, poleID, cmd, at); err != nil {
		d.log.Warn("pole dispatch failed", "pole_id", poleID, "command", cmd, "error", err)
		return nil, err
	}

	d.log.Info("command dispatched", "pole_id", poleID, "command", cmd)
	return &Result{PoleID: poleID, Command: cmd, Accepted: true, Timestamp: at}, nil
}

// DispatchToZone publishes cmd to every pole in the zone with bounded
// concurrency. Per-pole failures are collected, never returned as an error.
func (d *Dispatcher) DispatchToZone(ctx context.Context, zoneID, command string) (*ZoneResult, error) {
	cmd, err := fleet.ParseCommand(command)
	if err != nil {
		return nil, err
	}

	poles, err := d.store.ListZonePoleIDs(ctx, zoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to load poles for zone %s: %w", zoneID, err)
	}
	if len(poles) == 0 {
		return nil, fmt.Errorf("zone %s: %w", zoneID, fleet.ErrEmptyZone)
	}

	at := d.now()
	res := &ZoneResult{
		ZoneID:     zoneID,
		Command:    cmd,
		Total:      len(poles),
		Successful: make([]string, 0, len(poles)),
		Failed:     make([]string, 0),
		Timestamp:  at,
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.config.Concurrency)

	for _, poleID := range poles {
		poleID := poleID
		g.Go(func() error {
			err := d.publish(ctx, poleID, cmd, at)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, poleID)
				if res.Errors == nil {
					res.Errors = make(map[string]string)
				}
				res.Errors[poleID] = err.Error()
				return nil
			}
			res.Successful = append(res.Successful, poleID)
			return nil
		})
	}
	g.Wait()

	sort.Strings(res.Successful)
	sort.Strings(res.Failed)

	if len(res.Failed) > 0 {
		d.log.Warn("zone dispatch partially failed", "zone_id", zoneID, "command", cmd,
			"total", res.Total, "failed", len(res.Failed))
	} else {
		d.log.Info("zone dispatched", "zone_id", zoneID, "command", cmd, "total", res.Total)
	}
	return res, nil
}

// publish sends one control message and awaits the broker's acknowledgment
func (d *Dispatcher) publish(ctx context.Context, poleID string, cmd fleet.Command, at time.Time) error {
	payload, err := protocol.NewControlMessage(poleID, cmd, at).Encode()
	if err != nil {
		return &fleet.DispatchError{PoleID: poleID, Err: err}
	}

	if err := d.bus.Publish(d.config.ControlTopic, payload).Wait(ctx); err != nil {
		return &fleet.DispatchError{PoleID: poleID, Err: err}
	}
	return nil
}
