// Package faults records pole faults, from manual reports or from telemetry
// carrying a fault code, and tracks their resolution.
package faults

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/storage"
)

// Store is the fault slice of the record store
type Store interface {
	GetAsset(ctx context.Context, poleID string) (*storage.Asset, error)
	InsertFault(ctx context.Context, f *storage.Fault) error
	GetFault(ctx context.Context, faultID string) (*storage.Fault, error)
	FindOpenFault(ctx context.Context, poleID, faultCode string) (*storage.Fault, error)
	ListOpenFaults(ctx context.Context, limit int) ([]*storage.Fault, error)
	FaultsByPole(ctx context.Context, poleID string) ([]*storage.Fault, error)
	FaultsByZone(ctx context.Context, zoneID string) ([]*storage.Fault, error)
	ResolveFault(ctx context.Context, faultID string, at time.Time) (*storage.Fault, error)
	FaultStats(ctx context.Context, zoneID string) (*storage.FaultStats, error)
	DeleteFault(ctx context.Context, faultID string) error
}

// Config holds fault service configuration
type Config struct {
	DefaultSeverity fleet.Severity // severity of faults raised from telemetry
	Logger          *slog.Logger
	Now             func() time.Time
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{DefaultSeverity: fleet.SeverityMedium}
}

// Report describes a manually reported fault
type Report struct {
	PoleID    string `json:"pole_id"`
	ZoneID    string `json:"zone_id"`
	FaultCode string `json:"fault_code"`
	Severity  string `json:"severity"`
	Notes     string `json:"notes,omitempty"`
}

// Service manages faults
type Service struct {
	config Config
	store  Store
	log    *slog.Logger
	now    func() time.Time

	// serializes the open-fault check and insert for telemetry notifications
	notifyMu sync.Mutex
}

// New creates a fault service
func New(config Config, store Store) *Service {
	if config.DefaultSeverity == "" {
		config.DefaultSeverity = fleet.SeverityMedium
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		config: config,
		store:  store,
		log:    logger.With("component", "faults"),
		now:    now,
	}
}

// ReportFault records a new open fault
func (s *Service) ReportFault(ctx context.Context, r Report) (*storage.Fault, error) {
	r.PoleID = strings.TrimSpace(r.PoleID)
	r.FaultCode = strings.TrimSpace(r.FaultCode)
	if r.PoleID == "" || r.FaultCode == "" {
		return nil, fmt.Errorf("%w: pole_id and fault_code are required", fleet.ErrInvalidInput)
	}

	severity := s.config.DefaultSeverity
	if r.Severity != "" {
		sev, err := fleet.ParseSeverity(r.Severity)
		if err != nil {
			return nil, err
		}
		severity = sev
	}

	zoneID := strings.TrimSpace(r.ZoneID)
	if zoneID == "" {
		asset, err := s.store.GetAsset(ctx, r.PoleID)
		if err != nil {
			return nil, fmt.Errorf("pole %s: %w", r.PoleID, err)
		}
		zoneID = asset.ZoneID
	}

	return s.insert(ctx, r.PoleID, zoneID, r.FaultCode, severity, r.Notes)
}

// NotifyFault raises a fault for a telemetry sample carrying a fault code,
// unless the same code is already open for that pole
func (s *Service) NotifyFault(ctx context.Context, sample *storage.TelemetrySample) error {
	if sample.FaultCode == nil {
		return nil
	}
	code := *sample.FaultCode

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if _, err := s.store.FindOpenFault(ctx, sample.PoleID, code); err == nil {
		return nil
	} else if !errors.Is(err, fleet.ErrNotFound) {
		return err
	}

	asset, err := s.store.GetAsset(ctx, sample.PoleID)
	if err != nil {
		return fmt.Errorf("pole %s: %w", sample.PoleID, err)
	}

	_, err = s.insert(ctx, sample.PoleID, asset.ZoneID, code, s.config.DefaultSeverity,
		"raised from telemetry "+sample.TelemetryID)
	return err
}

func (s *Service) insert(ctx context.Context, poleID, zoneID, code string, severity fleet.Severity, notes string) (*storage.Fault, error) {
	f := &storage.Fault{
		FaultID:    uuid.NewString(),
		PoleID:     poleID,
		ZoneID:     zoneID,
		FaultCode:  code,
		Severity:   severity,
		Status:     fleet.FaultOpen,
		Notes:      notes,
		DetectedAt: s.now(),
	}
	if err := s.store.InsertFault(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to record fault: %w", err)
	}

	s.log.Info("fault opened", "fault_id", f.FaultID, "pole_id", poleID, "zone_id", zoneID,
		"fault_code", code, "severity", severity)
	return f, nil
}

// ResolveFault closes an open fault; resolving twice is a no-op
func (s *Service) ResolveFault(ctx context.Context, faultID string) (*storage.Fault, error) {
	f, err := s.store.ResolveFault(ctx, faultID, s.now())
	if err != nil {
		return nil, fmt.Errorf("fault %s: %w", faultID, err)
	}
	s.log.Info("fault resolved", "fault_id", faultID, "pole_id", f.PoleID)
	return f, nil
}

// GetFault retrieves one fault
func (s *Service) GetFault(ctx context.Context, faultID string) (*storage.Fault, error) {
	f, err := s.store.GetFault(ctx, faultID)
	if err != nil {
		return nil, fmt.Errorf("fault %s: %w", faultID, err)
	}
	return f, nil
}

// OpenFaults lists open faults, newest first
func (s *Service) OpenFaults(ctx context.Context, limit int) ([]*storage.Fault, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListOpenFaults(ctx, limit)
}

// FaultsByPole lists a pole's faults
func (s *Service) FaultsByPole(ctx context.Context, poleID string) ([]*storage.Fault, error) {
	return s.store.FaultsByPole(ctx, poleID)
}

// FaultsByZone lists a zone's faults
func (s *Service) FaultsByZone(ctx context.Context, zoneID string) ([]*storage.Fault, error) {
	return s.store.FaultsByZone(ctx, zoneID)
}

// Statistics counts a zone's faults
func (s *Service) Statistics(ctx context.Context, zoneID string) (*storage.FaultStats, error) {
	return s.store.FaultStats(ctx, zoneID)
}

// DeleteFault removes a fault
func (s *Service) DeleteFault(ctx context.Context, faultID string) error {
	if err := s.store.DeleteFault(ctx, faultID); err != nil {
		return fmt.Errorf("fault %s: %w", faultID, err)
	}
	return nil
}
