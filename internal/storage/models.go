// Package storage provides the SQLite record store for zones, poles,
// controllers, telemetry, faults, maintenance tickets and automation rules.
package storage

import (
	"encoding/json"
	"time"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
)

// Zone is an administrative grouping of poles along a highway stretch
type Zone struct {
	ZoneID    string    `json:"zone_id"`
	Name      string    `json:"name"`
	LengthKM  float64   `json:"length_km"`
	PoleCount int       `json:"pole_count"`
	CreatedAt time.Time `json:"created_at"`
}

// Asset is a single lighting pole
type Asset struct {
	PoleID       string    `json:"pole_id"`
	ZoneID       string    `json:"zone_id"`
	ControllerID string    `json:"controller_id,omitempty"`
	FixtureType  string    `json:"fixture_type,omitempty"`
	WattageW     int       `json:"wattage_w,omitempty"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Status       string    `json:"status"` // free-form: active, faulty, maintenance
	InstalledAt  time.Time `json:"installed_at"`
}

// Controller is a field cabinet driving a group of poles
type Controller struct {
	ControllerID    string    `json:"controller_id"`
	ZoneID          string    `json:"zone_id,omitempty"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	Connectivity    string    `json:"connectivity,omitempty"` // e.g. "lte", "nb-iot"
	LastSeen        time.Time `json:"last_seen"`
}

// TelemetrySample is one immutable reading from a pole
type TelemetrySample struct {
	TelemetryID  string    `json:"telemetry_id"`
	PoleID       string    `json:"pole_id"`
	TS           time.Time `json:"ts"`
	State        string    `json:"state"`
	Voltage      float64   `json:"voltage"`
	CurrentA     float64   `json:"current_a"`
	PowerW       float64   `json:"power_w"`
	EnergyKWh    float64   `json:"energy_kwh"`
	AmbientLux   float64   `json:"ambient_lux"`
	TemperatureC float64   `json:"temperature_c"`
	DimmingLevel int       `json:"dimming_level"`
	FaultCode    *string   `json:"fault_code"`
	ReceivedAt   time.Time `json:"received_at"`
}

// PowerUsage is the average power draw of a pole over a window
type PowerUsage struct {
	PoleID      string    `json:"pole_id"`
	Since       time.Time `json:"since"`
	Samples     int       `json:"samples"`
	AvgPowerW   float64   `json:"avg_power_w"`
	MaxPowerW   float64   `json:"max_power_w"`
	LatestState string    `json:"latest_state,omitempty"`
}

// Fault is a detected or reported pole malfunction
type Fault struct {
	FaultID    string            `json:"fault_id"`
	PoleID     string            `json:"pole_id"`
	ZoneID     string            `json:"zone_id"`
	FaultCode  string            `json:"fault_code"`
	Severity   fleet.Severity    `json:"severity"`
	Status     fleet.FaultStatus `json:"status"`
	Notes      string            `json:"notes,omitempty"`
	DetectedAt time.Time         `json:"detected_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

// FaultStats counts faults for a zone
type FaultStats struct {
	ZoneID   string `json:"zone_id"`
	Total    int    `json:"total"`
	Open     int    `json:"open"`
	Resolved int    `json:"resolved"`
	Critical int    `json:"critical"`
}

// Ticket is a unit of maintenance work
type Ticket struct {
	TicketID    string             `json:"ticket_id"`
	FaultID     string             `json:"fault_id,omitempty"`
	PoleID      string             `json:"pole_id"`
	ZoneID      string             `json:"zone_id"`
	Description string             `json:"description"`
	AssignedTo  string             `json:"assigned_to,omitempty"`
	SLAHours    int                `json:"sla_hours"`
	Status      fleet.TicketStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// TicketFilter narrows a ticket query. Zero values mean "no predicate".
type TicketFilter struct {
	ZoneID      string
	Statuses    []fleet.TicketStatus
	AssignedTo  string
	CreatedFrom time.Time
	CreatedTo   time.Time
	Limit       int
	NewestFirst bool
}

// TicketStats counts tickets per status
type TicketStats struct {
	ZoneID     string `json:"zone_id,omitempty"`
	Total      int    `json:"total_tickets"`
	Pending    int    `json:"pending"`
	Assigned   int    `json:"assigned"`
	InProgress int    `json:"in_progress"`
	Completed  int    `json:"completed"`
}

// ZoneStats summarizes a zone
type ZoneStats struct {
	ZoneID      string `json:"zone_id"`
	TotalPoles  int    `json:"total_poles"`
	ActivePoles int    `json:"active_poles"`
	OpenFaults  int    `json:"open_faults"`
	OpenTickets int    `json:"open_tickets"`
}

// AutomationRule is stored configuration; conditions are never evaluated here
type AutomationRule struct {
	RuleID    string          `json:"rule_id"`
	ZoneID    string          `json:"zone_id"`
	Name      string          `json:"name"`
	Condition json.RawMessage `json:"condition"`
	Action    string          `json:"action"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
}
