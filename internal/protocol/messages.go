// Package protocol defines the message formats exchanged with poles over the
// broker: control commands published by the controller and telemetry
// published by devices.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
)

// TimestampLayout is the ISO-8601 layout used on the control topic.
const TimestampLayout = time.RFC3339Nano

// Unix timestamps above this are taken to be milliseconds.
const unixMillisThreshold = 1_000_000_000_000

// 9999-12-31T23:59:59.999Z in unix milliseconds.
const maxUnixMillis = 253_402_300_799_999

// MaxClockSkew is how far ahead of the receive time a device timestamp may be
// before it is treated as malformed.
const MaxClockSkew = 24 * time.Hour

// ControlMessage is published on the control topic.
type ControlMessage struct {
	PoleID    string `json:"pole_id"`
	Command   string `json:"command"`
	Timestamp string `json:"timestamp"`
}

// NewControlMessage builds a control message carrying the upper-cased command.
func NewControlMessage(poleID string, cmd fleet.Command, at time.Time) *ControlMessage {
	return &ControlMessage{
		PoleID:    poleID,
		Command:   cmd.String(),
		Timestamp: at.UTC().Format(TimestampLayout),
	}
}

// Encode serializes the control message
func (m *ControlMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeControl parses a control message
func DecodeControl(data []byte) (*ControlMessage, error) {
	var m ControlMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid control message: %w", err)
	}
	if _, err := fleet.ParseCommand(m.Command); err != nil {
		return nil, err
	}
	return &m, nil
}

// TelemetryMessage is a decoded telemetry topic payload.
type TelemetryMessage struct {
	TelemetryID  string
	PoleID       string
	Timestamp    time.Time
	State        string
	Voltage      float64
	CurrentA     float64
	PowerW       float64
	EnergyKWh    float64
	AmbientLux   float64
	TemperatureC float64
	DimmingLevel int
	FaultCode    *string

	// TimestampDefaulted is set when the source timestamp was missing or
	// malformed and the receive time was used instead.
	TimestampDefaulted bool
}

type telemetryWire struct {
	TelemetryID  string          `json:"telemetry_id"`
	PoleID       string          `json:"pole_id"`
	TS           json.RawMessage `json:"ts"`
	State        string          `json:"state"`
	Voltage      *float64        `json:"voltage"`
	CurrentA     *float64        `json:"current_a"`
	PowerW       *float64        `json:"power_w"`
	EnergyKWh    *float64        `json:"energy_kwh"`
	AmbientLux   *float64        `json:"ambient_lux"`
	TemperatureC *float64        `json:"temperature_c"`
	DimmingLevel *float64        `json:"dimming_level"`
	FaultCode    *string         `json:"fault_code"`
}

// DecodeTelemetry parses a telemetry payload. pole_id, state, voltage,
// current_a and power_w are required. receivedAt stamps samples whose ts is
// missing or unparseable. Errors wrap fleet.ErrDecodeFailed.
func DecodeTelemetry(data []byte, receivedAt time.Time) (*TelemetryMessage, error) {
	var w telemetryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", fleet.ErrDecodeFailed, err)
	}

	var missing []string
	if strings.TrimSpace(w.PoleID) == "" {
		missing = append(missing, "pole_id")
	}
	if strings.TrimSpace(w.State) == "" {
		missing = append(missing, "state")
	}
	if w.Voltage == nil {
		missing = append(missing, "voltage")
	}
	if w.CurrentA == nil {
		missing = append(missing, "current_a")
	}
	if w.PowerW == nil {
		missing = append(missing, "power_w")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", fleet.ErrDecodeFailed, strings.Join(missing, ", "))
	}

	m := &TelemetryMessage{
		TelemetryID:  strings.TrimSpace(w.TelemetryID),
		PoleID:       strings.TrimSpace(w.PoleID),
		State:        w.State,
		Voltage:      *w.Voltage,
		CurrentA:     *w.CurrentA,
		PowerW:       *w.PowerW,
		EnergyKWh:    deref(w.EnergyKWh),
		AmbientLux:   deref(w.AmbientLux),
		TemperatureC: deref(w.TemperatureC),
		DimmingLevel: clampDimming(deref(w.DimmingLevel)),
	}
	if w.FaultCode != nil && strings.TrimSpace(*w.FaultCode) != "" {
		code := strings.TrimSpace(*w.FaultCode)
		m.FaultCode = &code
	}

	ts, ok := ParseTimestamp(w.TS)
	if ok && ts.After(receivedAt.Add(MaxClockSkew)) {
		ok = false
	}
	if !ok {
		ts = receivedAt
		m.TimestampDefaulted = true
	}
	m.Timestamp = ts.UTC()

	return m, nil
}

// ParseTimestamp accepts an RFC 3339 string, a unix seconds or milliseconds
// number, or a numeric string. Times outside years 1970..9999 are rejected.
func ParseTimestamp(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, false
		}
	} else {
		s = string(raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, plausible(t)
		}
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n <= 0 || n > maxUnixMillis {
		return time.Time{}, false
	}
	var t time.Time
	if n >= unixMillisThreshold {
		t = time.UnixMilli(int64(n))
	} else {
		t = time.Unix(int64(n), 0)
	}
	return t, plausible(t)
}

func plausible(t time.Time) bool {
	y := t.UTC().Year()
	return y >= 1970 && y <= 9999
}

func clampDimming(f float64) int {
	switch {
	case f <= 0:
		return 0
	case f >= 100:
		return 100
	}
	return int(f)
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
