package storage

import (
	"context"
	"database/sql"
	"time"
)

const telemetryColumns = `telemetry_id, pole_id, ts, state, voltage, current_a, power_w,
	energy_kwh, ambient_lux, temperature_c, dimming_level, fault_code, received_at`

// AppendTelemetry inserts a new telemetry sample
func (db *DB) AppendTelemetry(ctx context.Context, s *TelemetrySample) error {
	query := `INSERT INTO telemetry (` + telemetryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var faultCode sql.NullString
	if s.FaultCode != nil {
		faultCode = sql.NullString{String: *s.FaultCode, Valid: true}
	}
	_, err := db.conn.ExecContext(ctx, query, s.TelemetryID, s.PoleID, utc(s.TS), s.State,
		s.Voltage, s.CurrentA, s.PowerW, s.EnergyKWh, s.AmbientLux, s.TemperatureC,
		s.DimmingLevel, faultCode, utc(s.ReceivedAt))
	return translate(err)
}

// GetTelemetry retrieves a sample by id
func (db *DB) GetTelemetry(ctx context.Context, telemetryID string) (*TelemetrySample, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+telemetryColumns+` FROM telemetry WHERE telemetry_id = ?`, telemetryID)
	s, err := scanTelemetry(row)
	if err != nil {
		return nil, translate(err)
	}
	return s, nil
}

// TelemetryByPole retrieves the newest samples for a pole
func (db *DB) TelemetryByPole(ctx context.Context, poleID string, limit int) ([]*TelemetrySample, error) {
	return db.queryTelemetry(ctx, `SELECT `+telemetryColumns+` FROM telemetry
		WHERE pole_id = ? ORDER BY ts DESC LIMIT ?`, poleID, limit)
}

// LatestTelemetry retrieves the newest sample for a pole
func (db *DB) LatestTelemetry(ctx context.Context, poleID string) (*TelemetrySample, error) {
	samples, err := db.TelemetryByPole(ctx, poleID, 1)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNotFound
	}
	return samples[0], nil
}

// TelemetryRange retrieves samples for a pole between start and end, oldest first
func (db *DB) TelemetryRange(ctx context.Context, poleID string, start, end time.Time) ([]*TelemetrySample, error) {
	return db.queryTelemetry(ctx, `SELECT `+telemetryColumns+` FROM telemetry
		WHERE pole_id = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`, poleID, utc(start), utc(end))
}

// AveragePower computes power statistics for a pole since a point in time
func (db *DB) AveragePower(ctx context.Context, poleID string, since time.Time) (*PowerUsage, error) {
	u := &PowerUsage{PoleID: poleID, Since: utc(since)}
	var avgPower, maxPower sql.NullFloat64
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*), AVG(power_w), MAX(power_w)
		FROM telemetry WHERE pole_id = ? AND ts >= ?`, poleID, utc(since)).
		Scan(&u.Samples, &avgPower, &maxPower)
	if err != nil {
		return nil, err
	}
	u.AvgPowerW = avgPower.Float64
	u.MaxPowerW = maxPower.Float64

	if latest, err := db.LatestTelemetry(ctx, poleID); err == nil {
		u.LatestState = latest.State
	}
	return u, nil
}

// CountTelemetry returns the number of stored samples for a pole, or all
// samples when poleID is empty
func (db *DB) CountTelemetry(ctx context.Context, poleID string) (int, error) {
	query := `SELECT COUNT(*) FROM telemetry`
	var args []any
	if poleID != "" {
		query += ` WHERE pole_id = ?`
		args = append(args, poleID)
	}
	var n int
	err := db.conn.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// PruneTelemetry deletes samples older than cutoff and returns how many were removed
func (db *DB) PruneTelemetry(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM telemetry WHERE ts < ?`, utc(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) queryTelemetry(ctx context.Context, query string, args ...any) ([]*TelemetrySample, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []*TelemetrySample
	for rows.Next() {
		s, err := scanTelemetry(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func scanTelemetry(r rowScanner) (*TelemetrySample, error) {
	s := &TelemetrySample{}
	var faultCode sql.NullString
	if err := r.Scan(&s.TelemetryID, &s.PoleID, &s.TS, &s.State, &s.Voltage, &s.CurrentA,
		&s.PowerW, &s.EnergyKWh, &s.AmbientLux, &s.TemperatureC, &s.DimmingLevel,
		&faultCode, &s.ReceivedAt); err != nil {
		return nil, err
	}
	if faultCode.Valid {
		code := faultCode.String
		s.FaultCode = &code
	}
	return s, nil
}
