package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
)

const faultColumns = `fault_id, pole_id, zone_id, fault_code, severity, status, notes, detected_at, resolved_at`

// InsertFault inserts a new fault
func (db *DB) InsertFault(ctx context.Context, f *Fault) error {
	query := `INSERT INTO faults (` + faultColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var resolvedAt sql.NullTime
	if f.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: utc(*f.ResolvedAt), Valid: true}
	}
	_, err := db.conn.ExecContext(ctx, query, f.FaultID, f.PoleID, f.ZoneID, f.FaultCode,
		string(f.Severity), string(f.Status), nullString(f.Notes), utc(f.DetectedAt), resolvedAt)
	return translate(err)
}

// GetFault retrieves a fault by id
func (db *DB) GetFault(ctx context.Context, faultID string) (*Fault, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+faultColumns+` FROM faults WHERE fault_id = ?`, faultID)
	f, err := scanFault(row)
	if err != nil {
		return nil, translate(err)
	}
	return f, nil
}

// FindOpenFault returns the open fault for a pole with the given code
func (db *DB) FindOpenFault(ctx context.Context, poleID, faultCode string) (*Fault, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+faultColumns+` FROM faults
		WHERE pole_id = ? AND fault_code = ? AND status = 'open'
		ORDER BY detected_at DESC LIMIT 1`, poleID, faultCode)
	f, err := scanFault(row)
	if err != nil {
		return nil, translate(err)
	}
	return f, nil
}

// ListOpenFaults retrieves open faults, newest first
func (db *DB) ListOpenFaults(ctx context.Context, limit int) ([]*Fault, error) {
	return db.queryFaults(ctx, `SELECT `+faultColumns+` FROM faults
		WHERE status = 'open' ORDER BY detected_at DESC LIMIT ?`, limit)
}

// ListFaults retrieves faults of any status, newest first
func (db *DB) ListFaults(ctx context.Context, limit int) ([]*Fault, error) {
	return db.queryFaults(ctx, `SELECT `+faultColumns+` FROM faults
		ORDER BY detected_at DESC LIMIT ?`, limit)
}

// FaultsByPole retrieves every fault recorded for a pole, newest first
func (db *DB) FaultsByPole(ctx context.Context, poleID string) ([]*Fault, error) {
	return db.queryFaults(ctx, `SELECT `+faultColumns+` FROM faults
		WHERE pole_id = ? ORDER BY detected_at DESC`, poleID)
}

// FaultsByZone retrieves every fault recorded in a zone, newest first
func (db *DB) FaultsByZone(ctx context.Context, zoneID string) ([]*Fault, error) {
	return db.queryFaults(ctx, `SELECT `+faultColumns+` FROM faults
		WHERE zone_id = ? ORDER BY detected_at DESC`, zoneID)
}

// ResolveFault moves an open fault to resolved. Already resolved faults are
// returned unchanged.
func (db *DB) ResolveFault(ctx context.Context, faultID string, at time.Time) (*Fault, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE faults SET status = ?, resolved_at = ?
		WHERE fault_id = ? AND status = ?`,
		string(fleet.FaultResolved), utc(at), faultID, string(fleet.FaultOpen)); err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `SELECT `+faultColumns+` FROM faults WHERE fault_id = ?`, faultID)
	f, err := scanFault(row)
	if err != nil {
		return nil, translate(err)
	}
	return f, tx.Commit()
}

// FaultStats counts faults in a zone
func (db *DB) FaultStats(ctx context.Context, zoneID string) (*FaultStats, error) {
	s := &FaultStats{ZoneID: zoneID}
	err := db.conn.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COUNT(CASE WHEN status = 'open' THEN 1 END),
		COUNT(CASE WHEN status = 'resolved' THEN 1 END),
		COUNT(CASE WHEN severity = 'critical' THEN 1 END)
		FROM faults WHERE zone_id = ?`, zoneID).
		Scan(&s.Total, &s.Open, &s.Resolved, &s.Critical)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteFault removes a fault
func (db *DB) DeleteFault(ctx context.Context, faultID string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM faults WHERE fault_id = ?`, faultID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (db *DB) queryFaults(ctx context.Context, query string, args ...any) ([]*Fault, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var faults []*Fault
	for rows.Next() {
		f, err := scanFault(rows)
		if err != nil {
			return nil, err
		}
		faults = append(faults, f)
	}
	return faults, rows.Err()
}

func scanFault(r rowScanner) (*Fault, error) {
	f := &Fault{}
	var severity, status string
	var notes sql.NullString
	var resolvedAt sql.NullTime
	if err := r.Scan(&f.FaultID, &f.PoleID, &f.ZoneID, &f.FaultCode, &severity, &status,
		&notes, &f.DetectedAt, &resolvedAt); err != nil {
		return nil, err
	}
	f.Severity = fleet.Severity(severity)
	f.Status = fleet.FaultStatus(status)
	f.Notes = notes.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		f.ResolvedAt = &t
	}
	return f, nil
}
