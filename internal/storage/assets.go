package storage

import (
	"context"
	"database/sql"
	"time"
)

// --- Zone Operations ---

// UpsertZone inserts or updates a zone
func (db *DB) UpsertZone(ctx context.Context, z *Zone) error {
	if z.CreatedAt.IsZero() {
		z.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO zones (zone_id, name, length_km, pole_count, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(zone_id) DO UPDATE SET
			name = excluded.name,
			length_km = excluded.length_km,
			pole_count = excluded.pole_count
	`
	_, err := db.conn.ExecContext(ctx, query, z.ZoneID, z.Name, z.LengthKM, z.PoleCount, utc(z.CreatedAt))
	return err
}

// GetZone retrieves a zone by id
func (db *DB) GetZone(ctx context.Context, zoneID string) (*Zone, error) {
	z := &Zone{}
	err := db.conn.QueryRowContext(ctx,
		`SELECT zone_id, name, length_km, pole_count, created_at FROM zones WHERE zone_id = ?`, zoneID).
		Scan(&z.ZoneID, &z.Name, &z.LengthKM, &z.PoleCount, &z.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return z, nil
}

// ListZones retrieves all zones
func (db *DB) ListZones(ctx context.Context) ([]*Zone, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT zone_id, name, length_km, pole_count, created_at FROM zones ORDER BY zone_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []*Zone
	for rows.Next() {
		z := &Zone{}
		if err := rows.Scan(&z.ZoneID, &z.Name, &z.LengthKM, &z.PoleCount, &z.CreatedAt); err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// ZoneStats summarizes poles, open faults and open tickets in a zone
func (db *DB) ZoneStats(ctx context.Context, zoneID string) (*ZoneStats, error) {
	s := &ZoneStats{ZoneID: zoneID}
	query := `
		SELECT
			(SELECT COUNT(*) FROM assets WHERE zone_id = ?),
			(SELECT COUNT(*) FROM assets WHERE zone_id = ? AND status = 'active'),
			(SELECT COUNT(*) FROM faults WHERE zone_id = ? AND status = 'open'),
			(SELECT COUNT(*) FROM maintenance_tickets WHERE zone_id = ? AND status != 'completed')
	`
	err := db.conn.QueryRowContext(ctx, query, zoneID, zoneID, zoneID, zoneID).
		Scan(&s.TotalPoles, &s.ActivePoles, &s.OpenFaults, &s.OpenTickets)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// --- Asset Operations ---

const assetColumns = `pole_id, zone_id, controller_id, fixture_type, wattage_w, latitude, longitude, status, installed_at`

// UpsertAsset inserts or updates a pole
func (db *DB) UpsertAsset(ctx context.Context, a *Asset) error {
	if a.InstalledAt.IsZero() {
		a.InstalledAt = time.Now()
	}
	if a.Status == "" {
		a.Status = "active"
	}
	query := `
		INSERT INTO assets (` + assetColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pole_id) DO UPDATE SET
			zone_id = excluded.zone_id,
			controller_id = COALESCE(excluded.controller_id, controller_id),
			fixture_type = COALESCE(excluded.fixture_type, fixture_type),
			wattage_w = excluded.wattage_w,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			status = excluded.status
	`
	_, err := db.conn.ExecContext(ctx, query, a.PoleID, a.ZoneID, nullString(a.ControllerID),
		nullString(a.FixtureType), a.WattageW, a.Latitude, a.Longitude, a.Status, utc(a.InstalledAt))
	return err
}

// GetAsset retrieves a pole by id
func (db *DB) GetAsset(ctx context.Context, poleID string) (*Asset, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE pole_id = ?`, poleID)
	a, err := scanAsset(row)
	if err != nil {
		return nil, translate(err)
	}
	return a, nil
}

// ListAssets retrieves poles, optionally restricted to one zone
func (db *DB) ListAssets(ctx context.Context, zoneID string) ([]*Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets`
	var args []any
	if zoneID != "" {
		query += ` WHERE zone_id = ?`
		args = append(args, zoneID)
	}
	query += ` ORDER BY pole_id`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// ListZonePoleIDs returns the identifiers of every pole in a zone
func (db *DB) ListZonePoleIDs(ctx context.Context, zoneID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT pole_id FROM assets WHERE zone_id = ? ORDER BY pole_id`, zoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetAssetStatus updates the free-form operational status of a pole
func (db *DB) SetAssetStatus(ctx context.Context, poleID, status string) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE assets SET status = ? WHERE pole_id = ?`, status, poleID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(r rowScanner) (*Asset, error) {
	a := &Asset{}
	var controllerID, fixture sql.NullString
	if err := r.Scan(&a.PoleID, &a.ZoneID, &controllerID, &fixture, &a.WattageW,
		&a.Latitude, &a.Longitude, &a.Status, &a.InstalledAt); err != nil {
		return nil, err
	}
	a.ControllerID = controllerID.String
	a.FixtureType = fixture.String
	return a, nil
}

// --- Controller Operations ---

// UpsertController inserts or updates a controller
func (db *DB) UpsertController(ctx context.Context, c *Controller) error {
	if c.LastSeen.IsZero() {
		c.LastSeen = time.Now()
	}
	query := `
		INSERT INTO controllers (controller_id, zone_id, firmware_version, connectivity, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(controller_id) DO UPDATE SET
			zone_id = COALESCE(excluded.zone_id, zone_id),
			firmware_version = COALESCE(excluded.firmware_version, firmware_version),
			connectivity = COALESCE(excluded.connectivity, connectivity),
			last_seen = excluded.last_seen
	`
	_, err := db.conn.ExecContext(ctx, query, c.ControllerID, nullString(c.ZoneID),
		nullString(c.FirmwareVersion), nullString(c.Connectivity), utc(c.LastSeen))
	return err
}

// GetController retrieves a controller by id
func (db *DB) GetController(ctx context.Context, controllerID string) (*Controller, error) {
	c := &Controller{}
	var zoneID, fw, conn sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT controller_id, zone_id, firmware_version, connectivity, last_seen
		FROM controllers WHERE controller_id = ?`, controllerID).
		Scan(&c.ControllerID, &zoneID, &fw, &conn, &c.LastSeen)
	if err != nil {
		return nil, translate(err)
	}
	c.ZoneID = zoneID.String
	c.FirmwareVersion = fw.String
	c.Connectivity = conn.String
	return c, nil
}

// TouchController records a heartbeat
func (db *DB) TouchController(ctx context.Context, controllerID string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE controllers SET last_seen = ? WHERE controller_id = ?`, utc(at), controllerID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
