package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
)

const ticketColumns = `ticket_id, fault_id, pole_id, zone_id, description, assigned_to,
	sla_hours, status, created_at, updated_at`

// InsertTicket inserts a new maintenance ticket. A second non-completed
// ticket for the same (pole, zone) pair fails with ErrConflict.
func (db *DB) InsertTicket(ctx context.Context, t *Ticket) error {
	query := `INSERT INTO maintenance_tickets (` + ticketColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.ExecContext(ctx, query, t.TicketID, nullString(t.FaultID), t.PoleID, t.ZoneID,
		t.Description, nullString(t.AssignedTo), t.SLAHours, string(t.Status),
		utc(t.CreatedAt), utc(t.UpdatedAt))
	return translate(err)
}

// GetTicket retrieves a ticket by id
func (db *DB) GetTicket(ctx context.Context, ticketID string) (*Ticket, error) {
	return getTicket(ctx, db.conn, ticketID)
}

// AssignTicket sets the assignee and moves the ticket to assigned
func (db *DB) AssignTicket(ctx context.Context, ticketID, assignee string, at time.Time) (*Ticket, error) {
	return db.updateTicket(ctx, ticketID,
		`UPDATE maintenance_tickets SET assigned_to = ?, status = ?, updated_at = ? WHERE ticket_id = ?`,
		assignee, string(fleet.StatusAssigned), utc(at), ticketID)
}

// SetTicketStatus writes a new status
func (db *DB) SetTicketStatus(ctx context.Context, ticketID string, status fleet.TicketStatus, at time.Time) (*Ticket, error) {
	return db.updateTicket(ctx, ticketID,
		`UPDATE maintenance_tickets SET status = ?, updated_at = ? WHERE ticket_id = ?`,
		string(status), utc(at), ticketID)
}

func (db *DB) updateTicket(ctx context.Context, ticketID, query string, args ...any) (*Ticket, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}

	t, err := getTicket(ctx, tx, ticketID)
	if err != nil {
		return nil, err
	}
	return t, tx.Commit()
}

// QueryTickets returns tickets matching the filter, oldest first unless
// NewestFirst is set
func (db *DB) QueryTickets(ctx context.Context, f TicketFilter) ([]*Ticket, error) {
	var (
		where []string
		args  []any
	)
	if f.ZoneID != "" {
		where = append(where, "zone_id = ?")
		args = append(args, f.ZoneID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, fmt.Sprintf("status IN (%s)", placeholders(len(f.Statuses))))
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if f.AssignedTo != "" {
		where = append(where, "assigned_to = ?")
		args = append(args, f.AssignedTo)
	}
	if !f.CreatedFrom.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, utc(f.CreatedFrom))
	}
	if !f.CreatedTo.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, utc(f.CreatedTo))
	}

	query := `SELECT ` + ticketColumns + ` FROM maintenance_tickets`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if f.NewestFirst {
		query += ` ORDER BY created_at DESC, ticket_id`
	} else {
		query += ` ORDER BY created_at ASC, ticket_id`
	}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// TicketStats counts tickets per status, for one zone or all when zoneID is empty
func (db *DB) TicketStats(ctx context.Context, zoneID string) (*TicketStats, error) {
	query := `SELECT
		COUNT(*),
		COUNT(CASE WHEN status = 'pending' THEN 1 END),
		COUNT(CASE WHEN status = 'assigned' THEN 1 END),
		COUNT(CASE WHEN status = 'in_progress' THEN 1 END),
		COUNT(CASE WHEN status = 'completed' THEN 1 END)
		FROM maintenance_tickets`
	var args []any
	if zoneID != "" {
		query += ` WHERE zone_id = ?`
		args = append(args, zoneID)
	}

	s := &TicketStats{ZoneID: zoneID}
	err := db.conn.QueryRowContext(ctx, query, args...).
		Scan(&s.Total, &s.Pending, &s.Assigned, &s.InProgress, &s.Completed)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteTicket removes a ticket
func (db *DB) DeleteTicket(ctx context.Context, ticketID string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM maintenance_tickets WHERE ticket_id = ?`, ticketID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTicket(ctx context.Context, q queryRower, ticketID string) (*Ticket, error) {
	row := q.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM maintenance_tickets WHERE ticket_id = ?`, ticketID)
	t, err := scanTicket(row)
	if err != nil {
		return nil, translate(err)
	}
	return t, nil
}

func scanTicket(r rowScanner) (*Ticket, error) {
	t := &Ticket{}
	var faultID, assignedTo sql.NullString
	var status string
	if err := r.Scan(&t.TicketID, &faultID, &t.PoleID, &t.ZoneID, &t.Description, &assignedTo,
		&t.SLAHours, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.FaultID = faultID.String
	t.AssignedTo = assignedTo.String
	t.Status = fleet.TicketStatus(status)
	return t, nil
}
