package storage

import (
	"context"
	"time"
)

const ruleColumns = `rule_id, zone_id, name, condition, action, is_active, created_at`

// InsertRule stores an automation rule
func (db *DB) InsertRule(ctx context.Context, r *AutomationRule) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	condition := string(r.Condition)
	if condition == "" {
		condition = "{}"
	}
	_, err := db.conn.ExecContext(ctx, `INSERT INTO automation_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RuleID, r.ZoneID, r.Name, condition, r.Action, r.IsActive, utc(r.CreatedAt))
	return translate(err)
}

// GetRule retrieves a rule by id
func (db *DB) GetRule(ctx context.Context, ruleID string) (*AutomationRule, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE rule_id = ?`, ruleID)
	r, err := scanRule(row)
	if err != nil {
		return nil, translate(err)
	}
	return r, nil
}

// RulesByZone retrieves the rules of a zone
func (db *DB) RulesByZone(ctx context.Context, zoneID string, activeOnly bool) ([]*AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE zone_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := db.conn.QueryContext(ctx, query, zoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*AutomationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ToggleRule flips the active flag and returns the updated rule
func (db *DB) ToggleRule(ctx context.Context, ruleID string) (*AutomationRule, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE automation_rules SET is_active = 1 - is_active WHERE rule_id = ?`, ruleID)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return db.GetRule(ctx, ruleID)
}

// DeleteRule removes a rule
func (db *DB) DeleteRule(ctx context.Context, ruleID string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM automation_rules WHERE rule_id = ?`, ruleID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func scanRule(r rowScanner) (*AutomationRule, error) {
	rule := &AutomationRule{}
	var condition string
	if err := r.Scan(&rule.RuleID, &rule.ZoneID, &rule.Name, &condition, &rule.Action,
		&rule.IsActive, &rule.CreatedAt); err != nil {
		return nil, err
	}
	rule.Condition = []byte(condition)
	return rule, nil
}
