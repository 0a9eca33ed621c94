package repository

import (
	"context"
	"database/sql"
	"fmt"

	"sirenlink/internal/models"
)

const (
	upsertDeadlineSQL = `
		INSERT INTO auto_off_deadlines (device_id, command_id, deadline) VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET command_id=excluded.command_id, deadline=excluded.deadline
	`
	deleteDeadlineSQL = `DELETE FROM auto_off_deadlines WHERE device_id = ?`
	selectDeadlineSQL = `SELECT device_id, command_id, deadline FROM auto_off_deadlines ORDER BY deadline ASC`
)

type DeadlineSQLite struct {
	db *sql.DB
}

func NewDeadlineSQLite(db *sql.DB) *DeadlineSQLite { return &DeadlineSQLite{db: db} }

var _ DeadlineRepo = (*DeadlineSQLite)(nil)

// Save replaces the armed deadline for d.DeviceID.
func (r *DeadlineSQLite) Save(ctx context.Context, d models.AutoOffDeadline) error {
	if _, err := r.db.ExecContext(ctx, upsertDeadlineSQL, d.DeviceID, d.CommandID, d.Deadline.UTC()); err != nil {
		return fmt.Errorf("save auto-off deadline %q: %w", d.DeviceID, err)
	}
	return nil
}

// Delete is idempotent.
func (r *DeadlineSQLite) Delete(ctx context.Context, deviceID string) error {
	if _, err := r.db.ExecContext(ctx, deleteDeadlineSQL, deviceID); err != nil {
		return fmt.Errorf("delete auto-off deadline %q: %w", deviceID, err)
	}
	return nil
}

// List returns every persisted deadline, soonest first.
func (r *DeadlineSQLite) List(ctx context.Context) ([]models.AutoOffDeadline, error) {
	rows, err := r.db.QueryContext(ctx, selectDeadlineSQL)
	if err != nil {
		return nil, fmt.Errorf("select auto-off deadlines: %w", err)
	}
	defer rows.Close()

	var out []models.AutoOffDeadline
	for rows.Next() {
		var d models.AutoOffDeadline
		if err := rows.Scan(&d.DeviceID, &d.CommandID, &d.Deadline); err != nil {
			return nil, err
		}
		d.Deadline = d.Deadline.UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
