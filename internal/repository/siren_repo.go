package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"sirenlink/internal/models"
)

const (
	selectSirenByDeviceSQL = `SELECT id, device_id, urbanization_id, created_at FROM sirens WHERE device_id = ?`
	selectSirensSQL        = `SELECT id, device_id, urbanization_id, created_at FROM sirens`
	insertSirenSQL         = `INSERT INTO sirens (device_id, urbanization_id, created_at) VALUES (?, ?, ?)`

	selectActiveAssignmentSQL = `SELECT COUNT(1) FROM assignments WHERE user_id = ? AND siren_id = ? AND active = 1`
	upsertAssignmentSQL       = `
		INSERT INTO assignments (user_id, siren_id, active) VALUES (?, ?, 1)
		ON CONFLICT(user_id, siren_id) DO UPDATE SET active=1
	`
	selectAssignmentIDSQL = `SELECT id FROM assignments WHERE user_id = ? AND siren_id = ?`
)

type SirenSQLite struct {
	db *sql.DB
}

func NewSirenSQLite(db *sql.DB) *SirenSQLite { return &SirenSQLite{db: db} }

var _ SirenRepo = (*SirenSQLite)(nil)

// GetByDeviceID resolves a device id to its directory record, or ErrNotFound.
func (r *SirenSQLite) GetByDeviceID(ctx context.Context, deviceID string) (*models.Siren, error) {
	var (
		s   models.Siren
		urb sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, selectSirenByDeviceSQL, deviceID).Scan(&s.ID, &s.DeviceID, &urb, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select siren %q: %w", deviceID, err)
	}
	s.UrbanizationID = intPtr(urb)
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

func (r *SirenSQLite) Create(ctx context.Context, s models.Siren) (int, error) {
	s.DeviceID = strings.TrimSpace(s.DeviceID)
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, insertSirenSQL, s.DeviceID, nullInt(s.UrbanizationID), s.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert siren %q: %w", s.DeviceID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id for siren %q: %w", s.DeviceID, err)
	}
	return int(id), nil
}

// List returns sirens ordered by device id, optionally scoped to one urbanization.
func (r *SirenSQLite) List(ctx context.Context, urbanizationID *int) ([]models.Siren, error) {
	q := selectSirensSQL
	var args []any
	if urbanizationID != nil {
		q += " WHERE urbanization_id = ?"
		args = append(args, *urbanizationID)
	}
	q += " ORDER BY device_id ASC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select sirens: %w", err)
	}
	defer rows.Close()

	out := make([]models.Siren, 0, 16)
	for rows.Next() {
		var (
			s   models.Siren
			urb sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.DeviceID, &urb, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.UrbanizationID = intPtr(urb)
		s.CreatedAt = s.CreatedAt.UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SirenSQLite) HasActiveAssignment(ctx context.Context, userID, sirenID int) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, selectActiveAssignmentSQL, userID, sirenID).Scan(&n); err != nil {
		return false, fmt.Errorf("select assignment user=%d siren=%d: %w", userID, sirenID, err)
	}
	return n > 0, nil
}

// Assign creates or re-activates the assignment and returns its id.
func (r *SirenSQLite) Assign(ctx context.Context, userID, sirenID int) (int, error) {
	if _, err := r.db.ExecContext(ctx, upsertAssignmentSQL, userID, sirenID); err != nil {
		return 0, fmt.Errorf("upsert assignment user=%d siren=%d: %w", userID, sirenID, err)
	}
	var id int
	if err := r.db.QueryRowContext(ctx, selectAssignmentIDSQL, userID, sirenID).Scan(&id); err != nil {
		return 0, fmt.Errorf("select assignment id user=%d siren=%d: %w", userID, sirenID, err)
	}
	return id, nil
}
