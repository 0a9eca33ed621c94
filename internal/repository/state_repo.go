package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sirenlink/internal/models"
)

type StateSQLite struct {
	db *sql.DB
}

func NewStateSQLite(db *sql.DB) *StateSQLite {
	return &StateSQLite{db: db}
}

var _ DeviceStateRepo = (*StateSQLite)(nil)

const (
	upsertDeviceStateSQL = `
		INSERT INTO device_states (device_id, online, relay, siren, ip, updated_at, last_heartbeat_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			online=excluded.online,
			relay=excluded.relay,
			siren=excluded.siren,
			ip=excluded.ip,
			updated_at=excluded.updated_at,
			last_heartbeat_at=excluded.last_heartbeat_at
	`

	selectDeviceStateSQL = `
		SELECT device_id, online, relay, siren, ip, updated_at, last_heartbeat_at
		FROM device_states WHERE device_id=?
	`
)

// Upsert writes the full merged snapshot for s.DeviceID.
func (r *StateSQLite) Upsert(ctx context.Context, s models.DeviceState) error {
	// ensure UpdatedAt is always persisted as UTC; set if zero
	ts := s.UpdatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	} else {
		ts = ts.UTC()
	}

	var hb sql.NullTime
	if s.LastHeartbeatAt != nil {
		hb = sql.NullTime{Time: s.LastHeartbeatAt.UTC(), Valid: true}
	}
	var ip sql.NullString
	if s.IP != nil {
		ip = sql.NullString{String: *s.IP, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, upsertDeviceStateSQL,
		s.DeviceID,
		s.Online,
		string(s.Relay),
		string(s.Siren),
		ip,
		ts,
		hb,
	)
	if err != nil {
		return fmt.Errorf("upsert device state %q: %w", s.DeviceID, err)
	}
	return nil
}

// Get returns the persisted snapshot or ErrNotFound.
func (r *StateSQLite) Get(ctx context.Context, deviceID string) (models.DeviceState, error) {
	var (
		s     models.DeviceState
		relay string
		siren string
		ip    sql.NullString
		hb    sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, selectDeviceStateSQL, deviceID).Scan(
		&s.DeviceID,
		&s.Online,
		&relay,
		&siren,
		&ip,
		&s.UpdatedAt,
		&hb,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DeviceState{}, ErrNotFound
		}
		return models.DeviceState{}, fmt.Errorf("select device state %q: %w", deviceID, err)
	}

	s.Relay = models.OnOff(relay)
	s.Siren = models.OnOff(siren)
	s.UpdatedAt = s.UpdatedAt.UTC()
	if ip.Valid {
		v := ip.String
		s.IP = &v
	}
	if hb.Valid {
		v := hb.Time.UTC()
		s.LastHeartbeatAt = &v
	}
	return s, nil
}
