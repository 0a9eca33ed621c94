package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sirenlink/internal/models"

	"github.com/google/uuid"
)

const defaultActivationLimit = 500

const (
	insertActivationSQL = `
		INSERT INTO activation_logs (id, device_id, siren_id, user_id, action, result, reason, ip, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectActivationsSQL = `SELECT l.id, l.device_id, l.siren_id, l.user_id, l.action, l.result, l.reason, l.ip, l.created_at
		FROM activation_logs l LEFT JOIN sirens s ON s.id = l.siren_id`
)

type ActivationSQLite struct {
	db *sql.DB
}

func NewActivationSQLite(db *sql.DB) *ActivationSQLite { return &ActivationSQLite{db: db} }

var _ ActivationRepo = (*ActivationSQLite)(nil)

// Append inserts a new ledger entry. If ID or CreatedAt are empty, they’re set.
func (r *ActivationSQLite) Append(ctx context.Context, e models.ActivationLog) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	} else {
		e.CreatedAt = e.CreatedAt.UTC()
	}

	_, err := r.db.ExecContext(ctx, insertActivationSQL,
		e.ID,
		e.DeviceID,
		nullInt(e.SirenID),
		nullInt(e.UserID),
		string(e.Action),
		string(e.Result),
		e.Reason,
		e.IP,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activation log for %q: %w", e.DeviceID, err)
	}
	return nil
}

// List returns entries matching q, newest first.
func (r *ActivationSQLite) List(ctx context.Context, q ActivationQuery) ([]models.ActivationLog, error) {
	query, args := buildActivationQuery(q)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select activation logs: %w", err)
	}
	defer rows.Close()

	out := make([]models.ActivationLog, 0, 64)
	for rows.Next() {
		var (
			e       models.ActivationLog
			sirenID sql.NullInt64
			userID  sql.NullInt64
			action  string
			result  string
			reason  sql.NullString
			ip      sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &sirenID, &userID, &action, &result, &reason, &ip, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SirenID = intPtr(sirenID)
		e.UserID = intPtr(userID)
		e.Action = models.OnOff(action)
		e.Result = models.ActivationResult(result)
		e.Reason = reason.String
		e.IP = ip.String
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func buildActivationQuery(q ActivationQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if id := strings.TrimSpace(q.DeviceID); id != "" {
		conds = append(conds, "l.device_id = ?")
		args = append(args, id)
	}
	if q.Result != "" {
		conds = append(conds, "l.result = ?")
		args = append(args, string(q.Result))
	}
	if !q.From.IsZero() {
		conds = append(conds, "l.created_at >= ?")
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		conds = append(conds, "l.created_at <= ?")
		args = append(args, q.To.UTC())
	}
	if q.UserID != nil {
		conds = append(conds, "l.user_id = ?")
		args = append(args, *q.UserID)
	}
	if q.UrbanizationID != nil {
		conds = append(conds, "s.urbanization_id = ?")
		args = append(args, *q.UrbanizationID)
	}

	query := selectActivationsSQL
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY l.created_at DESC LIMIT ?"

	limit := q.Limit
	if limit <= 0 || limit > defaultActivationLimit {
		limit = defaultActivationLimit
	}
	args = append(args, limit)
	return query, args
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
