package service

import (
	"context"
	"fmt"
	"time"

	"sirenlink/internal/logger"
	"sirenlink/internal/metrics"
	"sirenlink/internal/models"
	"sirenlink/internal/repository"

	"github.com/google/uuid"
)

var (
	errInvalidTimeRange = fmt.Errorf("%w: from must be <= to", ErrInvalidInput)
	errNoUrbanization   = deny("caller is not linked to an urbanization")
)

// Ledger is the append-only activation audit trail. Writes never fail from
// the caller's point of view.
type Ledger struct {
	repo  repository.ActivationRepo
	clock Clock
	log   *logger.Logger
}

func NewLedger(repo repository.ActivationRepo, clock Clock, log *logger.Logger) *Ledger {
	return &Ledger{repo: repo, clock: clock, log: logger.OrNop(log)}
}

// Record fills id and timestamp and persists e. Persistence errors are logged
// and swallowed.
func (l *Ledger) Record(ctx context.Context, e models.ActivationLog) models.ActivationLog {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.clock.Now().UTC()
	}

	l.log.Infow("activation_recorded",
		"device_id", e.DeviceID,
		"user_id", e.UserID,
		"action", e.Action,
		"result", e.Result,
		"reason", e.Reason,
		"ip", e.IP,
	)

	if err := l.repo.Append(ctx, e); err != nil {
		metrics.LedgerWriteFailures.Inc()
		l.log.Errorw("activation_persist_failed", "device_id", e.DeviceID, "result", e.Result, "err", err)
	}
	return e
}

// normalizeToUTC returns t in UTC, preserving zero time values.
func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// List returns ledger entries visible to caller, newest first.
// SUPERADMIN sees everything, ADMIN and GUARDIA their urbanization, RESIDENTE their own commands.
func (l *Ledger) List(ctx context.Context, caller models.Caller, f ActivationFilter) ([]models.ActivationLog, error) {
	q := repository.ActivationQuery{
		DeviceID: f.DeviceID,
		Result:   f.Result,
		From:     normalizeToUTC(f.From),
		To:       normalizeToUTC(f.To),
		Limit:    f.Limit,
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return nil, errInvalidTimeRange
	}
	if q.Result != "" && !q.Result.Valid() {
		return nil, fmt.Errorf("%w: unknown result %q", ErrInvalidInput, q.Result)
	}

	switch caller.Role {
	case models.RoleSuperAdmin:
	case models.RoleAdmin, models.RoleGuardia:
		if caller.UrbanizationID == nil {
			return nil, errNoUrbanization
		}
		q.UrbanizationID = caller.UrbanizationID
	case models.RoleResidente:
		uid := caller.UserID
		q.UserID = &uid
	default:
		return nil, deny("role " + string(caller.Role) + " may not read activation logs")
	}

	return l.repo.List(ctx, q)
}
