package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sirenlink/internal/models"
)

var ErrNotFound = errors.New("not found")

type Authorization interface {
	Create(username, hash string, role models.Role, urbanizationID *int) (int, error)
	GetByUsername(username string) (*models.User, error)
}

// DeviceStateRepo is the durable projection of the in-memory state store.
type DeviceStateRepo interface {
	Upsert(ctx context.Context, s models.DeviceState) error
	Get(ctx context.Context, deviceID string) (models.DeviceState, error)
}

// ActivationQuery filters ledger reads. Nil scope fields mean "no restriction".
type ActivationQuery struct {
	DeviceID       string
	Result         models.ActivationResult
	From           time.Time
	To             time.Time
	UserID         *int
	UrbanizationID *int
	Limit          int
}

type ActivationRepo interface {
	Append(ctx context.Context, e models.ActivationLog) error
	List(ctx context.Context, q ActivationQuery) ([]models.ActivationLog, error)
}

// SirenRepo is the device directory: device id <-> durable siren record, plus assignments.
type SirenRepo interface {
	GetByDeviceID(ctx context.Context, deviceID string) (*models.Siren, error)
	Create(ctx context.Context, s models.Siren) (int, error)
	List(ctx context.Context, urbanizationID *int) ([]models.Siren, error)
	HasActiveAssignment(ctx context.Context, userID, sirenID int) (bool, error)
	Assign(ctx context.Context, userID, sirenID int) (int, error)
}

// DeadlineRepo persists armed auto-off deadlines so they survive a restart.
type DeadlineRepo interface {
	Save(ctx context.Context, d models.AutoOffDeadline) error
	Delete(ctx context.Context, deviceID string) error
	List(ctx context.Context) ([]models.AutoOffDeadline, error)
}

// StateCache mirrors device snapshots into a shared cache for other readers.
type StateCache interface {
	Set(ctx context.Context, s models.DeviceState) error
	Get(ctx context.Context, deviceID string) (*models.DeviceState, error)
}

type Repository struct {
	StateRepo      DeviceStateRepo
	ActivationRepo ActivationRepo
	Sirens         SirenRepo
	Deadlines      DeadlineRepo
	Auth           Authorization
	Cache          StateCache
}

// NewRepository wires the SQLite repositories. cache may be nil.
func NewRepository(db *sql.DB, cache StateCache) *Repository {
	return &Repository{
		StateRepo:      NewStateSQLite(db),
		ActivationRepo: NewActivationSQLite(db),
		Sirens:         NewSirenSQLite(db),
		Deadlines:      NewDeadlineSQLite(db),
		Auth:           NewUserRepository(db),
		Cache:          cache,
	}
}
