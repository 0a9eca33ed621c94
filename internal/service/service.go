package service

import (
	"context"
	"time"

	"sirenlink/internal/config"
	"sirenlink/internal/logger"
	"sirenlink/internal/models"
	"sirenlink/internal/realtime"
	"sirenlink/internal/repository"
	"sirenlink/internal/telemetry"
	"sirenlink/internal/transport"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	CreateUser(caller models.Caller, in NewUserInput) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (models.Caller, error)
}

// Commands issues ON/OFF commands on behalf of an authenticated caller.
type Commands interface {
	Send(ctx context.Context, caller models.Caller, deviceID string, req SendCommandRequest, ip string) (models.CommandPayload, error)
}

// Monitoring exposes read-only broker health and last-known device state.
type Monitoring interface {
	MQTTHealth() MQTTHealth
	ListStates(ctx context.Context) []models.DeviceState
	GetState(ctx context.Context, deviceID string) (models.DeviceState, error)
}

// ActivationLog exposes the role-scoped ledger.
type ActivationLog interface {
	List(ctx context.Context, caller models.Caller, f ActivationFilter) ([]models.ActivationLog, error)
}

type Sirens interface {
	CreateSiren(ctx context.Context, caller models.Caller, in SirenInput) (models.Siren, error)
	ListSirens(ctx context.Context, caller models.Caller) ([]models.Siren, error)
	AssignSiren(ctx context.Context, caller models.Caller, deviceID string, userID int) (models.Assignment, error)
}

// Service aggregates all sub-services used by the HTTP layer.
type Service struct {
	Authorization
	Commands
	Monitoring
	ActivationLog
	Sirens

	Bridge *Bridge
}

// Deps is everything NewService needs from main.
type Deps struct {
	Repos    *repository.Repository
	Client   transport.Client
	Events   realtime.Broadcaster
	Clock    Clock
	Commands config.CommandsConfig
	Auth     config.AuthConfig
	Log      *logger.Logger
}

// NewService wires the repository and transport layers into concrete services.
func NewService(d Deps) *Service {
	clock := d.Clock
	if clock == nil {
		clock = RealClock()
	}
	log := logger.OrNop(d.Log)

	bridge := newBridge(d, clock, log)
	auth := NewAuthService(d.Repos.Auth, d.Auth.SigningKey, d.Auth.TokenTTL)
	access := NewAccessChecker(d.Repos.Sirens)
	minTTL := time.Duration(d.Commands.MinTTLMs) * time.Millisecond
	maxTTL := time.Duration(d.Commands.MaxTTLMs) * time.Millisecond
	monitoring := NewMonitoringService(d.Client, bridge.Store, bridge.Scheduler, d.Repos.StateRepo, d.Repos.Cache,
		log.With("component", "monitoring"))

	return &Service{
		Authorization: auth,
		Commands:      NewCommandService(access, bridge.Dispatcher, bridge.Ledger, minTTL, maxTTL, log.With("component", "commands")),
		Monitoring:    monitoring,
		ActivationLog: bridge.Ledger,
		Sirens:        NewSirenService(d.Repos.Sirens, log.With("component", "sirens")),
		Bridge:        bridge,
	}
}

// Bridge owns the long-lived device-side machinery: the state store, pending
// commands, the auto-off scheduler, the dispatcher and the telemetry ingestor.
type Bridge struct {
	Store      *StateStore
	Pending    *PendingCommands
	Scheduler  *AutoOffScheduler
	Dispatcher *Dispatcher
	Ingestor   *Ingestor
	Ledger     *Ledger

	client transport.Client
	log    *logger.Logger
}

func newBridge(d Deps, clock Clock, log *logger.Logger) *Bridge {
	store := NewStateStore()
	pending := NewPendingCommands(d.Commands.PendingWindow, clock)
	ledger := NewLedger(d.Repos.ActivationRepo, clock, log.With("component", "ledger"))
	scheduler := NewAutoOffScheduler(clock, d.Repos.Deadlines, log.With("component", "auto_off"))
	dispatcher := NewDispatcher(d.Client, scheduler, pending, ledger, d.Repos.Sirens, clock,
		d.Commands.DefaultTTL(), log.With("component", "dispatcher"))
	ingestor := NewIngestor(IngestorDeps{
		Store:     store,
		Snapshots: d.Repos.StateRepo,
		Cache:     d.Repos.Cache,
		Events:    d.Events,
		Ledger:    ledger,
		Sirens:    d.Repos.Sirens,
		Pending:   pending,
		Clock:     clock,
		Log:       log.With("component", "ingest"),
	})
	return &Bridge{
		Store:      store,
		Pending:    pending,
		Scheduler:  scheduler,
		Dispatcher: dispatcher,
		Ingestor:   ingestor,
		Ledger:     ledger,
		client:     d.Client,
		log:        log,
	}
}

// Start subscribes to device telemetry and re-arms persisted auto-off deadlines.
func (b *Bridge) Start(ctx context.Context) error {
	for _, topic := range telemetry.Subscriptions() {
		if err := b.client.Subscribe(topic, telemetry.SubscribeQoS, b.Ingestor.Handle); err != nil {
			return err
		}
	}
	n, err := b.Scheduler.Restore(ctx)
	if err != nil {
		b.log.Errorw("auto_off_restore_failed", "err", err)
	} else if n > 0 {
		b.log.Infow("auto_off_restore_done", "restored", n)
	}
	return nil
}

// Stop halts the scheduler. Persisted deadlines are kept for the next start.
func (b *Bridge) Stop() {
	b.Scheduler.Stop()
}
