package service

import (
	"sync"
	"time"

	"sirenlink/internal/models"
)

// PendingCommand is a dispatched command still waiting for its ack.
type PendingCommand struct {
	CommandID string
	DeviceID  string
	Action    models.OnOff
	SentAt    time.Time
}

// PendingCommands remembers recently dispatched commands by commandId so an
// ack that omits its action can still be attributed. Entries expire after window.
type PendingCommands struct {
	mu     sync.Mutex
	window time.Duration
	clock  Clock
	items  map[string]PendingCommand
}

func NewPendingCommands(window time.Duration, clock Clock) *PendingCommands {
	return &PendingCommands{
		window: window,
		clock:  clock,
		items:  make(map[string]PendingCommand),
	}
}

func (p *PendingCommands) Add(cmd PendingCommand) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked(p.clock.Now())
	p.items[cmd.CommandID] = cmd
}

// Lookup does not consume the entry; a repeated ack resolves the same way.
func (p *PendingCommands) Lookup(commandID string) (PendingCommand, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked(p.clock.Now())
	cmd, ok := p.items[commandID]
	return cmd, ok
}

func (p *PendingCommands) pruneLocked(now time.Time) {
	for id, cmd := range p.items {
		if now.Sub(cmd.SentAt) > p.window {
			delete(p.items, id)
		}
	}
}
