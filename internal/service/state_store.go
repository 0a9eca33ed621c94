package service

import (
	"sort"
	"sync"

	"sirenlink/internal/models"
)

// StateStore holds the last-known state of every device seen since start.
// Records are merged, never replaced, and never deleted.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]models.DeviceState
}

func NewStateStore() *StateStore {
	return &StateStore{states: make(map[string]models.DeviceState)}
}

// Upsert merges p into the record for deviceID and returns the result. A new
// record starts online with both actuators OFF.
func (s *StateStore) Upsert(deviceID string, p models.StatePatch) models.DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.states[deviceID]
	if !ok {
		cur = models.DeviceState{
			DeviceID: deviceID,
			Online:   true,
			Relay:    models.Off,
			Siren:    models.Off,
		}
	}
	next := p.Apply(cur)
	if !ok && next.UpdatedAt.IsZero() && next.LastHeartbeatAt != nil {
		next.UpdatedAt = *next.LastHeartbeatAt
	}
	s.states[deviceID] = next
	return next
}

func (s *StateStore) Get(deviceID string) (models.DeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[deviceID]
	return st, ok
}

// List returns every record ordered by device id.
func (s *StateStore) List() []models.DeviceState {
	s.mu.RLock()
	out := make([]models.DeviceState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
