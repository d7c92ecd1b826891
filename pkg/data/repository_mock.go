package data

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is an in-memory Repository used by tests and by runs
// configured without a database. Safe for concurrent use.
type MemoryRepository struct {
	mu         sync.RWMutex
	validators map[string]*Validator
	sessions   map[string]*ValidationSession
	slashing   map[string][]*SlashingEvent
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		validators: make(map[string]*Validator),
		sessions:   make(map[string]*ValidationSession),
		slashing:   make(map[string][]*SlashingEvent),
	}
}

func (m *MemoryRepository) SaveValidator(ctx context.Context, validator *Validator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.validators[validator.ID]; exists {
		return ErrDuplicate
	}
	m.validators[validator.ID] = validator.Clone()
	return nil
}

func (m *MemoryRepository) GetValidator(ctx context.Context, id string) (*Validator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, exists := m.validators[id]
	if !exists {
		return nil, ErrNotFound
	}
	return v.Clone(), nil
}

func (m *MemoryRepository) ListValidators(ctx context.Context, filter ValidatorFilter) ([]*Validator, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, ErrInvalidFilter
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Validator
	for _, v := range m.validators {
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if filter.Specialization != "" && !containsString(v.Specializations, filter.Specialization) {
			continue
		}
		if filter.MinReputation != nil && v.Reputation < *filter.MinReputation {
			continue
		}
		out = append(out, v.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].SelectionWeight() > out[j].SelectionWeight()
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}

	return out, nil
}

func (m *MemoryRepository) UpdateValidator(ctx context.Context, validator *Validator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.validators[validator.ID]; !exists {
		return ErrNotFound
	}
	m.validators[validator.ID] = validator.Clone()
	return nil
}

func (m *MemoryRepository) SaveSession(ctx context.Context, session *ValidationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return ErrDuplicate
	}
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *MemoryRepository) GetSession(ctx context.Context, id string) (*ValidationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryRepository) UpdateSession(ctx context.Context, session *ValidationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; !exists {
		return ErrNotFound
	}
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *MemoryRepository) ListActiveSessions(ctx context.Context) ([]*ValidationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ValidationSession
	for _, s := range m.sessions {
		if s.Status == SessionStatusPending {
			out = append(out, s.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})

	return out, nil
}

func (m *MemoryRepository) SaveSlashingEvent(ctx context.Context, event *SlashingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *event
	m.slashing[event.ValidatorID] = append(m.slashing[event.ValidatorID], &cp)
	return nil
}

func (m *MemoryRepository) GetSlashingEvents(ctx context.Context, validatorID string) ([]*SlashingEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.slashing[validatorID]
	out := make([]*SlashingEvent, 0, len(events))
	for _, e := range events {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
