package validation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"content_validation/pkg/data"
	"content_validation/pkg/utils"
)

// RecentHistoryLimit bounds the history returned with validator snapshots.
const RecentHistoryLimit = 10

// Registry owns validator records and their lifecycle. Canonical state
// lives in memory with write-through persistence to the repository.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]*data.Validator
	locks      map[string]*sync.Mutex
	repo       data.Repository
	logger     *zap.Logger
}

// NewRegistry creates a validator registry backed by the repository
func NewRegistry(repo data.Repository, logger *zap.Logger) *Registry {
	return &Registry{
		validators: make(map[string]*data.Validator),
		locks:      make(map[string]*sync.Mutex),
		repo:       repo,
		logger:     logger,
	}
}

// Load populates the registry from the repository
func (r *Registry) Load(ctx context.Context) error {
	validators, err := r.repo.ListValidators(ctx, data.ValidatorFilter{})
	if err != nil {
		return fmt.Errorf("loading validators: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range validators {
		r.validators[v.ID] = v
		r.locks[v.ID] = &sync.Mutex{}
	}

	r.logger.Info("Validator registry loaded",
		zap.Int("validators", len(validators)))
	return nil
}

// Register creates a new validator with the given key, stake and
// specializations. Reputation starts at the supplied seed.
func (r *Registry) Register(ctx context.Context, publicKey []byte, stake float64, specializations []string, seedReputation float64) (*data.Validator, error) {
	v, err := data.NewValidator(publicKey, stake, specializations)
	if err != nil {
		return nil, fmt.Errorf("creating validator: %w", err)
	}
	v.Reputation = seedReputation

	if err := r.repo.SaveValidator(ctx, v); err != nil {
		return nil, fmt.Errorf("saving validator: %w", err)
	}

	r.mu.Lock()
	r.validators[v.ID] = v
	r.locks[v.ID] = &sync.Mutex{}
	r.mu.Unlock()

	r.logger.Info("Validator registered",
		zap.String("validatorID", v.ID),
		zap.Float64("stake", v.Stake),
		zap.Strings("specializations", v.Specializations))

	return v.Clone(), nil
}

// Get returns a read-only snapshot of a validator with its recent
// history trimmed.
func (r *Registry) Get(id string) (*data.Validator, error) {
	r.mu.RLock()
	v, exists := r.validators[id]
	r.mu.RUnlock()
	if !exists {
		return nil, data.ErrNotFound
	}

	snapshot := v.Clone()
	if len(snapshot.ValidationHistory) > RecentHistoryLimit {
		snapshot.ValidationHistory = snapshot.ValidationHistory[len(snapshot.ValidationHistory)-RecentHistoryLimit:]
	}
	return snapshot, nil
}

// Select returns up to requiredCount active validators covering the
// content type, ordered descending by reputation x stake. May return
// fewer than requested; the caller checks.
func (r *Registry) Select(contentType string, requiredCount int) []*data.Validator {
	r.mu.RLock()
	eligible := make([]*data.Validator, 0, len(r.validators))
	for _, v := range r.validators {
		if v.Status != data.ValidatorStatusActive {
			continue
		}
		if !v.HasSpecialization(contentType) {
			continue
		}
		eligible = append(eligible, v.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].SelectionWeight() > eligible[j].SelectionWeight()
	})

	if requiredCount < len(eligible) {
		eligible = eligible[:requiredCount]
	}
	return eligible
}

// Snapshots returns clones of the given validators keyed by id, for use
// as consensus weighting input.
func (r *Registry) Snapshots(ids []string) map[string]*data.Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*data.Validator, len(ids))
	for _, id := range ids {
		if v, exists := r.validators[id]; exists {
			out[id] = v.Clone()
		}
	}
	return out
}

// Update applies fn to a validator under its per-validator lock and
// persists the result. Updates to the same validator from concurrently
// completing sessions are serialized here. The mutation happens on a
// copy that replaces the map entry only once persisted, so published
// records are never written after readers can see them.
func (r *Registry) Update(ctx context.Context, id string, fn func(*data.Validator)) (*data.Validator, error) {
	r.mu.RLock()
	_, exists := r.validators[id]
	lock := r.locks[id]
	r.mu.RUnlock()
	if !exists {
		return nil, data.ErrNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	// Re-read under the per-validator lock: an earlier Update may have
	// swapped the entry since the existence check.
	r.mu.RLock()
	next := r.validators[id].Clone()
	r.mu.RUnlock()

	fn(next)
	next.UpdatedAt = time.Now().UTC()

	// Reputation correctness affects future selection; persistence
	// failures are retried, and surfaced rather than dropped.
	err := utils.RetryWithBackoff(ctx, func() error {
		return r.repo.UpdateValidator(ctx, next)
	}, nil)
	if err != nil {
		r.logger.Error("Persisting validator update failed",
			zap.String("validatorID", id),
			zap.Error(err))
		return nil, fmt.Errorf("persisting validator %s: %w", id, err)
	}

	r.mu.Lock()
	r.validators[id] = next
	r.mu.Unlock()

	return next.Clone(), nil
}

// SetStatus transitions a validator's lifecycle status
func (r *Registry) SetStatus(ctx context.Context, id string, status data.ValidatorStatus) error {
	_, err := r.Update(ctx, id, func(v *data.Validator) {
		v.Status = status
	})
	if err != nil {
		return err
	}

	r.logger.Info("Validator status changed",
		zap.String("validatorID", id),
		zap.String("status", string(status)))
	return nil
}

// Counts returns the total and active validator counts
func (r *Registry) Counts() (total, active int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total = len(r.validators)
	for _, v := range r.validators {
		if v.Status == data.ValidatorStatusActive {
			active++
		}
	}
	return total, active
}

// List returns snapshots of all registered validators
func (r *Registry) List() []*data.Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*data.Validator, 0, len(r.validators))
	for _, v := range r.validators {
		out = append(out, v.Clone())
	}
	return out
}
