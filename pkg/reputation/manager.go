package reputation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"content_validation/pkg/config"
	"content_validation/pkg/data"
	"content_validation/pkg/utils"
)

const (
	// Score adjustments per completed session
	ParticipationBonus  = 0.01
	AlignmentBonus      = 0.05
	MisalignmentPenalty = 0.03
	AnalysisBonus       = 0.02

	// Analysis text must exceed this length to earn the bonus.
	AnalysisLengthFloor = 100
)

// ValidatorStore is the mutation surface the manager needs. Updates to
// the same validator must be serialized by the store.
type ValidatorStore interface {
	Get(id string) (*data.Validator, error)
	Update(ctx context.Context, id string, fn func(*data.Validator)) (*data.Validator, error)
}

// SlashResult reports the effect of a slashing action
type SlashResult struct {
	OldReputation float64 `json:"old_reputation"`
	NewReputation float64 `json:"new_reputation"`
	SlashAmount   float64 `json:"slash_amount"`
}

// Manager adjusts validator trust from consensus outcomes and applies
// administrative slashing penalties.
type Manager struct {
	store  ValidatorStore
	repo   data.Repository
	cfg    *config.ReputationConfig
	logger *zap.Logger

	mu      sync.Mutex
	updates uint64
}

// NewManager creates a reputation manager
func NewManager(store ValidatorStore, repo data.Repository, cfg *config.ReputationConfig, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		repo:   repo,
		cfg:    cfg,
		logger: logger,
	}
}

// ApplySessionOutcome updates every participating validator from the
// session's consensus decision. Each validator is updated independently;
// a failure for one does not block the others.
func (m *Manager) ApplySessionOutcome(ctx context.Context, session *data.ValidationSession) error {
	if session.Result == nil {
		return fmt.Errorf("session %s has no consensus result", session.ID)
	}

	var firstErr error
	for validatorID, sub := range session.Submissions {
		if err := m.applyOne(ctx, session, validatorID, sub); err != nil {
			m.logger.Error("Reputation update failed for validator",
				zap.String("sessionID", session.ID),
				zap.String("validatorID", validatorID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Manager) applyOne(ctx context.Context, session *data.ValidationSession, validatorID string, sub *data.Submission) error {
	result := session.Result

	aligned := false
	switch result.Decision {
	case data.DecisionApproved:
		aligned = sub.Result.Approved
	case data.DecisionRejected:
		aligned = !sub.Result.Approved
	case data.DecisionNoConsensus:
		// Nobody matches and nobody is penalized; only the
		// participation and analysis components apply.
	}

	delta := ParticipationBonus
	if result.Decision != data.DecisionNoConsensus {
		if aligned {
			delta += AlignmentBonus * result.Confidence
		} else {
			delta -= MisalignmentPenalty * result.Confidence
		}
	}
	if len(sub.Result.Analysis) > AnalysisLengthFloor {
		delta += AnalysisBonus
	}

	var oldScore, newScore float64
	_, err := m.store.Update(ctx, validatorID, func(v *data.Validator) {
		oldScore = v.Reputation
		newScore = utils.Clamp(oldScore+delta, m.cfg.MinReputation, m.cfg.MaxReputation)
		v.Reputation = newScore
		v.RecordValidation(data.ValidationRecord{
			SessionID: session.ID,
			ContentID: session.ContentID,
			Approved:  sub.Result.Approved,
			Aligned:   aligned,
			Delta:     newScore - oldScore,
			Timestamp: time.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.updates++
	m.mu.Unlock()

	m.logger.Debug("Reputation updated",
		zap.String("validatorID", validatorID),
		zap.String("sessionID", session.ID),
		zap.Bool("aligned", aligned),
		zap.Float64("oldScore", oldScore),
		zap.Float64("newScore", newScore))

	return nil
}

// Slash applies a severity-graded penalty to a validator's current
// reputation, floored at the minimum. Slashing is an explicit
// administrative action, independent of per-session updates.
func (m *Manager) Slash(ctx context.Context, validatorID, reason string, severity data.SlashSeverity) (*SlashResult, error) {
	fraction, err := severity.Fraction()
	if err != nil {
		return nil, err
	}

	event := &data.SlashingEvent{
		ID:          uuid.New().String(),
		ValidatorID: validatorID,
		Reason:      reason,
		Severity:    severity,
		Timestamp:   time.Now().UTC(),
	}

	var res SlashResult
	_, err = m.store.Update(ctx, validatorID, func(v *data.Validator) {
		res.OldReputation = v.Reputation
		res.SlashAmount = v.Reputation * fraction
		res.NewReputation = utils.Clamp(v.Reputation-res.SlashAmount, m.cfg.MinReputation, m.cfg.MaxReputation)
		v.Reputation = res.NewReputation

		event.Amount = res.SlashAmount
		v.SlashingHistory = append(v.SlashingHistory, *event)

		if severity == data.SlashSeverityMajor || severity == data.SlashSeveritySevere {
			v.Status = data.ValidatorStatusSlashed
		}
	})
	if err != nil {
		return nil, err
	}

	if err := m.repo.SaveSlashingEvent(ctx, event); err != nil {
		// The validator record already carries the event; the separate
		// event log is reconciled on the next write.
		m.logger.Error("Persisting slashing event failed",
			zap.String("validatorID", validatorID),
			zap.Error(err))
	}

	m.logger.Warn("Validator slashed",
		zap.String("validatorID", validatorID),
		zap.String("reason", reason),
		zap.String("severity", string(severity)),
		zap.Float64("oldReputation", res.OldReputation),
		zap.Float64("newReputation", res.NewReputation))

	return &res, nil
}

// UpdatesProcessed returns the number of per-validator updates applied
func (m *Manager) UpdatesProcessed() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}
