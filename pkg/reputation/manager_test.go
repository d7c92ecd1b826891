package reputation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"content_validation/pkg/config"
	"content_validation/pkg/data"
	"content_validation/pkg/validation"
)

func newTestManager(t *testing.T) (*Manager, *validation.Registry, *data.MemoryRepository) {
	t.Helper()

	repo := data.NewMemoryRepository()
	registry := validation.NewRegistry(repo, zap.NewNop())
	cfg := &config.ReputationConfig{
		MinReputation:     0.1,
		MaxReputation:     10.0,
		InitialReputation: 1.0,
	}
	return NewManager(registry, repo, cfg, zap.NewNop()), registry, repo
}

func registerWithReputation(t *testing.T, registry *validation.Registry, reputation float64) string {
	t.Helper()
	v, err := registry.Register(context.Background(), []byte("pk"), 1000, []string{"news"}, reputation)
	require.NoError(t, err)
	return v.ID
}

func sessionWithOutcome(decision data.Decision, confidence float64, submissions map[string]*data.Submission) *data.ValidationSession {
	return &data.ValidationSession{
		ID:          "session-1",
		ContentID:   "content-1",
		ContentType: "news",
		Submissions: submissions,
		Status:      data.SessionStatusCompleted,
		Result: &data.ConsensusResult{
			Decision:   decision,
			Confidence: confidence,
		},
		CompletedAt: time.Now().UTC(),
	}
}

func submission(validatorID string, approved bool, analysis string) *data.Submission {
	return &data.Submission{
		ValidatorID: validatorID,
		Result: data.SubmissionResult{
			Approved: approved,
			Analysis: analysis,
		},
		Timestamp: time.Now().UTC(),
	}
}

func TestApplySessionOutcomeAlignment(t *testing.T) {
	manager, registry, _ := newTestManager(t)

	aligned := registerWithReputation(t, registry, 1.0)
	misaligned := registerWithReputation(t, registry, 1.0)

	session := sessionWithOutcome(data.DecisionApproved, 1.0, map[string]*data.Submission{
		aligned:    submission(aligned, true, ""),
		misaligned: submission(misaligned, false, ""),
	})

	require.NoError(t, manager.ApplySessionOutcome(context.Background(), session))

	alignedV, err := registry.Get(aligned)
	require.NoError(t, err)
	assert.InDelta(t, 1.06, alignedV.Reputation, 1e-9)

	misalignedV, err := registry.Get(misaligned)
	require.NoError(t, err)
	assert.InDelta(t, 0.98, misalignedV.Reputation, 1e-9)

	assert.Equal(t, uint64(2), manager.UpdatesProcessed())
}

func TestAlignmentScalesWithConfidence(t *testing.T) {
	manager, registry, _ := newTestManager(t)

	id := registerWithReputation(t, registry, 1.0)
	session := sessionWithOutcome(data.DecisionRejected, 0.6, map[string]*data.Submission{
		id: submission(id, false, ""),
	})

	require.NoError(t, manager.ApplySessionOutcome(context.Background(), session))

	v, err := registry.Get(id)
	require.NoError(t, err)
	// participation 0.01 + alignment 0.05 * 0.6
	assert.InDelta(t, 1.04, v.Reputation, 1e-9)
}

func TestAnalysisBonusRequiresSubstantiveText(t *testing.T) {
	manager, registry, _ := newTestManager(t)

	thorough := registerWithReputation(t, registry, 1.0)
	terse := registerWithReputation(t, registry, 1.0)

	longAnalysis := strings.Repeat("the sourcing checks out and the claims are verifiable ", 3)
	require.Greater(t, len(longAnalysis), AnalysisLengthFloor)

	session := sessionWithOutcome(data.DecisionApproved, 1.0, map[string]*data.Submission{
		thorough: submission(thorough, true, longAnalysis),
		terse:    submission(terse, true, "fine"),
	})

	require.NoError(t, manager.ApplySessionOutcome(context.Background(), session))

	thoroughV, err := registry.Get(thorough)
	require.NoError(t, err)
	assert.InDelta(t, 1.08, thoroughV.Reputation, 1e-9)

	terseV, err := registry.Get(terse)
	require.NoError(t, err)
	assert.InDelta(t, 1.06, terseV.Reputation, 1e-9)
}

func TestNoConsensusOnlyAwardsParticipation(t *testing.T) {
	manager, registry, _ := newTestManager(t)

	approver := registerWithReputation(t, registry, 1.0)
	rejector := registerWithReputation(t, registry, 1.0)

	session := sessionWithOutcome(data.DecisionNoConsensus, 0, map[string]*data.Submission{
		approver: submission(approver, true, ""),
		rejector: submission(rejector, false, ""),
	})

	require.NoError(t, manager.ApplySessionOutcome(context.Background(), session))

	for _, id := range []string{approver, rejector} {
		v, err := registry.Get(id)
		require.NoError(t, err)
		assert.InDelta(t, 1.01, v.Reputation, 1e-9)
	}
}

func TestReputationClampedAtBounds(t *testing.T) {
	manager, registry, _ := newTestManager(t)

	atCeiling := registerWithReputation(t, registry, 10.0)
	nearFloor := registerWithReputation(t, registry, 0.11)

	session := sessionWithOutcome(data.DecisionApproved, 1.0, map[string]*data.Submission{
		atCeiling: submission(atCeiling, true, ""),
		nearFloor: submission(nearFloor, false, ""),
	})

	require.NoError(t, manager.ApplySessionOutcome(context.Background(), session))

	ceilingV, err := registry.Get(atCeiling)
	require.NoError(t, err)
	assert.Equal(t, 10.0, ceilingV.Reputation)

	floorV, err := registry.Get(nearFloor)
	require.NoError(t, err)
	assert.Equal(t, 0.1, floorV.Reputation)
}

func TestApplySessionOutcomeRecordsHistory(t *testing.T) {
	manager, registry, _ := newTestManager(t)

	id := registerWithReputation(t, registry, 1.0)
	session := sessionWithOutcome(data.DecisionApproved, 1.0, map[string]*data.Submission{
		id: submission(id, true, ""),
	})

	require.NoError(t, manager.ApplySessionOutcome(context.Background(), session))

	v, err := registry.Get(id)
	require.NoError(t, err)
	require.Len(t, v.ValidationHistory, 1)
	rec := v.ValidationHistory[0]
	assert.Equal(t, "session-1", rec.SessionID)
	assert.Equal(t, "content-1", rec.ContentID)
	assert.True(t, rec.Aligned)
	assert.InDelta(t, 0.06, rec.Delta, 1e-9)
}

func TestApplySessionOutcomeRequiresResult(t *testing.T) {
	manager, _, _ := newTestManager(t)

	err := manager.ApplySessionOutcome(context.Background(), &data.ValidationSession{ID: "s"})
	assert.Error(t, err)
}

func TestApplySessionOutcomeSkipsUnknownValidators(t *testing.T) {
	manager, registry, _ := newTestManager(t)

	known := registerWithReputation(t, registry, 1.0)
	session := sessionWithOutcome(data.DecisionApproved, 1.0, map[string]*data.Submission{
		known:   submission(known, true, ""),
		"ghost": submission("ghost", true, ""),
	})

	err := manager.ApplySessionOutcome(context.Background(), session)
	assert.ErrorIs(t, err, data.ErrNotFound)

	// The known validator is still updated.
	v, gerr := registry.Get(known)
	require.NoError(t, gerr)
	assert.InDelta(t, 1.06, v.Reputation, 1e-9)
}

func TestSlashSevereHalvesReputation(t *testing.T) {
	manager, registry, repo := newTestManager(t)

	id := registerWithReputation(t, registry, 2.0)

	res, err := manager.Slash(context.Background(), id, "coordinated manipulation", data.SlashSeveritySevere)
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.OldReputation)
	assert.Equal(t, 1.0, res.SlashAmount)
	assert.Equal(t, 1.0, res.NewReputation)

	v, err := registry.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.Reputation)
	assert.Equal(t, data.ValidatorStatusSlashed, v.Status)
	require.Len(t, v.SlashingHistory, 1)
	assert.Equal(t, data.SlashSeveritySevere, v.SlashingHistory[0].Severity)

	events, err := repo.GetSlashingEvents(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1.0, events[0].Amount)
}

func TestSlashMinorKeepsValidatorActive(t *testing.T) {
	manager, registry, _ := newTestManager(t)

	id := registerWithReputation(t, registry, 2.0)

	res, err := manager.Slash(context.Background(), id, "late submissions", data.SlashSeverityMinor)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, res.SlashAmount, 1e-9)
	assert.InDelta(t, 1.9, res.NewReputation, 1e-9)

	v, err := registry.Get(id)
	require.NoError(t, err)
	assert.Equal(t, data.ValidatorStatusActive, v.Status)
}

func TestSlashFloorsAtMinimum(t *testing.T) {
	manager, registry, _ := newTestManager(t)

	id := registerWithReputation(t, registry, 0.15)

	res, err := manager.Slash(context.Background(), id, "repeat offense", data.SlashSeveritySevere)
	require.NoError(t, err)
	assert.Equal(t, 0.1, res.NewReputation)
}

func TestSlashRejectsUnknownSeverity(t *testing.T) {
	manager, registry, _ := newTestManager(t)
	id := registerWithReputation(t, registry, 1.0)

	_, err := manager.Slash(context.Background(), id, "reason", data.SlashSeverity("catastrophic"))
	assert.Error(t, err)
}

func TestSlashUnknownValidator(t *testing.T) {
	manager, _, _ := newTestManager(t)

	_, err := manager.Slash(context.Background(), "missing", "reason", data.SlashSeverityMinor)
	assert.ErrorIs(t, err, data.ErrNotFound)
}
