package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content_validation/pkg/data"
)

func floatPtr(v float64) *float64 { return &v }

func testValidator(id string, reputation, stake float64) *data.Validator {
	return &data.Validator{
		ID:         id,
		Reputation: reputation,
		Stake:      stake,
		Status:     data.ValidatorStatusActive,
	}
}

func testSubmission(id string, approved bool) *data.Submission {
	return &data.Submission{
		ValidatorID: id,
		Result: data.SubmissionResult{
			Approved:  approved,
			Signature: []byte("sig-" + id),
		},
		Timestamp: time.Now().UTC(),
	}
}

func TestParseAlgorithm(t *testing.T) {
	for _, name := range []string{"weighted_voting", "byzantine_fault_tolerance", "simple_majority"} {
		algo, err := ParseAlgorithm(name)
		require.NoError(t, err)
		assert.Equal(t, name, algo.String())
	}

	_, err := ParseAlgorithm("quantum_voting")
	assert.Error(t, err)
}

func TestWeightedVotingMajorityApproves(t *testing.T) {
	engine := NewEngine(WeightedVoting)

	validators := map[string]*data.Validator{
		"v1": testValidator("v1", 1.0, 1000),
		"v2": testValidator("v2", 1.0, 1000),
		"v3": testValidator("v3", 1.0, 1000),
	}
	submissions := map[string]*data.Submission{
		"v1": testSubmission("v1", true),
		"v2": testSubmission("v2", true),
		"v3": testSubmission("v3", false),
	}

	result := engine.Compute(submissions, validators)

	assert.Equal(t, data.DecisionApproved, result.Decision)
	assert.InDelta(t, 2.0/3.0, result.Confidence, 1e-9)
	assert.Equal(t, "weighted_voting", result.Algorithm)
	assert.Greater(t, result.ApproveWeight, result.RejectWeight)
	assert.False(t, result.ComputedAt.IsZero())
}

func TestWeightedVotingTieRejects(t *testing.T) {
	engine := NewEngine(WeightedVoting)

	validators := map[string]*data.Validator{
		"v1": testValidator("v1", 1.0, 500),
		"v2": testValidator("v2", 1.0, 500),
	}
	submissions := map[string]*data.Submission{
		"v1": testSubmission("v1", true),
		"v2": testSubmission("v2", false),
	}

	result := engine.Compute(submissions, validators)

	assert.Equal(t, data.DecisionRejected, result.Decision)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
}

func TestWeightedVotingReputationOutweighsHeadcount(t *testing.T) {
	engine := NewEngine(WeightedVoting)

	// One highly trusted rejector against two low-reputation approvers
	// with no stake.
	validators := map[string]*data.Validator{
		"trusted": testValidator("trusted", 10.0, 0),
		"low1":    testValidator("low1", 0.5, 0),
		"low2":    testValidator("low2", 0.5, 0),
	}
	submissions := map[string]*data.Submission{
		"trusted": testSubmission("trusted", false),
		"low1":    testSubmission("low1", true),
		"low2":    testSubmission("low2", true),
	}

	result := engine.Compute(submissions, validators)

	assert.Equal(t, data.DecisionRejected, result.Decision)
}

func TestWeightedVotingMissingSnapshotGetsZeroWeight(t *testing.T) {
	engine := NewEngine(WeightedVoting)

	validators := map[string]*data.Validator{
		"known": testValidator("known", 1.0, 100),
	}
	submissions := map[string]*data.Submission{
		"known":   testSubmission("known", true),
		"unknown": testSubmission("unknown", false),
	}

	result := engine.Compute(submissions, validators)

	assert.Equal(t, data.DecisionApproved, result.Decision)
	assert.Zero(t, result.RejectWeight)
}

func TestByzantineSupermajorityApproves(t *testing.T) {
	engine := NewEngine(ByzantineFaultTolerance)

	submissions := map[string]*data.Submission{
		"v1": testSubmission("v1", true),
		"v2": testSubmission("v2", true),
		"v3": testSubmission("v3", true),
		"v4": testSubmission("v4", false),
	}

	// 4 valid submissions require floor(8/3)+1 = 3 in agreement.
	result := engine.Compute(submissions, nil)

	assert.Equal(t, data.DecisionApproved, result.Decision)
	assert.InDelta(t, 0.75, result.Confidence, 1e-9)
	assert.Equal(t, 3, result.AgreementCount)
	assert.Equal(t, 4, result.ValidCount)
	assert.True(t, result.ByzantineSafe)
}

func TestByzantineNoConsensus(t *testing.T) {
	engine := NewEngine(ByzantineFaultTolerance)

	// 3 valid submissions require 3 in agreement; a 2/1 split falls short.
	submissions := map[string]*data.Submission{
		"v1": testSubmission("v1", true),
		"v2": testSubmission("v2", true),
		"v3": testSubmission("v3", false),
	}

	result := engine.Compute(submissions, nil)

	assert.Equal(t, data.DecisionNoConsensus, result.Decision)
	assert.Zero(t, result.Confidence)
	assert.True(t, result.ByzantineSafe)
}

func TestByzantineSkipsUnsignedSubmissions(t *testing.T) {
	engine := NewEngine(ByzantineFaultTolerance)

	unsigned := testSubmission("v4", false)
	unsigned.Result.Signature = nil

	submissions := map[string]*data.Submission{
		"v1": testSubmission("v1", true),
		"v2": testSubmission("v2", true),
		"v3": testSubmission("v3", true),
		"v4": unsigned,
	}

	result := engine.Compute(submissions, nil)

	assert.Equal(t, data.DecisionApproved, result.Decision)
	assert.Equal(t, 3, result.ValidCount)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
}

func TestByzantineEmptySubmissionSet(t *testing.T) {
	engine := NewEngine(ByzantineFaultTolerance)

	result := engine.Compute(map[string]*data.Submission{}, nil)

	assert.Equal(t, data.DecisionNoConsensus, result.Decision)
	assert.Zero(t, result.ValidCount)
}

func TestByzantineCustomValidityPolicy(t *testing.T) {
	engine := NewEngine(ByzantineFaultTolerance,
		WithValidityPolicy(func(sub *data.Submission) bool {
			return sub.ValidatorID != "banned"
		}))

	unsignedOK := testSubmission("v1", true)
	unsignedOK.Result.Signature = nil

	submissions := map[string]*data.Submission{
		"v1":     unsignedOK,
		"banned": testSubmission("banned", false),
	}

	result := engine.Compute(submissions, nil)

	assert.Equal(t, 1, result.ValidCount)
	assert.Equal(t, data.DecisionApproved, result.Decision)
}

func TestSimpleMajority(t *testing.T) {
	engine := NewEngine(SimpleMajority)

	submissions := map[string]*data.Submission{
		"v1": testSubmission("v1", false),
		"v2": testSubmission("v2", false),
		"v3": testSubmission("v3", true),
	}

	result := engine.Compute(submissions, nil)

	assert.Equal(t, data.DecisionRejected, result.Decision)
	assert.InDelta(t, 2.0/3.0, result.Confidence, 1e-9)
	assert.Equal(t, "simple_majority", result.Algorithm)
}

func TestSimpleMajorityTieRejects(t *testing.T) {
	engine := NewEngine(SimpleMajority)

	submissions := map[string]*data.Submission{
		"v1": testSubmission("v1", true),
		"v2": testSubmission("v2", false),
	}

	result := engine.Compute(submissions, nil)

	assert.Equal(t, data.DecisionRejected, result.Decision)
}

func TestMetricsAverageSkipsUnset(t *testing.T) {
	engine := NewEngine(SimpleMajority)

	scored := testSubmission("v1", true)
	scored.Result.FactAccuracy = floatPtr(0.8)
	scored.Result.BiasScore = floatPtr(0.4)

	alsoScored := testSubmission("v2", true)
	alsoScored.Result.FactAccuracy = floatPtr(0.6)

	unscored := testSubmission("v3", true)

	result := engine.Compute(map[string]*data.Submission{
		"v1": scored,
		"v2": alsoScored,
		"v3": unscored,
	}, nil)

	assert.InDelta(t, 0.7, result.Metrics.FactAccuracy, 1e-9)
	assert.InDelta(t, 0.4, result.Metrics.BiasScore, 1e-9)
	assert.Zero(t, result.Metrics.SourceReliability)
}
