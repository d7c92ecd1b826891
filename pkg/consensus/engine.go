package consensus

import (
	"fmt"
	"math"
	"time"

	"content_validation/pkg/data"
)

// Algorithm selects the consensus computation. Chosen at engine
// construction, not per call.
type Algorithm int

const (
	WeightedVoting Algorithm = iota
	ByzantineFaultTolerance
	SimpleMajority
)

// String returns the configuration name of the algorithm
func (a Algorithm) String() string {
	switch a {
	case WeightedVoting:
		return "weighted_voting"
	case ByzantineFaultTolerance:
		return "byzantine_fault_tolerance"
	case SimpleMajority:
		return "simple_majority"
	default:
		return "unknown"
	}
}

// ParseAlgorithm maps a configuration string to an Algorithm
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "weighted_voting":
		return WeightedVoting, nil
	case "byzantine_fault_tolerance":
		return ByzantineFaultTolerance, nil
	case "simple_majority":
		return SimpleMajority, nil
	default:
		return 0, fmt.Errorf("unknown consensus algorithm: %q", s)
	}
}

// Weight split between reputation and stake in weighted voting.
const (
	reputationWeight = 0.7
	stakeWeight      = 0.3
)

// ValidityPolicy decides whether a submission counts toward byzantine
// agreement. Cryptographic signature verification is a caller concern;
// the default policy only requires a signature to be present.
type ValidityPolicy func(*data.Submission) bool

// DefaultValidityPolicy rejects submissions without a signature.
func DefaultValidityPolicy(sub *data.Submission) bool {
	return len(sub.Result.Signature) > 0
}

// Engine combines independent submissions into a consensus decision.
// Stateless given a submission set; safe for concurrent use.
type Engine struct {
	algorithm Algorithm
	valid     ValidityPolicy
}

// Option configures an Engine
type Option func(*Engine)

// WithValidityPolicy overrides the byzantine submission validity check.
func WithValidityPolicy(p ValidityPolicy) Option {
	return func(e *Engine) { e.valid = p }
}

// NewEngine creates a consensus engine for the given algorithm
func NewEngine(algorithm Algorithm, opts ...Option) *Engine {
	e := &Engine{
		algorithm: algorithm,
		valid:     DefaultValidityPolicy,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Algorithm returns the algorithm the engine was constructed with
func (e *Engine) Algorithm() Algorithm {
	return e.algorithm
}

// Compute combines the submissions into a consensus result. Validator
// snapshots supply the reputation and stake used for vote weighting;
// a submission without a matching snapshot gets zero reputation and stake.
func (e *Engine) Compute(submissions map[string]*data.Submission, validators map[string]*data.Validator) *data.ConsensusResult {
	var result *data.ConsensusResult
	switch e.algorithm {
	case ByzantineFaultTolerance:
		result = e.byzantine(submissions)
	case SimpleMajority:
		result = e.simpleMajority(submissions)
	default:
		result = e.weightedVoting(submissions, validators)
	}

	result.Algorithm = e.algorithm.String()
	result.Metrics = averageMetrics(submissions)
	result.ComputedAt = time.Now().UTC()
	return result
}

// weightedVoting tallies validator weight per decision bucket. A tie in
// weight resolves to rejected.
func (e *Engine) weightedVoting(submissions map[string]*data.Submission, validators map[string]*data.Validator) *data.ConsensusResult {
	var approveWeight, rejectWeight float64

	for id, sub := range submissions {
		var reputation, stake float64
		if v, ok := validators[id]; ok {
			reputation = v.Reputation
			stake = v.Stake
		}
		weight := reputation*reputationWeight + math.Log(stake+1)*stakeWeight

		if sub.Result.Approved {
			approveWeight += weight
		} else {
			rejectWeight += weight
		}
	}

	totalWeight := approveWeight + rejectWeight
	decision := data.DecisionRejected
	if approveWeight > rejectWeight {
		decision = data.DecisionApproved
	}

	confidence := 0.0
	if totalWeight > 0 {
		confidence = math.Max(approveWeight, rejectWeight) / totalWeight
	}

	return &data.ConsensusResult{
		Decision:      decision,
		Confidence:    confidence,
		ApproveWeight: approveWeight,
		RejectWeight:  rejectWeight,
	}
}

// byzantine requires a supermajority of valid submissions to agree on an
// identical decision: floor(2n/3)+1 over the valid set.
func (e *Engine) byzantine(submissions map[string]*data.Submission) *data.ConsensusResult {
	groups := make(map[data.Decision]int)
	valid := 0
	for _, sub := range submissions {
		if !e.valid(sub) {
			continue
		}
		valid++
		if sub.Result.Approved {
			groups[data.DecisionApproved]++
		} else {
			groups[data.DecisionRejected]++
		}
	}

	requiredAgreement := (2*valid)/3 + 1

	largest := data.DecisionNoConsensus
	largestSize := 0
	for decision, size := range groups {
		if size > largestSize {
			largest = decision
			largestSize = size
		}
	}

	result := &data.ConsensusResult{
		Decision:       data.DecisionNoConsensus,
		Confidence:     0,
		AgreementCount: largestSize,
		ValidCount:     valid,
		ByzantineSafe:  true,
	}

	if valid > 0 && largestSize >= requiredAgreement {
		result.Decision = largest
		result.Confidence = float64(largestSize) / float64(valid)
	}

	return result
}

// simpleMajority is the plain count-comparison fallback. A tie resolves
// to rejected, consistent with weighted voting.
func (e *Engine) simpleMajority(submissions map[string]*data.Submission) *data.ConsensusResult {
	approve, reject := 0, 0
	for _, sub := range submissions {
		if sub.Result.Approved {
			approve++
		} else {
			reject++
		}
	}

	total := approve + reject
	decision := data.DecisionRejected
	if approve > reject {
		decision = data.DecisionApproved
	}

	confidence := 0.0
	if total > 0 {
		confidence = float64(max(approve, reject)) / float64(total)
	}

	return &data.ConsensusResult{
		Decision:       decision,
		Confidence:     confidence,
		AgreementCount: max(approve, reject),
		ValidCount:     total,
	}
}

// averageMetrics averages each quality metric over the submissions that
// actually scored it.
func averageMetrics(submissions map[string]*data.Submission) data.QualityMetrics {
	var metrics data.QualityMetrics

	average := func(pick func(*data.SubmissionResult) *float64) float64 {
		sum, count := 0.0, 0
		for _, sub := range submissions {
			if v := pick(&sub.Result); v != nil {
				sum += *v
				count++
			}
		}
		if count == 0 {
			return 0
		}
		return sum / float64(count)
	}

	metrics.FactAccuracy = average(func(r *data.SubmissionResult) *float64 { return r.FactAccuracy })
	metrics.SourceReliability = average(func(r *data.SubmissionResult) *float64 { return r.SourceReliability })
	metrics.BiasScore = average(func(r *data.SubmissionResult) *float64 { return r.BiasScore })
	metrics.PlagiarismScore = average(func(r *data.SubmissionResult) *float64 { return r.PlagiarismScore })

	return metrics
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
