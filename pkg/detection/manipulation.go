package detection

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"content_validation/pkg/config"
	"content_validation/pkg/data"
)

// CoordinationReport holds the heuristic flags for one session's
// submission set.
type CoordinationReport struct {
	SessionID          string  `json:"session_id"`
	CoordinatedTiming  bool    `json:"coordinated_timing"`
	IdenticalResponses bool    `json:"identical_responses"`
	SuspiciousGrouping bool    `json:"suspicious_grouping"`
	Suspicious         bool    `json:"suspicious"`
	Confidence         float64 `json:"confidence"`
	SampleSize         int     `json:"sample_size"`
	GroupOccurrences   int     `json:"group_occurrences"`
}

// BehaviorStats are per-validator aggregates maintained by the caller.
type BehaviorStats struct {
	ValidatorID         string
	ApprovalRate        float64
	AverageResponseTime time.Duration
	ConsistencyScore    float64
}

// BehaviorReport classifies a validator's behavioral risk
type BehaviorReport struct {
	ValidatorID     string   `json:"validator_id"`
	RiskScore       float64  `json:"risk_score"`
	RiskLevel       string   `json:"risk_level"`
	Recommendations []string `json:"recommendations"`
}

// Detector screens sessions for coordination and bot-like behavior.
// Read-only over session data; its only state is the historical
// co-validation group counter.
type Detector struct {
	timingThreshold time.Duration
	similarityFloor float64
	groupLimit      int
	logger          *zap.Logger

	mu              sync.Mutex
	groupHistory    map[string]int
	countedSessions map[string]struct{}
}

// NewDetector creates a manipulation detector
func NewDetector(cfg *config.DetectionConfig, logger *zap.Logger) *Detector {
	return &Detector{
		timingThreshold: cfg.TimingThreshold,
		similarityFloor: cfg.SimilarityFloor,
		groupLimit:      cfg.GroupRepeatLimit,
		logger:          logger,
		groupHistory:    make(map[string]int),
		countedSessions: make(map[string]struct{}),
	}
}

// DetectCoordination analyzes a session's submissions for coordinated
// timing, identical responses and repeated validator grouping. A session
// counts toward its validator group's history once; rescanning the same
// session on later sweeps does not inflate the counter.
func (d *Detector) DetectCoordination(session *data.ValidationSession) *CoordinationReport {
	report := &CoordinationReport{
		SessionID:  session.ID,
		SampleSize: len(session.Submissions),
	}

	report.CoordinatedTiming = d.coordinatedTiming(session.Submissions)
	report.IdenticalResponses = d.identicalResponses(session.Submissions)
	report.SuspiciousGrouping, report.GroupOccurrences = d.suspiciousGrouping(session.ID, session.Submissions)

	flags := 0
	for _, f := range []bool{report.CoordinatedTiming, report.IdenticalResponses, report.SuspiciousGrouping} {
		if f {
			flags++
		}
	}
	report.Suspicious = flags > 0
	report.Confidence = float64(flags) / 3.0

	if report.Suspicious {
		d.logger.Warn("Suspicious validation pattern detected",
			zap.String("sessionID", session.ID),
			zap.Bool("coordinatedTiming", report.CoordinatedTiming),
			zap.Bool("identicalResponses", report.IdenticalResponses),
			zap.Bool("suspiciousGrouping", report.SuspiciousGrouping),
			zap.Float64("confidence", report.Confidence))
	}

	return report
}

// coordinatedTiming flags submission sets whose mean inter-arrival
// interval falls below the threshold.
func (d *Detector) coordinatedTiming(submissions map[string]*data.Submission) bool {
	if len(submissions) < 2 {
		return false
	}

	timestamps := make([]time.Time, 0, len(submissions))
	for _, sub := range submissions {
		timestamps = append(timestamps, sub.Timestamp)
	}
	sort.Slice(timestamps, func(i, j int) bool {
		return timestamps[i].Before(timestamps[j])
	})

	var total time.Duration
	for i := 1; i < len(timestamps); i++ {
		total += timestamps[i].Sub(timestamps[i-1])
	}
	mean := total / time.Duration(len(timestamps)-1)

	return mean < d.timingThreshold
}

// identicalResponses flags sets where too few distinct assessments exist
// relative to the number of submissions.
func (d *Detector) identicalResponses(submissions map[string]*data.Submission) bool {
	if len(submissions) == 0 {
		return false
	}

	unique := make(map[string]struct{}, len(submissions))
	for _, sub := range submissions {
		unique[responseFingerprint(&sub.Result)] = struct{}{}
	}

	ratio := float64(len(unique)) / float64(len(submissions))
	return ratio < d.similarityFloor
}

// suspiciousGrouping flags a validator set that has co-validated together
// more often than the configured limit. The increment is keyed by session
// id so periodic rescans count each session once.
func (d *Detector) suspiciousGrouping(sessionID string, submissions map[string]*data.Submission) (bool, int) {
	if len(submissions) == 0 {
		return false, 0
	}

	ids := make([]string, 0, len(submissions))
	for id := range submissions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	key := strings.Join(ids, ",")

	d.mu.Lock()
	if _, counted := d.countedSessions[sessionID]; !counted {
		d.countedSessions[sessionID] = struct{}{}
		d.groupHistory[key]++
	}
	count := d.groupHistory[key]
	d.mu.Unlock()

	return count > d.groupLimit, count
}

// responseFingerprint hashes the rounded decision triple so that near
// identical assessments collide.
func responseFingerprint(r *data.SubmissionResult) string {
	fact, source := 0.0, 0.0
	if r.FactAccuracy != nil {
		fact = *r.FactAccuracy
	}
	if r.SourceReliability != nil {
		source = *r.SourceReliability
	}

	h := sha256.Sum256([]byte(fmt.Sprintf("%t|%.2f|%.2f", r.Approved, fact, source)))
	return hex.EncodeToString(h[:])
}

// AnalyzeValidatorBehavior scores a validator's historical behavior for
// bot-like or rubber-stamp patterns.
func (d *Detector) AnalyzeValidatorBehavior(stats BehaviorStats) *BehaviorReport {
	report := &BehaviorReport{ValidatorID: stats.ValidatorID}

	if stats.ApprovalRate > 0.95 || stats.ApprovalRate < 0.05 {
		report.RiskScore += 0.3
		report.Recommendations = append(report.Recommendations,
			"approval rate is one-sided; review recent decisions for rubber-stamping")
	}
	if stats.AverageResponseTime < time.Minute {
		report.RiskScore += 0.2
		report.Recommendations = append(report.Recommendations,
			"responses arrive faster than a thorough review allows; check for automation")
	}
	if stats.ConsistencyScore < 0.3 {
		report.RiskScore += 0.2
		report.Recommendations = append(report.Recommendations,
			"assessments are erratic across similar content; consider a probation period")
	}

	switch {
	case report.RiskScore > 0.6:
		report.RiskLevel = "high"
	case report.RiskScore > 0.3:
		report.RiskLevel = "medium"
	default:
		report.RiskLevel = "low"
	}

	return report
}

// GroupHistory returns a copy of the co-validation counters, used by
// periodic scans and tests.
func (d *Detector) GroupHistory() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]int, len(d.groupHistory))
	for k, v := range d.groupHistory {
		out[k] = v
	}
	return out
}

// DetectorState is a snapshot of the cumulative group history, suitable
// for persisting so co-validation counters survive restarts.
type DetectorState struct {
	GroupHistory    map[string]int `json:"group_history"`
	CountedSessions []string       `json:"counted_sessions"`
}

// State captures the detector's group history for persistence.
func (d *Detector) State() DetectorState {
	d.mu.Lock()
	defer d.mu.Unlock()

	state := DetectorState{
		GroupHistory:    make(map[string]int, len(d.groupHistory)),
		CountedSessions: make([]string, 0, len(d.countedSessions)),
	}
	for k, v := range d.groupHistory {
		state.GroupHistory[k] = v
	}
	for id := range d.countedSessions {
		state.CountedSessions = append(state.CountedSessions, id)
	}
	sort.Strings(state.CountedSessions)
	return state
}

// Restore seeds the group history from a previously captured snapshot.
// Counters merge additively, and restored sessions stay deduplicated
// against future scans.
func (d *Detector) Restore(state DetectorState) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, v := range state.GroupHistory {
		d.groupHistory[k] += v
	}
	for _, id := range state.CountedSessions {
		d.countedSessions[id] = struct{}{}
	}
}
