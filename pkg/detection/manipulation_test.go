package detection

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"content_validation/pkg/config"
	"content_validation/pkg/data"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	return NewDetector(&config.DetectionConfig{
		TimingThreshold:  30 * time.Second,
		SimilarityFloor:  0.5,
		GroupRepeatLimit: 3,
	}, zap.NewNop())
}

func floatPtr(v float64) *float64 { return &v }

// sessionWithSubmissions builds a completed session whose submissions
// arrive at the given spacing. Each submission gets distinct scores unless
// identical is set.
func sessionWithSubmissions(id string, count int, spacing time.Duration, identical bool) *data.ValidationSession {
	return groupSession(id, id, count, spacing, identical)
}

// groupSession is sessionWithSubmissions with the validator group keyed
// separately from the session, so the same group can recur across
// distinct sessions.
func groupSession(id, group string, count int, spacing time.Duration, identical bool) *data.ValidationSession {
	base := time.Now().UTC().Add(-time.Hour)
	submissions := make(map[string]*data.Submission, count)
	for i := 0; i < count; i++ {
		validatorID := fmt.Sprintf("%s-v%d", group, i)
		fact := 0.9
		if !identical {
			fact = 0.1 + 0.8*float64(i)/float64(count)
		}
		submissions[validatorID] = &data.Submission{
			ValidatorID: validatorID,
			Result: data.SubmissionResult{
				Approved:     true,
				FactAccuracy: floatPtr(fact),
			},
			Timestamp: base.Add(time.Duration(i) * spacing),
		}
	}
	return &data.ValidationSession{
		ID:          id,
		ContentID:   "content-" + id,
		Submissions: submissions,
		Status:      data.SessionStatusCompleted,
	}
}

func TestDetectCoordinationFlagsTightTiming(t *testing.T) {
	detector := newTestDetector(t)

	// Submissions 5 seconds apart, all reporting the same assessment.
	session := sessionWithSubmissions("s1", 4, 5*time.Second, true)
	report := detector.DetectCoordination(session)

	assert.True(t, report.CoordinatedTiming)
	assert.True(t, report.IdenticalResponses)
	assert.True(t, report.Suspicious)
	assert.InDelta(t, 2.0/3.0, report.Confidence, 1e-9)
	assert.Equal(t, 4, report.SampleSize)
}

func TestDetectCoordinationCleanSession(t *testing.T) {
	detector := newTestDetector(t)

	session := sessionWithSubmissions("s1", 4, 5*time.Minute, false)
	report := detector.DetectCoordination(session)

	assert.False(t, report.CoordinatedTiming)
	assert.False(t, report.IdenticalResponses)
	assert.False(t, report.SuspiciousGrouping)
	assert.False(t, report.Suspicious)
	assert.Zero(t, report.Confidence)
}

func TestCoordinatedTimingNeedsTwoSubmissions(t *testing.T) {
	detector := newTestDetector(t)

	session := sessionWithSubmissions("s1", 1, 0, true)
	report := detector.DetectCoordination(session)

	assert.False(t, report.CoordinatedTiming)
}

func TestIdenticalResponsesRatio(t *testing.T) {
	detector := newTestDetector(t)

	// Two distinct assessments across five submissions: ratio 0.4 < 0.5.
	submissions := make(map[string]*data.Submission)
	for i := 0; i < 5; i++ {
		fact := 0.9
		if i == 0 {
			fact = 0.2
		}
		id := fmt.Sprintf("v%d", i)
		submissions[id] = &data.Submission{
			ValidatorID: id,
			Result:      data.SubmissionResult{Approved: true, FactAccuracy: floatPtr(fact)},
			Timestamp:   time.Now().UTC().Add(time.Duration(i) * time.Hour),
		}
	}

	report := detector.DetectCoordination(&data.ValidationSession{ID: "s1", Submissions: submissions})
	assert.True(t, report.IdenticalResponses)
	assert.False(t, report.CoordinatedTiming)
}

func TestSuspiciousGroupingAfterRepeatedSessions(t *testing.T) {
	detector := newTestDetector(t)

	// The same validator set co-validating a fourth session crosses the limit.
	for i := 0; i < 3; i++ {
		session := groupSession(fmt.Sprintf("s%d", i), "ring", 3, time.Hour, false)
		report := detector.DetectCoordination(session)
		assert.False(t, report.SuspiciousGrouping, "occurrence %d should be under the limit", i+1)
	}

	session := groupSession("s3", "ring", 3, time.Hour, false)
	report := detector.DetectCoordination(session)
	assert.True(t, report.SuspiciousGrouping)
	assert.Equal(t, 4, report.GroupOccurrences)
	assert.True(t, report.Suspicious)

	history := detector.GroupHistory()
	require.Len(t, history, 1)
	for _, count := range history {
		assert.Equal(t, 4, count)
	}
}

func TestRescanDoesNotInflateGroupHistory(t *testing.T) {
	detector := newTestDetector(t)

	// Periodic sweeps revisit completed sessions; the group counter must
	// reflect distinct sessions, not scan passes.
	session := sessionWithSubmissions("s1", 3, time.Hour, false)
	for i := 0; i < 4; i++ {
		report := detector.DetectCoordination(session)
		assert.False(t, report.SuspiciousGrouping)
		assert.Equal(t, 1, report.GroupOccurrences)
	}

	history := detector.GroupHistory()
	require.Len(t, history, 1)
	for _, count := range history {
		assert.Equal(t, 1, count)
	}
}

func TestStateRestoreSeedsGroupHistory(t *testing.T) {
	first := newTestDetector(t)
	for i := 0; i < 3; i++ {
		first.DetectCoordination(groupSession(fmt.Sprintf("s%d", i), "ring", 3, time.Hour, false))
	}

	state := first.State()
	require.Len(t, state.CountedSessions, 3)

	second := newTestDetector(t)
	second.Restore(state)
	assert.Equal(t, first.GroupHistory(), second.GroupHistory())

	// A restored session rescanned after restart still counts once.
	report := second.DetectCoordination(groupSession("s0", "ring", 3, time.Hour, false))
	assert.Equal(t, 3, report.GroupOccurrences)

	// A genuinely new session by the same group crosses the limit.
	report = second.DetectCoordination(groupSession("s9", "ring", 3, time.Hour, false))
	assert.True(t, report.SuspiciousGrouping)
	assert.Equal(t, 4, report.GroupOccurrences)
}

func TestDifferentGroupsTrackedSeparately(t *testing.T) {
	detector := newTestDetector(t)

	a := detector.DetectCoordination(sessionWithSubmissions("a", 3, time.Hour, false))
	b := detector.DetectCoordination(sessionWithSubmissions("b", 3, time.Hour, false))

	assert.Equal(t, 1, a.GroupOccurrences)
	assert.Equal(t, 1, b.GroupOccurrences)
	assert.Len(t, detector.GroupHistory(), 2)
}

func TestAnalyzeValidatorBehaviorRiskLevels(t *testing.T) {
	detector := newTestDetector(t)

	tests := []struct {
		name      string
		stats     BehaviorStats
		wantLevel string
		wantScore float64
	}{
		{
			name: "rubber stamp bot",
			stats: BehaviorStats{
				ValidatorID:         "v1",
				ApprovalRate:        0.99,
				AverageResponseTime: 10 * time.Second,
				ConsistencyScore:    0.2,
			},
			wantLevel: "high",
			wantScore: 0.7,
		},
		{
			name: "fast responder",
			stats: BehaviorStats{
				ValidatorID:         "v2",
				ApprovalRate:        0.6,
				AverageResponseTime: 30 * time.Second,
				ConsistencyScore:    0.25,
			},
			wantLevel: "medium",
			wantScore: 0.4,
		},
		{
			name: "healthy validator",
			stats: BehaviorStats{
				ValidatorID:         "v3",
				ApprovalRate:        0.7,
				AverageResponseTime: 10 * time.Minute,
				ConsistencyScore:    0.8,
			},
			wantLevel: "low",
			wantScore: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := detector.AnalyzeValidatorBehavior(tt.stats)
			assert.Equal(t, tt.wantLevel, report.RiskLevel)
			assert.InDelta(t, tt.wantScore, report.RiskScore, 1e-9)
			if tt.wantScore == 0 {
				assert.Empty(t, report.Recommendations)
			} else {
				assert.NotEmpty(t, report.Recommendations)
			}
		})
	}
}

func TestRejectionStampAlsoFlagged(t *testing.T) {
	detector := newTestDetector(t)

	report := detector.AnalyzeValidatorBehavior(BehaviorStats{
		ValidatorID:         "v1",
		ApprovalRate:        0.01,
		AverageResponseTime: 5 * time.Minute,
		ConsistencyScore:    0.9,
	})

	assert.InDelta(t, 0.3, report.RiskScore, 1e-9)
	assert.Equal(t, "medium", report.RiskLevel)
}
