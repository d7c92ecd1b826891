package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestNewValidatorDefaults(t *testing.T) {
	v, err := NewValidator([]byte("public-key"), 1000, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, v.ID)
	assert.Equal(t, ValidatorStatusActive, v.Status)
	assert.Zero(t, v.Reputation)
	assert.Equal(t, []string{SpecializationGeneral}, v.Specializations)
	assert.False(t, v.CreatedAt.IsZero())
}

func TestNewValidatorRejectsBadInput(t *testing.T) {
	_, err := NewValidator(nil, 1000, nil)
	assert.Error(t, err)

	_, err = NewValidator([]byte("pk"), -1, nil)
	assert.ErrorIs(t, err, ErrInvalidStake)
}

func TestHasSpecialization(t *testing.T) {
	specialist := &Validator{Specializations: []string{"news", "science"}}
	assert.True(t, specialist.HasSpecialization("news"))
	assert.False(t, specialist.HasSpecialization("sports"))

	generalist := &Validator{Specializations: []string{SpecializationGeneral}}
	assert.True(t, generalist.HasSpecialization("anything"))
}

func TestSelectionWeight(t *testing.T) {
	v := &Validator{Reputation: 2.0, Stake: 500}
	assert.Equal(t, 1000.0, v.SelectionWeight())
}

func TestRecordValidationCapsHistory(t *testing.T) {
	v := &Validator{}
	for i := 0; i < ValidationHistoryCap+10; i++ {
		v.RecordValidation(ValidationRecord{
			SessionID: "s",
			Timestamp: time.Now().UTC(),
		})
	}
	assert.Len(t, v.ValidationHistory, ValidationHistoryCap)
}

func TestValidatorCloneIsDeep(t *testing.T) {
	v, err := NewValidator([]byte("pk"), 100, []string{"news"})
	require.NoError(t, err)
	v.ValidationHistory = []ValidationRecord{{SessionID: "s1"}}

	clone := v.Clone()
	clone.PublicKey[0] = 'x'
	clone.Specializations[0] = "sports"
	clone.ValidationHistory[0].SessionID = "mutated"

	assert.Equal(t, byte('p'), v.PublicKey[0])
	assert.Equal(t, "news", v.Specializations[0])
	assert.Equal(t, "s1", v.ValidationHistory[0].SessionID)
}

func TestSlashSeverityFraction(t *testing.T) {
	tests := []struct {
		severity SlashSeverity
		want     float64
	}{
		{SlashSeverityMinor, 0.05},
		{SlashSeverityMedium, 0.15},
		{SlashSeverityMajor, 0.30},
		{SlashSeveritySevere, 0.50},
	}
	for _, tt := range tests {
		got, err := tt.severity.Fraction()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := SlashSeverity("apocalyptic").Fraction()
	assert.Error(t, err)
}

func TestContentValidate(t *testing.T) {
	assert.NoError(t, (&Content{ID: "c1", Type: "news"}).Validate())
	assert.ErrorIs(t, (&Content{Type: "news"}).Validate(), ErrInvalidID)
	assert.Error(t, (&Content{ID: "c1"}).Validate())
}

func TestNewSubmissionValidatesScores(t *testing.T) {
	sub, err := NewSubmission("v1", SubmissionResult{
		Approved:     true,
		FactAccuracy: floatPtr(0.9),
	})
	require.NoError(t, err)
	assert.Equal(t, "v1", sub.ValidatorID)
	assert.False(t, sub.Timestamp.IsZero())

	_, err = NewSubmission("", SubmissionResult{})
	assert.Error(t, err)

	_, err = NewSubmission("v1", SubmissionResult{BiasScore: floatPtr(1.2)})
	assert.ErrorIs(t, err, ErrInvalidScore)

	_, err = NewSubmission("v1", SubmissionResult{PlagiarismScore: floatPtr(-0.1)})
	assert.ErrorIs(t, err, ErrInvalidScore)
}

func TestNewValidationSession(t *testing.T) {
	content := &Content{ID: "c1", Type: "news"}

	session, err := NewValidationSession(content, []string{"v1", "v2"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, SessionStatusPending, session.Status)
	assert.Equal(t, "c1", session.ContentID)
	assert.Equal(t, "news", session.ContentType)
	assert.True(t, session.Deadline.After(session.StartTime))
	assert.Empty(t, session.Submissions)

	_, err = NewValidationSession(content, nil, time.Minute)
	assert.Error(t, err)

	_, err = NewValidationSession(content, []string{"v1"}, 0)
	assert.Error(t, err)

	_, err = NewValidationSession(&Content{}, []string{"v1"}, time.Minute)
	assert.Error(t, err)
}

func TestSessionHasValidator(t *testing.T) {
	session := &ValidationSession{ValidatorIDs: []string{"v1", "v2"}}
	assert.True(t, session.HasValidator("v1"))
	assert.False(t, session.HasValidator("v3"))
}

func TestSessionStatusIsTerminal(t *testing.T) {
	assert.False(t, SessionStatusPending.IsTerminal())
	assert.True(t, SessionStatusCompleted.IsTerminal())
	assert.True(t, SessionStatusTimedOut.IsTerminal())
}

func TestSessionCloneIsDeep(t *testing.T) {
	session, err := NewValidationSession(&Content{ID: "c1", Type: "news"}, []string{"v1"}, time.Minute)
	require.NoError(t, err)
	session.Submissions["v1"] = &Submission{ValidatorID: "v1"}
	session.Result = &ConsensusResult{Decision: DecisionApproved}

	clone := session.Clone()
	clone.ValidatorIDs[0] = "other"
	clone.Submissions["v1"].ValidatorID = "mutated"
	clone.Result.Decision = DecisionRejected

	assert.Equal(t, "v1", session.ValidatorIDs[0])
	assert.Equal(t, "v1", session.Submissions["v1"].ValidatorID)
	assert.Equal(t, DecisionApproved, session.Result.Decision)
}
