package data

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Error variables for consistent error handling
var (
	ErrInvalidData      = errors.New("invalid data format")
	ErrInvalidID        = errors.New("invalid identifier")
	ErrInvalidScore     = errors.New("score out of range")
	ErrInvalidStake     = errors.New("invalid stake")
	ErrMissingSignature = errors.New("missing required signature")
)

// ValidatorStatus represents the lifecycle state of a validator
type ValidatorStatus string

const (
	ValidatorStatusActive   ValidatorStatus = "active"
	ValidatorStatusInactive ValidatorStatus = "inactive"
	ValidatorStatusSlashed  ValidatorStatus = "slashed"
)

// SessionStatus represents the state of a validation session
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusTimedOut  SessionStatus = "timeout"
)

// IsTerminal reports whether the status admits no further transitions.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusTimedOut
}

// Decision represents a consensus outcome
type Decision string

const (
	DecisionApproved    Decision = "approved"
	DecisionRejected    Decision = "rejected"
	DecisionNoConsensus Decision = "no_consensus"
)

// SlashSeverity grades a slashing penalty
type SlashSeverity string

const (
	SlashSeverityMinor  SlashSeverity = "minor"
	SlashSeverityMedium SlashSeverity = "medium"
	SlashSeverityMajor  SlashSeverity = "major"
	SlashSeveritySevere SlashSeverity = "severe"
)

// Fraction returns the share of current reputation removed by the severity.
func (s SlashSeverity) Fraction() (float64, error) {
	switch s {
	case SlashSeverityMinor:
		return 0.05, nil
	case SlashSeverityMedium:
		return 0.15, nil
	case SlashSeverityMajor:
		return 0.30, nil
	case SlashSeveritySevere:
		return 0.50, nil
	default:
		return 0, fmt.Errorf("unknown slash severity: %s", s)
	}
}

// SpecializationGeneral matches every content type during selection.
const SpecializationGeneral = "general"

// ValidationHistoryCap bounds the recent-validation list kept per validator.
const ValidationHistoryCap = 50

// Validator represents a registered network participant scoring content
type Validator struct {
	ID                string             `json:"id"`
	PublicKey         []byte             `json:"public_key"`
	Reputation        float64            `json:"reputation"`
	Stake             float64            `json:"stake"`
	Specializations   []string           `json:"specializations"`
	Status            ValidatorStatus    `json:"status"`
	LastActivity      time.Time          `json:"last_activity"`
	ValidationHistory []ValidationRecord `json:"validation_history,omitempty"`
	SlashingHistory   []SlashingEvent    `json:"slashing_history,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// NewValidator creates a new Validator instance with validation
func NewValidator(publicKey []byte, stake float64, specializations []string) (*Validator, error) {
	if len(publicKey) == 0 {
		return nil, errors.New("public key cannot be empty")
	}
	if stake < 0 {
		return nil, ErrInvalidStake
	}
	if len(specializations) == 0 {
		specializations = []string{SpecializationGeneral}
	}

	now := time.Now().UTC()
	return &Validator{
		ID:              uuid.New().String(),
		PublicKey:       publicKey,
		Stake:           stake,
		Specializations: specializations,
		Status:          ValidatorStatusActive,
		LastActivity:    now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// HasSpecialization reports whether the validator covers the content type,
// either directly or through the general specialization.
func (v *Validator) HasSpecialization(contentType string) bool {
	for _, s := range v.Specializations {
		if s == contentType || s == SpecializationGeneral {
			return true
		}
	}
	return false
}

// SelectionWeight is the ordering key used when selecting validators.
func (v *Validator) SelectionWeight() float64 {
	return v.Reputation * v.Stake
}

// RecordValidation appends a record to the bounded validation history.
func (v *Validator) RecordValidation(rec ValidationRecord) {
	v.ValidationHistory = append(v.ValidationHistory, rec)
	if len(v.ValidationHistory) > ValidationHistoryCap {
		v.ValidationHistory = v.ValidationHistory[len(v.ValidationHistory)-ValidationHistoryCap:]
	}
	v.LastActivity = rec.Timestamp
	v.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy safe to hand out as a snapshot.
func (v *Validator) Clone() *Validator {
	cp := *v
	cp.PublicKey = append([]byte(nil), v.PublicKey...)
	cp.Specializations = append([]string(nil), v.Specializations...)
	cp.ValidationHistory = append([]ValidationRecord(nil), v.ValidationHistory...)
	cp.SlashingHistory = append([]SlashingEvent(nil), v.SlashingHistory...)
	return &cp
}

// ValidationRecord summarizes one session from a validator's perspective
type ValidationRecord struct {
	SessionID string    `json:"session_id"`
	ContentID string    `json:"content_id"`
	Approved  bool      `json:"approved"`
	Aligned   bool      `json:"aligned"`
	Delta     float64   `json:"delta"`
	Timestamp time.Time `json:"timestamp"`
}

// SlashingEvent records an administrative reputation penalty
type SlashingEvent struct {
	ID          string        `json:"id"`
	ValidatorID string        `json:"validator_id"`
	Reason      string        `json:"reason"`
	Severity    SlashSeverity `json:"severity"`
	Amount      float64       `json:"amount"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Content is the item under validation. Owned by the external content
// source; sessions reference it, never mutate it.
type Content struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Title       string            `json:"title,omitempty"`
	Body        string            `json:"body,omitempty"`
	Source      string            `json:"source,omitempty"`
	PublishedAt time.Time         `json:"published_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Validate checks the fields the network requires
func (c *Content) Validate() error {
	if c.ID == "" {
		return ErrInvalidID
	}
	if c.Type == "" {
		return errors.New("content type cannot be empty")
	}
	return nil
}

// SubmissionResult holds a single validator's assessment of a content item.
// Quality metrics are optional; nil means the validator did not score them.
type SubmissionResult struct {
	Approved          bool     `json:"approved"`
	FactAccuracy      *float64 `json:"fact_accuracy,omitempty"`
	SourceReliability *float64 `json:"source_reliability,omitempty"`
	BiasScore         *float64 `json:"bias_score,omitempty"`
	PlagiarismScore   *float64 `json:"plagiarism_score,omitempty"`
	Analysis          string   `json:"analysis,omitempty"`
	Signature         []byte   `json:"signature,omitempty"`
}

// Submission is one validator's recorded assessment. Immutable once recorded.
type Submission struct {
	ValidatorID string           `json:"validator_id"`
	Result      SubmissionResult `json:"result"`
	Timestamp   time.Time        `json:"timestamp"`
}

// NewSubmission creates a Submission with validation
func NewSubmission(validatorID string, result SubmissionResult) (*Submission, error) {
	if validatorID == "" {
		return nil, errors.New("validator ID cannot be empty")
	}
	for _, m := range []*float64{result.FactAccuracy, result.SourceReliability, result.BiasScore, result.PlagiarismScore} {
		if m != nil && (*m < 0 || *m > 1) {
			return nil, ErrInvalidScore
		}
	}
	return &Submission{
		ValidatorID: validatorID,
		Result:      result,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// QualityMetrics holds quality scores averaged across submissions,
// ignoring submissions that left a metric unset.
type QualityMetrics struct {
	FactAccuracy      float64 `json:"fact_accuracy"`
	SourceReliability float64 `json:"source_reliability"`
	BiasScore         float64 `json:"bias_score"`
	PlagiarismScore   float64 `json:"plagiarism_score"`
}

// ConsensusResult is the combined outcome of a validation session
type ConsensusResult struct {
	Decision       Decision       `json:"decision"`
	Confidence     float64        `json:"confidence"`
	Algorithm      string         `json:"algorithm"`
	ApproveWeight  float64        `json:"approve_weight,omitempty"`
	RejectWeight   float64        `json:"reject_weight,omitempty"`
	AgreementCount int            `json:"agreement_count,omitempty"`
	ValidCount     int            `json:"valid_count,omitempty"`
	ByzantineSafe  bool           `json:"byzantine_safe,omitempty"`
	Metrics        QualityMetrics `json:"metrics"`
	ComputedAt     time.Time      `json:"computed_at"`
}

// ValidationSession is a time-boxed unit of work collecting submissions
// for one content item. The validator set is fixed at creation.
type ValidationSession struct {
	ID           string                 `json:"id"`
	ContentID    string                 `json:"content_id"`
	ContentType  string                 `json:"content_type"`
	ValidatorIDs []string               `json:"validator_ids"`
	Submissions  map[string]*Submission `json:"submissions"`
	Status       SessionStatus          `json:"status"`
	StartTime    time.Time              `json:"start_time"`
	Deadline     time.Time              `json:"deadline"`
	Result       *ConsensusResult       `json:"result,omitempty"`
	CompletedAt  time.Time              `json:"completed_at,omitempty"`
}

// NewValidationSession creates a pending session for the given content
func NewValidationSession(content *Content, validatorIDs []string, timeout time.Duration) (*ValidationSession, error) {
	if err := content.Validate(); err != nil {
		return nil, fmt.Errorf("validating content: %w", err)
	}
	if len(validatorIDs) == 0 {
		return nil, errors.New("validator set cannot be empty")
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be positive")
	}

	now := time.Now().UTC()
	return &ValidationSession{
		ID:           uuid.New().String(),
		ContentID:    content.ID,
		ContentType:  content.Type,
		ValidatorIDs: append([]string(nil), validatorIDs...),
		Submissions:  make(map[string]*Submission),
		Status:       SessionStatusPending,
		StartTime:    now,
		Deadline:     now.Add(timeout),
	}, nil
}

// HasValidator reports whether the id is part of the fixed validator set.
func (s *ValidationSession) HasValidator(id string) bool {
	for _, v := range s.ValidatorIDs {
		if v == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out as a snapshot.
func (s *ValidationSession) Clone() *ValidationSession {
	cp := *s
	cp.ValidatorIDs = append([]string(nil), s.ValidatorIDs...)
	cp.Submissions = make(map[string]*Submission, len(s.Submissions))
	for id, sub := range s.Submissions {
		subCopy := *sub
		cp.Submissions[id] = &subCopy
	}
	if s.Result != nil {
		res := *s.Result
		cp.Result = &res
	}
	return &cp
}
