package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Conflict penalty per registered conflict of interest.
const conflictPenalty = 0.2

// Conflict records a declared conflict of interest against a validation.
type Conflict struct {
	ValidatorID  string    `json:"validator_id"`
	Description  string    `json:"description"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ProcessProfile carries the normalized process observations the auditor
// scores. Every field is a score in [0,1] where 1 is best; callers derive
// them from their own process telemetry.
type ProcessProfile struct {
	ValidationID          string
	Transparency          float64
	FinancialIndependence float64
	PoliticalIndependence float64
	CorporateIndependence float64
	ProcessBias           float64
}

// IndependenceReport scores the validation process, not any single
// decision.
type IndependenceReport struct {
	ValidationID       string  `json:"validation_id"`
	Transparency       float64 `json:"transparency"`
	Independence       float64 `json:"independence"`
	ProcessBias        float64 `json:"process_bias"`
	ConflictOfInterest float64 `json:"conflict_of_interest"`
	Overall            float64 `json:"overall"`
	Status             string  `json:"status"`
}

// Auditor evaluates editorial independence of the validation process.
type Auditor struct {
	logger *zap.Logger

	mu        sync.Mutex
	conflicts map[string][]Conflict
}

// NewAuditor creates an editorial independence auditor
func NewAuditor(logger *zap.Logger) *Auditor {
	return &Auditor{
		logger:    logger,
		conflicts: make(map[string][]Conflict),
	}
}

// RegisterConflict declares a conflict of interest for a validation.
func (a *Auditor) RegisterConflict(validationID string, conflict Conflict) {
	if conflict.RegisteredAt.IsZero() {
		conflict.RegisteredAt = time.Now().UTC()
	}

	a.mu.Lock()
	a.conflicts[validationID] = append(a.conflicts[validationID], conflict)
	a.mu.Unlock()

	a.logger.Info("Conflict of interest registered",
		zap.String("validationID", validationID),
		zap.String("validatorID", conflict.ValidatorID))
}

// Conflicts returns the conflicts registered for a validation.
func (a *Auditor) Conflicts(validationID string) []Conflict {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Conflict(nil), a.conflicts[validationID]...)
}

// AuditProcess combines four equally weighted sub-scores into an overall
// independence assessment: transparency, independence (mean of financial,
// political and corporate factors), process bias, and conflicts of
// interest (penalized per registered conflict, floored at zero).
func (a *Auditor) AuditProcess(profile ProcessProfile) *IndependenceReport {
	independence := (profile.FinancialIndependence +
		profile.PoliticalIndependence +
		profile.CorporateIndependence) / 3.0

	a.mu.Lock()
	conflictCount := len(a.conflicts[profile.ValidationID])
	a.mu.Unlock()

	conflictScore := 1.0 - conflictPenalty*float64(conflictCount)
	if conflictScore < 0 {
		conflictScore = 0
	}

	report := &IndependenceReport{
		ValidationID:       profile.ValidationID,
		Transparency:       profile.Transparency,
		Independence:       independence,
		ProcessBias:        profile.ProcessBias,
		ConflictOfInterest: conflictScore,
	}
	report.Overall = (report.Transparency + report.Independence +
		report.ProcessBias + report.ConflictOfInterest) / 4.0

	switch {
	case report.Overall > 0.8:
		report.Status = "excellent"
	case report.Overall > 0.6:
		report.Status = "good"
	default:
		report.Status = "needs_improvement"
	}

	if report.Status == "needs_improvement" {
		a.logger.Warn("Editorial independence below target",
			zap.String("validationID", profile.ValidationID),
			zap.Float64("overall", report.Overall),
			zap.Int("conflicts", conflictCount))
	}

	return report
}
