package validation

import (
	"math"
	"sync"
	"time"

	"content_validation/pkg/data"
)

// session wraps one validation session's record behind its own mutex.
// The submission append, quorum check and status transition happen as a
// single critical section, so consensus is computed at most once per
// session no matter how submissions interleave.
type session struct {
	mu        sync.Mutex
	record    *data.ValidationSession
	threshold float64
}

func newSession(record *data.ValidationSession, threshold float64) *session {
	return &session{
		record:    record,
		threshold: threshold,
	}
}

// quorum is the submission count that triggers consensus.
func (s *session) quorum() int {
	return int(math.Ceil(float64(len(s.record.ValidatorIDs)) * s.threshold))
}

// submit appends a submission and, when it crosses quorum on a still
// pending session, computes consensus via conclude and transitions the
// session to completed. Returns the completed snapshot when this call
// concluded the session.
func (s *session) submit(validatorID string, sub *data.Submission, conclude func(map[string]*data.Submission) *data.ConsensusResult) (*data.ValidationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A session past pending treats any submission as unauthorized,
	// including late arrivals after completion.
	if s.record.Status != data.SessionStatusPending {
		return nil, ErrUnauthorizedValidator
	}
	if !s.record.HasValidator(validatorID) {
		return nil, ErrUnauthorizedValidator
	}
	if _, already := s.record.Submissions[validatorID]; already {
		// Resubmission is rejected, never overwritten.
		return nil, ErrUnauthorizedValidator
	}

	s.record.Submissions[validatorID] = sub

	if len(s.record.Submissions) < s.quorum() {
		return nil, nil
	}

	s.record.Result = conclude(s.record.Submissions)
	s.record.Status = data.SessionStatusCompleted
	s.record.CompletedAt = time.Now().UTC()

	return s.record.Clone(), nil
}

// expireIfDue transitions a pending session past its deadline to timeout.
// Re-checked under the session lock: a session completed before the sweep
// reaches it is never overwritten.
func (s *session) expireIfDue(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.record.Status != data.SessionStatusPending {
		return false
	}
	if now.Before(s.record.Deadline) {
		return false
	}

	s.record.Status = data.SessionStatusTimedOut
	s.record.CompletedAt = now
	return true
}

// snapshot returns a deep copy of the session record.
func (s *session) snapshot() *data.ValidationSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Clone()
}

// status returns the current session status.
func (s *session) status() data.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Status
}

// completedAt returns when the session reached a terminal status, zero
// while pending.
func (s *session) completedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.CompletedAt
}
