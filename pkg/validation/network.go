package validation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"content_validation/pkg/config"
	"content_validation/pkg/consensus"
	"content_validation/pkg/data"
	"content_validation/pkg/utils"
)

var (
	// ErrInsufficientValidators means too few eligible validators exist
	// for the requested content type; no session is created.
	ErrInsufficientValidators = errors.New("insufficient eligible validators")
	// ErrValidationNotFound means the session id is unknown.
	ErrValidationNotFound = errors.New("validation session not found")
	// ErrUnauthorizedValidator means the validator is not part of the
	// session, has already submitted, or the session is already resolved.
	ErrUnauthorizedValidator = errors.New("validator not authorized for session")
)

// DefaultSessionRetention bounds how many resolved sessions stay cached
// when the config leaves session_retention unset. Evicted sessions
// remain available through the repository.
const DefaultSessionRetention = 256

// ReputationUpdater receives completed sessions for trust adjustment.
type ReputationUpdater interface {
	ApplySessionOutcome(ctx context.Context, session *data.ValidationSession) error
}

// Notifier announces new sessions to selected validators. Best effort:
// the network logs failures and never rolls back session creation.
type Notifier interface {
	NotifyValidators(ctx context.Context, validators []*data.Validator, session *data.ValidationSession) error
}

// NetworkStatus is a coarse view of network state
type NetworkStatus struct {
	TotalValidators   int    `json:"total_validators"`
	ActiveValidators  int    `json:"active_validators"`
	ActiveValidations int    `json:"active_validations"`
	NetworkHealth     string `json:"network_health"`
}

// NetworkMetrics tracks orchestrator counters
type NetworkMetrics struct {
	SessionsStarted   int64
	SessionsCompleted int64
	SessionsTimedOut  int64
	AverageLatency    time.Duration
	LastUpdate        time.Time
	mu                sync.Mutex
}

// Network orchestrates content validation: it selects validators, opens
// time-boxed sessions, collects submissions, triggers consensus at quorum
// and sweeps timed-out sessions.
type Network struct {
	registry   *Registry
	engine     *consensus.Engine
	reputation ReputationUpdater
	notifier   Notifier
	repo       data.Repository
	cfg        *config.NetworkConfig
	logger     *zap.Logger
	metrics    *NetworkMetrics

	mu       sync.RWMutex
	sessions map[string]*session

	stopOnce sync.Once
	stopCh   chan struct{}
	done     sync.WaitGroup
}

// NewNetwork creates a validation network orchestrator
func NewNetwork(registry *Registry, engine *consensus.Engine, reputation ReputationUpdater, notifier Notifier, repo data.Repository, cfg *config.NetworkConfig, logger *zap.Logger) *Network {
	return &Network{
		registry:   registry,
		engine:     engine,
		reputation: reputation,
		notifier:   notifier,
		repo:       repo,
		cfg:        cfg,
		logger:     logger,
		metrics:    &NetworkMetrics{},
		sessions:   make(map[string]*session),
		stopCh:     make(chan struct{}),
	}
}

// Start restores pending sessions from the repository and launches the
// background timeout monitor.
func (n *Network) Start(ctx context.Context) error {
	active, err := n.repo.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("restoring active sessions: %w", err)
	}

	n.mu.Lock()
	for _, record := range active {
		n.sessions[record.ID] = newSession(record, n.cfg.ConsensusThreshold)
	}
	n.mu.Unlock()

	n.done.Add(1)
	go n.monitor(ctx)

	n.logger.Info("Validation network started",
		zap.Int("restoredSessions", len(active)),
		zap.Duration("monitorInterval", n.cfg.MonitorInterval))
	return nil
}

// Stop halts the background monitor
func (n *Network) Stop() {
	n.stopOnce.Do(func() { close(n.stopCh) })
	n.done.Wait()
}

// SubmitContent opens a validation session for the content item and
// returns its id. Fails with ErrInsufficientValidators when too few
// eligible validators exist; no session is created in that case.
func (n *Network) SubmitContent(ctx context.Context, content *data.Content) (string, error) {
	if err := content.Validate(); err != nil {
		return "", fmt.Errorf("validating content: %w", err)
	}

	selected := n.registry.Select(content.Type, n.cfg.MaxValidators)
	if len(selected) < n.cfg.MinValidators {
		return "", fmt.Errorf("%w: need %d for type %q, have %d",
			ErrInsufficientValidators, n.cfg.MinValidators, content.Type, len(selected))
	}

	ids := make([]string, len(selected))
	for i, v := range selected {
		ids[i] = v.ID
	}

	record, err := data.NewValidationSession(content, ids, n.cfg.ValidationTimeout)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}

	if err := n.repo.SaveSession(ctx, record); err != nil {
		return "", fmt.Errorf("saving session: %w", err)
	}

	sess := newSession(record, n.cfg.ConsensusThreshold)
	n.mu.Lock()
	n.sessions[record.ID] = sess
	n.mu.Unlock()

	n.metrics.mu.Lock()
	n.metrics.SessionsStarted++
	n.metrics.LastUpdate = time.Now()
	n.metrics.mu.Unlock()

	// Fire-and-forget: notification failure never fails session creation.
	snapshot := sess.snapshot()
	utils.SafeGo(n.logger, func() {
		if err := n.notifier.NotifyValidators(context.Background(), selected, snapshot); err != nil {
			n.logger.Warn("Validator notification failed",
				zap.String("sessionID", snapshot.ID),
				zap.Error(err))
		}
	})

	n.logger.Info("Validation session opened",
		zap.String("sessionID", record.ID),
		zap.String("contentID", content.ID),
		zap.String("contentType", content.Type),
		zap.Int("validators", len(ids)),
		zap.Time("deadline", record.Deadline))

	return record.ID, nil
}

// SubmitValidation records a validator's assessment for a session. The
// submission that crosses quorum triggers consensus exactly once.
func (n *Network) SubmitValidation(ctx context.Context, sessionID, validatorID string, result data.SubmissionResult) error {
	n.mu.RLock()
	sess, exists := n.sessions[sessionID]
	n.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrValidationNotFound, sessionID)
	}

	sub, err := data.NewSubmission(validatorID, result)
	if err != nil {
		return fmt.Errorf("creating submission: %w", err)
	}

	completed, err := sess.submit(validatorID, sub, func(subs map[string]*data.Submission) *data.ConsensusResult {
		return n.engine.Compute(subs, n.registry.Snapshots(sess.record.ValidatorIDs))
	})
	if err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}

	if completed == nil {
		n.persistSession(ctx, sess.snapshot())
		return nil
	}

	n.concludeSession(ctx, completed)
	return nil
}

// GetSession returns a snapshot of a session
func (n *Network) GetSession(sessionID string) (*data.ValidationSession, error) {
	n.mu.RLock()
	sess, exists := n.sessions[sessionID]
	n.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrValidationNotFound, sessionID)
	}
	return sess.snapshot(), nil
}

// Sessions returns snapshots of all sessions in the given status.
// An empty status returns everything.
func (n *Network) Sessions(status data.SessionStatus) []*data.ValidationSession {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]*data.ValidationSession, 0, len(n.sessions))
	for _, sess := range n.sessions {
		if status != "" && sess.status() != status {
			continue
		}
		out = append(out, sess.snapshot())
	}
	return out
}

// Status returns network counts and a coarse health classification
func (n *Network) Status() NetworkStatus {
	total, active := n.registry.Counts()

	n.mu.RLock()
	pending := 0
	for _, sess := range n.sessions {
		if sess.status() == data.SessionStatusPending {
			pending++
		}
	}
	n.mu.RUnlock()

	health := "healthy"
	switch {
	case active < n.cfg.MinValidators:
		health = "critical"
	case active < n.cfg.MaxValidators/2:
		health = "degraded"
	}

	return NetworkStatus{
		TotalValidators:   total,
		ActiveValidators:  active,
		ActiveValidations: pending,
		NetworkHealth:     health,
	}
}

// Metrics returns a copy of the orchestrator counters
func (n *Network) Metrics() NetworkMetrics {
	n.metrics.mu.Lock()
	defer n.metrics.mu.Unlock()
	return NetworkMetrics{
		SessionsStarted:   n.metrics.SessionsStarted,
		SessionsCompleted: n.metrics.SessionsCompleted,
		SessionsTimedOut:  n.metrics.SessionsTimedOut,
		AverageLatency:    n.metrics.AverageLatency,
		LastUpdate:        n.metrics.LastUpdate,
	}
}

// SweepTimeouts transitions every pending session past its deadline to
// timeout. Sessions completed before the sweep reaches them are left
// untouched. Returns the number of sessions expired.
func (n *Network) SweepTimeouts(ctx context.Context) int {
	now := time.Now().UTC()

	n.mu.RLock()
	candidates := make([]*session, 0, len(n.sessions))
	for _, sess := range n.sessions {
		candidates = append(candidates, sess)
	}
	n.mu.RUnlock()

	expired := 0
	for _, sess := range candidates {
		if !sess.expireIfDue(now) {
			continue
		}
		expired++

		snapshot := sess.snapshot()
		n.persistSession(ctx, snapshot)

		n.metrics.mu.Lock()
		n.metrics.SessionsTimedOut++
		n.metrics.LastUpdate = time.Now()
		n.metrics.mu.Unlock()

		n.logger.Warn("Validation session timed out",
			zap.String("sessionID", snapshot.ID),
			zap.Int("submissions", len(snapshot.Submissions)),
			zap.Int("validators", len(snapshot.ValidatorIDs)))
	}

	if expired > 0 {
		n.pruneTerminal()
	}
	return expired
}

// Private methods

func (n *Network) concludeSession(ctx context.Context, completed *data.ValidationSession) {
	n.persistSession(ctx, completed)

	n.metrics.mu.Lock()
	n.metrics.SessionsCompleted++
	latency := completed.CompletedAt.Sub(completed.StartTime)
	if n.metrics.AverageLatency == 0 {
		n.metrics.AverageLatency = latency
	} else {
		n.metrics.AverageLatency = (n.metrics.AverageLatency*9 + latency) / 10
	}
	n.metrics.LastUpdate = time.Now()
	n.metrics.mu.Unlock()

	n.logger.Info("Consensus reached",
		zap.String("sessionID", completed.ID),
		zap.String("decision", string(completed.Result.Decision)),
		zap.Float64("confidence", completed.Result.Confidence),
		zap.Int("submissions", len(completed.Submissions)))

	if err := n.reputation.ApplySessionOutcome(ctx, completed); err != nil {
		n.logger.Error("Reputation update failed",
			zap.String("sessionID", completed.ID),
			zap.Error(err))
	}

	n.pruneTerminal()
}

// pruneTerminal evicts the oldest resolved sessions beyond the retention
// window. Pending sessions are never evicted; evicted records stay in
// the repository.
func (n *Network) pruneTerminal() {
	retention := n.cfg.SessionRetention
	if retention <= 0 {
		retention = DefaultSessionRetention
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	type resolved struct {
		id    string
		ended time.Time
	}
	terminal := make([]resolved, 0, len(n.sessions))
	for id, sess := range n.sessions {
		if sess.status().IsTerminal() {
			terminal = append(terminal, resolved{id: id, ended: sess.completedAt()})
		}
	}
	if len(terminal) <= retention {
		return
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].ended.Before(terminal[j].ended)
	})
	for _, s := range terminal[:len(terminal)-retention] {
		delete(n.sessions, s.id)
	}
}

func (n *Network) persistSession(ctx context.Context, snapshot *data.ValidationSession) {
	err := utils.RetryWithBackoff(ctx, func() error {
		return n.repo.UpdateSession(ctx, snapshot)
	}, nil)
	if err != nil {
		n.logger.Error("Persisting session failed",
			zap.String("sessionID", snapshot.ID),
			zap.Error(err))
	}
}

// monitor runs the fixed-interval timeout sweep until Stop or context
// cancellation.
func (n *Network) monitor(ctx context.Context) {
	defer n.done.Done()

	ticker := time.NewTicker(n.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.SweepTimeouts(ctx)
		}
	}
}
