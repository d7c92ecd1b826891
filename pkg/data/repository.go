package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicate     = errors.New("duplicate record")
	ErrInvalidFilter = errors.New("invalid filter parameters")
)

// Repository defines the interface for durable validator and session state.
// The core never assumes a specific storage technology.
type Repository interface {
	// Validator operations
	SaveValidator(ctx context.Context, validator *Validator) error
	GetValidator(ctx context.Context, id string) (*Validator, error)
	ListValidators(ctx context.Context, filter ValidatorFilter) ([]*Validator, error)
	UpdateValidator(ctx context.Context, validator *Validator) error

	// Session operations
	SaveSession(ctx context.Context, session *ValidationSession) error
	GetSession(ctx context.Context, id string) (*ValidationSession, error)
	UpdateSession(ctx context.Context, session *ValidationSession) error
	ListActiveSessions(ctx context.Context) ([]*ValidationSession, error)

	// Slashing operations
	SaveSlashingEvent(ctx context.Context, event *SlashingEvent) error
	GetSlashingEvents(ctx context.Context, validatorID string) ([]*SlashingEvent, error)
}

// ValidatorFilter defines filter parameters for validator queries
type ValidatorFilter struct {
	Status         ValidatorStatus
	Specialization string
	MinReputation  *float64
	Limit          int
	Offset         int
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRepository creates a new PostgreSQL repository instance
func NewPostgresRepository(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresRepository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close releases all database resources
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// SaveValidator persists a validator record
func (r *PostgresRepository) SaveValidator(ctx context.Context, validator *Validator) error {
	validationHistory, slashingHistory, err := marshalHistories(validator)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO validators (
			id, public_key, reputation, stake, specializations, status,
			last_activity, validation_history, slashing_history, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	_, err = r.pool.Exec(ctx, query,
		validator.ID, validator.PublicKey, validator.Reputation, validator.Stake,
		validator.Specializations, string(validator.Status), validator.LastActivity,
		validationHistory, slashingHistory, validator.CreatedAt, validator.UpdatedAt,
	)
	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting validator: %w", err)
	}

	return nil
}

// GetValidator retrieves a validator by ID
func (r *PostgresRepository) GetValidator(ctx context.Context, id string) (*Validator, error) {
	query := `
		SELECT id, public_key, reputation, stake, specializations, status,
			   last_activity, validation_history, slashing_history, created_at, updated_at
		FROM validators
		WHERE id = $1`

	return r.scanValidator(r.pool.QueryRow(ctx, query, id))
}

// ListValidators retrieves validators matching the filter
func (r *PostgresRepository) ListValidators(ctx context.Context, filter ValidatorFilter) ([]*Validator, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, ErrInvalidFilter
	}

	query := `
		SELECT id, public_key, reputation, stake, specializations, status,
			   last_activity, validation_history, slashing_history, created_at, updated_at
		FROM validators
		WHERE 1=1`

	args := make([]interface{}, 0)
	argCount := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(filter.Status))
		argCount++
	}

	if filter.Specialization != "" {
		query += fmt.Sprintf(" AND $%d = ANY(specializations)", argCount)
		args = append(args, filter.Specialization)
		argCount++
	}

	if filter.MinReputation != nil {
		query += fmt.Sprintf(" AND reputation >= $%d", argCount)
		args = append(args, *filter.MinReputation)
		argCount++
	}

	query += " ORDER BY reputation * stake DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying validators: %w", err)
	}
	defer rows.Close()

	var validators []*Validator
	for rows.Next() {
		v, err := r.scanValidator(rows)
		if err != nil {
			return nil, err
		}
		validators = append(validators, v)
	}

	return validators, rows.Err()
}

// UpdateValidator persists changes to an existing validator
func (r *PostgresRepository) UpdateValidator(ctx context.Context, validator *Validator) error {
	validationHistory, slashingHistory, err := marshalHistories(validator)
	if err != nil {
		return err
	}

	query := `
		UPDATE validators
		SET reputation = $2, stake = $3, specializations = $4, status = $5,
			last_activity = $6, validation_history = $7, slashing_history = $8,
			updated_at = $9
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query,
		validator.ID, validator.Reputation, validator.Stake, validator.Specializations,
		string(validator.Status), validator.LastActivity, validationHistory,
		slashingHistory, validator.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating validator: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveSession persists a validation session
func (r *PostgresRepository) SaveSession(ctx context.Context, session *ValidationSession) error {
	submissions, result, err := marshalSessionState(session)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO validation_sessions (
			id, content_id, content_type, validator_ids, submissions, status,
			start_time, deadline, result, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)`

	_, err = r.pool.Exec(ctx, query,
		session.ID, session.ContentID, session.ContentType, session.ValidatorIDs,
		submissions, string(session.Status), session.StartTime, session.Deadline,
		result, nullableTime(session.CompletedAt),
	)
	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	return nil
}

// GetSession retrieves a session by ID
func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*ValidationSession, error) {
	query := `
		SELECT id, content_id, content_type, validator_ids, submissions, status,
			   start_time, deadline, result, completed_at
		FROM validation_sessions
		WHERE id = $1`

	return r.scanSession(r.pool.QueryRow(ctx, query, id))
}

// UpdateSession persists changes to an existing session
func (r *PostgresRepository) UpdateSession(ctx context.Context, session *ValidationSession) error {
	submissions, result, err := marshalSessionState(session)
	if err != nil {
		return err
	}

	query := `
		UPDATE validation_sessions
		SET submissions = $2, status = $3, result = $4, completed_at = $5
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query,
		session.ID, submissions, string(session.Status), result,
		nullableTime(session.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ListActiveSessions retrieves all sessions still pending
func (r *PostgresRepository) ListActiveSessions(ctx context.Context) ([]*ValidationSession, error) {
	query := `
		SELECT id, content_id, content_type, validator_ids, submissions, status,
			   start_time, deadline, result, completed_at
		FROM validation_sessions
		WHERE status = $1
		ORDER BY start_time`

	rows, err := r.pool.Query(ctx, query, string(SessionStatusPending))
	if err != nil {
		return nil, fmt.Errorf("querying active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*ValidationSession
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// SaveSlashingEvent persists a slashing event
func (r *PostgresRepository) SaveSlashingEvent(ctx context.Context, event *SlashingEvent) error {
	query := `
		INSERT INTO slashing_events (id, validator_id, reason, severity, amount, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.ValidatorID, event.Reason, string(event.Severity),
		event.Amount, event.Timestamp,
	)
	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting slashing event: %w", err)
	}

	return nil
}

// GetSlashingEvents retrieves all slashing events for a validator
func (r *PostgresRepository) GetSlashingEvents(ctx context.Context, validatorID string) ([]*SlashingEvent, error) {
	query := `
		SELECT id, validator_id, reason, severity, amount, timestamp
		FROM slashing_events
		WHERE validator_id = $1
		ORDER BY timestamp`

	rows, err := r.pool.Query(ctx, query, validatorID)
	if err != nil {
		return nil, fmt.Errorf("querying slashing events: %w", err)
	}
	defer rows.Close()

	var events []*SlashingEvent
	for rows.Next() {
		e := &SlashingEvent{}
		var severity string
		if err := rows.Scan(&e.ID, &e.ValidatorID, &e.Reason, &severity, &e.Amount, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning slashing event: %w", err)
		}
		e.Severity = SlashSeverity(severity)
		events = append(events, e)
	}

	return events, rows.Err()
}

// Private helpers

func (r *PostgresRepository) scanValidator(row pgx.Row) (*Validator, error) {
	v := &Validator{}
	var status string
	var validationHistory, slashingHistory []byte

	err := row.Scan(
		&v.ID, &v.PublicKey, &v.Reputation, &v.Stake, &v.Specializations, &status,
		&v.LastActivity, &validationHistory, &slashingHistory, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning validator: %w", err)
	}

	v.Status = ValidatorStatus(status)
	if len(validationHistory) > 0 {
		if err := json.Unmarshal(validationHistory, &v.ValidationHistory); err != nil {
			return nil, fmt.Errorf("decoding validation history: %w", err)
		}
	}
	if len(slashingHistory) > 0 {
		if err := json.Unmarshal(slashingHistory, &v.SlashingHistory); err != nil {
			return nil, fmt.Errorf("decoding slashing history: %w", err)
		}
	}

	return v, nil
}

func (r *PostgresRepository) scanSession(row pgx.Row) (*ValidationSession, error) {
	s := &ValidationSession{}
	var status string
	var submissions, result []byte
	var completedAt *time.Time

	err := row.Scan(
		&s.ID, &s.ContentID, &s.ContentType, &s.ValidatorIDs, &submissions, &status,
		&s.StartTime, &s.Deadline, &result, &completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	s.Status = SessionStatus(status)
	s.Submissions = make(map[string]*Submission)
	if len(submissions) > 0 {
		if err := json.Unmarshal(submissions, &s.Submissions); err != nil {
			return nil, fmt.Errorf("decoding submissions: %w", err)
		}
	}
	if len(result) > 0 {
		s.Result = &ConsensusResult{}
		if err := json.Unmarshal(result, s.Result); err != nil {
			return nil, fmt.Errorf("decoding consensus result: %w", err)
		}
	}
	if completedAt != nil {
		s.CompletedAt = *completedAt
	}

	return s, nil
}

func marshalHistories(validator *Validator) ([]byte, []byte, error) {
	validationHistory, err := json.Marshal(validator.ValidationHistory)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding validation history: %w", err)
	}
	slashingHistory, err := json.Marshal(validator.SlashingHistory)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding slashing history: %w", err)
	}
	return validationHistory, slashingHistory, nil
}

func marshalSessionState(session *ValidationSession) ([]byte, []byte, error) {
	submissions, err := json.Marshal(session.Submissions)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding submissions: %w", err)
	}
	var result []byte
	if session.Result != nil {
		result, err = json.Marshal(session.Result)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding consensus result: %w", err)
		}
	}
	return submissions, result, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isPgDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23505 is unique_violation
		return pgErr.Code == "23505"
	}
	return false
}
