// Package queue implements a durable message queue on SQLite. Messages move
// through waiting -> active -> completed, with delayed holding retries until
// their backoff elapses and failed collecting messages that exhausted their
// attempts. Claiming is atomic so multiple workers can share one queue.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"
)

// State is the lifecycle state of a queue message.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Message is a queued unit of work. Body carries an opaque JSON payload;
// DedupKey is the normalized fingerprint used for duplicate rejection.
type Message struct {
	ID          string
	Body        string
	DedupKey    string
	State       State
	Priority    int
	Attempts    int
	MaxAttempts int
	AvailableAt time.Time
	ClaimedAt   *time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DefaultPriority sits in the middle of the 1..10 range.
const DefaultPriority = 5

// Broker is a SQLite-backed message broker.
type Broker struct {
	db          *sql.DB
	maxAttempts int
	backoffBase time.Duration
	logger      *slog.Logger
}

// New creates a broker. maxAttempts bounds delivery attempts per message;
// backoffBase seeds the exponential retry delay.
func New(db *sql.DB, maxAttempts int, backoffBase time.Duration, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		db:          db,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		logger:      logger,
	}
}

const messageColumns = `id, body, dedup_key, state, priority, attempts, max_attempts,
	available_at, claimed_at, last_error, created_at, updated_at`

// Enqueue adds a message in the waiting state, available immediately.
// Priority is clamped to 1..10; lower numbers are claimed first.
func (b *Broker) Enqueue(ctx context.Context, body, dedupKey string, priority int) (*Message, error) {
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}

	now := time.Now().UTC()
	msg := &Message{
		ID:          ulid.Make().String(),
		Body:        body,
		DedupKey:    dedupKey,
		State:       StateWaiting,
		Priority:    priority,
		MaxAttempts: b.maxAttempts,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := `
		INSERT INTO queue_messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?)
	`
	_, err := b.db.ExecContext(ctx, query,
		msg.ID, msg.Body, msg.DedupKey, msg.State, msg.Priority,
		msg.Attempts, msg.MaxAttempts,
		msg.AvailableAt.Format(time.RFC3339),
		msg.CreatedAt.Format(time.RFC3339),
		msg.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue message: %w", err)
	}
	return msg, nil
}

// Claim atomically takes the next available message, moving it to active and
// incrementing its attempt counter. Returns nil when nothing is available.
func (b *Broker) Claim(ctx context.Context) (*Message, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	// UPDATE ... RETURNING claims and fetches in one statement so two
	// workers can never take the same message.
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		UPDATE queue_messages
		SET state = 'active', claimed_at = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = (
			SELECT id FROM queue_messages
			WHERE state IN ('waiting', 'delayed') AND available_at <= ?
			ORDER BY priority ASC, available_at ASC, id ASC
			LIMIT 1
		)
		RETURNING ` + messageColumns

	msg, err := scanMessage(tx.QueryRowContext(ctx, query, now, now, now))
	if err == sql.ErrNoRows || msg == nil {
		// Nothing ready - not an error.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return msg, nil
}

// Ack marks an active message completed.
func (b *Broker) Ack(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := b.db.ExecContext(ctx,
		"UPDATE queue_messages SET state = 'completed', updated_at = ? WHERE id = ?",
		now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Retry schedules another delivery for an active message, or moves it to
// failed when its attempts are exhausted. Returns true if the message will
// be retried.
func (b *Broker) Retry(ctx context.Context, id string, cause error) (bool, error) {
	msg, err := b.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, fmt.Errorf("message %s not found", id)
	}

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}

	if msg.Attempts >= msg.MaxAttempts {
		if err := b.MoveToFailed(ctx, id, errMsg); err != nil {
			return false, err
		}
		return false, nil
	}

	delay := b.retryDelay(msg.Attempts)
	availableAt := time.Now().UTC().Add(delay)
	now := time.Now().UTC().Format(time.RFC3339)

	_, err = b.db.ExecContext(ctx, `
		UPDATE queue_messages
		SET state = 'delayed', available_at = ?, claimed_at = NULL, last_error = ?, updated_at = ?
		WHERE id = ?`,
		availableAt.Format(time.RFC3339), errMsg, now, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delay message: %w", err)
	}

	b.logger.Info("message scheduled for retry",
		"message_id", id,
		"attempt", msg.Attempts,
		"delay", delay,
	)
	return true, nil
}

// retryDelay computes the jittered exponential delay after the given number
// of attempts: base * 2^(attempts-1), randomized by ±25%.
func (b *Broker) retryDelay(attempts int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.backoffBase
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.25
	eb.MaxInterval = 5 * time.Minute

	delay := eb.NextBackOff()
	for i := 1; i < attempts; i++ {
		delay = eb.NextBackOff()
	}
	return delay
}

// MoveToFailed moves a message to the failed state.
func (b *Broker) MoveToFailed(ctx context.Context, id, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := b.db.ExecContext(ctx, `
		UPDATE queue_messages
		SET state = 'failed', claimed_at = NULL, last_error = ?, updated_at = ?
		WHERE id = ?`,
		errMsg, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to move message to failed: %w", err)
	}
	return nil
}

// HasActive reports whether any message with the dedup key is still in
// flight (waiting, delayed, or active).
func (b *Broker) HasActive(ctx context.Context, dedupKey string) (bool, error) {
	var count int
	err := b.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_messages
		WHERE dedup_key = ? AND state IN ('waiting', 'delayed', 'active')`,
		dedupKey,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check active messages: %w", err)
	}
	return count > 0, nil
}

// Counts returns the number of messages per state.
func (b *Broker) Counts(ctx context.Context) (map[State]int, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT state, COUNT(*) FROM queue_messages GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var state State
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[state] = count
	}
	return counts, rows.Err()
}

// ReclaimStale returns active messages claimed longer than maxAge ago to the
// waiting state, e.g. after a worker crash. Attempts already spent stay
// counted.
func (b *Broker) ReclaimStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339)
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := b.db.ExecContext(ctx, `
		UPDATE queue_messages
		SET state = 'waiting', claimed_at = NULL, available_at = ?, updated_at = ?
		WHERE state = 'active' AND claimed_at < ?`,
		now, now, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale messages: %w", err)
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		b.logger.Warn("reclaimed stale messages", "count", count)
	}
	return count, nil
}

// Clean deletes terminal messages older than the given time.
func (b *Broker) Clean(ctx context.Context, before time.Time) (int64, error) {
	result, err := b.db.ExecContext(ctx, `
		DELETE FROM queue_messages
		WHERE state IN ('completed', 'failed') AND updated_at < ?`,
		before.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean messages: %w", err)
	}

	count, _ := result.RowsAffected()
	return count, nil
}

// GetByID fetches a message by ID, or nil if absent.
func (b *Broker) GetByID(ctx context.Context, id string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM queue_messages WHERE id = ?`
	msg, err := scanMessage(b.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var claimedAt, lastError sql.NullString
	var availableAt, createdAt, updatedAt string

	err := row.Scan(
		&msg.ID, &msg.Body, &msg.DedupKey, &msg.State, &msg.Priority,
		&msg.Attempts, &msg.MaxAttempts, &availableAt, &claimedAt, &lastError,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	msg.LastError = lastError.String
	msg.AvailableAt, _ = time.Parse(time.RFC3339, availableAt)
	msg.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	msg.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if claimedAt.Valid {
		t, _ := time.Parse(time.RFC3339, claimedAt.String)
		msg.ClaimedAt = &t
	}
	return &msg, nil
}
