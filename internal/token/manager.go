package token

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/parcelpulse/appraisal-api/internal/crypto"
	"github.com/parcelpulse/appraisal-api/internal/metrics"
	"github.com/parcelpulse/appraisal-api/internal/repository"
)

// Health is a snapshot of the manager's refresh statistics.
type Health struct {
	HasToken          bool       `json:"has_token"`
	AcquiredAt        *time.Time `json:"acquired_at,omitempty"`
	RefreshCount      int64      `json:"refresh_count"`
	FailureCount      int64      `json:"failure_count"`
	LastRefreshAt     *time.Time `json:"last_refresh_at,omitempty"`
	LastFailureReason string     `json:"last_failure_reason,omitempty"`
}

// Manager holds the process-wide current token. Readers see either the
// current token or none; a failed refresh keeps the previous token in place
// since a stale token often still works for a while.
type Manager struct {
	acquirer Acquirer
	logger   *slog.Logger

	// Optional encrypted persistence so a restart does not need a fresh
	// acquire. Both must be set for persistence to be active.
	repo repository.TokenRepository
	enc  *crypto.Encryptor

	interval  time.Duration
	jitterPct float64

	mu         sync.Mutex
	token      string
	acquiredAt time.Time
	refreshing chan struct{} // non-nil while a refresh is in flight
	lastResult refreshResult

	refreshCount      int64
	failureCount      int64
	lastRefreshAt     time.Time
	lastFailureReason string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type refreshResult struct {
	token string
	err   error
}

// Option configures a Manager.
type Option func(*Manager)

// WithPersistence stores the token encrypted in the database so restarts
// can reuse it.
func WithPersistence(repo repository.TokenRepository, enc *crypto.Encryptor) Option {
	return func(m *Manager) {
		m.repo = repo
		m.enc = enc
	}
}

// NewManager creates a token manager. interval is the auto-refresh period;
// jitterPct spreads each tick uniformly within ±interval*jitterPct.
func NewManager(acquirer Acquirer, interval time.Duration, jitterPct float64, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		acquirer:  acquirer,
		logger:    logger,
		interval:  interval,
		jitterPct: jitterPct,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the current token, or false when none has been acquired.
func (m *Manager) Current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.token != ""
}

// LoadPersisted installs a previously persisted token if one exists. Call
// before StartAutoRefresh so a restart does not begin tokenless.
func (m *Manager) LoadPersisted(ctx context.Context) error {
	if m.repo == nil || m.enc == nil {
		return nil
	}

	cached, err := m.repo.Get(ctx)
	if err != nil {
		return err
	}
	if cached == nil {
		return nil
	}

	plaintext, err := m.enc.Decrypt(cached.TokenEncrypted)
	if err != nil {
		// A key rotation invalidates the cache; acquire fresh instead.
		m.logger.Warn("failed to decrypt persisted token, ignoring", "error", err)
		return nil
	}

	m.mu.Lock()
	m.token = plaintext
	m.acquiredAt = cached.AcquiredAt
	m.mu.Unlock()

	m.logger.Info("restored persisted token", "acquired_at", cached.AcquiredAt)
	return nil
}

// RefreshNow acquires a fresh token and installs it atomically. Concurrent
// callers coalesce onto the refresh already in flight and share its result.
// On failure the previous token stays installed.
func (m *Manager) RefreshNow(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.refreshing != nil {
		done := m.refreshing
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-done:
		}

		m.mu.Lock()
		res := m.lastResult
		m.mu.Unlock()
		return res.token, res.err
	}

	done := make(chan struct{})
	m.refreshing = done
	m.mu.Unlock()

	token, err := m.acquirer.Acquire(ctx)
	now := time.Now().UTC()

	m.mu.Lock()
	if err != nil {
		m.failureCount++
		m.lastFailureReason = err.Error()
	} else {
		m.token = token
		m.acquiredAt = now
		m.refreshCount++
		m.lastRefreshAt = now
	}
	m.lastResult = refreshResult{token: token, err: err}
	m.refreshing = nil
	m.mu.Unlock()
	close(done)

	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		m.logger.Error("token refresh failed, keeping previous token", "error", err)
		return "", err
	}

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	m.logger.Info("token refreshed", "acquired_at", now)
	m.persist(ctx, token, now)
	return token, nil
}

// persist writes the token through to the encrypted cache, best effort.
func (m *Manager) persist(ctx context.Context, token string, acquiredAt time.Time) {
	if m.repo == nil || m.enc == nil {
		return
	}
	ciphertext, err := m.enc.Encrypt(token)
	if err != nil {
		m.logger.Warn("failed to encrypt token for persistence", "error", err)
		return
	}
	if err := m.repo.Save(ctx, ciphertext, acquiredAt); err != nil {
		m.logger.Warn("failed to persist token", "error", err)
	}
}

// StartAutoRefresh launches the background refresh loop. The first refresh
// fires immediately when no token is held.
func (m *Manager) StartAutoRefresh(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if _, ok := m.Current(); !ok {
			if _, err := m.RefreshNow(ctx); err != nil {
				m.logger.Warn("initial token acquisition failed", "error", err)
			}
		}

		for {
			timer := time.NewTimer(m.nextInterval())
			select {
			case <-m.stopCh:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				if _, err := m.RefreshNow(ctx); err != nil {
					m.logger.Warn("scheduled token refresh failed", "error", err)
				}
			}
		}
	}()
}

// nextInterval returns the refresh period with uniform jitter applied.
func (m *Manager) nextInterval() time.Duration {
	if m.jitterPct <= 0 {
		return m.interval
	}
	spread := float64(m.interval) * m.jitterPct
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(m.interval) + offset)
}

// Stop terminates the auto-refresh loop and waits for it to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

// Health returns refresh statistics for the health endpoint.
func (m *Manager) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := Health{
		HasToken:          m.token != "",
		RefreshCount:      m.refreshCount,
		FailureCount:      m.failureCount,
		LastFailureReason: m.lastFailureReason,
	}
	if !m.acquiredAt.IsZero() {
		t := m.acquiredAt
		h.AcquiredAt = &t
	}
	if !m.lastRefreshAt.IsZero() {
		t := m.lastRefreshAt
		h.LastRefreshAt = &t
	}
	return h
}
