// Package gate enforces scrape scheduling politeness: a minimum spacing
// between enqueues of the same search term and rejection of terms that
// already have a job in flight. The gate is best-effort; a race that lets a
// duplicate through is absorbed by the idempotent property upsert.
package gate

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ActiveChecker reports whether a fingerprint has a broker message in flight.
type ActiveChecker interface {
	HasActive(ctx context.Context, dedupKey string) (bool, error)
}

// recentTTL bounds how long a fingerprint stays in the spacing map. Expired
// entries are evicted lazily on lookup; no janitor goroutine runs.
const recentTTL = 10 * time.Minute

// Gate tracks recently scheduled search terms.
type Gate struct {
	recent     *gocache.Cache
	minSpacing time.Duration
	broker     ActiveChecker
	logger     *slog.Logger
}

// New creates a gate. minSpacing is the minimum interval between enqueues of
// the same fingerprint.
func New(minSpacing time.Duration, broker ActiveChecker, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		recent:     gocache.New(recentTTL, 0),
		minSpacing: minSpacing,
		broker:     broker,
		logger:     logger,
	}
}

// Fingerprint normalizes a (term, year) pair into the dedup key used by the
// gate and the broker.
func Fingerprint(term string, year int) string {
	return strings.ToLower(strings.TrimSpace(term)) + "|" + strconv.Itoa(year)
}

// CanSchedule reports whether a scrape for (term, year) may be enqueued now.
// It refuses when the term was enqueued less than minSpacing ago or when the
// broker still has a message in flight for it. Broker errors fail open: the
// upsert path tolerates duplicates, a stalled scheduler does not.
func (g *Gate) CanSchedule(ctx context.Context, term string, year int) bool {
	fp := Fingerprint(term, year)

	if v, found := g.recent.Get(fp); found {
		if lastAt, ok := v.(time.Time); ok && time.Since(lastAt) < g.minSpacing {
			g.logger.Debug("schedule refused: too soon", "fingerprint", fp)
			return false
		}
	}

	if g.broker != nil {
		active, err := g.broker.HasActive(ctx, fp)
		if err != nil {
			g.logger.Warn("active-set check failed, allowing schedule", "fingerprint", fp, "error", err)
			return true
		}
		if active {
			g.logger.Debug("schedule refused: already in flight", "fingerprint", fp)
			return false
		}
	}

	return true
}

// RecordScheduled marks (term, year) as just enqueued.
func (g *Gate) RecordScheduled(term string, year int) {
	g.recent.Set(Fingerprint(term, year), time.Now(), gocache.DefaultExpiration)
}
