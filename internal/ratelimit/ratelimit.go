package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sdko-org/dashboard-proxy/internal/metrics"
	"github.com/sirupsen/logrus"
)

type Class string

const (
	Render   Class = "render"
	Snapshot Class = "snapshot"
)

type Policy struct {
	Limit  int
	Window time.Duration
}

// Decision describes the state of a client's window after a request was counted.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type window struct {
	start time.Time
	count int
}

type windowKey struct {
	class  Class
	client string
}

// Limiter counts requests per (class, client) in fixed windows. A window
// starts with a client's first request and expires one period later.
type Limiter struct {
	mu       sync.Mutex
	policies map[Class]Policy
	windows  map[windowKey]*window
	now      func() time.Time
	log      *logrus.Entry
}

func New(logger *logrus.Logger, policies map[Class]Policy) *Limiter {
	return &Limiter{
		policies: policies,
		windows:  make(map[windowKey]*window),
		now:      time.Now,
		log:      logger.WithField("component", "rate_limiter"),
	}
}

func (l *Limiter) Allow(clientID string, class Class) bool {
	return l.Check(clientID, class).Allowed
}

// Check counts one request and reports whether it fits the class quota.
// Classes without a policy are not limited.
func (l *Limiter) Check(clientID string, class Class) Decision {
	policy, ok := l.policies[class]
	if !ok || policy.Limit <= 0 || policy.Window <= 0 {
		return Decision{Allowed: true}
	}

	now := l.now()
	key := windowKey{class: class, client: clientID}

	l.mu.Lock()
	w, exists := l.windows[key]
	if !exists || now.Sub(w.start) >= policy.Window {
		w = &window{start: now}
		l.windows[key] = w
	}
	if w.count <= policy.Limit {
		w.count++
	}
	count, start := w.count, w.start
	l.mu.Unlock()

	d := Decision{
		Allowed:   count <= policy.Limit,
		Limit:     policy.Limit,
		Remaining: max(0, policy.Limit-count),
		ResetAt:   start.Add(policy.Window),
	}
	if !d.Allowed {
		metrics.RateLimited.WithLabelValues(string(class)).Inc()
	}
	return d
}

// Sweep drops windows whose period has elapsed and returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	live := make(map[Class]int)

	l.mu.Lock()
	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.policies[key.class].Window {
			delete(l.windows, key)
			removed++
			continue
		}
		live[key.class]++
	}
	l.mu.Unlock()

	for class := range l.policies {
		metrics.RateWindows.WithLabelValues(string(class)).Set(float64(live[class]))
	}
	return removed
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Start evicts stale windows every interval until ctx is done.
func (l *Limiter) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.log.Info("Starting window janitor")
	for {
		select {
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.log.WithField("evicted", n).Debug("Evicted stale rate windows")
			}
		case <-ctx.Done():
			l.log.Info("Stopping window janitor")
			return
		}
	}
}
