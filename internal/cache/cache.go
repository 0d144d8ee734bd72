package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sdko-org/dashboard-proxy/internal/metrics"
	"github.com/sdko-org/dashboard-proxy/internal/storage"
	"github.com/sirupsen/logrus"
)

const (
	// MinTTL is the shortest lifetime a render entry is stored with.
	MinTTL = 30 * time.Second

	autoValue    = "auto"
	writeTimeout = 10 * time.Second
)

// RenderParams identifies one rendered panel image.
type RenderParams struct {
	UID     string
	PanelID string
	From    string
	To      string
	Width   string
	Height  string
}

// Separators are percent-encoded inside fields so distinct params never share a key.
var (
	fieldEscaper = strings.NewReplacer("%", "%25", ":", "%3A")
	sizeEscaper  = strings.NewReplacer("%", "%25", ":", "%3A", "x", "%78")
)

// Key derives the cache key. Missing fields collapse to "auto" so equivalent
// requests share an entry.
func (p RenderParams) Key() string {
	return fmt.Sprintf("render:%s:%s:%s:%s:%sx%s",
		field(p.UID), field(p.PanelID), field(p.From), field(p.To), size(p.Width), size(p.Height))
}

func field(s string) string {
	return fieldEscaper.Replace(orAuto(s))
}

func size(s string) string {
	return sizeEscaper.Replace(orAuto(s))
}

func orAuto(s string) string {
	if s == "" {
		return autoValue
	}
	return s
}

// EffectiveTTL applies the MinTTL floor.
func EffectiveTTL(configured time.Duration) time.Duration {
	return max(MinTTL, configured)
}

// RenderCache is a pure optimization over a storage.Backend: backend failures
// are logged and turned into misses.
type RenderCache struct {
	backend storage.Backend
	ttl     time.Duration
	log     *logrus.Entry
	wg      sync.WaitGroup
}

// New accepts a nil backend, in which case every lookup misses.
func New(logger *logrus.Logger, backend storage.Backend, ttl time.Duration) *RenderCache {
	return &RenderCache{
		backend: backend,
		ttl:     EffectiveTTL(ttl),
		log:     logger.WithField("component", "render_cache"),
	}
}

func (c *RenderCache) TTL() time.Duration {
	return c.ttl
}

func (c *RenderCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.backend == nil {
		return nil, false
	}
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Cache get failed")
		metrics.RenderCache.WithLabelValues("get", "error").Inc()
		return nil, false
	}
	if !ok || len(data) == 0 {
		metrics.RenderCache.WithLabelValues("get", "miss").Inc()
		return nil, false
	}
	metrics.RenderCache.WithLabelValues("get", "hit").Inc()
	return data, true
}

// SetAsync stores data in the background. The write runs on its own context
// and its outcome is only logged; callers never wait on it.
func (c *RenderCache) SetAsync(key string, data []byte) {
	if c.backend == nil || len(data) == 0 {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		log := c.log.WithFields(logrus.Fields{"key": key, "bytes": len(data), "ttl": c.ttl})
		if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
			log.WithError(err).Warn("Cache set failed")
			metrics.RenderCache.WithLabelValues("set", "error").Inc()
			return
		}
		log.Debug("Cached rendered panel")
		metrics.RenderCache.WithLabelValues("set", "ok").Inc()
	}()
}

// Wait blocks until in-flight writes finish or ctx is done.
func (c *RenderCache) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
