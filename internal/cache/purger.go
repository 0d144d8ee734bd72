package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Expirer is a backend that tracks expiry itself and needs explicit cleanup.
type Expirer interface {
	Expired(ctx context.Context, now time.Time) ([]string, error)
	Delete(ctx context.Context, key string) error
}

type CachePurger struct {
	logger   *logrus.Logger
	backend  Expirer
	interval time.Duration
}

func NewCachePurger(logger *logrus.Logger, backend Expirer, interval time.Duration) *CachePurger {
	return &CachePurger{
		logger:   logger,
		backend:  backend,
		interval: interval,
	}
}

func (c *CachePurger) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logEntry := c.logger.WithField("component", "cache_purger")
	logEntry.Info("Starting cache purger")

	for {
		select {
		case <-ticker.C:
			c.Purge(ctx, logEntry)
		case <-ctx.Done():
			logEntry.Info("Stopping cache purger")
			return
		}
	}
}

// Purge deletes every expired entry and returns how many were removed.
func (c *CachePurger) Purge(ctx context.Context, log *logrus.Entry) int {
	log = log.WithField("operation", "cache_purge")

	keys, err := c.backend.Expired(ctx, time.Now())
	if err != nil {
		log.WithError(err).Error("Render cache purge query failed")
		return 0
	}

	log.WithField("count", len(keys)).Info("Processing expired cache entries")

	removed := 0
	for _, key := range keys {
		if err := c.backend.Delete(ctx, key); err != nil {
			log.WithFields(logrus.Fields{"key": key, "error": err}).Error("Failed to delete render cache entry")
			continue
		}
		removed++
	}
	return removed
}
