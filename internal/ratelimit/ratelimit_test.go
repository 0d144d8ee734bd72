package ratelimit

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newLimiter(c *clock) *Limiter {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	l := New(logger, map[Class]Policy{
		Render:   {Limit: 30, Window: time.Minute},
		Snapshot: {Limit: 6, Window: time.Minute},
	})
	l.now = c.now
	return l
}

func TestThirtyFirstRenderRequestRejected(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := newLimiter(c)

	for i := 1; i <= 30; i++ {
		require.True(t, l.Allow("10.0.0.1", Render), "request %d", i)
		c.advance(time.Second)
	}
	assert.False(t, l.Allow("10.0.0.1", Render))
}

func TestWindowResetsAfterPeriod(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := newLimiter(c)

	for i := 0; i < 6; i++ {
		require.True(t, l.Allow("a", Snapshot))
	}
	assert.False(t, l.Allow("a", Snapshot))

	c.advance(time.Minute)
	d := l.Check("a", Snapshot)
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.Remaining)
	assert.Equal(t, c.t.Add(time.Minute), d.ResetAt)
}

func TestClassesAndClientsAreIndependent(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := newLimiter(c)

	for i := 0; i < 6; i++ {
		l.Allow("a", Snapshot)
	}
	assert.False(t, l.Allow("a", Snapshot))
	assert.True(t, l.Allow("b", Snapshot))
	assert.True(t, l.Allow("a", Render))
}

func TestUnknownClassIsUnlimited(t *testing.T) {
	l := newLimiter(&clock{t: time.Now()})
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("a", Class("other")))
	}
	assert.Zero(t, l.Len())
}

func TestSweepEvictsStaleWindows(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := newLimiter(c)

	for i := 0; i < 50; i++ {
		l.Allow(fmt.Sprintf("10.0.0.%d", i), Render)
	}
	c.advance(30 * time.Second)
	l.Allow("late", Render)
	require.Equal(t, 51, l.Len())

	c.advance(30 * time.Second)
	assert.Equal(t, 50, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

func TestConcurrentAllowNeverExceedsQuota(t *testing.T) {
	l := newLimiter(&clock{t: time.Unix(1_700_000_000, 0)})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("same", Render) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 30, allowed)
}
