package cache

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	failGet bool
	failSet bool
	deleted []string
	expired []string
}

func newMemBackend() *memBackend {
	return &memBackend{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, false, errors.New("connection refused")
	}
	b, ok := m.data[key]
	return b, ok, nil
}

func (m *memBackend) Set(_ context.Context, key string, content []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errors.New("connection refused")
	}
	m.data[key] = content
	m.ttls[key] = ttl
	return nil
}

func (m *memBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == "stuck" {
		return errors.New("access denied")
	}
	delete(m.data, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memBackend) Expired(context.Context, time.Time) ([]string, error) {
	return m.expired, nil
}

func (m *memBackend) Close() error { return nil }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestKeyMapsMissingFieldsToAuto(t *testing.T) {
	full := RenderParams{UID: "abc", PanelID: "2", From: "now-1h", To: "now", Width: "800", Height: "400"}
	assert.Equal(t, "render:abc:2:now-1h:now:800x400", full.Key())

	partial := RenderParams{UID: "abc", PanelID: "2"}
	assert.Equal(t, "render:abc:2:auto:auto:autoxauto", partial.Key())

	explicitAuto := RenderParams{UID: "abc", PanelID: "2", From: "auto", To: "auto", Width: "auto", Height: "auto"}
	assert.Equal(t, partial.Key(), explicitAuto.Key())
}

func TestKeyEscapesSeparators(t *testing.T) {
	a := RenderParams{UID: "x:1", PanelID: "2"}
	b := RenderParams{UID: "x", PanelID: "1:2"}
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, "render:x%3A1:2:auto:auto:autoxauto", a.Key())

	wide := RenderParams{UID: "abc", PanelID: "2", Width: "8x", Height: "00"}
	tall := RenderParams{UID: "abc", PanelID: "2", Width: "8", Height: "x00"}
	assert.NotEqual(t, wide.Key(), tall.Key())

	literal := RenderParams{UID: "x%3A1", PanelID: "2"}
	assert.NotEqual(t, a.Key(), literal.Key())
}

func TestEffectiveTTLFloor(t *testing.T) {
	assert.Equal(t, MinTTL, EffectiveTTL(0))
	assert.Equal(t, MinTTL, EffectiveTTL(-5*time.Second))
	assert.Equal(t, MinTTL, EffectiveTTL(10*time.Second))
	assert.Equal(t, 5*time.Minute, EffectiveTTL(5*time.Minute))
}

func TestSetAsyncAppliesFloor(t *testing.T) {
	backend := newMemBackend()
	c := New(quietLogger(), backend, 0)

	c.SetAsync("k", []byte("png"))
	require.NoError(t, c.Wait(context.Background()))

	assert.Equal(t, 30*time.Second, backend.ttls["k"])
	got, ok := c.Get(context.Background(), "k")
	assert.True(t, ok)
	assert.Equal(t, []byte("png"), got)
}

func TestGetSwallowsBackendErrors(t *testing.T) {
	backend := newMemBackend()
	backend.data["k"] = []byte("png")
	backend.failGet = true
	c := New(quietLogger(), backend, time.Minute)

	got, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestSetAsyncFailureIsDropped(t *testing.T) {
	backend := newMemBackend()
	backend.failSet = true
	c := New(quietLogger(), backend, time.Minute)

	c.SetAsync("k", []byte("png"))
	require.NoError(t, c.Wait(context.Background()))

	backend.failSet = false
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestNilBackendAlwaysMisses(t *testing.T) {
	c := New(quietLogger(), nil, time.Minute)
	c.SetAsync("k", []byte("png"))
	require.NoError(t, c.Wait(context.Background()))

	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestPurgeDeletesExpired(t *testing.T) {
	backend := newMemBackend()
	backend.expired = []string{"a", "stuck", "b"}
	p := NewCachePurger(quietLogger(), backend, time.Minute)

	n := p.Purge(context.Background(), quietLogger().WithField("component", "test"))

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, backend.deleted)
}
