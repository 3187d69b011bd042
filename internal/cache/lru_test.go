package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func TestLRUCache_GetSet(t *testing.T) {
	c := NewLRUCache[string, int](2, time.Minute)

	c.Set("a", 1)
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[string, int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a") // b is now the oldest
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())
}

func TestLRUCache_Expiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string, int](10, time.Minute).WithClock(clock.Now)

	c.Set("a", 1)
	c.Set("b", 2)
	clock.Advance(30 * time.Second)
	c.Set("c", 3)
	clock.Advance(45 * time.Second)

	_, ok := c.Get("a")
	assert.False(t, ok, "a expired")
	assert.Equal(t, 1, c.CleanExpired(), "only b left to sweep")
	assert.Equal(t, 1, c.Size())
}

func TestLRUCache_Clear(t *testing.T) {
	c := NewLRUCache[int, string](4, time.Minute)
	c.Set(1, "x")
	c.Set(2, "y")
	c.Clear()

	assert.Equal(t, 0, c.Size())
	_, ok := c.Get(1)
	assert.False(t, ok)

	c.Set(3, "z")
	assert.Equal(t, 1, c.Size())
}

func TestManager_Sweep(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string, int](10, time.Second).WithClock(clock.Now)
	c.Set("a", 1)
	c.Set("b", 2)
	clock.Advance(2 * time.Second)

	var reported int
	m := NewManager(func(n int) { reported = n })
	m.Register(c)

	assert.Equal(t, 2, m.Sweep())
	assert.Equal(t, 2, reported)
	assert.Equal(t, 0, c.Size())
}

func TestManager_StartStop(t *testing.T) {
	m := NewManager(nil)
	m.Register(NewLRUCache[string, int](1, time.Second))
	m.StartCleanup(time.Millisecond)
	m.Stop()
}
