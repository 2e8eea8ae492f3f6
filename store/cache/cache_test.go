package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemory() (*Memory, *clock) {
	c := &clock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	m := NewMemory()
	m.now = c.now
	return m, c
}

func TestMemory_GetSetExpiry(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestMemory()

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, m.Set(ctx, "forever", []byte("v"), 0))

	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	clk.advance(time.Minute)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok, "expired at ttl")
	_, ok, _ = m.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()
	value := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", value, 0))
	value[0] = 'x'

	got, _, _ := m.Get(ctx, "k")
	got[1] = 'y'

	again, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()
	type report struct {
		Rental string `json:"rental"`
		Gaps   int    `json:"gaps"`
	}

	require.NoError(t, SetJSON(ctx, m, "r", report{Rental: "r1", Gaps: 2}, time.Minute))

	var got report
	ok, err := GetJSON(ctx, m, "r", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, report{Rental: "r1", Gaps: 2}, got)

	ok, err = GetJSON(ctx, m, "missing", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "bad", []byte("{"), 0))
	_, err = GetJSON(ctx, m, "bad", &got)
	assert.Error(t, err)
}

func TestMemory_Lock(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestMemory()

	// GIVEN: one holder
	release, err := m.Lock(ctx, "sweep", time.Minute)
	require.NoError(t, err)

	// WHEN: a second caller tries while it is held
	_, err = m.Lock(ctx, "sweep", time.Minute)

	// THEN: it is refused until release
	assert.ErrorIs(t, err, ErrLockHeld)
	require.NoError(t, release(ctx))
	second, err := m.Lock(ctx, "sweep", time.Minute)
	require.NoError(t, err)

	// An expired lease can be taken over, and the stale release is a no-op.
	clk.advance(2 * time.Minute)
	third, err := m.Lock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.NoError(t, second(ctx))
	_, err = m.Lock(ctx, "sweep", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
	require.NoError(t, third(ctx))
}

// Runs against a real server when TEST_REDIS_URL is set.
func TestRedis(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	key := "test:" + time.Now().Format(time.RFC3339Nano)
	require.NoError(t, r.Set(ctx, key, []byte("v"), time.Minute))
	got, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(got))

	_, ok, err = r.Get(ctx, key+":missing")
	require.NoError(t, err)
	assert.False(t, ok)

	release, err := r.Lock(ctx, key, time.Minute)
	require.NoError(t, err)
	_, err = r.Lock(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
	require.NoError(t, release(ctx))
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not-a-url")
	assert.Error(t, err)
}
