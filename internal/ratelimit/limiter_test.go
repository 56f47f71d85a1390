package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/ocrbase/internal/domain"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestMemoryLimiter_WindowResets(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(Policy{Limit: 3, Window: time.Minute})
	l.now = clk.Now
	ctx := context.Background()

	for i := range 3 {
		d, err := l.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter)

	other, err := l.Allow(ctx, "user:2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	clk.Advance(61 * time.Second)
	d, err = l.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_ConcurrentAdmission(t *testing.T) {
	t.Parallel()

	const limit = 25
	l := NewMemoryLimiter(Policy{Limit: limit, Window: time.Hour})

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for range 200 {
		wg.Go(func() {
			d, _ := l.Allow(context.Background(), "key:hot")
			if d.Allowed {
				admitted.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int64(limit), admitted.Load())
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Now()}
	l := NewMemoryLimiter(Policy{Limit: 1, Window: time.Second})
	l.now = clk.Now

	_, _ = l.Allow(context.Background(), "a")
	_, _ = l.Allow(context.Background(), "b")
	clk.Advance(2 * time.Second)
	_, _ = l.Allow(context.Background(), "c")

	assert.Equal(t, 2, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

func TestRedisLimiter(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLimiter(client, Policy{Limit: 2, Window: 10 * time.Second}, "")
	ctx := context.Background()

	for range 2 {
		d, err := l.Allow(ctx, "ip:10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := l.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Positive(t, d.RetryAfter)
	assert.LessOrEqual(t, d.RetryAfter, 10*time.Second)

	mr.FastForward(11 * time.Second)
	d, err = l.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, err := NewRedisLimiter(client, Policy{Limit: 1, Window: time.Second}, "").Allow(context.Background(), "k")
	require.Error(t, err)
}

func TestKeyFor(t *testing.T) {
	t.Parallel()

	user := domain.User{ID: "usr_1"}
	assert.Equal(t, "key:key_1", KeyFor(&domain.Identity{User: user, APIKeyID: "key_1"}, "1.2.3.4"))
	assert.Equal(t, "user:usr_1", KeyFor(&domain.Identity{User: user}, "1.2.3.4"))
	assert.Equal(t, "ip:1.2.3.4", KeyFor(nil, "1.2.3.4"))
}
