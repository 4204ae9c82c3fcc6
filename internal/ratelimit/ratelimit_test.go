package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter() (*Limiter, *testClock) {
	clock := &testClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	return New(NewMemoryStore(100, time.Hour), WithClock(clock.Now)), clock
}

func TestLoginPolicyBlocksSixthAttempt(t *testing.T) {
	limiter, _ := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		decision, err := limiter.Allow(ctx, LoginPolicy, "203.0.113.7")
		require.NoError(t, err)
		require.True(t, decision.Allowed, "attempt %d should pass", i+1)
		assert.Equal(t, 4-i, decision.Remaining)
	}

	decision, err := limiter.Allow(ctx, LoginPolicy, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 15*time.Minute, decision.RetryAfter)
}

func TestWindowSlides(t *testing.T) {
	limiter, clock := newTestLimiter()
	ctx := context.Background()
	policy := Policy{Name: "search", Limit: 2, Window: time.Minute}

	_, err := limiter.Allow(ctx, policy, "a")
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, err = limiter.Allow(ctx, policy, "a")
	require.NoError(t, err)

	decision, err := limiter.Allow(ctx, policy, "a")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	assert.Equal(t, 30*time.Second, decision.RetryAfter)

	clock.Advance(30 * time.Second)
	decision, err = limiter.Allow(ctx, policy, "a")
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "first hit should have left the window")
}

func TestPoliciesAndClientsAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < LoginPolicy.Limit; i++ {
		_, err := limiter.Allow(ctx, LoginPolicy, "198.51.100.1")
		require.NoError(t, err)
	}
	blocked, err := limiter.Allow(ctx, LoginPolicy, "198.51.100.1")
	require.NoError(t, err)
	require.False(t, blocked.Allowed)

	general, err := limiter.Allow(ctx, APIPolicy, "198.51.100.1")
	require.NoError(t, err)
	assert.True(t, general.Allowed)

	other, err := limiter.Allow(ctx, LoginPolicy, "198.51.100.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestConcurrentHitsNeverExceedLimit(t *testing.T) {
	limiter, _ := newTestLimiter()
	ctx := context.Background()
	policy := Policy{Name: "burst", Limit: 10, Window: time.Minute}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Allow(ctx, policy, "shared")
			if err != nil {
				return
			}
			if decision.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestAllowRejectsInvalidPolicy(t *testing.T) {
	limiter, _ := newTestLimiter()
	_, err := limiter.Allow(context.Background(), Policy{Name: "broken"}, "a")
	assert.Error(t, err)
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, int, time.Duration, time.Time) (Decision, error) {
	return Decision{}, errors.New("store down")
}

func (failingStore) Ping(context.Context) error { return errors.New("store down") }

func TestStoreErrorsPropagate(t *testing.T) {
	limiter := New(failingStore{})
	_, err := limiter.Allow(context.Background(), APIPolicy, "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit api")
	assert.Error(t, limiter.Ping(context.Background()))
}

func TestKeyPrefix(t *testing.T) {
	limiter := New(NewMemoryStore(10, time.Minute), WithKeyPrefix("edge"))
	assert.Equal(t, "edge:login:1.2.3.4", limiter.key(LoginPolicy, "1.2.3.4"))

	bare := New(NewMemoryStore(10, time.Minute), WithKeyPrefix(""))
	assert.Equal(t, "login:1.2.3.4", bare.key(LoginPolicy, "1.2.3.4"))
}
