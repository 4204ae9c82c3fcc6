// Package ratelimit counts requests per client address in sliding windows.
// Counters live in an injected Store so several API instances can share them.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Policy names an independent request class with its own window.
type Policy struct {
	Name    string
	Limit   int
	Window  time.Duration
	Message string
}

var (
	// LoginPolicy throttles credential attempts regardless of their outcome.
	LoginPolicy = Policy{
		Name:    "login",
		Limit:   5,
		Window:  15 * time.Minute,
		Message: "Too many login attempts, please try again after 15 minutes",
	}
	// APIPolicy applies to every /api route.
	APIPolicy = Policy{
		Name:    "api",
		Limit:   100,
		Window:  15 * time.Minute,
		Message: "Too many requests, please try again later",
	}
)

func (p Policy) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("policy name is required")
	}
	if p.Limit <= 0 {
		return fmt.Errorf("policy %s: limit must be positive", p.Name)
	}
	if p.Window <= 0 {
		return fmt.Errorf("policy %s: window must be positive", p.Name)
	}
	return nil
}

// Decision reports the outcome of a single hit.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Store records hits in a sliding-window log. Implementations must serialize
// concurrent hits on the same key.
type Store interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithKeyPrefix namespaces keys when several services share a store.
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) {
		l.prefix = strings.TrimSpace(prefix)
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

type Limiter struct {
	store  Store
	prefix string
	now    func() time.Time
}

// New constructs a Limiter backed by store, defaulting to an in-process
// MemoryStore when store is nil.
func New(store Store, opts ...Option) *Limiter {
	if store == nil {
		store = NewMemoryStore(DefaultMemoryStoreSize, APIPolicy.Window)
	}
	limiter := &Limiter{store: store, prefix: "contenthub", now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(limiter)
		}
	}
	return limiter
}

// Allow records a hit for client under policy.
func (l *Limiter) Allow(ctx context.Context, policy Policy, client string) (Decision, error) {
	if err := policy.validate(); err != nil {
		return Decision{}, err
	}
	client = strings.TrimSpace(client)
	if client == "" {
		client = "unknown"
	}
	decision, err := l.store.Hit(ctx, l.key(policy, client), policy.Limit, policy.Window, l.now())
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", policy.Name, err)
	}
	return decision, nil
}

// Ping reports whether the backing store is reachable.
func (l *Limiter) Ping(ctx context.Context) error {
	if pinger, ok := l.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func (l *Limiter) key(policy Policy, client string) string {
	if l.prefix == "" {
		return policy.Name + ":" + client
	}
	return l.prefix + ":" + policy.Name + ":" + client
}
