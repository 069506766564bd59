package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/questboard/gateway"
	"github.com/cppla/questboard/realtime"
	"github.com/cppla/questboard/session"
)

// Entry names one cached view of an identity's data.
type Entry string

const (
	EntryProfile        Entry = "profile"
	EntryDailyCheckins  Entry = "daily_checkins"
	EntryActivities     Entry = "user_activities"
	EntryQuests         Entry = "quests"
	EntryCompletions    Entry = "quest_completions"
	EntryRewards        Entry = "referral_rewards"
	EntryReferrals      Entry = "user_referrals"
	EntryReferralCount  Entry = "referral_count"
	EntryCurrentStreak  Entry = "current_streak"
	EntryCheckedInToday Entry = "checked_in_today"
)

const (
	keyPrefix = "cache:"
	globalKey = keyPrefix + "global:" + string(EntryQuests)

	checkinLimit  = 30
	activityLimit = 50
)

// ErrReleased is returned when a scope is used after release.
var ErrReleased = errors.New("cache: scope released")

// Options tune entry lifetime.
type Options struct {
	TTL time.Duration
	Now func() time.Time
}

// Cache owns the per-identity scopes and the global quest catalog entry.
type Cache struct {
	backend Backend
	bus     realtime.Bus
	reads   gateway.Reads
	log     *zap.Logger
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	scopes    map[string]*Scope
	globalSub realtime.Subscription
}

// New builds a cache. Call Start to follow quest catalog changes.
func New(backend Backend, bus realtime.Bus, reads gateway.Reads, log *zap.Logger, opts Options) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		backend: backend,
		bus:     bus,
		reads:   reads,
		log:     log,
		ttl:     opts.TTL,
		now:     opts.Now,
		scopes:  make(map[string]*Scope),
	}
}

// Start subscribes the global quest catalog to change notifications.
func (c *Cache) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.globalSub != nil || c.bus == nil {
		return nil
	}
	sub, err := c.bus.Subscribe(realtime.Filter{Table: "quests", Event: realtime.EventAny}, func(realtime.Change) {
		_ = c.backend.Delete(context.Background(), globalKey)
	})
	if err != nil {
		return err
	}
	c.globalSub = sub
	return nil
}

// Stop releases every scope and the global subscription.
func (c *Cache) Stop() {
	c.mu.Lock()
	scopes := make([]*Scope, 0, len(c.scopes))
	for _, s := range c.scopes {
		scopes = append(scopes, s)
	}
	c.scopes = make(map[string]*Scope)
	if c.globalSub != nil {
		c.globalSub.Unsubscribe()
		c.globalSub = nil
	}
	c.mu.Unlock()

	for _, s := range scopes {
		s.release(context.Background())
	}
}

// Scope returns the live scope for h, activating it on first use. A signed-out
// handle has no scope.
func (c *Cache) Scope(h session.Handle) (*Scope, error) {
	if !h.Authenticated() {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.scopes[h.UserID]; ok {
		s.touch(c.now())
		return s, nil
	}
	s := newScope(c, h.UserID)
	if err := s.activate(); err != nil {
		return nil, err
	}
	s.touch(c.now())
	c.scopes[h.UserID] = s
	return s, nil
}

// Release tears down userID's scope and drops its entries.
func (c *Cache) Release(userID string) {
	c.mu.Lock()
	s, ok := c.scopes[userID]
	delete(c.scopes, userID)
	c.mu.Unlock()
	if ok {
		s.release(context.Background())
	}
}

// ReleaseIdle releases scopes not used for maxIdle and returns how many.
func (c *Cache) ReleaseIdle(maxIdle time.Duration) int {
	cutoff := c.now().Add(-maxIdle)
	c.mu.Lock()
	var idle []*Scope
	for id, s := range c.scopes {
		if s.lastUsed().Before(cutoff) {
			idle = append(idle, s)
			delete(c.scopes, id)
		}
	}
	c.mu.Unlock()

	for _, s := range idle {
		s.release(context.Background())
	}
	return len(idle)
}

// Active returns the number of live scopes.
func (c *Cache) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.scopes)
}

// Invalidate drops the named entries of h. EntryQuests drops the global catalog.
func (c *Cache) Invalidate(ctx context.Context, h session.Handle, entries ...Entry) {
	for _, e := range entries {
		if e == EntryQuests {
			_ = c.backend.Delete(ctx, globalKey)
			continue
		}
		if h.Authenticated() {
			_ = c.backend.Delete(ctx, userKey(h.UserID, e))
		}
	}
}

func userKey(userID string, e Entry) string {
	return keyPrefix + userID + ":" + string(e)
}

func userPrefix(userID string) string {
	return keyPrefix + userID + ":"
}

// load is the read-through path shared by every entry. Signed-out handles get
// the zero value without fetching.
func load[T any](ctx context.Context, c *Cache, h session.Handle, e Entry, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	s, err := c.Scope(h)
	if err != nil || s == nil {
		return zero, err
	}
	key := userKey(h.UserID, e)

	if b, ok := c.backend.Get(ctx, key); ok {
		var v T
		if err := json.Unmarshal(b, &v); err == nil {
			return v, nil
		}
		c.log.Warn("cache entry undecodable, refetching", zap.String("key", key))
	}

	v, err := fetch(ctx)
	if err != nil {
		return zero, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v, nil
	}
	if !s.store(ctx, key, b) {
		c.log.Debug("discarding fetch for released scope", zap.String("key", key))
	}
	return v, nil
}
