package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/questboard/realtime"
)

// Scope holds one identity's change subscriptions. Once released it never
// writes to the backend again, so a fetch resolving late is discarded.
type Scope struct {
	cache  *Cache
	userID string

	mu       sync.Mutex
	subs     []realtime.Subscription
	released bool
	used     time.Time
}

func newScope(c *Cache, userID string) *Scope {
	return &Scope{cache: c, userID: userID}
}

// UserID returns the identity the scope belongs to.
func (s *Scope) UserID() string { return s.userID }

// binding maps a table filter to the entries it invalidates.
type binding struct {
	filter  realtime.Filter
	entries []Entry
}

func (s *Scope) bindings() []binding {
	uid := s.userID
	byUser := func(table string) realtime.Filter {
		return realtime.Filter{Table: table, Event: realtime.EventAny, Column: "user_id", Value: uid}
	}
	return []binding{
		{byUser("profiles"), []Entry{EntryProfile, EntryReferralCount}},
		{realtime.Filter{Table: "profiles", Event: realtime.EventAny, Column: "referred_by", Value: uid}, []Entry{EntryReferrals, EntryProfile}},
		{byUser("daily_checkins"), []Entry{EntryDailyCheckins, EntryCurrentStreak, EntryCheckedInToday}},
		{byUser("user_activities"), []Entry{EntryActivities}},
		{byUser("user_quest_completions"), []Entry{EntryCompletions}},
		{byUser("referral_rewards"), []Entry{EntryRewards}},
	}
}

// activate subscribes every binding. On failure the subscriptions made so far
// are removed before returning.
func (s *Scope) activate() error {
	bus := s.cache.bus
	if bus == nil {
		return nil
	}
	for _, b := range s.bindings() {
		entries := b.entries
		sub, err := bus.Subscribe(b.filter, func(realtime.Change) { s.invalidate(entries) })
		if err != nil {
			s.unsubscribeAll()
			return err
		}
		s.mu.Lock()
		s.subs = append(s.subs, sub)
		s.mu.Unlock()
	}
	return nil
}

func (s *Scope) invalidate(entries []Entry) {
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released {
		return
	}
	ctx := context.Background()
	for _, e := range entries {
		if err := s.cache.backend.Delete(ctx, userKey(s.userID, e)); err != nil {
			s.cache.log.Warn("cache invalidate failed", zap.String("user_id", s.userID), zap.String("entry", string(e)), zap.Error(err))
		}
	}
}

// store writes key unless the scope has been released.
func (s *Scope) store(ctx context.Context, key string, b []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	if err := s.cache.backend.Set(ctx, key, b, s.cache.ttl); err != nil {
		s.cache.log.Warn("cache store failed", zap.String("key", key), zap.Error(err))
	}
	return true
}

func (s *Scope) unsubscribeAll() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (s *Scope) release(ctx context.Context) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.mu.Unlock()

	s.unsubscribeAll()
	if err := s.cache.backend.DeleteByPrefix(ctx, userPrefix(s.userID)); err != nil {
		s.cache.log.Warn("cache release failed", zap.String("user_id", s.userID), zap.Error(err))
	}
}

// Released reports whether the scope was torn down.
func (s *Scope) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *Scope) touch(t time.Time) {
	s.mu.Lock()
	s.used = t
	s.mu.Unlock()
}

func (s *Scope) lastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}
