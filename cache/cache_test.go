package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cppla/questboard/gateway"
	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/progress"
	"github.com/cppla/questboard/realtime"
	"github.com/cppla/questboard/session"
)

type fakeReads struct {
	gateway.Reads

	mu       sync.Mutex
	calls    map[string]int
	profiles map[string]*models.Profile
	quests   []models.Quest

	started chan struct{}
	gate    chan struct{}
}

func newFakeReads() *fakeReads {
	return &fakeReads{
		calls: map[string]int{},
		profiles: map[string]*models.Profile{
			"u1": {UserID: "u1", Username: "alice", Points: 10, TotalReferrals: 3},
			"u2": {UserID: "u2", Username: "bob", Points: 99},
		},
	}
}

func (f *fakeReads) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeReads) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	f.mu.Lock()
	f.calls["profile"]++
	p, ok := f.profiles[userID]
	started, gate := f.started, f.gate
	f.mu.Unlock()
	if started != nil {
		close(started)
		<-gate
	}
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeReads) ActiveQuests(ctx context.Context) ([]models.Quest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["quests"]++
	return f.quests, nil
}

func (f *fakeReads) Completions(ctx context.Context, userID string) ([]models.UserQuestCompletion, error) {
	return nil, nil
}

func (f *fakeReads) Counters(ctx context.Context, userID string) (progress.Counters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["counters"]++
	return progress.Counters{CurrentStreak: 2, CheckedInToday: true}, nil
}

func alice() session.Handle { return session.Handle{UserID: "u1", Username: "alice"} }
func bob() session.Handle { return session.Handle{UserID: "u2", Username: "bob"} }

func newTestCache(reads gateway.Reads, bus realtime.Bus) (*Cache, *MemoryBackend) {
	backend := NewMemoryBackend()
	return New(backend, bus, reads, nil, Options{TTL: time.Minute}), backend
}

func TestReadThroughFetchesOnce(t *testing.T) {
	reads := newFakeReads()
	c, _ := newTestCache(reads, realtime.NewMemoryBus())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := c.Profile(ctx, alice())
		if err != nil {
			t.Fatalf("profile: %v", err)
		}
		if p.Username != "alice" {
			t.Fatalf("expected alice, got %s", p.Username)
		}
	}
	if n := reads.count("profile"); n != 1 {
		t.Fatalf("expected one fetch, got %d", n)
	}
}

func TestSignedOutReadsDefaults(t *testing.T) {
	reads := newFakeReads()
	c, backend := newTestCache(reads, realtime.NewMemoryBus())

	p, err := c.Profile(context.Background(), session.Anonymous)
	if err != nil || p != nil {
		t.Fatalf("expected nil profile without error, got %+v %v", p, err)
	}
	n, _ := c.ReferralCount(context.Background(), session.Anonymous)
	if n != 0 {
		t.Fatalf("expected zero referral count, got %d", n)
	}
	if reads.count("profile") != 0 || backend.Len() != 0 {
		t.Fatalf("signed-out reads must not fetch or store")
	}
}

func TestIdentitiesAreIsolated(t *testing.T) {
	reads := newFakeReads()
	c, _ := newTestCache(reads, realtime.NewMemoryBus())
	ctx := context.Background()

	a, _ := c.Profile(ctx, alice())
	c.Release("u1")
	b, _ := c.Profile(ctx, bob())
	if a.Username != "alice" || b.Username != "bob" {
		t.Fatalf("profiles leaked across identities: %s / %s", a.Username, b.Username)
	}
}

func TestChangeNotificationInvalidatesOwnEntriesOnly(t *testing.T) {
	reads := newFakeReads()
	bus := realtime.NewMemoryBus()
	c, _ := newTestCache(reads, bus)
	ctx := context.Background()

	_, _ = c.Profile(ctx, alice())
	_, _ = c.Profile(ctx, bob())

	_ = bus.Publish(ctx, realtime.NewChange("profiles", realtime.EventUpdate, "user_id", "u1"))

	_, _ = c.Profile(ctx, alice())
	_, _ = c.Profile(ctx, bob())
	if n := reads.count("profile"); n != 3 {
		t.Fatalf("expected only alice to refetch (3 fetches), got %d", n)
	}
}

func TestCheckinChangeInvalidatesCounters(t *testing.T) {
	reads := newFakeReads()
	bus := realtime.NewMemoryBus()
	c, _ := newTestCache(reads, bus)
	ctx := context.Background()

	counters, err := c.Counters(ctx, alice())
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if counters.ReferralCount != 3 || counters.CurrentStreak != 2 || !counters.CheckedInToday {
		t.Fatalf("unexpected counters: %+v", counters)
	}
	before := reads.count("counters")

	_ = bus.Publish(ctx, realtime.NewChange("daily_checkins", realtime.EventInsert, "user_id", "u1"))
	_, _ = c.Counters(ctx, alice())
	if got := reads.count("counters"); got != before+2 {
		t.Fatalf("expected streak and check-in entries to refetch, got %d calls (was %d)", got, before)
	}
}

func TestReleaseUnsubscribesAndDropsEntries(t *testing.T) {
	reads := newFakeReads()
	bus := realtime.NewMemoryBus()
	c, backend := newTestCache(reads, bus)
	ctx := context.Background()

	_, _ = c.Profile(ctx, alice())
	if bus.Len() == 0 || backend.Len() == 0 {
		t.Fatalf("expected live subscriptions and a cached entry")
	}
	c.Release("u1")
	if bus.Len() != 0 {
		t.Fatalf("expected every subscription removed, %d left", bus.Len())
	}
	if backend.Len() != 0 {
		t.Fatalf("expected entries dropped, %d left", backend.Len())
	}
	if c.Active() != 0 {
		t.Fatalf("expected no active scopes")
	}
}

func TestLateFetchAfterReleaseIsDiscarded(t *testing.T) {
	reads := newFakeReads()
	reads.started = make(chan struct{})
	reads.gate = make(chan struct{})
	c, backend := newTestCache(reads, realtime.NewMemoryBus())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Profile(context.Background(), alice())
	}()

	<-reads.started
	c.Release("u1")
	close(reads.gate)
	<-done

	if _, ok := backend.Get(context.Background(), userKey("u1", EntryProfile)); ok {
		t.Fatalf("late fetch must not populate a released scope")
	}
}

// partialScanBackend never finds keys by prefix, like a scan that stops
// before it reaches them.
type partialScanBackend struct {
	*MemoryBackend
}

func (partialScanBackend) DeleteByPrefix(context.Context, string) error { return nil }

func TestInvalidationDeletesExactKeys(t *testing.T) {
	reads := newFakeReads()
	bus := realtime.NewMemoryBus()
	backend := partialScanBackend{NewMemoryBackend()}
	c := New(backend, bus, reads, nil, Options{TTL: time.Minute})
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx := context.Background()

	_, _ = c.Profile(ctx, alice())
	c.Invalidate(ctx, alice(), EntryProfile)
	if _, ok := backend.Get(ctx, userKey("u1", EntryProfile)); ok {
		t.Fatalf("explicit invalidation left the entry behind")
	}

	_, _ = c.Profile(ctx, alice())
	_ = bus.Publish(ctx, realtime.NewChange("profiles", realtime.EventUpdate, "user_id", "u1"))
	if _, ok := backend.Get(ctx, userKey("u1", EntryProfile)); ok {
		t.Fatalf("change notification left the entry behind")
	}

	_, _ = c.Quests(ctx)
	_ = bus.Publish(ctx, realtime.NewChange("quests", realtime.EventInsert, "id", "q9"))
	if _, ok := backend.Get(ctx, globalKey); ok {
		t.Fatalf("quest change left the catalog behind")
	}
	if n := reads.count("profile"); n != 2 {
		t.Fatalf("expected two profile fetches, got %d", n)
	}
}

type failingBus struct {
	*realtime.MemoryBus
	allow int
	n     int
}

func (b *failingBus) Subscribe(f realtime.Filter, h realtime.Handler) (realtime.Subscription, error) {
	b.n++
	if b.n > b.allow {
		return nil, errors.New("subscribe refused")
	}
	return b.MemoryBus.Subscribe(f, h)
}

func TestActivationFailureUnsubscribes(t *testing.T) {
	bus := &failingBus{MemoryBus: realtime.NewMemoryBus(), allow: 3}
	c, _ := newTestCache(newFakeReads(), bus)

	if _, err := c.Profile(context.Background(), alice()); err == nil {
		t.Fatalf("expected activation error")
	}
	if bus.Len() != 0 {
		t.Fatalf("expected partial subscriptions removed, %d left", bus.Len())
	}
	if c.Active() != 0 {
		t.Fatalf("failed scope must not be registered")
	}
}

func TestGlobalQuestCatalogInvalidation(t *testing.T) {
	reads := newFakeReads()
	reads.quests = []models.Quest{{ID: "q1", Title: "Invite friends", QuestType: models.QuestReferral, IsActive: true}}
	bus := realtime.NewMemoryBus()
	c, _ := newTestCache(reads, bus)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx := context.Background()

	_, _ = c.Quests(ctx)
	_, _ = c.Quests(ctx)
	if reads.count("quests") != 1 {
		t.Fatalf("expected catalog fetched once")
	}
	_ = bus.Publish(ctx, realtime.NewChange("quests", realtime.EventInsert, "id", "q2"))
	_, _ = c.Quests(ctx)
	if reads.count("quests") != 2 {
		t.Fatalf("expected catalog refetch after quest change")
	}
	c.Stop()
	if bus.Len() != 0 {
		t.Fatalf("stop must remove the global subscription")
	}
}

func TestReleaseIdle(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	backend := NewMemoryBackend()
	c := New(backend, realtime.NewMemoryBus(), newFakeReads(), nil, Options{Now: func() time.Time { return now }})
	ctx := context.Background()

	_, _ = c.Profile(ctx, alice())
	now = now.Add(10 * time.Minute)
	_, _ = c.Profile(ctx, bob())
	now = now.Add(25 * time.Minute)

	if n := c.ReleaseIdle(30 * time.Minute); n != 1 {
		t.Fatalf("expected one idle scope released, got %d", n)
	}
	if c.Active() != 1 {
		t.Fatalf("expected bob's scope to survive")
	}
}

func TestQuestBoardForSignedOutHandle(t *testing.T) {
	reads := newFakeReads()
	reads.quests = []models.Quest{{ID: "q1", QuestType: models.QuestOnetime, IsActive: true}}
	c, _ := newTestCache(reads, realtime.NewMemoryBus())

	views, err := c.QuestBoard(context.Background(), session.Anonymous)
	if err != nil || len(views) != 1 {
		t.Fatalf("unexpected board: %+v %v", views, err)
	}
	if views[0].CanComplete {
		t.Fatalf("signed-out handle must not see completable quests")
	}
}
