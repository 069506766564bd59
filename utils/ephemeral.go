package utils

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// ephemeralStore keeps short-lived single-use values in Redis, falling back
// to process memory when Redis is not configured or unreachable.
type ephemeralStore struct {
	prefix string

	mu    sync.Mutex
	items map[string]ephemeralEntry
}

type ephemeralEntry struct {
	value     string
	expiresAt time.Time
}

const getDelScript = `local v=redis.call('GET', KEYS[1]); if v then redis.call('DEL', KEYS[1]); end; return v`

func newEphemeralStore(prefix string) *ephemeralStore {
	return &ephemeralStore{prefix: prefix, items: map[string]ephemeralEntry{}}
}

func (s *ephemeralStore) put(key, value string, ttl time.Duration) {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rc.Set(ctx, s.prefix+key, value, ttl).Err(); err == nil {
			return
		}
	}
	s.mu.Lock()
	s.items[key] = ephemeralEntry{value: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
}

// putNX stores value only when key is absent and reports whether it did.
func (s *ephemeralStore) putNX(key, value string, ttl time.Duration) bool {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if ok, err := rc.SetNX(ctx, s.prefix+key, value, ttl).Result(); err == nil {
			return ok
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.items[key]; ok && time.Now().Before(e.expiresAt) {
		return false
	}
	s.items[key] = ephemeralEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return true
}

// take returns and removes the value. Prefers GETDEL, then a Lua GET+DEL.
func (s *ephemeralStore) take(key string) (string, bool) {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if v, err := rc.GetDel(ctx, s.prefix+key).Result(); err == nil {
			return v, true
		}
		if res, err := rc.Eval(ctx, getDelScript, []string{s.prefix + key}).Result(); err == nil {
			v, ok := res.(string)
			return v, ok
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok {
		return "", false
	}
	delete(s.items, key)
	if time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

func (s *ephemeralStore) exists(key string) bool {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// fail open on Redis errors to avoid locking everyone out
		n, err := rc.Exists(ctx, s.prefix+key).Result()
		return err == nil && n > 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok {
		return false
	}
	if time.Now().After(e.expiresAt) {
		delete(s.items, key)
		return false
	}
	return true
}

// sweep drops expired in-memory entries.
func (s *ephemeralStore) sweep() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.items {
		if now.After(e.expiresAt) {
			delete(s.items, k)
			n++
		}
	}
	return n
}

// incr bumps a counter, starting its TTL on first use, and returns the new value.
func (s *ephemeralStore) incr(key string, ttl time.Duration) int {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if n, err := rc.Incr(ctx, s.prefix+key).Result(); err == nil {
			if n == 1 {
				_ = rc.Expire(ctx, s.prefix+key, ttl).Err()
			}
			return int(n)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	e, ok := s.items[key]
	if !ok || now.After(e.expiresAt) {
		e = ephemeralEntry{value: "0", expiresAt: now.Add(ttl)}
	}
	n, _ := strconv.Atoi(e.value)
	n++
	e.value = strconv.Itoa(n)
	s.items[key] = e
	return n
}

// count reads a counter written by incr.
func (s *ephemeralStore) count(key string) int {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if n, err := rc.Get(ctx, s.prefix+key).Int(); err == nil {
			return n
		}
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		return 0
	}
	n, _ := strconv.Atoi(e.value)
	return n
}
