package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "realtime:"

// RedisBus fans changes out across processes through Redis pub/sub. Each
// process keeps its own subscribers in a MemoryBus fed by one pattern
// subscription.
type RedisBus struct {
	rdb    *redis.Client
	local  *MemoryBus
	log    *zap.Logger
	pubsub *redis.PubSub

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// NewRedisBus wraps rdb. Call Start before expecting deliveries.
func NewRedisBus(rdb *redis.Client, log *zap.Logger) *RedisBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBus{rdb: rdb, local: NewMemoryBus(), log: log, done: make(chan struct{})}
}

// Start opens the pattern subscription and begins dispatching.
func (b *RedisBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	ps := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return err
	}
	b.pubsub = ps
	b.started = true
	go b.loop(ps.Channel())
	return nil
}

func (b *RedisBus) loop(ch <-chan *redis.Message) {
	defer close(b.done)
	for msg := range ch {
		var c Change
		if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
			b.log.Warn("realtime: bad payload", zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}
		b.local.dispatch(c)
	}
}

func (b *RedisBus) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channelPrefix+c.Table, payload).Err()
}

func (b *RedisBus) Subscribe(f Filter, h Handler) (Subscription, error) {
	return b.local.Subscribe(f, h)
}

// Close stops the pattern subscription and drops local subscribers.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	ps, started := b.pubsub, b.started
	b.started = false
	b.pubsub = nil
	b.mu.Unlock()

	var err error
	if started && ps != nil {
		err = ps.Close()
		<-b.done
	}
	_ = b.local.Close()
	return err
}
