package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// channelPrefix namespaces herald frames in a shared Redis.
const channelPrefix = "herald:"

// Redis is the cross-instance Bus backed by Redis pub/sub.
type Redis struct {
	client *redis.Client

	mu     sync.RWMutex
	nextID int
	subs   map[int]HandlerFunc

	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedis connects to Redis and starts the receive loop.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	b := &Redis{
		client: client,
		subs:   make(map[int]HandlerFunc),
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.pubsub = client.PSubscribe(loopCtx, channelPrefix+"*")

	b.wg.Add(1)
	go b.receive(loopCtx)

	slog.Info("connected to redis bus", "addr", addr)
	return b, nil
}

func (b *Redis) receive(ctx context.Context) {
	defer b.wg.Done()
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			subject := strings.TrimPrefix(msg.Channel, channelPrefix)
			payload := []byte(msg.Payload)

			b.mu.RLock()
			handlers := make([]HandlerFunc, 0, len(b.subs))
			for _, fn := range b.subs {
				handlers = append(handlers, fn)
			}
			b.mu.RUnlock()

			for _, fn := range handlers {
				fn(subject, payload)
			}
		}
	}
}

// Publish sends payload to all instances subscribed to herald frames.
func (b *Redis) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := b.client.Publish(ctx, channelPrefix+subject, payload).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// Subscribe registers fn for frames from every instance.
func (b *Redis) Subscribe(_ context.Context, fn HandlerFunc) (func(), error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}, nil
}

// Close stops the receive loop and closes the client.
func (b *Redis) Close() error {
	b.cancel()
	_ = b.pubsub.Close()
	b.wg.Wait()
	return b.client.Close()
}
