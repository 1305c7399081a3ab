package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mazza/sellerd/internal/logging"
)

const (
	// InvalidationChannel is the Redis Pub/Sub channel carrying invalidation
	// signals between stores of the same seller (e.g. a counter tablet and a
	// back-office terminal). A completion on one device marks the same keys
	// stale everywhere without waiting for TTL expiry.
	InvalidationChannel = "sellerd:cache:invalidate"

	publishTimeout = 2 * time.Second
)

type invalidationMessage struct {
	Origin string `json:"origin"`
	Key    Key    `json:"key"`
	Prefix bool   `json:"prefix,omitempty"`
}

// Invalidator invalidates keys in a local Store and broadcasts them, and
// applies invalidations broadcast by other stores.
type Invalidator struct {
	store   *Store
	client  *redis.Client
	channel string
	origin  string

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// NewInvalidator creates an invalidator for store. An empty channel uses
// InvalidationChannel.
func NewInvalidator(store *Store, client *redis.Client, channel string) *Invalidator {
	if channel == "" {
		channel = InvalidationChannel
	}
	return &Invalidator{
		store:   store,
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

// Start listens for remote invalidations. It blocks until ctx is cancelled
// or Close is called.
func (ci *Invalidator) Start(ctx context.Context) {
	subCtx, cancel := context.WithCancel(ctx)
	ci.mu.Lock()
	if ci.closed {
		ci.mu.Unlock()
		cancel()
		return
	}
	ci.cancel = cancel
	ci.mu.Unlock()

	pubsub := ci.client.Subscribe(subCtx, ci.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ci.apply(msg.Payload)
		}
	}
}

func (ci *Invalidator) apply(payload string) {
	var m invalidationMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		logging.Op().Warn("ignoring malformed invalidation", "error", err)
		return
	}
	if m.Origin == ci.origin {
		return
	}
	if m.Prefix {
		ci.store.InvalidatePrefix(m.Key)
		return
	}
	ci.store.Invalidate(m.Key)
}

// Invalidate marks key stale locally and publishes it. Publish failures are
// logged; the local invalidation always happens.
func (ci *Invalidator) Invalidate(key Key) {
	ci.store.Invalidate(key)
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := ci.Publish(ctx, key, false); err != nil {
		logging.Op().Warn("publish invalidation failed", "key", key.String(), "error", err)
	}
}

// Publish broadcasts an invalidation for key, or for every key under it when
// prefix is set, without touching the local store.
func (ci *Invalidator) Publish(ctx context.Context, key Key, prefix bool) error {
	data, err := json.Marshal(invalidationMessage{Origin: ci.origin, Key: key, Prefix: prefix})
	if err != nil {
		return err
	}
	return ci.client.Publish(ctx, ci.channel, data).Err()
}

// Close stops the listener.
func (ci *Invalidator) Close() error {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	if ci.closed {
		return nil
	}
	ci.closed = true
	if ci.cancel != nil {
		ci.cancel()
	}
	return nil
}
