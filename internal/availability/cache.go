package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"terminarz/internal/events"

	"github.com/redis/go-redis/v9"
)

// Cache is an optional read-through cache for day slot listings. Entries are
// versioned by a generation counter that the workflow bumps through the event
// bus, so a reservation change invalidates every cached listing at once
// without the core depending on the cache.
type Cache struct {
	engine *Engine
	redis  *redis.Client
	ttl    time.Duration
}

const cacheGenKey = "availability:gen"

// NewCache wraps an engine with redis-backed caching.
func NewCache(engine *Engine, rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{engine: engine, redis: rdb, ttl: ttl}
}

// SubscribeInvalidation bumps the cache generation on reservation changes.
func (c *Cache) SubscribeInvalidation(bus *events.Bus) {
	invalidate := func(events.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.redis.Incr(ctx, cacheGenKey).Err()
	}
	bus.Subscribe(events.TypeReservationCreated, invalidate)
	bus.Subscribe(events.TypeReservationChanged, invalidate)
	bus.Subscribe(events.TypeReservationCanceled, invalidate)
}

// Slots returns the available slots for the range, served from cache when a
// current-generation entry exists.
func (c *Cache) Slots(ctx context.Context, from, to time.Time, durationMinutes int) ([]Slot, error) {
	key := c.key(ctx, from, to, durationMinutes)

	if key != "" {
		if cached, ok := c.read(ctx, key); ok {
			return cached, nil
		}
	}

	seq, err := c.engine.Slots(ctx, from, to, durationMinutes)
	if err != nil {
		return nil, err
	}
	var slots []Slot
	for s := range seq {
		slots = append(slots, s)
	}

	if key != "" {
		c.write(ctx, key, slots)
	}
	return slots, nil
}

func (c *Cache) key(ctx context.Context, from, to time.Time, durationMinutes int) string {
	if c.redis == nil || c.ttl <= 0 {
		return ""
	}
	gen, err := c.redis.Get(ctx, cacheGenKey).Result()
	if err != nil {
		gen = "0"
	}
	return fmt.Sprintf("availability:%s:%s:%s:%d",
		gen, from.Format("2006-01-02"), to.Format("2006-01-02"), durationMinutes)
}

func (c *Cache) read(ctx context.Context, key string) ([]Slot, bool) {
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}
	var slots []Slot
	if err := json.Unmarshal([]byte(val), &slots); err != nil {
		return nil, false
	}
	return slots, true
}

func (c *Cache) write(ctx context.Context, key string, slots []Slot) {
	data, err := json.Marshal(slots)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}
