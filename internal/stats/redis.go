package stats

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/matst80/hellotls/internal/obs"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKey           = "hellotls:stats"
	defaultFlushInterval = 250 * time.Millisecond
)

// RedisStore keeps counters in one Redis hash so several server instances
// behind a load balancer report combined numbers. Record only touches a
// local map; increments reach Redis in batches from a background flusher.
type RedisStore struct {
	client  *redis.Client
	key     string
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]int64
	// flushMu serializes pushes to Redis with Reset.
	flushMu sync.Mutex

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	r := &RedisStore{
		client:  rdb,
		key:     defaultKey,
		timeout: 2 * time.Second,
		pending: make(map[string]int64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.flushLoop(defaultFlushInterval)
	return r, nil
}

func (r *RedisStore) Record(e Event) {
	r.mu.Lock()
	r.pending[e.String()]++
	r.mu.Unlock()
}

func (r *RedisStore) flushLoop(interval time.Duration) {
	defer close(r.done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := r.Flush(ctx); err != nil {
				obs.Error("redis.stats.flush", obs.Fields{"err": err.Error()})
			}
			cancel()
		}
	}
}

// Flush pushes locally counted events to Redis. On failure the counts are
// kept for the next attempt.
func (r *RedisStore) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	batch := r.pending
	r.pending = make(map[string]int64, len(batch))
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for field, n := range batch {
			p.HIncrBy(ctx, r.key, field, n)
		}
		return nil
	})
	if err != nil {
		r.mu.Lock()
		for field, n := range batch {
			r.pending[field] += n
		}
		r.mu.Unlock()
		return fmt.Errorf("redis hincrby failed: %w", err)
	}
	return nil
}

// Snapshot flushes this instance's pending counts, then reads the shared hash.
func (r *RedisStore) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := r.Flush(ctx); err != nil {
		return Snapshot{}, err
	}
	vals, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("redis hgetall failed: %w", err)
	}
	counts := make(map[string]int64, len(vals))
	for field, v := range vals {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			obs.Error("redis.stats.parse", obs.Fields{"err": err.Error(), "field": field})
			continue
		}
		counts[field] = n
	}
	return snapshotFrom(counts), nil
}

// Reset deletes all counters, pending ones included.
func (r *RedisStore) Reset(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	r.pending = make(map[string]int64)
	r.mu.Unlock()
	return r.client.Del(ctx, r.key).Err()
}

// Close stops the flusher, pushes what is left and closes the client.
func (r *RedisStore) Close() error {
	var err error
	r.once.Do(func() {
		close(r.stop)
		<-r.done
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if ferr := r.Flush(ctx); ferr != nil {
			obs.Error("redis.stats.flush", obs.Fields{"err": ferr.Error()})
		}
		err = r.client.Close()
	})
	return err
}
