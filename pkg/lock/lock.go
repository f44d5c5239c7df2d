package lock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when the key is already held by another turn.
var ErrBusy = errors.New("lock is held")

// Release gives the lock back. It is safe to call more than once.
type Release func()

// Locker guards a key against concurrent holders. Acquire never waits: a
// held key fails fast with ErrBusy.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// SessionKey is the lock key for one chat session.
func SessionKey(sessionID string) string {
	return "session:" + sessionID
}

// LocalLocker holds keys in process memory.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, key string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrBusy
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// releaseScript deletes the key only while it still carries our token, so
// a holder whose TTL lapsed cannot free someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
	Client   *redis.Client
	Logger   *log.Logger
}

// RedisLocker shares locks between processes through SET NX with a TTL.
type RedisLocker struct {
	client *redis.Client
	owned  bool
	ttl    time.Duration
	prefix string
	logger *log.Logger
}

func NewRedis(ctx context.Context, config RedisConfig) (*RedisLocker, error) {
	if config.TTL <= 0 {
		config.TTL = 10 * time.Minute
	}
	if config.Prefix == "" {
		config.Prefix = "recall:lock:"
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[LOCK] ", log.LstdFlags)
	}

	client, owned := config.Client, false
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		})
		owned = true
	}
	if err := client.Ping(ctx).Err(); err != nil {
		if owned {
			client.Close()
		}
		return nil, fmt.Errorf("failed to reach redis at %s: %w", config.Addr, err)
	}

	return &RedisLocker{
		client: client,
		owned:  owned,
		ttl:    config.TTL,
		prefix: config.Prefix,
		logger: logger,
	}, nil
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	full := r.prefix + key
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be gone when the turn ends.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{full}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				r.logger.Printf("failed to release lock %s: %v", key, err)
			}
		})
	}, nil
}

func (r *RedisLocker) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}
