package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultLockTTL  = 45 * time.Second
	lockRetryDelay  = time.Second
	lockCallTimeout = 5 * time.Second
	minRenewEvery   = time.Second
)

var (
	lockCounter atomic.Uint64

	renewLockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

	releaseLockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)
)

// LeaderLock runs work only while this process holds a Redis lock.
type LeaderLock struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

func NewLeaderLock(client *goredis.Client, key string, ttl time.Duration, logger *zap.Logger) *LeaderLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeaderLock{client: client, key: key, ttl: ttl, logger: logger}
}

// Run blocks until the lock is acquired, then calls run with a context that is
// cancelled if the lock is lost. It returns after run returns and the lock is released.
func (l *LeaderLock) Run(ctx context.Context, run func(context.Context) error) error {
	if run == nil {
		return errors.New("leader run function is nil")
	}
	if l.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	session, err := l.acquire(ctx)
	if err != nil {
		return err
	}
	defer session.close()

	l.logger.Debug("leader lock acquired", zap.String("key", l.key))
	return run(session.ctx)
}

// TryRun calls run only if the lock is free right now. It reports whether run was called.
func (l *LeaderLock) TryRun(ctx context.Context, run func(context.Context) error) (bool, error) {
	if run == nil {
		return false, errors.New("leader run function is nil")
	}
	if l.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	session, ok, err := l.tryAcquire(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer session.close()

	return true, run(session.ctx)
}

func (l *LeaderLock) acquire(ctx context.Context) (*lockSession, error) {
	for {
		session, ok, err := l.tryAcquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.logger.Warn("leader lock setnx failed", zap.String("key", l.key), zap.Error(err))
		}
		if ok {
			return session, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

func (l *LeaderLock) tryAcquire(ctx context.Context) (*lockSession, bool, error) {
	value := newLockValue()
	ok, err := l.client.SetNX(ctx, l.key, value, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire leader lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	session := &lockSession{
		lock:      l,
		value:     value,
		ctx:       sessionCtx,
		cancel:    cancel,
		stopRenew: make(chan struct{}),
	}
	go session.renewLoop()
	return session, true, nil
}

type lockSession struct {
	lock      *LeaderLock
	value     string
	ctx       context.Context
	cancel    context.CancelFunc
	stopRenew chan struct{}
	closeOnce sync.Once
}

func (s *lockSession) close() {
	s.closeOnce.Do(func() {
		close(s.stopRenew)
		s.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), lockCallTimeout)
		defer cancel()
		if err := releaseLockScript.Run(ctx, s.lock.client, []string{s.lock.key}, s.value).Err(); err != nil && !errors.Is(err, goredis.Nil) {
			s.lock.logger.Warn("leader lock release failed", zap.String("key", s.lock.key), zap.Error(err))
		}
	})
}

func (s *lockSession) renewLoop() {
	interval := s.lock.ttl / 3
	if interval < minRenewEvery {
		interval = minRenewEvery
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopRenew:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.renew(); err != nil {
				s.lock.logger.Warn("leader lock renewal failed", zap.String("key", s.lock.key), zap.Error(err))
				s.cancel()
				return
			}
		}
	}
}

func (s *lockSession) renew() error {
	ctx, cancel := context.WithTimeout(context.Background(), lockCallTimeout)
	defer cancel()

	updated, err := renewLockScript.Run(ctx, s.lock.client, []string{s.lock.key}, s.value, s.lock.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if updated == 0 {
		return errors.New("lock lost")
	}
	return nil
}

func newLockValue() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), lockCounter.Add(1))
}
