package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "analytic_job:lock:"

var (
	// ErrNotAcquired 锁已被其他执行者持有
	ErrNotAcquired = errors.New("lock held by another owner")
	// ErrNotOwner 锁已过期或被他人持有
	ErrNotOwner = errors.New("lock not owned")
)

// Locker 基于 Redis 的任务互斥锁
type Locker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLocker 创建 Locker
func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Locker{rdb: rdb, ttl: ttl}
}

// TTL 锁的过期时间
func (l *Locker) TTL() time.Duration {
	return l.ttl
}

// Lock 持有中的锁
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

// Key 返回任务对应的锁键
func Key(jobID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, jobID)
}

// Acquire 尝试获取任务锁，不阻塞
func (l *Locker) Acquire(ctx context.Context, jobID int64) (*Lock, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate lock token: %w", err)
	}
	token := hex.EncodeToString(buf)
	key := Key(jobID)

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return &Lock{rdb: l.rdb, key: key, token: token, ttl: l.ttl}, nil
}

// Token 锁的持有者标识
func (k *Lock) Token() string {
	return k.token
}

// Release 释放锁，只有持有者可以删除
func (k *Lock) Release(ctx context.Context) error {
	return k.rdb.Watch(ctx, func(tx *redis.Tx) error {
		if err := k.checkOwner(ctx, tx); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k.key)
			return nil
		})
		return err
	}, k.key)
}

// Refresh 续期，用于执行时间超过 TTL 的任务
func (k *Lock) Refresh(ctx context.Context) error {
	return k.rdb.Watch(ctx, func(tx *redis.Tx) error {
		if err := k.checkOwner(ctx, tx); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.PExpire(ctx, k.key, k.ttl)
			return nil
		})
		return err
	}, k.key)
}

func (k *Lock) checkOwner(ctx context.Context, tx *redis.Tx) error {
	val, err := tx.Get(ctx, k.key).Result()
	if err == redis.Nil {
		return ErrNotOwner
	}
	if err != nil {
		return fmt.Errorf("failed to read lock: %w", err)
	}
	if val != k.token {
		return ErrNotOwner
	}
	return nil
}
