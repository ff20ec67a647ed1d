package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMiss 键不存在或已过期
var ErrMiss = errors.New("cache: miss")

// Cache 带过期时间的键值缓存
// 所有行程的临时状态（实时快照、站点快照、围栏状态、下一站序号、到站锁）都放在这里
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// MGet 批量读取，缺失的键对应 nil
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX 仅在键不存在时写入，返回是否写入成功
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// SetMax 原子地把整数值提升到 max(当前值, value)，返回提升后的值
	SetMax(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error)
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// LiveKey 实时位置快照
func LiveKey(tripID string) string {
	return fmt.Sprintf("trip:%s:live", tripID)
}

// StopsKey 行程站点快照
func StopsKey(tripID string) string {
	return fmt.Sprintf("trip:%s:stops", tripID)
}

// GeofenceKey 行程围栏状态
func GeofenceKey(tripID string) string {
	return fmt.Sprintf("trip:%s:state", tripID)
}

// NextStopIndexKey 行程下一站序号
func NextStopIndexKey(tripID string) string {
	return fmt.Sprintf("trip:%s:next_stop_index", tripID)
}

// ArrivalLockKey 到站幂等锁，按自然日区分
func ArrivalLockKey(tripID, stopID, date string) string {
	return fmt.Sprintf("trip:%s:stop:%s:lock:%s", tripID, stopID, date)
}

// TripKeys 行程结束时需要清理的键
func TripKeys(tripID string) []string {
	return []string{
		LiveKey(tripID),
		StopsKey(tripID),
		GeofenceKey(tripID),
		NextStopIndexKey(tripID),
	}
}
