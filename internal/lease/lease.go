package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrLeaseHeld 租约已被其他运行持有
// 并发触发遇到该错误直接退出，是干净的 no-op，不算失败
var ErrLeaseHeld = errors.New("lease already held")

// releaseScript 只释放自己持有的租约（token 匹配才删除）
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Lease 基于 Redis 的单飞租约
// 每次流水线运行开工前按名称获取租约；租约带最大持有时间，
// 超时视为持有方已崩溃、可被回收——重启的运行依赖幂等的
// 游标/唯一约束设计，不会二次处理
type Lease struct {
	client *redis.Client
	logger *zap.Logger
}

// NewLease 创建租约管理器
func NewLease(client *redis.Client, logger *zap.Logger) *Lease {
	return &Lease{
		client: client,
		logger: logger,
	}
}

// Handle 已获取的租约句柄
type Handle struct {
	key   string
	token string
	lease *Lease
}

// Acquire 获取租约；已被持有时返回 ErrLeaseHeld
func (l *Lease) Acquire(ctx context.Context, name string, ttl time.Duration) (*Handle, error) {
	key := fmt.Sprintf("lease:%s", name)
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}

	l.logger.Debug("Lease acquired",
		zap.String("key", key),
		zap.Duration("ttl", ttl),
	)

	return &Handle{key: key, token: token, lease: l}, nil
}

// Release 释放租约
// 仅当仍由自己持有时删除（token 比较）；租约已超时被回收时是 no-op
func (h *Handle) Release(ctx context.Context) error {
	deleted, err := h.lease.client.Eval(ctx, releaseScript, []string{h.key}, h.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	if deleted == 0 {
		h.lease.logger.Warn("Lease was no longer held at release",
			zap.String("key", h.key),
		)
	}

	return nil
}
