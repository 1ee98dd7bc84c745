package out

import (
	"context"

	"github.com/albin6/social-realtime/internal/domain/entity"
)

// ConnectionRegistry 连接注册表
// 记录 userID 与活跃连接的映射，multi-device 下一个用户可对应多条连接
// 查询不存在的 key 一律返回空值，不报错
type ConnectionRegistry interface {
	// Register 登记连接，重复登记是幂等的，同时刷新 TTL
	Register(ctx context.Context, conn *entity.Connection) error

	// Touch 刷新连接活跃时间
	// 连接已不存在时静默忽略，避免与并发过期清理竞争
	Touch(ctx context.Context, connID string) error

	// Unregister 移除连接，返回其归属用户，供下游做离线清理
	// 连接不存在时返回空串
	Unregister(ctx context.Context, connID string) (string, error)

	// ConnectionsFor 返回用户的全部连接 ID，可能为空
	ConnectionsFor(ctx context.Context, userID string) ([]string, error)

	// IsOnline 用户是否至少有一条活跃连接
	IsOnline(ctx context.Context, userID string) (bool, error)

	// OnlineUsers 当前所有在线用户
	OnlineUsers(ctx context.Context) ([]string, error)

	// SweepExpired 清理超过 TTL 未活跃的连接，返回被移除的连接
	// 依赖存储自身过期机制的实现可以返回空
	SweepExpired(ctx context.Context) ([]*entity.Connection, error)
}
