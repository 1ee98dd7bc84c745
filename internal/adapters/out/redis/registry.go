package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/albin6/social-realtime/internal/domain/entity"
	"github.com/albin6/social-realtime/internal/ports/out"
)

const (
	// 连接Key前缀，值为连接信息JSON，靠TTL自然过期
	connKeyPrefix = "rt:conn:"
	// 用户连接集合Key前缀
	userConnsKeyPrefix = "rt:user:conns:"
)

// 确保实现接口
var _ out.ConnectionRegistry = (*ConnectionRegistryRedis)(nil)

// ConnectionRegistryRedis 连接注册表Redis实现
// 多实例部署时各节点共享同一份在线视图
// 连接Key带TTL自然过期，用户集合里可能残留失效连接ID，读取时校验并剔除
type ConnectionRegistryRedis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewConnectionRegistryRedis 创建注册表，ttl 为连接最大空闲时间
func NewConnectionRegistryRedis(client *redis.Client, ttl time.Duration) *ConnectionRegistryRedis {
	return &ConnectionRegistryRedis{client: client, ttl: ttl}
}

func (r *ConnectionRegistryRedis) connKey(connID string) string {
	return connKeyPrefix + connID
}

func (r *ConnectionRegistryRedis) userConnsKey(userID string) string {
	return userConnsKeyPrefix + userID
}

// Register 登记连接，重复登记只刷新TTL
func (r *ConnectionRegistryRedis) Register(ctx context.Context, conn *entity.Connection) error {
	data, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("marshal connection: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.connKey(conn.ConnID), data, r.ttl)
	pipe.SAdd(ctx, r.userConnsKey(conn.UserID), conn.ConnID)
	pipe.Expire(ctx, r.userConnsKey(conn.UserID), r.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Touch 刷新连接TTL，连接已过期时静默忽略
func (r *ConnectionRegistryRedis) Touch(ctx context.Context, connID string) error {
	data, err := r.client.Get(ctx, r.connKey(connID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}

	var conn entity.Connection
	if err := json.Unmarshal([]byte(data), &conn); err != nil {
		return fmt.Errorf("unmarshal connection: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Expire(ctx, r.connKey(connID), r.ttl)
	pipe.Expire(ctx, r.userConnsKey(conn.UserID), r.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Unregister 移除连接，返回归属用户
func (r *ConnectionRegistryRedis) Unregister(ctx context.Context, connID string) (string, error) {
	data, err := r.client.Get(ctx, r.connKey(connID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	var conn entity.Connection
	if err := json.Unmarshal([]byte(data), &conn); err != nil {
		return "", fmt.Errorf("unmarshal connection: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.connKey(connID))
	pipe.SRem(ctx, r.userConnsKey(conn.UserID), connID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return conn.UserID, nil
}

// ConnectionsFor 用户的全部活跃连接
// 集合成员逐个校验连接Key是否仍然存活，失效的顺手剔除
func (r *ConnectionRegistryRedis) ConnectionsFor(ctx context.Context, userID string) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.userConnsKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(members))
	for _, connID := range members {
		cmds[connID] = pipe.Exists(ctx, r.connKey(connID))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	live := make([]string, 0, len(members))
	var stale []interface{}
	for connID, cmd := range cmds {
		if cmd.Val() > 0 {
			live = append(live, connID)
		} else {
			stale = append(stale, connID)
		}
	}
	if len(stale) > 0 {
		r.client.SRem(ctx, r.userConnsKey(userID), stale...)
	}
	return live, nil
}

// IsOnline 是否至少有一条活跃连接
func (r *ConnectionRegistryRedis) IsOnline(ctx context.Context, userID string) (bool, error) {
	conns, err := r.ConnectionsFor(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(conns) > 0, nil
}

// OnlineUsers 扫描全部在线用户
func (r *ConnectionRegistryRedis) OnlineUsers(ctx context.Context) ([]string, error) {
	var users []string

	iter := r.client.Scan(ctx, 0, userConnsKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		userID := iter.Val()[len(userConnsKeyPrefix):]
		online, err := r.IsOnline(ctx, userID)
		if err != nil {
			return nil, err
		}
		if online {
			users = append(users, userID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// SweepExpired 连接Key靠TTL自然过期，无需主动清理
func (r *ConnectionRegistryRedis) SweepExpired(ctx context.Context) ([]*entity.Connection, error) {
	return nil, nil
}
