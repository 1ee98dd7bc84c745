package memory

import (
	"context"
	"sync"
	"time"

	"github.com/albin6/social-realtime/internal/domain/entity"
	"github.com/albin6/social-realtime/internal/ports/out"
)

// 确保实现接口
var _ out.ConnectionRegistry = (*Registry)(nil)

// Registry 进程内连接注册表
// 单节点部署使用，多实例部署应使用 Redis 实现共享在线视图
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entity.Connection       // connID -> connection
	users map[string]map[string]struct{}      // userID -> connID 集合
	ttl   time.Duration
}

// NewRegistry 创建注册表，ttl 为连接最大空闲时间
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		conns: make(map[string]*entity.Connection),
		users: make(map[string]map[string]struct{}),
		ttl:   ttl,
	}
}

// Register 登记连接，重复登记只刷新活跃时间
func (r *Registry) Register(ctx context.Context, conn *entity.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[conn.ConnID]; ok {
		existing.LastActivityAt = time.Now()
		return nil
	}

	c := *conn
	if c.EstablishedAt.IsZero() {
		c.EstablishedAt = time.Now()
	}
	if c.LastActivityAt.IsZero() {
		c.LastActivityAt = c.EstablishedAt
	}

	r.conns[c.ConnID] = &c
	if r.users[c.UserID] == nil {
		r.users[c.UserID] = make(map[string]struct{})
	}
	r.users[c.UserID][c.ConnID] = struct{}{}
	return nil
}

// Touch 刷新活跃时间，连接不存在时静默忽略
func (r *Registry) Touch(ctx context.Context, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[connID]; ok {
		conn.LastActivityAt = time.Now()
	}
	return nil
}

// Unregister 移除连接并返回归属用户
func (r *Registry) Unregister(ctx context.Context, connID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connID), nil
}

func (r *Registry) removeLocked(connID string) string {
	conn, ok := r.conns[connID]
	if !ok {
		return ""
	}

	delete(r.conns, connID)
	if set, ok := r.users[conn.UserID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, conn.UserID)
		}
	}
	return conn.UserID
}

// ConnectionsFor 用户的全部连接
func (r *Registry) ConnectionsFor(ctx context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	if len(set) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids, nil
}

// IsOnline 是否在线
func (r *Registry) IsOnline(ctx context.Context, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0, nil
}

// OnlineUsers 全部在线用户
func (r *Registry) OnlineUsers(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.users))
	for id := range r.users {
		users = append(users, id)
	}
	return users, nil
}

// SweepExpired 移除超过 TTL 未活跃的连接
func (r *Registry) SweepExpired(ctx context.Context) ([]*entity.Connection, error) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*entity.Connection
	for connID, conn := range r.conns {
		if conn.Expired(r.ttl, now) {
			removed = append(removed, conn)
			r.removeLocked(connID)
		}
	}
	return removed, nil
}
