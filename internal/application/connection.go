package application

import (
	"context"
	"time"

	"github.com/albin6/social-realtime/internal/domain/entity"
	"github.com/albin6/social-realtime/internal/metrics"
	"github.com/albin6/social-realtime/internal/ports/in"
	"github.com/albin6/social-realtime/internal/ports/out"
	"github.com/albin6/social-realtime/pkg/zlog"
)

var _ in.ConnectionUseCase = (*ConnectionService)(nil)

// ConnectionService 连接生命周期服务
// Connect 在返回前同步补投离线队列，保证先队列后新消息的顺序
type ConnectionService struct {
	registry   out.ConnectionRegistry
	router     in.RouterUseCase
	calls      in.CallUseCase
	serverAddr string
}

// NewConnectionService 创建连接服务
func NewConnectionService(
	registry out.ConnectionRegistry,
	router in.RouterUseCase,
	calls in.CallUseCase,
	serverAddr string,
) *ConnectionService {
	return &ConnectionService{
		registry:   registry,
		router:     router,
		calls:      calls,
		serverAddr: serverAddr,
	}
}

// Connect 登记连接并补投离线队列
// 登记和补投是路由锁内的一个动作，重连后的新事件不会插队
// 补投失败不阻断连接建立，事件已按原顺序回到队列
func (s *ConnectionService) Connect(ctx context.Context, userID, connID, platform string) error {
	now := time.Now()
	conn := &entity.Connection{
		ConnID:         connID,
		UserID:         userID,
		Platform:       platform,
		ServerAddr:     s.serverAddr,
		EstablishedAt:  now,
		LastActivityAt: now,
	}

	drained, err := s.router.RegisterAndDrain(ctx, conn)
	if err != nil {
		return err
	}
	metrics.ActiveConnections.Inc()
	if drained > 0 {
		zlog.Info("重连补投",
			zlog.String("user_id", userID),
			zlog.Int("delivered", drained))
	}

	zlog.Info("连接建立",
		zlog.String("user_id", userID),
		zlog.String("conn_id", connID),
		zlog.String("platform", platform))
	return nil
}

// Disconnect 注销连接，用户完全离线时触发会话终结
func (s *ConnectionService) Disconnect(ctx context.Context, connID string) error {
	userID, err := s.registry.Unregister(ctx, connID)
	if err != nil {
		return err
	}
	if userID == "" {
		return nil
	}
	metrics.ActiveConnections.Dec()

	s.afterOffline(ctx, userID)

	zlog.Info("连接断开",
		zlog.String("user_id", userID),
		zlog.String("conn_id", connID))
	return nil
}

// Heartbeat 刷新连接活跃时间
func (s *ConnectionService) Heartbeat(ctx context.Context, connID string) error {
	return s.registry.Touch(ctx, connID)
}

// RunSweeper 周期清理超时连接，直到 ctx 取消
func (s *ConnectionService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.registry.SweepExpired(ctx)
			if err != nil {
				zlog.Error("连接清理失败", zlog.Any("error", err))
				continue
			}
			for _, conn := range removed {
				metrics.ActiveConnections.Dec()
				s.afterOffline(ctx, conn.UserID)
			}
			if len(removed) > 0 {
				zlog.Info("清理超时连接", zlog.Int("count", len(removed)))
			}
		}
	}
}

// afterOffline 最后一条连接消失后的离线收尾
func (s *ConnectionService) afterOffline(ctx context.Context, userID string) {
	online, err := s.registry.IsOnline(ctx, userID)
	if err != nil {
		zlog.Warn("离线检查失败",
			zlog.String("user_id", userID),
			zlog.Any("error", err))
		return
	}
	if !online {
		s.calls.HandleDisconnect(ctx, userID)
	}
}
