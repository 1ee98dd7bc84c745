package application

import (
	"context"

	"github.com/albin6/social-realtime/internal/ports/in"
	"github.com/albin6/social-realtime/internal/ports/out"
)

var _ in.PresenceUseCase = (*PresenceService)(nil)

// PresenceService 在线状态服务
// 在线视图直接来自连接注册表，不单独维护状态
type PresenceService struct {
	registry out.ConnectionRegistry
	typing   out.TypingStore
}

// NewPresenceService 创建在线状态服务
func NewPresenceService(registry out.ConnectionRegistry, typing out.TypingStore) *PresenceService {
	return &PresenceService{registry: registry, typing: typing}
}

// IsOnline 用户是否在线
func (s *PresenceService) IsOnline(ctx context.Context, userID string) (bool, error) {
	return s.registry.IsOnline(ctx, userID)
}

// OnlineStatus 批量查询在线状态
func (s *PresenceService) OnlineStatus(ctx context.Context, userIDs []string) (map[string]bool, error) {
	result := make(map[string]bool, len(userIDs))
	for _, userID := range userIDs {
		online, err := s.registry.IsOnline(ctx, userID)
		if err != nil {
			return nil, err
		}
		result[userID] = online
	}
	return result, nil
}

// OnlineUsers 全部在线用户
func (s *PresenceService) OnlineUsers(ctx context.Context) ([]string, error) {
	return s.registry.OnlineUsers(ctx)
}

// SetTyping 标记输入中
func (s *PresenceService) SetTyping(ctx context.Context, userID, chatID string) error {
	return s.typing.SetTyping(ctx, chatID, userID)
}

// ClearTyping 清除输入中标记
func (s *PresenceService) ClearTyping(ctx context.Context, userID, chatID string) error {
	return s.typing.ClearTyping(ctx, chatID, userID)
}

// TypingUsers 会话内输入中的用户
func (s *PresenceService) TypingUsers(ctx context.Context, chatID string) ([]string, error) {
	return s.typing.TypingUsers(ctx, chatID)
}
