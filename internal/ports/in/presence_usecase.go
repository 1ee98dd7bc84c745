package in

import "context"

// PresenceUseCase 在线状态用例
type PresenceUseCase interface {
	// IsOnline 用户是否在线（至少一条活跃连接）
	IsOnline(ctx context.Context, userID string) (bool, error)

	// OnlineStatus 批量查询在线状态
	OnlineStatus(ctx context.Context, userIDs []string) (map[string]bool, error)

	// OnlineUsers 全部在线用户
	OnlineUsers(ctx context.Context) ([]string, error)

	// SetTyping 标记用户在某会话输入中，短 TTL 自动消失
	SetTyping(ctx context.Context, userID, chatID string) error

	// ClearTyping 显式清除输入中标记
	ClearTyping(ctx context.Context, userID, chatID string) error

	// TypingUsers 会话内输入中的用户
	TypingUsers(ctx context.Context, chatID string) ([]string, error)
}
