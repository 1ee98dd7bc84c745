package out

import "context"

// TypingStore 输入中状态存储
// 标记带短 TTL，到期自动消失，无需显式清除，属于软 UX 信号
type TypingStore interface {
	// SetTyping 设置标记，重复调用刷新 TTL
	SetTyping(ctx context.Context, chatID, userID string) error

	// ClearTyping 显式清除，停止输入或失焦时调用
	ClearTyping(ctx context.Context, chatID, userID string) error

	// TypingUsers 返回该会话内仍有有效标记的用户
	TypingUsers(ctx context.Context, chatID string) ([]string, error)
}
