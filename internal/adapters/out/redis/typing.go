package redis

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/albin6/social-realtime/internal/ports/out"
)

const (
	// 输入中标记Key前缀
	typingKeyPrefix = "rt:typing:"
)

var _ out.TypingStore = (*TypingStoreRedis)(nil)

// TypingStoreRedis 输入中标记Redis实现
// 标记是短TTL的String Key，到期自然消失
type TypingStoreRedis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTypingStoreRedis 创建存储
func NewTypingStoreRedis(client *redis.Client, ttl time.Duration) *TypingStoreRedis {
	return &TypingStoreRedis{client: client, ttl: ttl}
}

func (r *TypingStoreRedis) typingKey(chatID, userID string) string {
	return typingKeyPrefix + chatID + ":" + userID
}

// SetTyping 设置标记，重复调用刷新TTL
func (r *TypingStoreRedis) SetTyping(ctx context.Context, chatID, userID string) error {
	return r.client.Set(ctx, r.typingKey(chatID, userID), "1", r.ttl).Err()
}

// ClearTyping 显式清除
func (r *TypingStoreRedis) ClearTyping(ctx context.Context, chatID, userID string) error {
	return r.client.Del(ctx, r.typingKey(chatID, userID)).Err()
}

// TypingUsers 扫描会话内仍有有效标记的用户
func (r *TypingStoreRedis) TypingUsers(ctx context.Context, chatID string) ([]string, error) {
	prefix := typingKeyPrefix + chatID + ":"

	var users []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		userID := strings.TrimPrefix(iter.Val(), prefix)
		if userID != "" {
			users = append(users, userID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return users, nil
}
