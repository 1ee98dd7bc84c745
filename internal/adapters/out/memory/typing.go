package memory

import (
	"context"
	"sync"
	"time"

	"github.com/albin6/social-realtime/internal/ports/out"
)

var _ out.TypingStore = (*TypingStore)(nil)

// TypingStore 进程内输入中标记
// 过期条目在读取时惰性清理
type TypingStore struct {
	mu    sync.Mutex
	flags map[string]map[string]time.Time // chatID -> userID -> 过期时间
	ttl   time.Duration
}

// NewTypingStore 创建存储，ttl 为标记有效期
func NewTypingStore(ttl time.Duration) *TypingStore {
	return &TypingStore{
		flags: make(map[string]map[string]time.Time),
		ttl:   ttl,
	}
}

// SetTyping 设置标记，重复调用刷新过期时间
func (s *TypingStore) SetTyping(ctx context.Context, chatID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flags[chatID] == nil {
		s.flags[chatID] = make(map[string]time.Time)
	}
	s.flags[chatID][userID] = time.Now().Add(s.ttl)
	return nil
}

// ClearTyping 显式清除
func (s *TypingStore) ClearTyping(ctx context.Context, chatID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if users, ok := s.flags[chatID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(s.flags, chatID)
		}
	}
	return nil
}

// TypingUsers 会话内标记未过期的用户
func (s *TypingStore) TypingUsers(ctx context.Context, chatID string) ([]string, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.flags[chatID]
	if len(users) == 0 {
		return nil, nil
	}

	result := make([]string, 0, len(users))
	for userID, expireAt := range users {
		if now.After(expireAt) {
			delete(users, userID)
			continue
		}
		result = append(result, userID)
	}
	if len(users) == 0 {
		delete(s.flags, chatID)
	}
	return result, nil
}
