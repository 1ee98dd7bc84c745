package memory

import (
	"context"
	"sync"

	"github.com/albin6/social-realtime/internal/domain/entity"
	"github.com/albin6/social-realtime/internal/ports/out"
)

var _ out.AckStore = (*AckStore)(nil)

type ackKey struct {
	eventID     string
	recipientID string
}

// AckStore 进程内投递状态存储
type AckStore struct {
	mu     sync.RWMutex
	states map[ackKey]entity.DeliveryState
}

// NewAckStore 创建存储
func NewAckStore() *AckStore {
	return &AckStore{states: make(map[ackKey]entity.DeliveryState)}
}

// TrackPending 登记初始状态，已存在时不覆盖
func (s *AckStore) TrackPending(ctx context.Context, eventID, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ackKey{eventID, recipientID}
	if _, ok := s.states[key]; !ok {
		s.states[key] = entity.DeliveryStatePending
	}
	return nil
}

// MarkDelivered pending -> delivered，其余情况无操作
func (s *AckStore) MarkDelivered(ctx context.Context, eventID, recipientID string) (bool, error) {
	return s.advance(eventID, recipientID, entity.DeliveryStateDelivered), nil
}

// MarkRead 任意已登记状态 -> read
func (s *AckStore) MarkRead(ctx context.Context, eventID, recipientID string) (bool, error) {
	return s.advance(eventID, recipientID, entity.DeliveryStateRead), nil
}

// advance 单调推进，未登记或回退写入返回 false
func (s *AckStore) advance(eventID, recipientID string, target entity.DeliveryState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ackKey{eventID, recipientID}
	current, ok := s.states[key]
	if !ok || !current.Before(target) {
		return false
	}
	s.states[key] = target
	return true
}

// StateOf 查询状态，未登记返回 pending
func (s *AckStore) StateOf(ctx context.Context, eventID, recipientID string) (entity.DeliveryState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if state, ok := s.states[ackKey{eventID, recipientID}]; ok {
		return state, nil
	}
	return entity.DeliveryStatePending, nil
}
