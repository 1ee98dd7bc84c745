package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/albin6/social-realtime/internal/domain/entity"
	"github.com/albin6/social-realtime/internal/metrics"
	"github.com/albin6/social-realtime/internal/ports/out"
)

var _ out.DeliveryQueue = (*Queue)(nil)

// Queue 进程内离线队列
// 每个用户一条有界 FIFO，入队和清空在同一把锁下完成，
// 并发 enqueue-during-drain 天然不丢不重
type Queue struct {
	mu       sync.Mutex
	queues   map[string][]*entity.QueuedEvent
	capacity int
	evicted  atomic.Int64
}

// NewQueue 创建队列，capacity 为单用户容量上限
func NewQueue(capacity int) *Queue {
	return &Queue{
		queues:   make(map[string][]*entity.QueuedEvent),
		capacity: capacity,
	}
}

// Enqueue 追加到队尾，超出容量从队头淘汰
func (q *Queue) Enqueue(ctx context.Context, userID string, event *entity.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	queued := &entity.QueuedEvent{Event: *event, QueuedAt: time.Now()}
	list := append(q.queues[userID], queued)

	for len(list) > q.capacity {
		list = list[1:]
		q.evicted.Add(1)
		metrics.QueueEvictions.Inc()
	}
	q.queues[userID] = list
	return nil
}

// Drain 原子取出并清空
func (q *Queue) Drain(ctx context.Context, userID string) ([]*entity.QueuedEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.queues[userID]
	delete(q.queues, userID)
	return list, nil
}

// PeekCount 队列深度
func (q *Queue) PeekCount(ctx context.Context, userID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[userID]), nil
}

// EvictedCount 累计淘汰数，测试用
func (q *Queue) EvictedCount() int64 {
	return q.evicted.Load()
}
