package out

import (
	"context"

	"github.com/albin6/social-realtime/internal/domain/entity"
)

// DeliveryQueue 离线投递队列
// 每个用户一条有界 FIFO 队列，超出容量从队头淘汰最旧事件
// 淘汰是有意的静默丢弃，只通过计数器暴露，不作为错误返回
type DeliveryQueue interface {
	// Enqueue 追加到队尾，超出容量时淘汰队头
	Enqueue(ctx context.Context, userID string, event *entity.Event) error

	// Drain 原子地取出并清空整条队列，按入队顺序返回
	// 与并发 Enqueue 互不丢失、互不重复：并发入队的事件要么出现在
	// 本次结果里，要么留给下一次 Drain
	Drain(ctx context.Context, userID string) ([]*entity.QueuedEvent, error)

	// PeekCount 队列深度，用于未读角标
	PeekCount(ctx context.Context, userID string) (int, error)
}
