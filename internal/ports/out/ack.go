package out

import (
	"context"

	"github.com/albin6/social-realtime/internal/domain/entity"
)

// AckStore (eventID, recipientID) 维度的投递状态存储
// 状态只能单调前进：pending -> delivered -> read，回退写入是无操作
type AckStore interface {
	// TrackPending 路由时登记初始状态，已存在时不覆盖
	TrackPending(ctx context.Context, eventID, recipientID string) error

	// MarkDelivered pending -> delivered，返回是否发生了转移
	// 未知 eventID 或状态已在 delivered/read 时返回 false，不报错
	MarkDelivered(ctx context.Context, eventID, recipientID string) (bool, error)

	// MarkRead 任意已登记状态 -> read，返回是否发生了转移
	MarkRead(ctx context.Context, eventID, recipientID string) (bool, error)

	// StateOf 查询状态，未登记时返回 pending
	StateOf(ctx context.Context, eventID, recipientID string) (entity.DeliveryState, error)
}
