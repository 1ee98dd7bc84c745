package in

import (
	"context"

	"github.com/albin6/social-realtime/internal/domain/entity"
)

// AckUseCase 回执用例
// 回执可能与事件过期清理竞争，未知 eventID 一律按无操作处理
type AckUseCase interface {
	// MarkDelivered 客户端确认收到事件
	// 状态单调前进，重复确认或乱序确认不会回退
	MarkDelivered(ctx context.Context, eventID, recipientID, originUserID string) error

	// MarkRead 客户端确认已读
	// 发生转移且发起者在线时，向发起者直投一条已读回执
	// 发起者离线则丢弃回执，不入队
	MarkRead(ctx context.Context, eventID, recipientID, originUserID string) error

	// StateOf 查询投递状态
	StateOf(ctx context.Context, eventID, recipientID string) (entity.DeliveryState, error)
}
