package out

import (
	"context"

	"github.com/albin6/social-realtime/internal/domain/entity"
)

// CallRecordRepository 通话归档仓储
type CallRecordRepository interface {
	// Save 保存终结会话的归档记录
	Save(ctx context.Context, record *entity.CallRecord) error

	// ListByUser 查询用户最近的通话记录
	ListByUser(ctx context.Context, userID string, limit int) ([]*entity.CallRecord, error)
}
