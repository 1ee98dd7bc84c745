package application

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/albin6/social-realtime/internal/domain/entity"
	"github.com/albin6/social-realtime/internal/ports/in"
	"github.com/albin6/social-realtime/internal/ports/out"
	"github.com/albin6/social-realtime/pkg/zlog"
)

var _ in.AckUseCase = (*AckService)(nil)

// AckService 回执服务
// 已读回执属于软信号：发起者在线时直投一条，离线时直接丢弃
type AckService struct {
	acks     out.AckStore
	registry out.ConnectionRegistry
	sink     out.ConnectionSink
}

// NewAckService 创建回执服务
func NewAckService(acks out.AckStore, registry out.ConnectionRegistry, sink out.ConnectionSink) *AckService {
	return &AckService{acks: acks, registry: registry, sink: sink}
}

// readReceipt 推送给发起者的已读回执帧
type readReceipt struct {
	EventID  string `json:"event_id"`
	ReaderID string `json:"reader_id"`
	ReadAt   int64  `json:"read_at"`
}

// MarkDelivered 客户端确认收到
// 未知 eventID 或重复确认都是无操作，不报错
func (s *AckService) MarkDelivered(ctx context.Context, eventID, recipientID, originUserID string) error {
	transitioned, err := s.acks.MarkDelivered(ctx, eventID, recipientID)
	if err != nil {
		return err
	}
	if !transitioned {
		zlog.Debug("delivered 确认未发生转移",
			zlog.String("event_id", eventID),
			zlog.String("recipient", recipientID))
	}
	return nil
}

// MarkRead 客户端确认已读
// 发生转移且发起者在线时，向其推送一条已读回执
func (s *AckService) MarkRead(ctx context.Context, eventID, recipientID, originUserID string) error {
	transitioned, err := s.acks.MarkRead(ctx, eventID, recipientID)
	if err != nil {
		return err
	}
	if !transitioned || originUserID == "" || originUserID == recipientID {
		return nil
	}

	online, err := s.registry.IsOnline(ctx, originUserID)
	if err != nil || !online {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"type": "read_receipt",
		"data": &readReceipt{
			EventID:  eventID,
			ReaderID: recipientID,
			ReadAt:   time.Now().Unix(),
		},
	})
	if err != nil {
		return err
	}

	// 回执不入队，发起者恰好掉线就丢
	if err := s.sink.Send(originUserID, payload); err != nil && !errors.Is(err, out.ErrNotConnected) {
		zlog.Warn("推送已读回执失败",
			zlog.String("event_id", eventID),
			zlog.String("origin", originUserID),
			zlog.Any("error", err))
	}
	return nil
}

// StateOf 查询投递状态
func (s *AckService) StateOf(ctx context.Context, eventID, recipientID string) (entity.DeliveryState, error) {
	return s.acks.StateOf(ctx, eventID, recipientID)
}
