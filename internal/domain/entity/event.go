package entity

import (
	"encoding/json"
	"time"
)

// EventKind 事件类别，路由层不关心载荷内容，只用类别区分队列 TTL
type EventKind string

const (
	EventKindMessage      EventKind = "message"
	EventKindNotification EventKind = "notification"
)

// Event 待路由的事件
// 载荷对路由层不透明，由上游业务服务负责持久化后再交给路由
type Event struct {
	EventID      string          `json:"event_id"`
	Kind         EventKind       `json:"kind"`
	OriginUserID string          `json:"origin_user_id"`
	TargetChatID string          `json:"target_chat_id,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
}

// QueuedEvent 进入离线队列的事件
type QueuedEvent struct {
	Event
	QueuedAt time.Time `json:"queued_at"`
}

// DeliveryState 单个接收者维度的投递状态
type DeliveryState string

const (
	DeliveryStatePending   DeliveryState = "pending"
	DeliveryStateDelivered DeliveryState = "delivered"
	DeliveryStateRead      DeliveryState = "read"
)

// rank 状态只能单调前进：pending < delivered < read
func (s DeliveryState) rank() int {
	switch s {
	case DeliveryStateDelivered:
		return 1
	case DeliveryStateRead:
		return 2
	default:
		return 0
	}
}

// Before 判断 s 是否排在 other 之前
func (s DeliveryState) Before(other DeliveryState) bool {
	return s.rank() < other.rank()
}

// RouteOutcome 单个接收者的路由结果
type RouteOutcome string

const (
	OutcomeDeliveredLive RouteOutcome = "delivered_live"
	OutcomeQueued        RouteOutcome = "queued"
)
