package in

import (
	"context"
	"encoding/json"

	"github.com/albin6/social-realtime/internal/domain/call"
	"github.com/albin6/social-realtime/internal/domain/entity"
)

// SignalKind 信令类型
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalIceCandidate SignalKind = "ice_candidate"
)

// CallRequest 发起呼叫请求
type CallRequest struct {
	CallerID string          `json:"caller_id"`
	CalleeID string          `json:"callee_id"`
	CallType entity.CallType `json:"call_type"`
}

// CallResponse 发起呼叫响应
type CallResponse struct {
	CallID      string     `json:"call_id"`
	State       call.State `json:"state"`
	EndReason   string     `json:"end_reason,omitempty"`
	STUNServers []string   `json:"stun_servers,omitempty"`
}

// CallState 会话状态快照
type CallState struct {
	CallID    string          `json:"call_id"`
	CallerID  string          `json:"caller_id"`
	CalleeID  string          `json:"callee_id"`
	CallType  entity.CallType `json:"call_type"`
	State     call.State      `json:"state"`
	EndReason string          `json:"end_reason,omitempty"`
	StartedAt int64           `json:"started_at"`
	EndedAt   int64           `json:"ended_at,omitempty"`
}

// CallUseCase 通话会话协调用例
// 两方实时会话的生命周期管理，构建在注册表/投递抽象之上
// 呼叫信令只做在线直投，被叫离线不产生未接来电队列
type CallUseCase interface {
	// Initiate 发起呼叫
	// 被叫离线时会话直接终结，原因 recipient_unreachable
	// 任一方已有未终结会话时返回 ErrUserBusy
	Initiate(ctx context.Context, req *CallRequest) (*CallResponse, error)

	// Respond 被叫应答，仅在 ringing 状态下有效
	// accept 进入 accepted 并立即转 active，reject 进入终态
	// 非法状态下的应答作为错误拒绝，不静默吞掉
	Respond(ctx context.Context, callID, userID string, accept bool) error

	// RelaySignal 转发 SDP/ICE 信令给对端
	// 仅在 ringing/accepted/active 下有效；对端不可达时会话终结
	RelaySignal(ctx context.Context, callID, fromUserID string, kind SignalKind, payload json.RawMessage) error

	// End 挂断，任意非终态下有效，重复挂断是无操作
	End(ctx context.Context, callID, endedBy string) error

	// StateOf 查询会话状态
	StateOf(ctx context.Context, callID string) (*CallState, error)

	// HandleDisconnect 断线钩子
	// 用户最后一条连接断开时强制终结其全部会话并通知对端
	HandleDisconnect(ctx context.Context, userID string)
}
