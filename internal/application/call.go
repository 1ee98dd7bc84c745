package application

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/albin6/social-realtime/internal/domain/call"
	"github.com/albin6/social-realtime/internal/domain/entity"
	"github.com/albin6/social-realtime/internal/metrics"
	"github.com/albin6/social-realtime/internal/ports/in"
	"github.com/albin6/social-realtime/internal/ports/out"
	"github.com/albin6/social-realtime/pkg/zlog"
)

var _ in.CallUseCase = (*CallService)(nil)

// session 一次两方通话会话
type session struct {
	id        string
	callerID  string
	calleeID  string
	callType  entity.CallType
	sm        *call.StateMachine
	ringTimer *time.Timer

	mu        sync.Mutex
	endReason string
}

// peer 返回 userID 的对端
func (s *session) peer(userID string) string {
	if userID == s.callerID {
		return s.calleeID
	}
	return s.callerID
}

// participant 是否为会话参与方
func (s *session) participant(userID string) bool {
	return userID == s.callerID || userID == s.calleeID
}

func (s *session) setEndReason(reason string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endReason == "" {
		s.endReason = reason
	}
	return s.endReason
}

func (s *session) getEndReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// CallService 通话会话协调服务
// 信令只做在线直投，从不入离线队列：被叫不在线就立刻终结会话，
// 不产生"未接来电"补投
type CallService struct {
	registry    out.ConnectionRegistry
	sink        out.ConnectionSink
	records     out.CallRecordRepository // 可为 nil，表示不归档
	ringTimeout time.Duration
	stunServers []string

	mu        sync.Mutex
	sessions  map[string]*session
	userCalls map[string]string // userID -> 未终结会话 ID
}

// NewCallService 创建通话服务
// records 传 nil 时跳过归档，ringTimeout 为响铃无应答的强制终结时间
func NewCallService(
	registry out.ConnectionRegistry,
	sink out.ConnectionSink,
	records out.CallRecordRepository,
	ringTimeout time.Duration,
	stunServers []string,
) *CallService {
	return &CallService{
		registry:    registry,
		sink:        sink,
		records:     records,
		ringTimeout: ringTimeout,
		stunServers: stunServers,
		sessions:    make(map[string]*session),
		userCalls:   make(map[string]string),
	}
}

// Initiate 发起呼叫
func (c *CallService) Initiate(ctx context.Context, req *in.CallRequest) (*in.CallResponse, error) {
	if req.CallerID == req.CalleeID {
		return nil, in.ErrUserBusy
	}

	c.mu.Lock()
	if _, busy := c.userCalls[req.CallerID]; busy {
		c.mu.Unlock()
		return nil, in.ErrUserBusy
	}
	if _, busy := c.userCalls[req.CalleeID]; busy {
		c.mu.Unlock()
		return nil, in.ErrUserBusy
	}

	sess := &session{
		id:       uuid.NewString(),
		callerID: req.CallerID,
		calleeID: req.CalleeID,
		callType: req.CallType,
		sm:       call.NewStateMachine(),
	}
	c.sessions[sess.id] = sess
	c.userCalls[req.CallerID] = sess.id
	c.userCalls[req.CalleeID] = sess.id
	c.mu.Unlock()

	metrics.ActiveCalls.Inc()

	// 被叫离线直接终结，不排队等被叫上线
	online, err := c.registry.IsOnline(ctx, req.CalleeID)
	if err != nil {
		c.terminate(sess, call.EventPeerDisconnect, entity.EndReasonRecipientUnreachable)
		return nil, err
	}
	if !online {
		c.terminate(sess, call.EventPeerDisconnect, entity.EndReasonRecipientUnreachable)
		return &in.CallResponse{
			CallID:    sess.id,
			State:     call.StateEnded,
			EndReason: entity.EndReasonRecipientUnreachable,
		}, nil
	}

	if err := sess.sm.Transition(call.EventRing); err != nil {
		return nil, err
	}

	invite := c.frame("call_invite", map[string]any{
		"call_id":   sess.id,
		"caller_id": req.CallerID,
		"call_type": req.CallType,
	})
	if err := c.sink.Send(req.CalleeID, invite); err != nil {
		// 注册表说在线但推不进去，按不可达处理
		c.terminate(sess, call.EventPeerDisconnect, entity.EndReasonRecipientUnreachable)
		return &in.CallResponse{
			CallID:    sess.id,
			State:     call.StateEnded,
			EndReason: entity.EndReasonRecipientUnreachable,
		}, nil
	}

	sess.ringTimer = time.AfterFunc(c.ringTimeout, func() {
		c.onRingTimeout(sess)
	})

	zlog.Info("呼叫发起",
		zlog.String("call_id", sess.id),
		zlog.String("caller", req.CallerID),
		zlog.String("callee", req.CalleeID))

	return &in.CallResponse{
		CallID:      sess.id,
		State:       call.StateRinging,
		STUNServers: c.stunServers,
	}, nil
}

// Respond 被叫应答，仅 ringing 状态下有效
func (c *CallService) Respond(ctx context.Context, callID, userID string, accept bool) error {
	sess, err := c.lookup(callID)
	if err != nil {
		return err
	}
	if userID != sess.calleeID {
		return in.ErrNotParticipant
	}

	if !accept {
		if err := sess.sm.Transition(call.EventReject); err != nil {
			return err
		}
		c.finish(sess, entity.EndReasonRejected)
		c.notify(sess.callerID, "call_rejected", map[string]any{"call_id": sess.id})
		return nil
	}

	if err := sess.sm.Transition(call.EventAccept); err != nil {
		return err
	}
	sess.stopRingTimer()

	// 接受后立即转入通话中，媒体协商由双方通过信令继续
	if err := sess.sm.Transition(call.EventConnect); err != nil {
		return err
	}
	c.notify(sess.callerID, "call_accepted", map[string]any{"call_id": sess.id})

	zlog.Info("呼叫接通", zlog.String("call_id", sess.id))
	return nil
}

// RelaySignal 转发 SDP/ICE 信令给对端
func (c *CallService) RelaySignal(ctx context.Context, callID, fromUserID string, kind in.SignalKind, payload json.RawMessage) error {
	sess, err := c.lookup(callID)
	if err != nil {
		return err
	}
	if !sess.participant(fromUserID) {
		return in.ErrNotParticipant
	}

	state := sess.sm.State()
	if state.Terminal() {
		return call.ErrCallTerminated
	}
	if state == call.StateInitiated {
		return call.ErrInvalidTransition
	}

	peer := sess.peer(fromUserID)
	frame := c.frame("signaling", map[string]any{
		"call_id": sess.id,
		"from":    fromUserID,
		"kind":    kind,
		"payload": payload,
	})
	if err := c.sink.Send(peer, frame); err != nil {
		// 对端够不着，会话没法继续
		c.terminate(sess, call.EventPeerDisconnect, entity.EndReasonPeerUnreachable)
		c.notify(fromUserID, "call_ended", map[string]any{
			"call_id": sess.id,
			"reason":  entity.EndReasonPeerUnreachable,
		})
		return nil
	}
	return nil
}

// End 挂断，重复挂断是无操作
func (c *CallService) End(ctx context.Context, callID, endedBy string) error {
	sess, err := c.lookup(callID)
	if err != nil {
		return err
	}
	if !sess.participant(endedBy) {
		return in.ErrNotParticipant
	}

	if err := sess.sm.Transition(call.EventHangup); err != nil {
		if err == call.ErrCallTerminated {
			return nil
		}
		return err
	}

	c.finish(sess, entity.EndReasonHangup)
	c.notify(sess.peer(endedBy), "call_ended", map[string]any{
		"call_id": sess.id,
		"reason":  entity.EndReasonHangup,
	})

	zlog.Info("呼叫挂断",
		zlog.String("call_id", sess.id),
		zlog.String("ended_by", endedBy))
	return nil
}

// StateOf 查询会话状态快照
func (c *CallService) StateOf(ctx context.Context, callID string) (*in.CallState, error) {
	sess, err := c.lookup(callID)
	if err != nil {
		return nil, err
	}

	state := &in.CallState{
		CallID:    sess.id,
		CallerID:  sess.callerID,
		CalleeID:  sess.calleeID,
		CallType:  sess.callType,
		State:     sess.sm.State(),
		EndReason: sess.getEndReason(),
		StartedAt: sess.sm.StartedAt().Unix(),
	}
	if ended := sess.sm.EndedAt(); !ended.IsZero() {
		state.EndedAt = ended.Unix()
	}
	return state, nil
}

// HandleDisconnect 用户最后一条连接断开时强制终结其会话
func (c *CallService) HandleDisconnect(ctx context.Context, userID string) {
	c.mu.Lock()
	callID, ok := c.userCalls[userID]
	c.mu.Unlock()
	if !ok {
		return
	}

	sess, err := c.lookup(callID)
	if err != nil {
		return
	}

	if err := sess.sm.Transition(call.EventPeerDisconnect); err != nil {
		return
	}
	c.finish(sess, entity.EndReasonPeerDisconnected)
	c.notify(sess.peer(userID), "call_ended", map[string]any{
		"call_id": sess.id,
		"reason":  entity.EndReasonPeerDisconnected,
	})

	zlog.Info("断线终结会话",
		zlog.String("call_id", sess.id),
		zlog.String("user_id", userID))
}

// SweepTerminated 清理终结超过 retention 的会话，由启动方周期调用
func (c *CallService) SweepTerminated(retention time.Duration) int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, sess := range c.sessions {
		if !sess.sm.State().Terminal() {
			continue
		}
		if ended := sess.sm.EndedAt(); !ended.IsZero() && now.Sub(ended) > retention {
			delete(c.sessions, id)
			removed++
		}
	}
	return removed
}

// onRingTimeout 响铃超时，双方都收到终结通知
func (c *CallService) onRingTimeout(sess *session) {
	if err := sess.sm.Transition(call.EventTimeout); err != nil {
		return
	}
	c.finish(sess, entity.EndReasonRingTimeout)

	ended := map[string]any{
		"call_id": sess.id,
		"reason":  entity.EndReasonRingTimeout,
	}
	c.notify(sess.callerID, "call_ended", ended)
	c.notify(sess.calleeID, "call_ended", ended)

	zlog.Info("响铃超时", zlog.String("call_id", sess.id))
}

// terminate 执行强制转换并结束会话，转换失败说明已被别处终结
func (c *CallService) terminate(sess *session, event call.Event, reason string) {
	if err := sess.sm.Transition(event); err != nil {
		return
	}
	c.finish(sess, reason)
}

// finish 终态收尾：摘掉占线标记、计数、归档
// 只有赢得终态转换的那一方会走到这里，天然只执行一次
func (c *CallService) finish(sess *session, reason string) {
	reason = sess.setEndReason(reason)
	sess.stopRingTimer()

	c.mu.Lock()
	if c.userCalls[sess.callerID] == sess.id {
		delete(c.userCalls, sess.callerID)
	}
	if c.userCalls[sess.calleeID] == sess.id {
		delete(c.userCalls, sess.calleeID)
	}
	c.mu.Unlock()

	metrics.ActiveCalls.Dec()
	metrics.CallsTotal.WithLabelValues(reason).Inc()

	if c.records != nil {
		record := &entity.CallRecord{
			CallID:     sess.id,
			CallerID:   sess.callerID,
			CalleeID:   sess.calleeID,
			CallType:   string(sess.callType),
			FinalState: string(sess.sm.State()),
			EndReason:  reason,
			StartedAt:  sess.sm.StartedAt(),
			EndedAt:    sess.sm.EndedAt(),
			DurationS:  int64(sess.sm.Duration().Seconds()),
		}
		if err := c.records.Save(context.Background(), record); err != nil {
			zlog.Error("通话归档失败",
				zlog.String("call_id", sess.id),
				zlog.Any("error", err))
		}
	}
}

func (sess *session) stopRingTimer() {
	if sess.ringTimer != nil {
		sess.ringTimer.Stop()
	}
}

func (c *CallService) lookup(callID string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[callID]
	if !ok {
		return nil, in.ErrCallNotFound
	}
	return sess, nil
}

// notify 在线直投控制帧，对端离线就丢弃
func (c *CallService) notify(userID, frameType string, data map[string]any) {
	if err := c.sink.Send(userID, c.frame(frameType, data)); err != nil {
		zlog.Debug("通话控制帧未送达",
			zlog.String("user_id", userID),
			zlog.String("type", frameType))
	}
}

func (c *CallService) frame(frameType string, data map[string]any) []byte {
	payload, _ := json.Marshal(map[string]any{"type": frameType, "data": data})
	return payload
}
