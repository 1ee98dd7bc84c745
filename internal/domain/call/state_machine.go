package call

import (
	"errors"
	"sync"
	"time"
)

// State 通话状态
type State string

const (
	StateInitiated State = "initiated" // 已创建
	StateRinging   State = "ringing"   // 响铃中
	StateAccepted  State = "accepted"  // 已接受
	StateActive    State = "active"    // 通话中
	StateRejected  State = "rejected"  // 已拒绝（终态）
	StateEnded     State = "ended"     // 已结束（终态）
)

// Terminal 是否为终态
func (s State) Terminal() bool {
	return s == StateRejected || s == StateEnded
}

// Event 状态机事件
type Event string

const (
	EventRing           Event = "ring"            // 呼叫信号已发出
	EventAccept         Event = "accept"          // 被叫接受
	EventConnect        Event = "connect"         // 接受后进入通话
	EventReject         Event = "reject"          // 被叫拒绝
	EventHangup         Event = "hangup"          // 任一方挂断
	EventTimeout        Event = "timeout"         // 响铃超时
	EventPeerDisconnect Event = "peer_disconnect" // 任一方连接断开
)

var (
	ErrInvalidTransition = errors.New("invalid call state transition")
	ErrCallTerminated    = errors.New("call already terminated")
)

type stateEvent struct {
	state State
	event Event
}

var transitions = map[stateEvent]State{
	{StateInitiated, EventRing}:           StateRinging,
	{StateInitiated, EventHangup}:         StateEnded,
	{StateInitiated, EventPeerDisconnect}: StateEnded,
	{StateRinging, EventAccept}:           StateAccepted,
	{StateRinging, EventReject}:           StateRejected,
	{StateRinging, EventHangup}:           StateEnded,
	{StateRinging, EventTimeout}:          StateEnded,
	{StateRinging, EventPeerDisconnect}:   StateEnded,
	{StateAccepted, EventConnect}:         StateActive,
	{StateAccepted, EventHangup}:          StateEnded,
	{StateAccepted, EventPeerDisconnect}:  StateEnded,
	{StateActive, EventHangup}:            StateEnded,
	{StateActive, EventPeerDisconnect}:    StateEnded,
}

// StateMachine 通话状态机
// 转换在锁内先比较当前状态再写入，并发竞争只有一方能赢
type StateMachine struct {
	mu        sync.RWMutex
	state     State
	startedAt time.Time
	activeAt  time.Time
	endedAt   time.Time
}

// NewStateMachine 创建状态机，初始状态为 initiated
func NewStateMachine() *StateMachine {
	return &StateMachine{
		state:     StateInitiated,
		startedAt: time.Now(),
	}
}

// Transition 执行状态转换
// 终态上的任何事件返回 ErrCallTerminated，表内不存在的转换返回 ErrInvalidTransition
func (sm *StateMachine) Transition(event Event) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.state.Terminal() {
		return ErrCallTerminated
	}

	next, ok := transitions[stateEvent{sm.state, event}]
	if !ok {
		return ErrInvalidTransition
	}

	if next == StateActive {
		sm.activeAt = time.Now()
	}
	if next.Terminal() {
		sm.endedAt = time.Now()
	}

	sm.state = next
	return nil
}

// State 当前状态
func (sm *StateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// StartedAt 会话创建时间
func (sm *StateMachine) StartedAt() time.Time {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.startedAt
}

// EndedAt 终结时间，未终结时为零值
func (sm *StateMachine) EndedAt() time.Time {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.endedAt
}

// Duration 通话时长，按进入 active 到终结计算
func (sm *StateMachine) Duration() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if sm.activeAt.IsZero() {
		return 0
	}
	if sm.endedAt.IsZero() {
		return time.Since(sm.activeAt)
	}
	return sm.endedAt.Sub(sm.activeAt)
}
