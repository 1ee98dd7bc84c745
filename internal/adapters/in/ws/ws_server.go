package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/albin6/social-realtime/internal/domain/entity"
	"github.com/albin6/social-realtime/internal/ports/in"
	"github.com/albin6/social-realtime/internal/ports/out"
	"github.com/albin6/social-realtime/pkg/jwt"
	"github.com/albin6/social-realtime/pkg/zlog"
)

const (
	// 写超时
	writeWait = 10 * time.Second
	// Pong等待时间
	pongWait = 60 * time.Second
	// Ping周期（必须小于pongWait）
	pingPeriod = 30 * time.Second
	// 最大消息大小
	maxMessageSize = 64 * 1024
)

// WSMessageType WebSocket消息类型
type WSMessageType string

const (
	// 客户端消息类型
	MsgTypePing        WSMessageType = "ping"
	MsgTypeAck         WSMessageType = "ack"
	MsgTypeRead        WSMessageType = "read"
	MsgTypeTypingStart WSMessageType = "typing_start"
	MsgTypeTypingStop  WSMessageType = "typing_stop"
	MsgTypeCallStart   WSMessageType = "call_initiate"
	MsgTypeCallRespond WSMessageType = "call_respond"
	MsgTypeCallHangup  WSMessageType = "call_hangup"
	MsgTypeSignaling   WSMessageType = "signaling"

	// 服务端消息类型
	MsgTypePong      WSMessageType = "pong"
	MsgTypeConnected WSMessageType = "connected"
	MsgTypeCallState WSMessageType = "call_state"
	MsgTypeError     WSMessageType = "error"
)

// WSMessage WebSocket消息封包
type WSMessage struct {
	Type WSMessageType   `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
	Ts   int64           `json:"ts,omitempty"`
}

// AckData 回执数据
type AckData struct {
	EventID      string `json:"event_id"`
	OriginUserID string `json:"origin_user_id"`
}

// TypingData 输入中数据
type TypingData struct {
	ChatID string `json:"chat_id"`
}

// CallInitiateData 发起呼叫数据
type CallInitiateData struct {
	CalleeID string `json:"callee_id"`
	CallType string `json:"call_type"`
}

// CallRespondData 应答数据
type CallRespondData struct {
	CallID string `json:"call_id"`
	Accept bool   `json:"accept"`
}

// CallHangupData 挂断数据
type CallHangupData struct {
	CallID string `json:"call_id"`
}

// SignalingData WebRTC信令数据
type SignalingData struct {
	CallID  string          `json:"call_id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// WSConnection 一条WebSocket连接
type WSConnection struct {
	conn     *websocket.Conn
	connID   string
	userID   string
	platform string
	send     chan []byte
	closed   int32

	manager     *ConnectionManager
	connUseCase in.ConnectionUseCase
	ackUseCase  in.AckUseCase
	presenceUC  in.PresenceUseCase
	callUseCase in.CallUseCase
}

var _ out.Connection = (*WSConnection)(nil)

func newWSConnection(conn *websocket.Conn, connID, userID, platform string) *WSConnection {
	return &WSConnection{
		conn:     conn,
		connID:   connID,
		userID:   userID,
		platform: platform,
		send:     make(chan []byte, 256),
	}
}

func (c *WSConnection) ID() string {
	return c.connID
}

func (c *WSConnection) UserID() string {
	return c.userID
}

// Send 投入发送缓冲，写协程异步刷出
func (c *WSConnection) Send(payload []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return fmt.Errorf("connection closed")
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *WSConnection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	close(c.send)
	return c.conn.Close()
}

// ReadPump 读取客户端消息
func (c *WSConnection) ReadPump() {
	defer c.cleanup()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if c.connUseCase != nil {
			c.connUseCase.Heartbeat(context.Background(), c.connID)
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				zlog.Warn("WebSocket读取异常",
					zlog.String("user_id", c.userID),
					zlog.Any("error", err))
			}
			break
		}

		c.handleMessage(message)
	}
}

// WritePump 写出服务端消息并定期发Ping
func (c *WSConnection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				zlog.Warn("WebSocket写入失败",
					zlog.String("user_id", c.userID),
					zlog.Any("error", err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSConnection) cleanup() {
	c.Close()

	if c.manager != nil {
		c.manager.remove(c)
	}
	if c.connUseCase != nil {
		c.connUseCase.Disconnect(context.Background(), c.connID)
	}

	zlog.Info("连接清理完成",
		zlog.String("user_id", c.userID),
		zlog.String("conn_id", c.connID))
}

func (c *WSConnection) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid message format")
		return
	}

	ctx := context.Background()

	switch msg.Type {
	case MsgTypePing:
		c.handlePing(ctx, msg.ID)

	case MsgTypeAck:
		c.handleAck(ctx, msg.ID, msg.Data, false)

	case MsgTypeRead:
		c.handleAck(ctx, msg.ID, msg.Data, true)

	case MsgTypeTypingStart:
		c.handleTyping(ctx, msg.ID, msg.Data, true)

	case MsgTypeTypingStop:
		c.handleTyping(ctx, msg.ID, msg.Data, false)

	case MsgTypeCallStart:
		c.handleCallInitiate(ctx, msg.ID, msg.Data)

	case MsgTypeCallRespond:
		c.handleCallRespond(ctx, msg.ID, msg.Data)

	case MsgTypeCallHangup:
		c.handleCallHangup(ctx, msg.ID, msg.Data)

	case MsgTypeSignaling:
		c.handleSignaling(ctx, msg.ID, msg.Data)

	default:
		c.sendError(msg.ID, "unknown message type")
	}
}

func (c *WSConnection) handlePing(ctx context.Context, msgID string) {
	if c.connUseCase != nil {
		c.connUseCase.Heartbeat(ctx, c.connID)
	}
	c.sendJSON(WSMessage{
		Type: MsgTypePong,
		ID:   msgID,
		Ts:   time.Now().UnixMilli(),
	})
}

// handleAck 处理送达/已读回执，read 为 true 时推进到已读
func (c *WSConnection) handleAck(ctx context.Context, msgID string, data json.RawMessage, read bool) {
	var ackData AckData
	if err := json.Unmarshal(data, &ackData); err != nil || ackData.EventID == "" {
		c.sendError(msgID, "invalid ack data")
		return
	}

	var err error
	if read {
		err = c.ackUseCase.MarkRead(ctx, ackData.EventID, c.userID, ackData.OriginUserID)
	} else {
		err = c.ackUseCase.MarkDelivered(ctx, ackData.EventID, c.userID, ackData.OriginUserID)
	}
	if err != nil {
		c.sendError(msgID, err.Error())
	}
}

func (c *WSConnection) handleTyping(ctx context.Context, msgID string, data json.RawMessage, start bool) {
	var typingData TypingData
	if err := json.Unmarshal(data, &typingData); err != nil || typingData.ChatID == "" {
		c.sendError(msgID, "invalid typing data")
		return
	}

	var err error
	if start {
		err = c.presenceUC.SetTyping(ctx, c.userID, typingData.ChatID)
	} else {
		err = c.presenceUC.ClearTyping(ctx, c.userID, typingData.ChatID)
	}
	if err != nil {
		c.sendError(msgID, err.Error())
	}
}

func (c *WSConnection) handleCallInitiate(ctx context.Context, msgID string, data json.RawMessage) {
	var callData CallInitiateData
	if err := json.Unmarshal(data, &callData); err != nil || callData.CalleeID == "" {
		c.sendError(msgID, "invalid call data")
		return
	}

	// 主叫身份来自握手校验过的连接，不信客户端自报
	resp, err := c.callUseCase.Initiate(ctx, &in.CallRequest{
		CallerID: c.userID,
		CalleeID: callData.CalleeID,
		CallType: entityCallType(callData.CallType),
	})
	if err != nil {
		c.sendError(msgID, err.Error())
		return
	}

	respData, _ := json.Marshal(resp)
	c.sendJSON(WSMessage{
		Type: MsgTypeCallState,
		ID:   msgID,
		Data: respData,
		Ts:   time.Now().UnixMilli(),
	})
}

func (c *WSConnection) handleCallRespond(ctx context.Context, msgID string, data json.RawMessage) {
	var respondData CallRespondData
	if err := json.Unmarshal(data, &respondData); err != nil || respondData.CallID == "" {
		c.sendError(msgID, "invalid call respond data")
		return
	}

	if err := c.callUseCase.Respond(ctx, respondData.CallID, c.userID, respondData.Accept); err != nil {
		c.sendError(msgID, err.Error())
	}
}

func (c *WSConnection) handleCallHangup(ctx context.Context, msgID string, data json.RawMessage) {
	var hangupData CallHangupData
	if err := json.Unmarshal(data, &hangupData); err != nil || hangupData.CallID == "" {
		c.sendError(msgID, "invalid hangup data")
		return
	}

	if err := c.callUseCase.End(ctx, hangupData.CallID, c.userID); err != nil {
		c.sendError(msgID, err.Error())
	}
}

func (c *WSConnection) handleSignaling(ctx context.Context, msgID string, data json.RawMessage) {
	var signalData SignalingData
	if err := json.Unmarshal(data, &signalData); err != nil || signalData.CallID == "" {
		c.sendError(msgID, "invalid signaling data")
		return
	}

	err := c.callUseCase.RelaySignal(ctx, signalData.CallID, c.userID,
		in.SignalKind(signalData.Kind), signalData.Payload)
	if err != nil {
		c.sendError(msgID, err.Error())
	}
}

func (c *WSConnection) sendJSON(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.Send(data)
}

func (c *WSConnection) sendError(msgID, errMsg string) {
	errData, _ := json.Marshal(map[string]string{"error": errMsg})
	c.sendJSON(WSMessage{
		Type: MsgTypeError,
		ID:   msgID,
		Data: errData,
		Ts:   time.Now().UnixMilli(),
	})
}

// ConnectionManager 本节点连接管理器，同时充当路由层的出站投递
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]*WSConnection            // connID -> connection
	users map[string]map[string]*WSConnection // userID -> connID -> connection

	totalMsgs int64
}

var _ out.ConnectionSink = (*ConnectionManager)(nil)

// NewConnectionManager 创建连接管理器
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		conns: make(map[string]*WSConnection),
		users: make(map[string]map[string]*WSConnection),
	}
}

func (m *ConnectionManager) add(conn *WSConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conns[conn.connID] = conn
	if m.users[conn.userID] == nil {
		m.users[conn.userID] = make(map[string]*WSConnection)
	}
	m.users[conn.userID][conn.connID] = conn
}

func (m *ConnectionManager) remove(conn *WSConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.conns, conn.connID)
	if set, ok := m.users[conn.userID]; ok {
		delete(set, conn.connID)
		if len(set) == 0 {
			delete(m.users, conn.userID)
		}
	}
}

// Send 发送给用户的全部连接，没有任何连接时返回 ErrNotConnected
// 任意一条连接写入成功就算投递成功
func (m *ConnectionManager) Send(userID string, payload []byte) error {
	m.mu.RLock()
	conns := make([]*WSConnection, 0, len(m.users[userID]))
	for _, conn := range m.users[userID] {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	if len(conns) == 0 {
		return out.ErrNotConnected
	}

	var lastErr error
	sent := false
	for _, conn := range conns {
		if err := conn.Send(payload); err != nil {
			lastErr = err
			continue
		}
		sent = true
		atomic.AddInt64(&m.totalMsgs, 1)
	}
	if !sent {
		return lastErr
	}
	return nil
}

// SendTo 发送给指定连接
func (m *ConnectionManager) SendTo(connID string, payload []byte) error {
	m.mu.RLock()
	conn, ok := m.conns[connID]
	m.mu.RUnlock()

	if !ok {
		return out.ErrNotConnected
	}
	atomic.AddInt64(&m.totalMsgs, 1)
	return conn.Send(payload)
}

// Connections 用户在本节点的活跃连接
func (m *ConnectionManager) Connections(userID string) []out.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.users[userID]
	if !ok {
		return nil
	}

	conns := make([]out.Connection, 0, len(set))
	for _, conn := range set {
		conns = append(conns, conn)
	}
	return conns
}

// Stats 本节点连接统计
func (m *ConnectionManager) Stats() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int64{
		"connections":  int64(len(m.conns)),
		"online_users": int64(len(m.users)),
		"sent_frames":  atomic.LoadInt64(&m.totalMsgs),
	}
}

// WSServer WebSocket接入服务
type WSServer struct {
	manager     *ConnectionManager
	jwtManager  jwt.Manager
	connUseCase in.ConnectionUseCase
	ackUseCase  in.AckUseCase
	presenceUC  in.PresenceUseCase
	callUseCase in.CallUseCase
	upgrader    websocket.Upgrader
}

// NewWSServer 创建接入服务
func NewWSServer(
	manager *ConnectionManager,
	jwtManager jwt.Manager,
	connUseCase in.ConnectionUseCase,
	ackUseCase in.AckUseCase,
	presenceUC in.PresenceUseCase,
	callUseCase in.CallUseCase,
) *WSServer {
	return &WSServer{
		manager:     manager,
		jwtManager:  jwtManager,
		connUseCase: connUseCase,
		ackUseCase:  ackUseCase,
		presenceUC:  presenceUC,
		callUseCase: callUseCase,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // 生产环境应该校验Origin
			},
		},
	}
}

// HandleConnection 处理WebSocket握手
// 用户身份只取验签后token里的subject，不接受任何客户端自报的userID
func (s *WSServer) HandleConnection(w http.ResponseWriter, r *http.Request) {
	claims, err := s.jwtManager.Parse(bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	userID := claims.Subject

	platform := r.URL.Query().Get("platform")
	if platform == "" {
		platform = "web"
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn("WebSocket升级失败", zlog.Any("error", err))
		return
	}

	wsConn := newWSConnection(conn, uuid.NewString(), userID, platform)
	wsConn.manager = s.manager
	wsConn.connUseCase = s.connUseCase
	wsConn.ackUseCase = s.ackUseCase
	wsConn.presenceUC = s.presenceUC
	wsConn.callUseCase = s.callUseCase

	// 先挂到管理器再登记，离线补投才有地方写
	s.manager.add(wsConn)
	go wsConn.WritePump()

	if err := s.connUseCase.Connect(r.Context(), userID, wsConn.connID, platform); err != nil {
		zlog.Error("连接登记失败",
			zlog.String("user_id", userID),
			zlog.Any("error", err))
		s.manager.remove(wsConn)
		wsConn.Close()
		return
	}

	go wsConn.ReadPump()

	welcomeData, _ := json.Marshal(map[string]interface{}{
		"conn_id":     wsConn.connID,
		"server_time": time.Now().UnixMilli(),
	})
	wsConn.sendJSON(WSMessage{
		Type: MsgTypeConnected,
		Data: welcomeData,
		Ts:   time.Now().UnixMilli(),
	})
}

// Stats 服务统计
func (s *WSServer) Stats() map[string]int64 {
	return s.manager.Stats()
}

// entityCallType 未知类型按音频处理
func entityCallType(s string) entity.CallType {
	if s == string(entity.CallTypeVideo) {
		return entity.CallTypeVideo
	}
	return entity.CallTypeAudio
}

// bearerToken 从Authorization头或query取token
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
