package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/albin6/social-realtime/internal/adapters/in/ws"
	"github.com/albin6/social-realtime/internal/domain/entity"
	"github.com/albin6/social-realtime/internal/ports/in"
	"github.com/albin6/social-realtime/internal/ports/out"
)

// Handler REST接入层
// 事件投递接口面向内部业务服务，查询接口面向客户端
type Handler struct {
	router   in.RouterUseCase
	presence in.PresenceUseCase
	acks     in.AckUseCase
	calls    in.CallUseCase
	queue    out.DeliveryQueue
	records  out.CallRecordRepository // 可为 nil
	wsServer *ws.WSServer
}

// NewHandler 创建接入层
func NewHandler(
	router in.RouterUseCase,
	presence in.PresenceUseCase,
	acks in.AckUseCase,
	calls in.CallUseCase,
	queue out.DeliveryQueue,
	records out.CallRecordRepository,
	wsServer *ws.WSServer,
) *Handler {
	return &Handler{
		router:   router,
		presence: presence,
		acks:     acks,
		calls:    calls,
		queue:    queue,
		records:  records,
		wsServer: wsServer,
	}
}

// RegisterRoutes 挂载路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/stats", h.stats)
	r.GET("/ws", h.handleWS)

	api := r.Group("/api/v1")
	{
		api.POST("/events", h.routeEvent)
		api.GET("/events/:eventID/recipients/:userID/state", h.deliveryState)

		api.GET("/presence", h.onlineUsers)
		api.GET("/presence/:userID", h.presenceOf)
		api.POST("/presence/query", h.presenceBatch)

		api.GET("/chats/:chatID/typing", h.typingUsers)

		api.GET("/users/:userID/queue-depth", h.queueDepth)
		api.POST("/users/:userID/drain", h.drainBacklog)
		api.GET("/users/:userID/calls", h.callHistory)

		api.GET("/calls/:callID", h.callState)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.wsServer.Stats())
}

func (h *Handler) handleWS(c *gin.Context) {
	h.wsServer.HandleConnection(c.Writer, c.Request)
}

type routeEventRequest struct {
	EventID      string          `json:"event_id" binding:"required"`
	Kind         string          `json:"kind"`
	OriginUserID string          `json:"origin_user_id"`
	TargetChatID string          `json:"target_chat_id"`
	TargetIDs    []string        `json:"target_user_ids" binding:"required"`
	Payload      json.RawMessage `json:"payload"`
}

// routeEvent 上游业务服务持久化事件后同步投递
func (h *Handler) routeEvent(c *gin.Context) {
	var req routeEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	kind := entity.EventKindMessage
	if req.Kind == string(entity.EventKindNotification) {
		kind = entity.EventKindNotification
	}

	event := &entity.Event{
		EventID:      req.EventID,
		Kind:         kind,
		OriginUserID: req.OriginUserID,
		TargetChatID: req.TargetChatID,
		Payload:      req.Payload,
		CreatedAt:    time.Now(),
	}

	result, err := h.router.Route(c.Request.Context(), event, req.TargetIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) deliveryState(c *gin.Context) {
	state, err := h.acks.StateOf(c.Request.Context(), c.Param("eventID"), c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *Handler) onlineUsers(c *gin.Context) {
	users, err := h.presence.OnlineUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"online_users": users, "count": len(users)})
}

func (h *Handler) presenceOf(c *gin.Context) {
	online, err := h.presence.IsOnline(c.Request.Context(), c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := entity.PresenceStatusOffline
	if online {
		status = entity.PresenceStatusOnline
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("userID"), "status": status})
}

type presenceBatchRequest struct {
	UserIDs []string `json:"user_ids" binding:"required"`
}

func (h *Handler) presenceBatch(c *gin.Context) {
	var req presenceBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	statuses, err := h.presence.OnlineStatus(c.Request.Context(), req.UserIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": statuses})
}

func (h *Handler) typingUsers(c *gin.Context) {
	users, err := h.presence.TypingUsers(c.Request.Context(), c.Param("chatID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"typing_users": users})
}

// queueDepth 未读角标：离线队列里攒了多少事件
func (h *Handler) queueDepth(c *gin.Context) {
	depth, err := h.queue.PeekCount(c.Request.Context(), c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("userID"), "queue_depth": depth})
}

// drainBacklog 手动触发补投，运维排障用
func (h *Handler) drainBacklog(c *gin.Context) {
	drained, err := h.router.DrainBacklog(c.Request.Context(), c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "drained": drained})
		return
	}
	c.JSON(http.StatusOK, gin.H{"drained": drained})
}

func (h *Handler) callState(c *gin.Context) {
	state, err := h.calls.StateOf(c.Request.Context(), c.Param("callID"))
	if err != nil {
		c.JSON(mapCallError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) callHistory(c *gin.Context) {
	if h.records == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "call archive disabled"})
		return
	}

	records, err := h.records.ListByUser(c.Request.Context(), c.Param("userID"), 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func mapCallError(err error) int {
	switch {
	case errors.Is(err, in.ErrCallNotFound):
		return http.StatusNotFound
	case errors.Is(err, in.ErrUserBusy):
		return http.StatusConflict
	case errors.Is(err, in.ErrNotParticipant):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
