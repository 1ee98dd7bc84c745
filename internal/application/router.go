package application

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/albin6/social-realtime/internal/domain/entity"
	"github.com/albin6/social-realtime/internal/metrics"
	"github.com/albin6/social-realtime/internal/ports/in"
	"github.com/albin6/social-realtime/internal/ports/out"
	"github.com/albin6/social-realtime/pkg/zlog"
)

var _ in.RouterUseCase = (*RouterService)(nil)

// RouterService 消息路由服务
// 按接收者是否在线分流：在线直投全部连接，离线进入有界队列
// 同一用户的投递和补投串行化，保证重连时先队列后新消息的顺序
type RouterService struct {
	registry out.ConnectionRegistry
	queue    out.DeliveryQueue
	acks     out.AckStore
	sink     out.ConnectionSink

	locks sync.Map // userID -> *sync.Mutex
}

// NewRouterService 创建路由服务
func NewRouterService(
	registry out.ConnectionRegistry,
	queue out.DeliveryQueue,
	acks out.AckStore,
	sink out.ConnectionSink,
) *RouterService {
	return &RouterService{
		registry: registry,
		queue:    queue,
		acks:     acks,
		sink:     sink,
	}
}

// deliveryFrame 推送给客户端的事件帧
type deliveryFrame struct {
	Type string        `json:"type"`
	Data *entity.Event `json:"data"`
}

// Route 把事件路由给目标用户集合，发起者自身被跳过
// 各接收者相互独立，单个接收者出错只记日志，不影响其余接收者
func (s *RouterService) Route(ctx context.Context, event *entity.Event, targetUserIDs []string) (*in.RouteResult, error) {
	payload, err := json.Marshal(&deliveryFrame{Type: string(event.Kind), Data: event})
	if err != nil {
		return nil, err
	}

	result := &in.RouteResult{Outcomes: make(map[string]entity.RouteOutcome, len(targetUserIDs))}
	for _, target := range targetUserIDs {
		if target == "" || target == event.OriginUserID {
			continue
		}

		outcome, err := s.routeOne(ctx, event, target, payload)
		if err != nil {
			zlog.Error("路由事件失败",
				zlog.String("event_id", event.EventID),
				zlog.String("target", target),
				zlog.Any("error", err))
			continue
		}

		result.Outcomes[target] = outcome
		metrics.EventsRouted.WithLabelValues(string(outcome)).Inc()
	}
	return result, nil
}

// routeOne 单个接收者的投递，在该用户的路由锁内执行
func (s *RouterService) routeOne(ctx context.Context, event *entity.Event, target string, payload []byte) (entity.RouteOutcome, error) {
	lock := s.userLock(target)
	lock.Lock()
	defer lock.Unlock()

	if err := s.acks.TrackPending(ctx, event.EventID, target); err != nil {
		return "", err
	}

	online, err := s.registry.IsOnline(ctx, target)
	if err != nil {
		return "", err
	}

	// 在线且本节点写入成功才算直投，否则退回队列等重连补投
	if online {
		if err := s.sink.Send(target, payload); err == nil {
			if _, err := s.acks.MarkDelivered(ctx, event.EventID, target); err != nil {
				zlog.Warn("登记 delivered 失败",
					zlog.String("event_id", event.EventID),
					zlog.String("target", target),
					zlog.Any("error", err))
			}
			return entity.OutcomeDeliveredLive, nil
		}
	}

	if err := s.queue.Enqueue(ctx, target, event); err != nil {
		return "", err
	}
	return entity.OutcomeQueued, nil
}

// RegisterAndDrain 在用户路由锁内登记连接并补投
// 登记和补投之间不放锁，并发 Route 只能排在补投之后
func (s *RouterService) RegisterAndDrain(ctx context.Context, conn *entity.Connection) (int, error) {
	lock := s.userLock(conn.UserID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.registry.Register(ctx, conn); err != nil {
		return 0, err
	}

	// 补投中断不算登记失败，剩余事件已按原顺序回队
	drained, err := s.drainLocked(ctx, conn.UserID)
	if err != nil {
		zlog.Warn("重连补投中断",
			zlog.String("user_id", conn.UserID),
			zlog.Int("delivered", drained),
			zlog.Any("error", err))
	}
	return drained, nil
}

// DrainBacklog 补投离线队列，按入队顺序逐条投递
// 中途连接再次断开时，剩余事件按原顺序放回队列
func (s *RouterService) DrainBacklog(ctx context.Context, userID string) (int, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return s.drainLocked(ctx, userID)
}

func (s *RouterService) drainLocked(ctx context.Context, userID string) (int, error) {
	backlog, err := s.queue.Drain(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(backlog) == 0 {
		return 0, nil
	}

	delivered := 0
	for i, queued := range backlog {
		payload, err := json.Marshal(&deliveryFrame{Type: string(queued.Kind), Data: &queued.Event})
		if err != nil {
			zlog.Error("补投事件序列化失败",
				zlog.String("event_id", queued.EventID),
				zlog.Any("error", err))
			continue
		}

		if err := s.sink.Send(userID, payload); err != nil {
			for _, rest := range backlog[i:] {
				event := rest.Event
				if qerr := s.queue.Enqueue(ctx, userID, &event); qerr != nil {
					zlog.Error("补投失败后回队失败",
						zlog.String("event_id", event.EventID),
						zlog.Any("error", qerr))
				}
			}
			return delivered, err
		}

		if _, err := s.acks.MarkDelivered(ctx, queued.EventID, userID); err != nil {
			zlog.Warn("补投后登记 delivered 失败",
				zlog.String("event_id", queued.EventID),
				zlog.Any("error", err))
		}
		delivered++
		metrics.BacklogDrained.Inc()
	}

	zlog.Info("离线队列补投完成",
		zlog.String("user_id", userID),
		zlog.Int("delivered", delivered))
	return delivered, nil
}

// userLock 同一用户共享一把路由锁
func (s *RouterService) userLock(userID string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
