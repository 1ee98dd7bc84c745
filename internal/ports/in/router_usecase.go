package in

import (
	"context"

	"github.com/albin6/social-realtime/internal/domain/entity"
)

// RouteResult 一次路由调用的逐接收者结果
// 各接收者相互独立，单个接收者失败不影响其他人
type RouteResult struct {
	Outcomes map[string]entity.RouteOutcome `json:"outcomes"`
}

// RouterUseCase 消息路由用例
// 事件已由上游持久化，这里只负责"在线直投 / 离线入队"的分流
type RouterUseCase interface {
	// Route 把事件路由给目标用户集合
	// 在线用户投递到其全部连接并登记 delivered，离线用户入队保持 pending
	// 发起者自身被跳过；同一逻辑事件对同一目标至多调用一次，由调用方保证
	Route(ctx context.Context, event *entity.Event, targetUserIDs []string) (*RouteResult, error)

	// RegisterAndDrain 重连入口：在该用户的路由锁内登记连接并补投队列
	// 锁保证补投期间到达的新事件要么先入队被一并补投，要么在补投完成后直投，
	// 队列里的事件总是先于重连后的新事件到达
	RegisterAndDrain(ctx context.Context, conn *entity.Connection) (int, error)

	// DrainBacklog 手动补投离线队列，按入队顺序投递，返回补投的事件数
	DrainBacklog(ctx context.Context, userID string) (int, error)
}
