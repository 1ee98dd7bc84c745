package in

import "context"

// ConnectionUseCase 连接生命周期用例
// 握手层完成身份校验后才会调用 Connect，这里信任传入的 userID
type ConnectionUseCase interface {
	// Connect 连接建立：登记注册表并同步补投离线队列
	Connect(ctx context.Context, userID, connID, platform string) error

	// Disconnect 连接断开：注销并触发离线清理（会话终结等）
	Disconnect(ctx context.Context, connID string) error

	// Heartbeat 心跳，刷新连接活跃时间
	Heartbeat(ctx context.Context, connID string) error
}
