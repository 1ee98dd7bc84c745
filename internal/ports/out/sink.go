package out

import "errors"

// ErrNotConnected 本节点没有目标用户的活跃连接
var ErrNotConnected = errors.New("user has no live connection")

// Connection 一条可写入的活跃连接
type Connection interface {
	ID() string
	UserID() string
	Send(payload []byte) error
	Close() error
}

// ConnectionSink 出站投递抽象
// 路由层只管"发给这个用户/这条连接"，具体传输（WebSocket 帧）由适配器实现
type ConnectionSink interface {
	// Send 发送给用户的所有活跃连接（多端同投）
	// 没有任何连接时返回 ErrNotConnected，单条连接写失败不影响其余连接
	Send(userID string, payload []byte) error

	// SendTo 发送给指定连接
	SendTo(connID string, payload []byte) error

	// Connections 用户在本节点的活跃连接
	Connections(userID string) []Connection
}
