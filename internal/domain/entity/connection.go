package entity

import "time"

// Connection 一条活跃的长连接
// 一个用户可以有多条连接（多端在线），一条连接只属于一个用户
type Connection struct {
	ConnID         string    `json:"conn_id"`
	UserID         string    `json:"user_id"`
	Platform       string    `json:"platform"`
	ServerAddr     string    `json:"server_addr"`
	EstablishedAt  time.Time `json:"established_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Expired 判断连接是否超过 TTL 未活跃
func (c *Connection) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(c.LastActivityAt) > ttl
}

// PresenceStatus 在线状态
type PresenceStatus string

const (
	PresenceStatusOnline  PresenceStatus = "online"
	PresenceStatusOffline PresenceStatus = "offline"
)
