package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/albin6/social-realtime/internal/domain/entity"
	"github.com/albin6/social-realtime/internal/ports/out"
)

const (
	// 投递状态Key前缀
	ackKeyPrefix = "rt:ack:"
)

var _ out.AckStore = (*AckStoreRedis)(nil)

// markDeliveredScript pending -> delivered，其余情况不动
var markDeliveredScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
    return 0
end
if cur == 'pending' then
    redis.call('SET', KEYS[1], 'delivered', 'KEEPTTL')
    return 1
end
return 0
`)

// markReadScript 任意已登记状态 -> read
var markReadScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur or cur == 'read' then
    return 0
end
redis.call('SET', KEYS[1], 'read', 'KEEPTTL')
return 1
`)

// AckStoreRedis 投递状态Redis实现
// 每条 (eventID, recipientID) 一个String Key，靠TTL过期
// 过期后的回执退化为无操作，与语义一致
type AckStoreRedis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAckStoreRedis 创建存储，ttl 为状态保留时长
func NewAckStoreRedis(client *redis.Client, ttl time.Duration) *AckStoreRedis {
	return &AckStoreRedis{client: client, ttl: ttl}
}

func (r *AckStoreRedis) ackKey(eventID, recipientID string) string {
	return ackKeyPrefix + eventID + ":" + recipientID
}

// TrackPending 登记初始状态，SETNX保证不覆盖已有状态
func (r *AckStoreRedis) TrackPending(ctx context.Context, eventID, recipientID string) error {
	return r.client.SetNX(ctx, r.ackKey(eventID, recipientID),
		string(entity.DeliveryStatePending), r.ttl).Err()
}

// MarkDelivered pending -> delivered
func (r *AckStoreRedis) MarkDelivered(ctx context.Context, eventID, recipientID string) (bool, error) {
	moved, err := markDeliveredScript.Run(ctx, r.client,
		[]string{r.ackKey(eventID, recipientID)}).Int64()
	if err != nil {
		return false, err
	}
	return moved == 1, nil
}

// MarkRead 任意已登记状态 -> read
func (r *AckStoreRedis) MarkRead(ctx context.Context, eventID, recipientID string) (bool, error) {
	moved, err := markReadScript.Run(ctx, r.client,
		[]string{r.ackKey(eventID, recipientID)}).Int64()
	if err != nil {
		return false, err
	}
	return moved == 1, nil
}

// StateOf 查询状态，Key不存在或已过期返回 pending
func (r *AckStoreRedis) StateOf(ctx context.Context, eventID, recipientID string) (entity.DeliveryState, error) {
	state, err := r.client.Get(ctx, r.ackKey(eventID, recipientID)).Result()
	if err == redis.Nil {
		return entity.DeliveryStatePending, nil
	}
	if err != nil {
		return "", err
	}
	return entity.DeliveryState(state), nil
}
