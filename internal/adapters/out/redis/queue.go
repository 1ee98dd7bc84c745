package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/albin6/social-realtime/internal/domain/entity"
	"github.com/albin6/social-realtime/internal/metrics"
	"github.com/albin6/social-realtime/internal/ports/out"
)

const (
	// 离线队列Key前缀
	queueKeyPrefix = "rt:queue:"
)

var _ out.DeliveryQueue = (*DeliveryQueueRedis)(nil)

// enqueueScript 入队并裁剪到容量上限，返回被淘汰的条数
// RPUSH 和 LPOP 在同一脚本里执行，并发入队不会超容
var enqueueScript = redis.NewScript(`
local len = redis.call('RPUSH', KEYS[1], ARGV[1])
local cap = tonumber(ARGV[2])
local evicted = 0
while len > cap do
    redis.call('LPOP', KEYS[1])
    len = len - 1
    evicted = evicted + 1
end
redis.call('EXPIRE', KEYS[1], ARGV[3])
return evicted
`)

// drainScript 原子地取出整条队列并删除Key
// 取和删在同一脚本里，与并发入队互不丢失互不重复
var drainScript = redis.NewScript(`
local items = redis.call('LRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1])
return items
`)

// DeliveryQueueRedis 离线队列Redis实现
// 每个用户一条有界List，整条队列带TTL，长期不上线的用户队列自然过期
type DeliveryQueueRedis struct {
	client   *redis.Client
	capacity int
	ttl      time.Duration
}

// NewDeliveryQueueRedis 创建队列
func NewDeliveryQueueRedis(client *redis.Client, capacity int, ttl time.Duration) *DeliveryQueueRedis {
	return &DeliveryQueueRedis{client: client, capacity: capacity, ttl: ttl}
}

func (r *DeliveryQueueRedis) queueKey(userID string) string {
	return queueKeyPrefix + userID
}

// Enqueue 追加到队尾，超出容量从队头淘汰
func (r *DeliveryQueueRedis) Enqueue(ctx context.Context, userID string, event *entity.Event) error {
	queued := &entity.QueuedEvent{Event: *event, QueuedAt: time.Now()}
	data, err := json.Marshal(queued)
	if err != nil {
		return fmt.Errorf("marshal queued event: %w", err)
	}

	evicted, err := enqueueScript.Run(ctx, r.client,
		[]string{r.queueKey(userID)},
		data, r.capacity, int(r.ttl.Seconds())).Int64()
	if err != nil {
		return err
	}
	if evicted > 0 {
		metrics.QueueEvictions.Add(float64(evicted))
	}
	return nil
}

// Drain 原子取出并清空
func (r *DeliveryQueueRedis) Drain(ctx context.Context, userID string) ([]*entity.QueuedEvent, error) {
	raw, err := drainScript.Run(ctx, r.client, []string{r.queueKey(userID)}).StringSlice()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	events := make([]*entity.QueuedEvent, 0, len(raw))
	for _, data := range raw {
		var queued entity.QueuedEvent
		if err := json.Unmarshal([]byte(data), &queued); err != nil {
			// 坏数据跳过，不让一条脏记录卡死整次补投
			continue
		}
		events = append(events, &queued)
	}
	return events, nil
}

// PeekCount 队列深度
func (r *DeliveryQueueRedis) PeekCount(ctx context.Context, userID string) (int, error) {
	count, err := r.client.LLen(ctx, r.queueKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
