package mq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	"github.com/albin6/social-realtime/internal/domain/entity"
	"github.com/albin6/social-realtime/internal/ports/in"
	"github.com/albin6/social-realtime/pkg/zlog"
)

const (
	// TopicEventMessage 业务服务落库后发出的消息事件
	TopicEventMessage = "social.event.message"
	// TopicEventNotification 系统通知事件
	TopicEventNotification = "social.event.notification"
	// TopicDeadLetter 无法处理的事件进死信，人工排查
	TopicDeadLetter = "social.event.dead_letter"
)

// inboundEvent 上游事件的wire结构
type inboundEvent struct {
	EventID   string          `json:"event_id"`
	OriginID  string          `json:"origin_user_id"`
	ChatID    string          `json:"target_chat_id"`
	TargetIDs []string        `json:"target_user_ids"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// deadLetterMessage 死信内容，保留原始载荷和失败原因
type deadLetterMessage struct {
	OriginalTopic string          `json:"original_topic"`
	Payload       json.RawMessage `json:"payload"`
	Reason        string          `json:"reason"`
	FailedAt      int64           `json:"failed_at"`
}

// KafkaEventConsumer Kafka事件消费者
// 上游业务服务持久化事件后投递到Kafka，这里消费并交给路由分流
type KafkaEventConsumer struct {
	consumerGroup sarama.ConsumerGroup
	producer      sarama.SyncProducer
	topics        []string
	router        in.RouterUseCase
	ready         chan bool
	cancel        context.CancelFunc
}

// NewKafkaEventConsumer 创建事件消费者
func NewKafkaEventConsumer(brokers []string, groupID string, router in.RouterUseCase) (*KafkaEventConsumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Version = sarama.V2_8_0_0
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 3
	producerConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, producerConfig)
	if err != nil {
		consumerGroup.Close()
		return nil, err
	}

	return &KafkaEventConsumer{
		consumerGroup: consumerGroup,
		producer:      producer,
		topics:        []string{TopicEventMessage, TopicEventNotification},
		router:        router,
		ready:         make(chan bool),
	}, nil
}

// Start 启动消费，阻塞到消费组就绪
func (c *KafkaEventConsumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	handler := &eventConsumerHandler{
		router:   c.router,
		producer: c.producer,
		ready:    c.ready,
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
					zlog.Error("消费组异常退出", zlog.Any("error", err))
				}
				c.ready = make(chan bool)
				handler.ready = c.ready
			}
		}
	}()

	<-c.ready
	zlog.Info("Kafka事件消费者就绪", zlog.Any("topics", c.topics))
	return nil
}

// Stop 停止消费
func (c *KafkaEventConsumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.producer.Close(); err != nil {
		zlog.Warn("关闭死信生产者失败", zlog.Any("error", err))
	}
	return c.consumerGroup.Close()
}

// eventConsumerHandler 消费组处理器
type eventConsumerHandler struct {
	router   in.RouterUseCase
	producer sarama.SyncProducer
	ready    chan bool
}

func (h *eventConsumerHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

func (h *eventConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *eventConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.handleMessage(session.Context(), message)
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *eventConsumerHandler) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var inbound inboundEvent
	if err := json.Unmarshal(message.Value, &inbound); err != nil {
		zlog.Error("事件反序列化失败",
			zlog.String("topic", message.Topic),
			zlog.Any("error", err))
		h.sendToDeadLetter(message.Topic, message.Value, err.Error())
		return
	}
	if inbound.EventID == "" || len(inbound.TargetIDs) == 0 {
		h.sendToDeadLetter(message.Topic, message.Value, "missing event_id or target_user_ids")
		return
	}

	kind := entity.EventKindMessage
	if message.Topic == TopicEventNotification {
		kind = entity.EventKindNotification
	}

	event := &entity.Event{
		EventID:      inbound.EventID,
		Kind:         kind,
		OriginUserID: inbound.OriginID,
		TargetChatID: inbound.ChatID,
		Payload:      inbound.Payload,
		CreatedAt:    inbound.CreatedAt,
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	if _, err := h.router.Route(ctx, event, inbound.TargetIDs); err != nil {
		zlog.Error("事件路由失败",
			zlog.String("event_id", event.EventID),
			zlog.Any("error", err))
		h.sendToDeadLetter(message.Topic, message.Value, err.Error())
	}
}

// sendToDeadLetter 投递死信，失败只记日志不再重试
func (h *eventConsumerHandler) sendToDeadLetter(originalTopic string, payload []byte, reason string) {
	deadLetter := &deadLetterMessage{
		OriginalTopic: originalTopic,
		Payload:       payload,
		Reason:        reason,
		FailedAt:      time.Now().Unix(),
	}

	data, err := json.Marshal(deadLetter)
	if err != nil {
		zlog.Error("死信序列化失败", zlog.Any("error", err))
		return
	}

	_, _, err = h.producer.SendMessage(&sarama.ProducerMessage{
		Topic: TopicDeadLetter,
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		zlog.Error("死信投递失败",
			zlog.String("original_topic", originalTopic),
			zlog.Any("error", err))
	}
}
