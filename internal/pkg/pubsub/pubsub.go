package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/pricing_server/internal/pkg/events"
)

const (
	ChannelBillingEvents = "billing_events"
)

// Publisher Redis 发布者，实现 events.Sink
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client, channel: ChannelBillingEvents}
}

// Publish 发布计费事件
func (p *Publisher) Publish(ctx context.Context, evt events.DomainEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal billing event: %w", err)
	}

	return p.client.Publish(ctx, p.channel, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client  *redis.Client
	channel string
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client, channel: ChannelBillingEvents}
}

// Subscribe 订阅计费事件，直到 ctx 取消
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*events.DomainEvent)) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	// 确认订阅成功再开始消费
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", s.channel, err)
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var evt events.DomainEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				logrus.WithError(err).Warn("dropping malformed billing event")
				continue
			}

			handler(&evt)
		}
	}
}
