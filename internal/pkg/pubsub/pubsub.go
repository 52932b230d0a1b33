package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelJobState = "analytic_job_state"
)

// StateMessage 任务状态变更消息
type StateMessage struct {
	Type     string    `json:"type"`
	JobID    int64     `json:"job_id"`
	SearchID int64     `json:"search_id"`
	JobType  string    `json:"job_type"`
	From     string    `json:"from,omitempty"`
	State    string    `json:"state"`
	Actor    string    `json:"actor,omitempty"`
	Message  string    `json:"message,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// 状态对应的消息
var StateMessages = map[string]string{
	"WAITING":  "任务已提交",
	"RUNNING":  "任务执行中",
	"FINISHED": "分析完成",
	"ERROR":    "分析失败",
}

// Publisher Redis 发布者
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher 创建发布者，channel 为空时使用默认频道
func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = ChannelJobState
	}
	return &Publisher{client: client, channel: channel}
}

// PublishState 发布状态变更
func (p *Publisher) PublishState(ctx context.Context, msg *StateMessage) error {
	msg.Type = "job_state"

	if msg.Message == "" {
		msg.Message = StateMessages[msg.State]
	}
	if msg.At.IsZero() {
		msg.At = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal state message: %w", err)
	}

	return p.client.Publish(ctx, p.channel, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client  *redis.Client
	channel string
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client, channel string) *Subscriber {
	if channel == "" {
		channel = ChannelJobState
	}
	return &Subscriber{client: client, channel: channel}
}

// Subscribe 订阅状态消息，ctx 取消后返回
//
// ready, if non-nil, is closed once the subscription is confirmed by the server.
func (s *Subscriber) Subscribe(ctx context.Context, ready chan<- struct{}, handler func(*StateMessage)) error {
	ps := s.client.Subscribe(ctx, s.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", s.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := ps.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var stateMsg StateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &stateMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&stateMsg)
		}
	}
}
