package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// 推送事件类型
const (
	EventMessage           = "message"
	EventMessageTranslated = "message_translated"
	EventDmRequest         = "dm_request"
	EventDmRequestUpdated  = "dm_request_updated"
	EventRecalled          = "recalled"
	EventNotification      = "notification"
)

// topic 前缀
const (
	TopicChat = "chat"
	TopicUser = "user"
)

// Event 推送给客户端的事件，序列化为 {"type": ..., "data": ...}
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// EventPublisher 实时事件发布
// topic: chat:<conversation_id> 推给会话全部成员；user:<user_id> 推给单个用户
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

func ChatTopic(conversationID uuid.UUID) string {
	return TopicChat + ":" + conversationID.String()
}

func UserTopic(userID uuid.UUID) string {
	return TopicUser + ":" + userID.String()
}

// ParseTopic 拆出 topic 的类型和 ID
func ParseTopic(topic string) (string, uuid.UUID, error) {
	kind, rawID, ok := strings.Cut(topic, ":")
	if !ok || (kind != TopicChat && kind != TopicUser) {
		return "", uuid.Nil, fmt.Errorf("unknown topic %q", topic)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("invalid topic id %q: %w", topic, err)
	}
	return kind, id, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, Event) error { return nil }
