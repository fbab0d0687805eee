// Package messaging 通过 Redis Streams 发布修订事件
package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message 流中的消息信封
type Message struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	EntityType string            `json:"entity_type"`
	Payload    json.RawMessage   `json:"payload"`
	Metadata   map[string]string `json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewMessage 创建新消息，ID 随机生成
func NewMessage(msgType, entityType string, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		EntityType: entityType,
		Payload:    payloadBytes,
		Metadata:   make(map[string]string),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

// GetMetadata 获取元数据
func (m *Message) GetMetadata(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// UnmarshalPayload 解析消息载荷
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// Stream 流名称
type Stream string

// StreamRevisions 默认的修订事件流
const StreamRevisions Stream = "stream:revision:events"

// 消息类型
const (
	TypeRevisionCreated = "revision.created"
)
