package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client redis.Cmdable
	stream Stream
	maxLen int64
}

// NewProducer 创建消息生产者，stream 为空时使用 StreamRevisions
func NewProducer(client redis.Cmdable, stream Stream, maxLen int64) *Producer {
	if stream == "" {
		stream = StreamRevisions
	}
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// Stream 返回写入的流名称
func (p *Producer) Stream() Stream { return p.stream }

// Publish 发布消息
func (p *Producer) Publish(ctx context.Context, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(p.stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(p.stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": msg.Type,
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishRevision 发布修订创建事件
func (p *Producer) PublishRevision(ctx context.Context, ev *RevisionEventMessage) (string, error) {
	msg, err := NewMessage(TypeRevisionCreated, ev.EntityType, ev)
	if err != nil {
		return "", err
	}

	msg.SetMetadata("lineage_id", strconv.FormatUint(ev.LineageID, 10))
	if ev.CheckpointID != nil {
		msg.SetMetadata("checkpoint_id", strconv.FormatUint(*ev.CheckpointID, 10))
	}
	return p.Publish(ctx, msg)
}

// Read 按 ID 升序读取流中的消息，用于补发与排查
func (p *Producer) Read(ctx context.Context, start string, count int64) ([]*Message, error) {
	if start == "" {
		start = "-"
	}
	entries, err := p.client.XRangeN(ctx, string(p.stream), start, "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	msgs := make([]*Message, 0, len(entries))
	for _, e := range entries {
		raw, ok := e.Values["data"].(string)
		if !ok {
			return nil, fmt.Errorf("stream entry %s has no data field", e.ID)
		}
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}

// RevisionEventMessage 修订创建事件
type RevisionEventMessage struct {
	EntityType       string  `json:"entity_type"`
	EntityID         uint64  `json:"entity_id"`
	PreviousEntityID uint64  `json:"previous_entity_id"`
	RevisionID       uint64  `json:"revision_id"`
	LineageID        uint64  `json:"lineage_id"`
	CheckpointID     *uint64 `json:"checkpoint_id,omitempty"`
	TimelineID       *uint64 `json:"timeline_id,omitempty"`
}
