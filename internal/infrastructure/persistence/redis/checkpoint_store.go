package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"revision-engine/internal/domain/entity"
	"revision-engine/internal/domain/repository"
	"revision-engine/pkg/errors"
)

// CheckpointStore 以会话为作用域、保存在 Redis 中的活动检查点
//
// 键为 prefix + 会话 ID，值为检查点的 JSON。读取时剩余时间不足一半则顺延过期时间。
type CheckpointStore struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// NewCheckpointStore 创建 Redis 活动检查点存储
func NewCheckpointStore(client *Client, prefix string, ttl time.Duration) *CheckpointStore {
	return &CheckpointStore{client: client, prefix: prefix, ttl: ttl}
}

// Store 设置当前会话的活动检查点，nil 等同于 Clear
func (s *CheckpointStore) Store(ctx context.Context, cp *entity.Checkpoint) error {
	if cp == nil {
		return s.Clear(ctx)
	}
	key, err := s.key(ctx)
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "redis.CheckpointStore.Store")
	defer span.End()
	span.SetAttributes(attribute.Int64("checkpoint_id", int64(cp.ID)))

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl); err != nil {
		return errors.ErrCacheError.WithError(err)
	}
	return nil
}

// Retrieve 获取当前会话的活动检查点
func (s *CheckpointStore) Retrieve(ctx context.Context) (*entity.Checkpoint, error) {
	key, err := s.key(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "redis.CheckpointStore.Retrieve")
	defer span.End()

	raw, err := s.client.Get(ctx, key)
	if err != nil {
		if IsNil(err) {
			return nil, nil
		}
		return nil, errors.ErrCacheError.WithError(err)
	}

	var cp entity.Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	if err := s.touch(ctx, key); err != nil {
		span.RecordError(err)
	}
	return &cp, nil
}

// touch 剩余时间不足一半时把过期时间顺延到完整的 ttl
func (s *CheckpointStore) touch(ctx context.Context, key string) error {
	if s.ttl <= 0 {
		return nil
	}
	remaining, err := s.client.TTL(ctx, key)
	if err != nil {
		return err
	}
	if remaining > s.ttl/2 {
		return nil
	}
	return s.client.Expire(ctx, key, s.ttl)
}

// Clear 清除当前会话的活动检查点
func (s *CheckpointStore) Clear(ctx context.Context) error {
	key, err := s.key(ctx)
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "redis.CheckpointStore.Clear")
	defer span.End()

	if err := s.client.Del(ctx, key); err != nil {
		return errors.ErrCacheError.WithError(err)
	}
	return nil
}

func (s *CheckpointStore) key(ctx context.Context) (string, error) {
	session := repository.SessionFrom(ctx)
	if session == "" {
		return "", errors.ErrInvalidParam.WithDetail("no session in context")
	}
	return s.prefix + session, nil
}
