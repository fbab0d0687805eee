package postgres

import (
	"context"
	"fmt"

	"revision-engine/internal/domain/entity"
)

// Migrate 创建或更新 revisions / checkpoints / timelines 表及索引
func Migrate(ctx context.Context, client *Client) error {
	ctx, span := tracer.Start(ctx, "postgres.Migrate")
	defer span.End()

	if err := client.db.WithContext(ctx).AutoMigrate(
		&entity.Timeline{},
		&entity.Checkpoint{},
		&entity.Revision{},
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to migrate revision schema: %w", err)
	}
	return nil
}
