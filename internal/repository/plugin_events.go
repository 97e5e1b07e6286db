package repository

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-vitals/internal/plugin"
	rediscommon "wisefido-vitals/pkg/redis"
)

// PluginEventStream 把注册表事件写入 Redis Stream，供告警等下游服务消费
type PluginEventStream struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewPluginEventStream 创建事件流发布器
func NewPluginEventStream(client *redis.Client, stream string, logger *zap.Logger) *PluginEventStream {
	return &PluginEventStream{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// PublishEvent 发布一条事件
func (s *PluginEventStream) PublishEvent(ctx context.Context, event plugin.Event) error {
	id, err := rediscommon.PublishJSONToStream(ctx, s.client, s.stream, event)
	if err != nil {
		return fmt.Errorf("failed to publish plugin event: %w", err)
	}
	s.logger.Debug("Plugin event published",
		zap.String("stream", s.stream),
		zap.String("message_id", id),
		zap.String("event_type", event.Type),
	)
	return nil
}
