package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
	rediscommon "wisefido-vitals/pkg/redis"
)

// RawProcessor 处理一条原始设备数据
type RawProcessor interface {
	ProcessRaw(ctx context.Context, raw *models.RawDeviceData) error
}

// Options 消费者配置
type Options struct {
	Stream    string
	Group     string
	Consumer  string
	BatchSize int64
	Block     time.Duration
}

// StreamConsumer Redis Streams 消费者：原始设备数据 → RawProcessor
type StreamConsumer struct {
	redisClient *redis.Client
	opts        Options
	processor   RawProcessor
	logger      *zap.Logger
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(redisClient *redis.Client, opts Options, processor RawProcessor, logger *zap.Logger) *StreamConsumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Block <= 0 {
		opts.Block = time.Second
	}
	return &StreamConsumer{
		redisClient: redisClient,
		opts:        opts,
		processor:   processor,
		logger:      logger,
	}
}

// Start 启动消费循环，ctx 取消时返回
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.opts.Stream, c.opts.Group); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.opts.Stream, err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", c.opts.Stream),
		zap.String("consumer_group", c.opts.Group),
		zap.String("consumer_name", c.opts.Consumer),
	)

	backoffDuration := time.Second // 初始退避时间
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := c.ConsumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume stream",
				zap.String("stream", c.opts.Stream),
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second
	}
}

// ConsumeOnce 读取并处理一批消息，返回处理的消息数
//
// 单条消息失败只记录日志；所有读到的消息都会 ACK，避免坏消息反复投递。
func (c *StreamConsumer) ConsumeOnce(ctx context.Context) (int, error) {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		c.opts.Stream,
		c.opts.Group,
		c.opts.Consumer,
		c.opts.BatchSize,
		c.opts.Block,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to read from stream %s: %w", c.opts.Stream, err)
	}

	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		if err := c.processMessage(ctx, msg); err != nil {
			c.logger.Error("Failed to process message",
				zap.String("stream", msg.Stream),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
		ids = append(ids, msg.ID)
	}

	if err := rediscommon.Ack(ctx, c.redisClient, c.opts.Stream, c.opts.Group, ids...); err != nil {
		return len(messages), fmt.Errorf("failed to ack messages: %w", err)
	}
	return len(messages), nil
}

func (c *StreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	raw, err := models.ParseRawDeviceData(msg.Values)
	if err != nil {
		return fmt.Errorf("failed to parse raw device data: %w", err)
	}
	return c.processor.ProcessRaw(ctx, raw)
}
