package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
)

// DefaultHealthKeyPrefix 插件健康快照的键前缀
const DefaultHealthKeyPrefix = "vitals:plugin:health:"

// PluginHealthStore 插件健康快照（Redis，带 TTL）
//
// 卸载的插件不再刷新快照，TTL 到期后自然消失。
type PluginHealthStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewPluginHealthStore 创建健康快照存储
func NewPluginHealthStore(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *PluginHealthStore {
	if prefix == "" {
		prefix = DefaultHealthKeyPrefix
	}
	return &PluginHealthStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (s *PluginHealthStore) key(pluginID string) string {
	return s.prefix + pluginID
}

// SaveHealth 写入快照
func (s *PluginHealthStore) SaveHealth(ctx context.Context, health models.PluginHealth) error {
	jsonData, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("failed to marshal plugin health: %w", err)
	}
	if err := s.client.Set(ctx, s.key(health.PluginID), jsonData, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save plugin health: %w", err)
	}
	return nil
}

// GetHealth 读取快照，不存在时返回 (nil, nil)
func (s *PluginHealthStore) GetHealth(ctx context.Context, pluginID string) (*models.PluginHealth, error) {
	val, err := s.client.Get(ctx, s.key(pluginID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get plugin health: %w", err)
	}

	var health models.PluginHealth
	if err := json.Unmarshal([]byte(val), &health); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plugin health: %w", err)
	}
	return &health, nil
}

// ListHealth 全部快照（按插件 id 排序）
func (s *PluginHealthStore) ListHealth(ctx context.Context) ([]models.PluginHealth, error) {
	var out []models.PluginHealth
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		val, err := s.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, fmt.Errorf("failed to get plugin health: %w", err)
		}
		var health models.PluginHealth
		if err := json.Unmarshal([]byte(val), &health); err != nil {
			s.logger.Warn("Skipping malformed plugin health", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		out = append(out, health)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan plugin health: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PluginID < out[j].PluginID })
	return out, nil
}
