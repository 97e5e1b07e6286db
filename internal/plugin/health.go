package plugin

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
)

// HealthSink 健康快照的外部存储（如 Redis）
type HealthSink interface {
	SaveHealth(ctx context.Context, health models.PluginHealth) error
}

// SetHealthSink 设置健康快照存储
func (r *Registry) SetHealthSink(sink HealthSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthSink = sink
}

// GetPluginHealth 插件健康状态（副本）
func (r *Registry) GetPluginHealth(id string) (models.PluginHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.health[id]
	if !ok {
		return models.PluginHealth{}, false
	}
	return copyHealth(h), true
}

// GetAllHealth 全部健康记录（按 id 排序），包括加载或卸载失败的插件
func (r *Registry) GetAllHealth() []models.PluginHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.PluginHealth, 0, len(r.health))
	for _, h := range r.health {
		out = append(out, copyHealth(h))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PluginID < out[j].PluginID })
	return out
}

// ResetPluginHealth 人工解除维护状态，清零错误计数
func (r *Registry) ResetPluginHealth(ctx context.Context, id string) error {
	r.mu.Lock()
	h, ok := r.health[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPluginNotLoaded, id)
	}
	h.Status = models.HealthHealthy
	h.ErrorCount = 0
	h.LastError = ""
	h.LastErrorAt = nil
	h.LastCheck = r.now()
	snapshot := copyHealth(h)
	r.mu.Unlock()

	r.logger.Info("Plugin health reset", zap.String("plugin_id", id))
	r.saveHealth(ctx, snapshot)
	r.emit(ctx, EventPluginHealth, id, "", nil, map[string]interface{}{"status": string(snapshot.Status)})
	return nil
}

// recordError 记录插件错误：计数加一，非维护状态下置为 error，发出 plugin:error
func (r *Registry) recordError(ctx context.Context, pluginID, deviceID string, err error) {
	now := r.now()

	r.mu.Lock()
	var snapshot *models.PluginHealth
	if h, ok := r.health[pluginID]; ok {
		h.ErrorCount++
		h.LastError = err.Error()
		h.LastErrorAt = &now
		if h.Status != models.HealthMaintenance {
			h.Status = models.HealthError
		}
		s := copyHealth(h)
		snapshot = &s
	}
	r.mu.Unlock()

	r.logger.Error("Plugin operation failed",
		zap.String("plugin_id", pluginID),
		zap.String("device_id", deviceID),
		zap.Error(err),
	)
	if snapshot != nil {
		r.saveHealth(ctx, *snapshot)
	}
	r.emit(ctx, EventPluginError, pluginID, deviceID, err, nil)
}

// recordLoadFailure 记录加载失败
//
// 插件未加载时健康监控不会评估它，因此在这里直接升级：
// 连续失败次数超过阈值 → maintenance。下一次成功加载会覆盖该记录。
func (r *Registry) recordLoadFailure(ctx context.Context, id string, err error) {
	r.mu.Lock()
	if _, ok := r.health[id]; !ok {
		r.health[id] = &models.PluginHealth{PluginID: id, Status: models.HealthError, LastCheck: r.now()}
	}
	r.mu.Unlock()

	r.recordError(ctx, id, "", err)

	r.mu.Lock()
	h, ok := r.health[id]
	_, loaded := r.plugins[id]
	entered := false
	var snapshot models.PluginHealth
	if ok && !loaded && h.Status != models.HealthMaintenance && h.ErrorCount > r.opts.MaintenanceThreshold {
		h.Status = models.HealthMaintenance
		entered = true
		snapshot = copyHealth(h)
	}
	r.mu.Unlock()

	if entered {
		r.logger.Warn("Plugin entered maintenance",
			zap.String("plugin_id", id),
			zap.Int("error_count", snapshot.ErrorCount),
		)
		r.saveHealth(ctx, snapshot)
		r.emit(ctx, EventPluginMaintenance, id, "", nil, map[string]interface{}{"error_count": snapshot.ErrorCount})
	}
}

// StartHealthMonitor 启动周期性健康检查（gocron，单例模式避免重叠执行）
func (r *Registry) StartHealthMonitor(ctx context.Context) error {
	r.mu.Lock()
	if r.scheduler != nil {
		r.mu.Unlock()
		return nil
	}
	s := gocron.NewScheduler(time.UTC)
	r.scheduler = s
	r.mu.Unlock()

	_, err := s.Every(r.opts.HealthInterval).SingletonMode().Do(func() {
		r.CheckHealth(ctx)
	})
	if err != nil {
		r.mu.Lock()
		r.scheduler = nil
		r.mu.Unlock()
		return fmt.Errorf("failed to schedule health check: %w", err)
	}
	s.StartAsync()

	r.logger.Info("Plugin health monitor started", zap.Duration("interval", r.opts.HealthInterval))
	return nil
}

// StopHealthMonitor 停止健康检查
func (r *Registry) StopHealthMonitor() {
	r.mu.Lock()
	s := r.scheduler
	r.scheduler = nil
	r.mu.Unlock()
	if s != nil {
		s.Stop()
		r.logger.Info("Plugin health monitor stopped")
	}
}

// CheckHealth 对全部已加载插件执行一次健康检查
func (r *Registry) CheckHealth(ctx context.Context) {
	type target struct {
		id      string
		plugin  Plugin
		started time.Time
	}

	r.mu.RLock()
	targets := make([]target, 0, len(r.plugins))
	for id, e := range r.plugins {
		targets = append(targets, target{id: id, plugin: e.plugin, started: e.loadedAt})
	}
	r.mu.RUnlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	for _, t := range targets {
		var checkErr error
		if hc, ok := t.plugin.(HealthChecker); ok {
			checkErr = hc.HealthCheck(ctx)
		}
		if checkErr != nil {
			r.recordError(ctx, t.id, "", fmt.Errorf("health check failed: %w", checkErr))
		}

		snapshot, entered, ok := r.evaluateHealth(t.id, t.started)
		if !ok {
			continue
		}
		if entered {
			r.logger.Warn("Plugin entered maintenance",
				zap.String("plugin_id", t.id),
				zap.Int("error_count", snapshot.ErrorCount),
			)
			r.emit(ctx, EventPluginMaintenance, t.id, "", nil, map[string]interface{}{"error_count": snapshot.ErrorCount})
		}
		r.saveHealth(ctx, snapshot)
		r.emit(ctx, EventPluginHealth, t.id, "", nil, map[string]interface{}{
			"status":            string(snapshot.Status),
			"error_count":       snapshot.ErrorCount,
			"connected_devices": snapshot.ConnectedDevices,
		})
	}
}

// evaluateHealth 更新一个插件的健康状态
//
// error 计数超过阈值 → maintenance；维护状态只能人工解除。
// 一个完整检查周期内无新错误时逐级恢复：error → warning → healthy。
func (r *Registry) evaluateHealth(id string, started time.Time) (models.PluginHealth, bool, bool) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.health[id]
	e, loaded := r.plugins[id]
	if !ok || !loaded {
		return models.PluginHealth{}, false, false
	}

	h.Uptime = now.Sub(started)
	h.ConnectedDevices = 0
	for _, c := range e.connections {
		if c.Status != models.ConnectionDisconnected {
			h.ConnectedDevices++
		}
	}

	entered := false
	quiet := h.LastErrorAt == nil || now.Sub(*h.LastErrorAt) >= r.opts.HealthInterval
	switch h.Status {
	case models.HealthMaintenance:
	case models.HealthError:
		if h.ErrorCount > r.opts.MaintenanceThreshold {
			h.Status = models.HealthMaintenance
			entered = true
		} else if quiet {
			h.Status = models.HealthWarning
		}
	case models.HealthWarning:
		if quiet {
			h.Status = models.HealthHealthy
		}
	}
	h.LastCheck = now

	return copyHealth(h), entered, true
}

func (r *Registry) saveHealth(ctx context.Context, h models.PluginHealth) {
	r.mu.RLock()
	sink := r.healthSink
	r.mu.RUnlock()
	if sink == nil {
		return
	}
	if err := sink.SaveHealth(ctx, h); err != nil {
		r.logger.Warn("Failed to save plugin health", zap.String("plugin_id", h.PluginID), zap.Error(err))
	}
}

func copyHealth(h *models.PluginHealth) models.PluginHealth {
	c := *h
	if h.LastErrorAt != nil {
		t := *h.LastErrorAt
		c.LastErrorAt = &t
	}
	return c
}
