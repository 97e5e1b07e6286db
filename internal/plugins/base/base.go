// Package base 内置插件共用的部分：元数据、设备簿记、转换与状态路由
package base

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/plugin"
	"wisefido-vitals/internal/transformer"
)

// Base 内置插件的公共实现，嵌入到具体插件中使用
type Base struct {
	meta        plugin.Metadata
	deviceType  string
	Logger      *zap.Logger
	Transformer *transformer.Transformer

	mu      sync.RWMutex
	config  plugin.Config
	devices map[string]time.Time
}

// New 创建 Base，deviceType 为载荷未携带 device_type 时使用的默认设备类型
func New(meta plugin.Metadata, deviceType string, logger *zap.Logger) *Base {
	return &Base{
		meta:        meta,
		deviceType:  deviceType,
		Logger:      logger,
		Transformer: transformer.NewTransformer(logger),
		config:      plugin.Config{},
		devices:     make(map[string]time.Time),
	}
}

// Metadata 插件元数据
func (b *Base) Metadata() plugin.Metadata {
	return b.meta
}

// SetConfig 保存 Initialize 收到的配置
func (b *Base) SetConfig(cfg plugin.Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = cfg.Merge(nil)
}

// Config 当前配置
func (b *Base) Config() plugin.Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// TrackDevice 记录已连接设备
func (b *Base) TrackDevice(deviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices[deviceID] = time.Now()
}

// UntrackDevice 移除设备，返回设备之前是否已连接
func (b *Base) UntrackDevice(deviceID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.devices[deviceID]
	delete(b.devices, deviceID)
	return ok
}

// IsTracked 设备是否已连接
func (b *Base) IsTracked(deviceID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.devices[deviceID]
	return ok
}

// Devices 已连接设备 id（排序）
func (b *Base) Devices() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.devices))
	for id := range b.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset 清空设备簿记（Destroy 时调用）
func (b *Base) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = make(map[string]time.Time)
}

// TransformData 用设备类型对应的规则集转换原始载荷
//
// 载荷中的 device_type 优先于插件默认设备类型。
func (b *Base) TransformData(raw map[string]interface{}) (*models.VitalData, []string) {
	deviceType := b.deviceType
	if dt, ok := raw["device_type"].(string); ok && dt != "" {
		deviceType = dt
	}
	rules := transformer.ResolveRules(deviceType, raw)
	return b.Transformer.Transform(raw, deviceType, rules)
}

// StatusResponse GET /status 响应
type StatusResponse struct {
	PluginID         string   `json:"plugin_id"`
	Name             string   `json:"name"`
	Version          string   `json:"version"`
	ConnectedDevices []string `json:"connected_devices"`
}

// StatusRoute 所有内置插件都提供的 GET /status 路由
func (b *Base) StatusRoute() plugin.RouteDescriptor {
	return plugin.RouteDescriptor{
		Method:      http.MethodGet,
		Path:        "/status",
		HandlerName: "status",
		Handler: func(w http.ResponseWriter, r *http.Request) {
			WriteJSON(w, http.StatusOK, StatusResponse{
				PluginID:         b.meta.ID,
				Name:             b.meta.Name,
				Version:          b.meta.Version,
				ConnectedDevices: b.Devices(),
			})
		},
	}
}

// WriteJSON 写 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
