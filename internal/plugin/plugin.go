// Package plugin 设备接入插件的契约与注册表
//
// 插件通过静态的 id → Factory 表注册（编译期确定），注册表负责加载/卸载、
// 设备连接与同步分发、健康监控和事件通知。
package plugin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
)

var (
	// ErrPluginNotFound 插件 id 不在工厂表中
	ErrPluginNotFound = errors.New("plugin not found")
	// ErrPluginNotLoaded 插件未加载
	ErrPluginNotLoaded = errors.New("plugin not loaded")
	// ErrInvalidPlugin 插件元数据不完整或与注册 id 不一致
	ErrInvalidPlugin = errors.New("invalid plugin")
	// ErrPluginInMaintenance 插件处于维护状态，拒绝设备操作
	ErrPluginInMaintenance = errors.New("plugin in maintenance")
	// ErrDeviceNotConnected 设备未连接
	ErrDeviceNotConnected = errors.New("device not connected")
)

// 通配
const (
	AnyDeviceType = "*"
	GlobalRegion  = "global"
)

// Metadata 插件元数据
type Metadata struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Version          string   `json:"version"`
	Description      string   `json:"description,omitempty"`
	Vendor           string   `json:"vendor,omitempty"`
	SupportedDevices []string `json:"supported_devices"`
	Regions          []string `json:"regions"`
}

// SupportsDevice 设备类型是否受支持（"*" 匹配所有）
func (m Metadata) SupportsDevice(deviceType string) bool {
	for _, d := range m.SupportedDevices {
		if d == AnyDeviceType || d == deviceType {
			return true
		}
	}
	return false
}

// AvailableIn 是否在某地区可用（"global" 匹配所有）
func (m Metadata) AvailableIn(region string) bool {
	for _, r := range m.Regions {
		if r == GlobalRegion || r == region {
			return true
		}
	}
	return false
}

// Config 插件配置（默认配置 + 运行时覆盖）
type Config map[string]interface{}

// String 读取字符串配置
func (c Config) String(key, def string) string {
	if v, ok := c[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Int 读取整数配置（支持数字和数字字符串）
func (c Config) Int(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// Duration 读取时长配置（time.Duration 或 "30s" 这样的字符串）
func (c Config) Duration(key string, def time.Duration) time.Duration {
	switch v := c[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Merge 返回合并后的新配置，override 覆盖 c
func (c Config) Merge(override Config) Config {
	out := make(Config, len(c)+len(override))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Plugin 设备接入插件的生命周期与数据契约
type Plugin interface {
	Metadata() Metadata
	Initialize(ctx context.Context, cfg Config) error
	Destroy(ctx context.Context) error
	Connect(ctx context.Context, deviceID string) (*models.DeviceConnection, error)
	Disconnect(ctx context.Context, deviceID string) error
	ReadData(ctx context.Context, deviceID string) ([]map[string]interface{}, error)
	TransformData(raw map[string]interface{}) (*models.VitalData, []string)
	GetDefaultConfig() Config
}

// Factory 创建插件实例
type Factory func(logger *zap.Logger) Plugin

// RouteDescriptor 插件对外暴露的 HTTP 路由
type RouteDescriptor struct {
	Method       string
	Path         string
	HandlerName  string
	RequiresAuth bool
	Handler      http.HandlerFunc
}

// RouteProvider 可选：提供 HTTP 路由的插件
type RouteProvider interface {
	Routes() []RouteDescriptor
}

// HealthChecker 可选：支持主动健康检查的插件
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SyncCommitter 可选：增量同步的插件，读数落库后推进同步游标
type SyncCommitter interface {
	CommitSync(deviceID string)
}

// SyncedReading 一次同步得到的单条读数（含字段级转换错误）
type SyncedReading struct {
	Data   *models.VitalData
	Errors []string
}
