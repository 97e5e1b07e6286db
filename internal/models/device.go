package models

import "time"

// ConnectionStatus 设备连接状态
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionSyncing      ConnectionStatus = "syncing"
	ConnectionError        ConnectionStatus = "error"
)

// DeviceConnection 设备连接信息（connect 时创建，disconnect 时丢弃）
type DeviceConnection struct {
	DeviceID       string           `json:"device_id"`
	PluginID       string           `json:"plugin_id"`
	Status         ConnectionStatus `json:"status"`
	LastSync       *time.Time       `json:"last_sync,omitempty"`
	BatteryLevel   *int             `json:"battery_level,omitempty"`
	SignalStrength *int             `json:"signal_strength,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
}

// HealthStatus 插件健康状态
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthWarning     HealthStatus = "warning"
	HealthError       HealthStatus = "error"
	HealthMaintenance HealthStatus = "maintenance"
)

// PluginHealth 插件健康信息
type PluginHealth struct {
	PluginID         string        `json:"plugin_id"`
	Status           HealthStatus  `json:"status"`
	ErrorCount       int           `json:"error_count"`
	Uptime           time.Duration `json:"uptime"`
	ConnectedDevices int           `json:"connected_devices"`
	LastCheck        time.Time     `json:"last_check"`
	LastError        string        `json:"last_error,omitempty"`
	LastErrorAt      *time.Time    `json:"last_error_at,omitempty"`
}
