package plugin

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 事件类型
const (
	EventPluginLoaded       = "plugin:loaded"
	EventPluginUnloaded     = "plugin:unloaded"
	EventPluginError        = "plugin:error"
	EventPluginHealth       = "plugin:health"
	EventPluginMaintenance  = "plugin:maintenance"
	EventDeviceConnected    = "device:connected"
	EventDeviceDisconnected = "device:disconnected"
	EventDeviceSynced       = "device:synced"
)

// Event 注册表事件
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	PluginID  string                 `json:"plugin_id"`
	DeviceID  string                 `json:"device_id,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventSink 事件外部投递（如 Redis Stream）
type EventSink interface {
	PublishEvent(ctx context.Context, event Event) error
}

// Subscribe 注册进程内事件监听（同步调用，监听函数不应阻塞）
func (r *Registry) Subscribe(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// SetEventSink 设置外部事件投递
func (r *Registry) SetEventSink(sink EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventSink = sink
}

func (r *Registry) emit(ctx context.Context, eventType, pluginID, deviceID string, err error, data map[string]interface{}) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		PluginID:  pluginID,
		DeviceID:  deviceID,
		Data:      data,
		Timestamp: r.now(),
	}
	if err != nil {
		event.Error = err.Error()
	}

	r.mu.RLock()
	subscribers := append([]func(Event){}, r.subscribers...)
	sink := r.eventSink
	r.mu.RUnlock()

	for _, fn := range subscribers {
		fn(event)
	}

	if sink != nil {
		if sinkErr := sink.PublishEvent(ctx, event); sinkErr != nil {
			r.logger.Warn("Failed to publish plugin event",
				zap.String("event_type", eventType),
				zap.String("plugin_id", pluginID),
				zap.Error(sinkErr),
			)
		}
	}
}
