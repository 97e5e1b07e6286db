// Package bluetooth 通用蓝牙插件
//
// BLE 网关把设备测量发布到 MQTT 主题 <prefix><device_id>/data，插件订阅已连接设备的主题，
// 把消息缓存到设备队列，同步时一次取走。也可以通过 POST /ingest 直接推送。
package bluetooth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/plugin"
	"wisefido-vitals/internal/plugins/base"
	"wisefido-vitals/pkg/mqtt"
)

const (
	ID                 = "generic-bluetooth"
	DefaultTopicPrefix = "ble/"
	DefaultBufferSize  = 500
)

// Subscriber MQTT 订阅能力（*mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
	IsConnected() bool
}

// Plugin 通用蓝牙插件
type Plugin struct {
	*base.Base
	subscriber Subscriber

	mu      sync.Mutex
	prefix  string
	qos     byte
	maxBuf  int
	buffers map[string][]map[string]interface{}
	dropped map[string]int
}

// NewFactory 返回绑定了 MQTT 订阅者的工厂；subscriber 为 nil 时只能通过 /ingest 推送
func NewFactory(subscriber Subscriber) plugin.Factory {
	return func(logger *zap.Logger) plugin.Plugin {
		return New(subscriber, logger)
	}
}

// New 创建通用蓝牙插件
func New(subscriber Subscriber, logger *zap.Logger) *Plugin {
	meta := plugin.Metadata{
		ID:               ID,
		Name:             "Generic Bluetooth",
		Version:          "1.0.0",
		Description:      "Any BLE health device bridged through an MQTT gateway",
		Vendor:           "wisefido",
		SupportedDevices: []string{plugin.AnyDeviceType},
		Regions:          []string{plugin.GlobalRegion},
	}
	return &Plugin{
		Base:       base.New(meta, "", logger),
		subscriber: subscriber,
		prefix:     DefaultTopicPrefix,
		maxBuf:     DefaultBufferSize,
		buffers:    make(map[string][]map[string]interface{}),
		dropped:    make(map[string]int),
	}
}

// GetDefaultConfig 默认配置
func (p *Plugin) GetDefaultConfig() plugin.Config {
	return plugin.Config{
		"topic_prefix": DefaultTopicPrefix,
		"qos":          1,
		"buffer_size":  DefaultBufferSize,
	}
}

// Initialize 读取主题前缀、QoS 和缓存上限
func (p *Plugin) Initialize(_ context.Context, cfg plugin.Config) error {
	qos := cfg.Int("qos", 1)
	if qos < 0 || qos > 2 {
		return fmt.Errorf("invalid qos %d, must be 0-2", qos)
	}
	size := cfg.Int("buffer_size", DefaultBufferSize)
	if size <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", size)
	}

	p.mu.Lock()
	p.prefix = cfg.String("topic_prefix", DefaultTopicPrefix)
	p.qos = byte(qos)
	p.maxBuf = size
	p.mu.Unlock()
	p.SetConfig(cfg)

	if p.subscriber == nil {
		p.Logger.Warn("MQTT not configured, generic-bluetooth accepts data via /ingest only")
	}
	return nil
}

// Destroy 取消全部订阅并丢弃缓存
func (p *Plugin) Destroy(context.Context) error {
	devices := p.Devices()
	if p.subscriber != nil && len(devices) > 0 {
		topics := make([]string, 0, len(devices))
		for _, d := range devices {
			topics = append(topics, p.topic(d))
		}
		if err := p.subscriber.Unsubscribe(topics...); err != nil {
			p.Logger.Warn("Failed to unsubscribe BLE topics", zap.Error(err))
		}
	}
	p.mu.Lock()
	p.buffers = make(map[string][]map[string]interface{})
	p.dropped = make(map[string]int)
	p.mu.Unlock()
	p.Reset()
	return nil
}

func (p *Plugin) topic(deviceID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prefix + deviceID + "/data"
}

// Connect 订阅设备主题
func (p *Plugin) Connect(_ context.Context, deviceID string) (*models.DeviceConnection, error) {
	if strings.ContainsAny(deviceID, "/+#") {
		return nil, fmt.Errorf("invalid bluetooth device id: %q", deviceID)
	}
	if p.subscriber != nil {
		p.mu.Lock()
		qos := p.qos
		p.mu.Unlock()
		if err := p.subscriber.Subscribe(p.topic(deviceID), qos, p.handleMessage); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	if _, ok := p.buffers[deviceID]; !ok {
		p.buffers[deviceID] = nil
	}
	p.mu.Unlock()
	p.TrackDevice(deviceID)

	return &models.DeviceConnection{DeviceID: deviceID, Status: models.ConnectionConnected}, nil
}

// Disconnect 取消订阅并丢弃未同步的数据
func (p *Plugin) Disconnect(_ context.Context, deviceID string) error {
	if !p.UntrackDevice(deviceID) {
		return fmt.Errorf("%w: %s", plugin.ErrDeviceNotConnected, deviceID)
	}
	if p.subscriber != nil {
		if err := p.subscriber.Unsubscribe(p.topic(deviceID)); err != nil {
			return err
		}
	}
	p.mu.Lock()
	delete(p.buffers, deviceID)
	delete(p.dropped, deviceID)
	p.mu.Unlock()
	return nil
}

// ReadData 取走设备缓存中的全部载荷
func (p *Plugin) ReadData(_ context.Context, deviceID string) ([]map[string]interface{}, error) {
	if !p.IsTracked(deviceID) {
		return nil, fmt.Errorf("%w: %s", plugin.ErrDeviceNotConnected, deviceID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.buffers[deviceID]
	p.buffers[deviceID] = nil
	if n := p.dropped[deviceID]; n > 0 {
		p.Logger.Warn("BLE buffer overflowed, oldest payloads dropped",
			zap.String("device_id", deviceID),
			zap.Int("dropped", n),
		)
		p.dropped[deviceID] = 0
	}
	if out == nil {
		out = []map[string]interface{}{}
	}
	return out, nil
}

// HealthCheck MQTT 连接断开时报错
func (p *Plugin) HealthCheck(context.Context) error {
	if p.subscriber != nil && !p.subscriber.IsConnected() {
		return fmt.Errorf("mqtt broker disconnected")
	}
	return nil
}

// handleMessage 处理网关消息：主题 <prefix><device_id>/data
func (p *Plugin) handleMessage(topic string, payload []byte) error {
	p.mu.Lock()
	prefix := p.prefix
	p.mu.Unlock()

	deviceID := strings.TrimSuffix(strings.TrimPrefix(topic, prefix), "/data")
	if deviceID == "" || deviceID == topic {
		return fmt.Errorf("unexpected BLE topic: %s", topic)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal BLE payload: %w", err)
	}
	return p.enqueue(deviceID, raw)
}

func (p *Plugin) enqueue(deviceID string, raw map[string]interface{}) error {
	if !p.IsTracked(deviceID) {
		return fmt.Errorf("%w: %s", plugin.ErrDeviceNotConnected, deviceID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := append(p.buffers[deviceID], raw)
	if over := len(buf) - p.maxBuf; over > 0 {
		buf = buf[over:]
		p.dropped[deviceID] += over
	}
	p.buffers[deviceID] = buf
	return nil
}

// IngestRequest POST /ingest 请求
type IngestRequest struct {
	DeviceID string                 `json:"device_id"`
	Data     map[string]interface{} `json:"data"`
}

// Routes GET /status、POST /ingest
func (p *Plugin) Routes() []plugin.RouteDescriptor {
	return []plugin.RouteDescriptor{
		p.StatusRoute(),
		{
			Method:       http.MethodPost,
			Path:         "/ingest",
			HandlerName:  "ingest",
			RequiresAuth: true,
			Handler: func(w http.ResponseWriter, r *http.Request) {
				var req IngestRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					base.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
					return
				}
				if req.DeviceID == "" || len(req.Data) == 0 {
					base.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "device_id and data are required"})
					return
				}
				if err := p.enqueue(req.DeviceID, req.Data); err != nil {
					base.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
					return
				}
				base.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
			},
		},
	}
}
