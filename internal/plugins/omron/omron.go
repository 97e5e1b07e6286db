// Package omron Omron 血压计插件（按地区选择 API 入口）
package omron

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/plugin"
	"wisefido-vitals/internal/plugins/base"
	"wisefido-vitals/internal/transformer"
)

const ID = "omron-bp"

// regionBaseURLs 各地区 API 入口
var regionBaseURLs = map[string]string{
	"us": "https://api.omronhealthcare.com",
	"eu": "https://api.omronhealthcare.eu",
	"jp": "https://api.omronhealthcare.jp",
}

var errNotInitialized = errors.New("omron client not initialized")

// DeviceInfo 设备信息
type DeviceInfo struct {
	DeviceID     string `json:"device_id"`
	Model        string `json:"model"`
	BatteryLevel *int   `json:"battery_level"`
	Status       string `json:"status"`
}

// Measurement 单次血压测量
type Measurement struct {
	Systolic           float64 `json:"systolic"`
	Diastolic          float64 `json:"diastolic"`
	Pulse              float64 `json:"pulse"`
	MeasuredAt         string  `json:"measured_at"`
	IrregularHeartbeat bool    `json:"irregular_heartbeat"`
}

// MeasurementsResponse 测量列表
type MeasurementsResponse struct {
	Measurements []Measurement `json:"measurements"`
}

// APIError Omron API 错误响应
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Plugin Omron 插件
type Plugin struct {
	*base.Base

	mu       sync.RWMutex
	client   *resty.Client
	cursors  *base.Cursors
	lookback time.Duration
}

// New 创建 Omron 插件
func New(logger *zap.Logger) plugin.Plugin {
	meta := plugin.Metadata{
		ID:               ID,
		Name:             "Omron Blood Pressure",
		Version:          "1.0.0",
		Description:      "Blood pressure monitors via the Omron measurement API",
		Vendor:           "Omron Healthcare",
		SupportedDevices: []string{transformer.DeviceTypeBloodPressure},
		Regions:          []string{"us", "eu", "jp"},
	}
	return &Plugin{
		Base:    base.New(meta, transformer.DeviceTypeBloodPressure, logger),
		cursors: base.NewCursors(),
	}
}

// GetDefaultConfig 默认配置
func (p *Plugin) GetDefaultConfig() plugin.Config {
	return plugin.Config{
		"region":      "us",
		"base_url":    "",
		"api_key":     "",
		"timeout":     "15s",
		"retry_count": 3,
		"lookback":    "24h",
	}
}

// Initialize api_key 必填；base_url 为空时按 region 选择
func (p *Plugin) Initialize(_ context.Context, cfg plugin.Config) error {
	apiKey := cfg.String("api_key", "")
	if apiKey == "" {
		return fmt.Errorf("omron api_key is required")
	}
	region := cfg.String("region", "us")
	baseURL := cfg.String("base_url", "")
	if baseURL == "" {
		u, ok := regionBaseURLs[region]
		if !ok {
			return fmt.Errorf("unsupported omron region: %s", region)
		}
		baseURL = u
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Duration("timeout", 15*time.Second)).
		SetRetryCount(cfg.Int("retry_count", 3)).
		SetRetryWaitTime(1*time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("X-API-Key", apiKey).
		SetHeader("Accept", "application/json")

	p.mu.Lock()
	p.client = client
	p.lookback = cfg.Duration("lookback", 24*time.Hour)
	p.mu.Unlock()
	p.SetConfig(cfg)

	p.Logger.Info("Omron plugin initialized", zap.String("region", region), zap.String("base_url", baseURL))
	return nil
}

// Destroy 释放客户端和同步游标
func (p *Plugin) Destroy(context.Context) error {
	p.mu.Lock()
	p.client = nil
	p.mu.Unlock()
	p.cursors.Reset()
	p.Reset()
	return nil
}

func (p *Plugin) httpClient() (*resty.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, errNotInitialized
	}
	return p.client, nil
}

func (p *Plugin) deviceInfo(ctx context.Context, deviceID string) (*DeviceInfo, error) {
	client, err := p.httpClient()
	if err != nil {
		return nil, err
	}
	var info DeviceInfo
	var apiErr APIError
	resp, err := client.R().
		SetContext(ctx).
		SetPathParam("deviceID", deviceID).
		SetResult(&info).
		SetError(&apiErr).
		Get("/api/v1/devices/{deviceID}")
	if err != nil {
		return nil, fmt.Errorf("failed to call Omron API: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("omron API error: %s %s (status: %d)", apiErr.Code, apiErr.Message, resp.StatusCode())
	}
	return &info, nil
}

// Connect 查询设备信息，设备须为 active
func (p *Plugin) Connect(ctx context.Context, deviceID string) (*models.DeviceConnection, error) {
	info, err := p.deviceInfo(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if info.Status != "" && info.Status != "active" {
		return nil, fmt.Errorf("omron device %s is %s", deviceID, info.Status)
	}
	p.TrackDevice(deviceID)
	return &models.DeviceConnection{
		DeviceID:     deviceID,
		Status:       models.ConnectionConnected,
		BatteryLevel: info.BatteryLevel,
	}, nil
}

// Disconnect 清理设备和同步游标
func (p *Plugin) Disconnect(_ context.Context, deviceID string) error {
	if !p.UntrackDevice(deviceID) {
		return fmt.Errorf("%w: %s", plugin.ErrDeviceNotConnected, deviceID)
	}
	p.cursors.Clear(deviceID)
	return nil
}

// ReadData 增量拉取：首次回看 lookback，之后从上次已提交的最新测量时间开始
func (p *Plugin) ReadData(ctx context.Context, deviceID string) ([]map[string]interface{}, error) {
	if !p.IsTracked(deviceID) {
		return nil, fmt.Errorf("%w: %s", plugin.ErrDeviceNotConnected, deviceID)
	}
	client, err := p.httpClient()
	if err != nil {
		return nil, err
	}

	since, ok := p.cursors.Get(deviceID)
	p.mu.RLock()
	lookback := p.lookback
	p.mu.RUnlock()
	if !ok {
		since = time.Now().Add(-lookback)
	}

	var result MeasurementsResponse
	var apiErr APIError
	resp, err := client.R().
		SetContext(ctx).
		SetPathParam("deviceID", deviceID).
		SetQueryParam("since", since.UTC().Format(time.RFC3339)).
		SetResult(&result).
		SetError(&apiErr).
		Get("/api/v1/devices/{deviceID}/measurements")
	if err != nil {
		return nil, fmt.Errorf("failed to call Omron API: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("omron API error: %s %s (status: %d)", apiErr.Code, apiErr.Message, resp.StatusCode())
	}

	latest := since
	out := make([]map[string]interface{}, 0, len(result.Measurements))
	for _, m := range result.Measurements {
		ts, err := time.Parse(time.RFC3339, m.MeasuredAt)
		if err == nil && ok && !ts.After(since) {
			// since 是闭区间，上次已提交的测量会再次返回
			continue
		}
		out = append(out, measurementPayload(m))
		if err == nil && ts.After(latest) {
			latest = ts
		}
	}

	p.cursors.Stage(deviceID, latest)
	return out, nil
}

// CommitSync 读数落库后推进游标
func (p *Plugin) CommitSync(deviceID string) {
	p.cursors.Commit(deviceID)
}

func measurementPayload(m Measurement) map[string]interface{} {
	payload := map[string]interface{}{
		"systolic":    m.Systolic,
		"diastolic":   m.Diastolic,
		"pulse":       m.Pulse,
		"unit":        "mmHg",
		"timestamp":   m.MeasuredAt,
		"device_type": transformer.DeviceTypeBloodPressure,
	}
	if m.IrregularHeartbeat {
		payload["notes"] = "irregular heartbeat detected"
	}
	return payload
}

// Routes GET /status、GET /regions
func (p *Plugin) Routes() []plugin.RouteDescriptor {
	return []plugin.RouteDescriptor{
		p.StatusRoute(),
		{
			Method:      http.MethodGet,
			Path:        "/regions",
			HandlerName: "regions",
			Handler: func(w http.ResponseWriter, r *http.Request) {
				base.WriteJSON(w, http.StatusOK, map[string]interface{}{
					"active":    p.Config().String("region", "us"),
					"supported": p.Metadata().Regions,
				})
			},
		},
	}
}
