// Package fitbit Fitbit Web API 插件：心率手环/可穿戴设备
package fitbit

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

const (
	ID             = "fitbit"
	DefaultBaseURL = "https://api.fitbit.com"
)

var errNotInitialized = errors.New("fitbit client not initialized")

// Device Fitbit 设备列表中的一项
type Device struct {
	ID            string `json:"id"`
	DeviceVersion string `json:"deviceVersion"`
	Type          string `json:"type"`
	BatteryLevel  int    `json:"batteryLevel"`
	LastSyncTime  string `json:"lastSyncTime"`
}

// HeartRateResponse 心率日数据（含分钟级 intraday）
type HeartRateResponse struct {
	ActivitiesHeart []struct {
		DateTime string `json:"dateTime"`
		Value    struct {
			RestingHeartRate int `json:"restingHeartRate"`
		} `json:"value"`
	} `json:"activities-heart"`
	Intraday struct {
		Dataset []struct {
			Time  string  `json:"time"`
			Value float64 `json:"value"`
		} `json:"dataset"`
	} `json:"activities-heart-intraday"`
}

// ErrorResponse Fitbit API 错误响应
type ErrorResponse struct {
	Errors []struct {
		ErrorType string `json:"errorType"`
		Message   string `json:"message"`
	} `json:"errors"`
}

func (e *ErrorResponse) message() string {
	if e == nil || len(e.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Errors[0].ErrorType, e.Errors[0].Message)
}

// Plugin Fitbit 插件
type Plugin struct {
	*base.Base

	mu       sync.RWMutex
	client   *resty.Client
	location *time.Location
	cursors  *base.Cursors
	now      func() time.Time
}

// New 创建 Fitbit 插件
func New(logger *zap.Logger) plugin.Plugin {
	meta := plugin.Metadata{
		ID:               ID,
		Name:             "Fitbit",
		Version:          "1.0.0",
		Description:      "Heart rate from Fitbit trackers via the Fitbit Web API",
		Vendor:           "Fitbit",
		SupportedDevices: []string{transformer.DeviceTypeHeartRateMonitor, transformer.DeviceTypeWearable},
		Regions:          []string{plugin.GlobalRegion},
	}
	return &Plugin{
		Base:     base.New(meta, transformer.DeviceTypeWearable, logger),
		location: time.UTC,
		cursors:  base.NewCursors(),
		now:      time.Now,
	}
}

// GetDefaultConfig 默认配置
func (p *Plugin) GetDefaultConfig() plugin.Config {
	return plugin.Config{
		"base_url":     DefaultBaseURL,
		"access_token": "",
		"timeout":      "15s",
		"retry_count":  3,
		"user_id":      "-",
		// Fitbit 按账号所在时区划分自然日
		"timezone": "UTC",
	}
}

// Initialize 创建 resty 客户端，access_token 必填
func (p *Plugin) Initialize(_ context.Context, cfg plugin.Config) error {
	token := cfg.String("access_token", "")
	if token == "" {
		return fmt.Errorf("fitbit access_token is required")
	}
	baseURL := cfg.String("base_url", DefaultBaseURL)
	tz := cfg.String("timezone", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("invalid fitbit timezone %q: %w", tz, err)
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Duration("timeout", 15*time.Second)).
		SetRetryCount(cfg.Int("retry_count", 3)).
		SetRetryWaitTime(1*time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetAuthToken(token).
		SetHeader("Accept", "application/json")

	p.mu.Lock()
	p.client = client
	p.location = loc
	p.mu.Unlock()
	p.SetConfig(cfg)

	p.Logger.Info("Fitbit plugin initialized", zap.String("base_url", baseURL), zap.String("timezone", tz))
	return nil
}

// Destroy 释放客户端
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

func (p *Plugin) userPath(suffix string) string {
	return fmt.Sprintf("/1/user/%s%s", p.Config().String("user_id", "-"), suffix)
}

// listDevices GET /1/user/{user}/devices.json
func (p *Plugin) listDevices(ctx context.Context) ([]Device, error) {
	client, err := p.httpClient()
	if err != nil {
		return nil, err
	}

	var devices []Device
	var apiErr ErrorResponse
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&devices).
		SetError(&apiErr).
		Get(p.userPath("/devices.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to call Fitbit API: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fitbit API error: %s (status: %d)", apiErr.message(), resp.StatusCode())
	}
	return devices, nil
}

// Connect 确认设备属于该账号，并带回电量
func (p *Plugin) Connect(ctx context.Context, deviceID string) (*models.DeviceConnection, error) {
	devices, err := p.listDevices(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.ID != deviceID {
			continue
		}
		battery := d.BatteryLevel
		p.TrackDevice(deviceID)
		p.Logger.Info("Fitbit device connected",
			zap.String("device_id", deviceID),
			zap.String("device_version", d.DeviceVersion),
		)
		return &models.DeviceConnection{
			DeviceID:     deviceID,
			Status:       models.ConnectionConnected,
			BatteryLevel: &battery,
		}, nil
	}
	return nil, fmt.Errorf("device %s not found in Fitbit account", deviceID)
}

// Disconnect Fitbit 无连接状态，只清簿记和同步游标
func (p *Plugin) Disconnect(_ context.Context, deviceID string) error {
	if !p.UntrackDevice(deviceID) {
		return fmt.Errorf("%w: %s", plugin.ErrDeviceNotConnected, deviceID)
	}
	p.cursors.Clear(deviceID)
	return nil
}

// ReadData 拉取账号时区下当天的心率
//
// 有分钟级数据时逐点返回，否则返回静息心率；不晚于已提交游标的数据点跳过。
func (p *Plugin) ReadData(ctx context.Context, deviceID string) ([]map[string]interface{}, error) {
	if !p.IsTracked(deviceID) {
		return nil, fmt.Errorf("%w: %s", plugin.ErrDeviceNotConnected, deviceID)
	}
	client, err := p.httpClient()
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	loc := p.location
	p.mu.RUnlock()
	date := p.now().In(loc).Format("2006-01-02")
	var hr HeartRateResponse
	var apiErr ErrorResponse
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&hr).
		SetError(&apiErr).
		Get(p.userPath(fmt.Sprintf("/activities/heart/date/%s/1d/1min.json", date)))
	if err != nil {
		return nil, fmt.Errorf("failed to call Fitbit API: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fitbit API error: %s (status: %d)", apiErr.message(), resp.StatusCode())
	}

	since, _ := p.cursors.Get(deviceID)
	out, latest := heartRatePayloads(hr, date, loc, since)
	if latest.After(since) {
		p.cursors.Stage(deviceID, latest)
	}
	return out, nil
}

// CommitSync 读数落库后推进游标
func (p *Plugin) CommitSync(deviceID string) {
	p.cursors.Commit(deviceID)
}

// heartRatePayloads 只返回晚于 since 的数据点，并带回其中最新的时间
func heartRatePayloads(hr HeartRateResponse, date string, loc *time.Location, since time.Time) ([]map[string]interface{}, time.Time) {
	latest := since
	out := make([]map[string]interface{}, 0, len(hr.Intraday.Dataset))
	for _, point := range hr.Intraday.Dataset {
		ts, err := time.ParseInLocation("2006-01-02 15:04:05", date+" "+point.Time, loc)
		if err != nil || !ts.After(since) {
			continue
		}
		out = append(out, map[string]interface{}{
			"heart_rate":  point.Value,
			"unit":        "bpm",
			"timestamp":   ts.Format(time.RFC3339),
			"device_type": transformer.DeviceTypeHeartRateMonitor,
		})
		if ts.After(latest) {
			latest = ts
		}
	}
	if len(hr.Intraday.Dataset) > 0 {
		return out, latest
	}
	for _, day := range hr.ActivitiesHeart {
		if day.Value.RestingHeartRate <= 0 {
			continue
		}
		ts, err := time.ParseInLocation("2006-01-02", day.DateTime, loc)
		if err != nil || !ts.After(since) {
			continue
		}
		out = append(out, map[string]interface{}{
			"heart_rate":  float64(day.Value.RestingHeartRate),
			"unit":        "bpm",
			"timestamp":   ts.Format(time.RFC3339),
			"notes":       "resting heart rate",
			"device_type": transformer.DeviceTypeHeartRateMonitor,
		})
		if ts.After(latest) {
			latest = ts
		}
	}
	return out, latest
}

// HealthCheck 通过设备列表接口确认令牌可用
func (p *Plugin) HealthCheck(ctx context.Context) error {
	_, err := p.listDevices(ctx)
	return err
}

// Routes GET /status、GET /devices
func (p *Plugin) Routes() []plugin.RouteDescriptor {
	return []plugin.RouteDescriptor{
		p.StatusRoute(),
		{
			Method:       http.MethodGet,
			Path:         "/devices",
			HandlerName:  "listDevices",
			RequiresAuth: true,
			Handler: func(w http.ResponseWriter, r *http.Request) {
				devices, err := p.listDevices(r.Context())
				if err != nil {
					base.WriteJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
					return
				}
				base.WriteJSON(w, http.StatusOK, devices)
			},
		},
	}
}
