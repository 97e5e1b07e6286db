// Package mock 生成模拟读数的插件（mock-bp、mock-glucose），用于联调与演示
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/plugin"
	"wisefido-vitals/internal/plugins/base"
	"wisefido-vitals/internal/transformer"
)

const (
	IDBloodPressure = "mock-bp"
	IDGlucose       = "mock-glucose"
)

// generator 生成一条原始载荷
type generator func(rng *rand.Rand, now time.Time) map[string]interface{}

// Device 模拟设备插件
type Device struct {
	*base.Base
	generate generator

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewBloodPressure 创建模拟血压计插件
func NewBloodPressure(logger *zap.Logger) plugin.Plugin {
	meta := plugin.Metadata{
		ID:               IDBloodPressure,
		Name:             "Mock Blood Pressure Monitor",
		Version:          "1.0.0",
		Description:      "Synthetic blood pressure readings for development and demos",
		Vendor:           "wisefido",
		SupportedDevices: []string{transformer.DeviceTypeBloodPressure},
		Regions:          []string{plugin.GlobalRegion},
	}
	return newDevice(meta, transformer.DeviceTypeBloodPressure, generateBloodPressure, logger)
}

// NewGlucose 创建模拟血糖仪插件
func NewGlucose(logger *zap.Logger) plugin.Plugin {
	meta := plugin.Metadata{
		ID:               IDGlucose,
		Name:             "Mock Glucose Meter",
		Version:          "1.0.0",
		Description:      "Synthetic blood glucose readings for development and demos",
		Vendor:           "wisefido",
		SupportedDevices: []string{transformer.DeviceTypeGlucoseMeter},
		Regions:          []string{plugin.GlobalRegion},
	}
	return newDevice(meta, transformer.DeviceTypeGlucoseMeter, generateGlucose, logger)
}

func newDevice(meta plugin.Metadata, deviceType string, gen generator, logger *zap.Logger) *Device {
	return &Device{
		Base:     base.New(meta, deviceType, logger),
		generate: gen,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// GetDefaultConfig 默认配置
func (d *Device) GetDefaultConfig() plugin.Config {
	return plugin.Config{
		"samples_per_sync": 1,
		"seed":             0,
	}
}

// Initialize seed 非 0 时生成可复现的序列
func (d *Device) Initialize(_ context.Context, cfg plugin.Config) error {
	if n := cfg.Int("samples_per_sync", 1); n < 1 {
		return fmt.Errorf("samples_per_sync must be positive, got %d", n)
	}
	d.SetConfig(cfg)
	if seed := cfg.Int("seed", 0); seed != 0 {
		d.mu.Lock()
		d.rng = rand.New(rand.NewSource(int64(seed)))
		d.mu.Unlock()
	}
	d.Logger.Info("Mock plugin initialized",
		zap.String("environment", cfg.String("environment", "")),
		zap.Int("samples_per_sync", cfg.Int("samples_per_sync", 1)),
	)
	return nil
}

// Destroy 清空模拟设备
func (d *Device) Destroy(context.Context) error {
	d.Reset()
	return nil
}

// Connect 模拟连接（总是成功，电量和信号随机）
func (d *Device) Connect(_ context.Context, deviceID string) (*models.DeviceConnection, error) {
	d.mu.Lock()
	battery := 50 + d.rng.Intn(51)
	signal := -80 + d.rng.Intn(40)
	d.mu.Unlock()

	d.TrackDevice(deviceID)
	return &models.DeviceConnection{
		DeviceID:       deviceID,
		Status:         models.ConnectionConnected,
		BatteryLevel:   &battery,
		SignalStrength: &signal,
	}, nil
}

// Disconnect 模拟断开
func (d *Device) Disconnect(_ context.Context, deviceID string) error {
	if !d.UntrackDevice(deviceID) {
		return fmt.Errorf("%w: %s", plugin.ErrDeviceNotConnected, deviceID)
	}
	return nil
}

// ReadData 生成 samples_per_sync 条载荷，时间戳按分钟递减
func (d *Device) ReadData(_ context.Context, deviceID string) ([]map[string]interface{}, error) {
	if !d.IsTracked(deviceID) {
		return nil, fmt.Errorf("%w: %s", plugin.ErrDeviceNotConnected, deviceID)
	}
	n := d.Config().Int("samples_per_sync", 1)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		payload := d.generate(d.rng, now.Add(-time.Duration(n-1-i)*time.Minute))
		payload["measurement_id"] = uuid.NewString()
		payload["device_id"] = deviceID
		out = append(out, payload)
	}
	return out, nil
}

// Routes GET /status、GET /sample
func (d *Device) Routes() []plugin.RouteDescriptor {
	return []plugin.RouteDescriptor{
		d.StatusRoute(),
		{
			Method:      http.MethodGet,
			Path:        "/sample",
			HandlerName: "sample",
			Handler: func(w http.ResponseWriter, r *http.Request) {
				d.mu.Lock()
				payload := d.generate(d.rng, d.now())
				d.mu.Unlock()
				data, errs := d.TransformData(payload)
				base.WriteJSON(w, http.StatusOK, map[string]interface{}{
					"raw":    payload,
					"data":   data,
					"errors": errs,
				})
			},
		},
	}
}

func generateBloodPressure(rng *rand.Rand, ts time.Time) map[string]interface{} {
	systolic := 105 + rng.Intn(40)
	diastolic := 65 + rng.Intn(25)
	return map[string]interface{}{
		"systolic":    float64(systolic),
		"diastolic":   float64(diastolic),
		"pulse":       float64(60 + rng.Intn(30)),
		"unit":        "mmHg",
		"timestamp":   ts.UTC().Format(time.RFC3339),
		"device_type": transformer.DeviceTypeBloodPressure,
	}
}

var mealContexts = []string{"fasting", "before_meal", "after_meal", "bedtime"}

func generateGlucose(rng *rand.Rand, ts time.Time) map[string]interface{} {
	meal := mealContexts[rng.Intn(len(mealContexts))]
	value := 75 + rng.Intn(30)
	if meal == "after_meal" {
		value += 30
	}
	return map[string]interface{}{
		"glucose":      float64(value),
		"unit":         "mg/dL",
		"meal_context": meal,
		"timestamp":    ts.UTC().Format(time.RFC3339),
		"device_type":  transformer.DeviceTypeGlucoseMeter,
	}
}
