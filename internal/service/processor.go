package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/plugin"
	"wisefido-vitals/internal/transformer"
	"wisefido-vitals/internal/validator"
	rediscommon "wisefido-vitals/pkg/redis"
)

// ReadingStore 读数持久化
type ReadingStore interface {
	Insert(ctx context.Context, reading *models.StoredReading) error
}

// ReadingProcessor 读数处理流水线：转换 → 校验/规范化 → 写库 → 发布到输出 Stream
//
// store 和 redisClient 都可以为 nil（未启用数据库/输出流时跳过对应步骤）。
type ReadingProcessor struct {
	transformer     *transformer.Transformer
	validator       *validator.Validator
	store           ReadingStore
	redisClient     *redis.Client
	outputStream    string
	defaultAgeGroup string
	logger          *zap.Logger
}

// NewReadingProcessor 创建读数处理器
func NewReadingProcessor(
	tr *transformer.Transformer,
	v *validator.Validator,
	store ReadingStore,
	redisClient *redis.Client,
	outputStream string,
	defaultAgeGroup string,
	logger *zap.Logger,
) *ReadingProcessor {
	if defaultAgeGroup == "" {
		defaultAgeGroup = models.AgeGroupAdult
	}
	return &ReadingProcessor{
		transformer:     tr,
		validator:       v,
		store:           store,
		redisClient:     redisClient,
		outputStream:    outputStream,
		defaultAgeGroup: defaultAgeGroup,
		logger:          logger,
	}
}

// ProcessRaw 处理 Redis Streams 中的原始设备数据
func (p *ReadingProcessor) ProcessRaw(ctx context.Context, raw *models.RawDeviceData) error {
	payload := raw.RawData
	if raw.Timestamp > 0 && !hasTimestamp(payload) {
		payload = make(map[string]interface{}, len(raw.RawData)+1)
		for k, v := range raw.RawData {
			payload[k] = v
		}
		payload["timestamp"] = raw.Timestamp
	}

	rules := transformer.ResolveRules(raw.DeviceType, payload)
	data, fieldErrs := p.transformer.Transform(payload, raw.DeviceType, rules)
	data.DeviceID = raw.DeviceID
	data.PluginID = raw.PluginID

	_, err := p.Process(ctx, raw.Meta(), data, fieldErrs)
	return err
}

// ProcessSynced 处理一次设备同步得到的读数
func (p *ReadingProcessor) ProcessSynced(ctx context.Context, pluginID, deviceID string, readings []plugin.SyncedReading) ([]models.StoredReading, error) {
	out := make([]models.StoredReading, 0, len(readings))
	for _, r := range readings {
		meta := models.ReadingMeta{
			DeviceID:   deviceID,
			PluginID:   pluginID,
			DeviceType: r.Data.DeviceType,
		}
		stored, err := p.Process(ctx, meta, r.Data, r.Errors)
		if err != nil {
			return out, err
		}
		out = append(out, *stored)
	}
	return out, nil
}

// Process 校验并持久化一条已转换的读数
//
// 字段级转换错误并入 Errors，有转换错误的读数不视为有效。
// 写库失败返回错误；发布到输出流失败只记录警告。
func (p *ReadingProcessor) Process(ctx context.Context, meta models.ReadingMeta, data *models.VitalData, fieldErrs []string) (*models.StoredReading, error) {
	ageGroup := meta.AgeGroup
	if ageGroup == "" {
		ageGroup = p.defaultAgeGroup
	}
	result := p.validator.Validate(data, ageGroup, meta.Gender)
	normalized := result.Normalized

	errs := make([]string, 0, len(fieldErrs)+len(result.Errors))
	errs = append(errs, fieldErrs...)
	errs = append(errs, result.Errors...)

	var rawOriginal json.RawMessage
	if normalized.RawData != nil {
		b, err := json.Marshal(normalized.RawData)
		if err != nil {
			p.logger.Warn("Failed to marshal raw data", zap.String("device_id", meta.DeviceID), zap.Error(err))
		} else {
			rawOriginal = b
		}
	}

	reading := &models.StoredReading{
		ID:             uuid.New().String(),
		DeviceID:       meta.DeviceID,
		PluginID:       meta.PluginID,
		PatientID:      meta.PatientID,
		ReadingType:    normalized.ReadingType,
		PrimaryValue:   normalized.PrimaryValue,
		SecondaryValue: normalized.SecondaryValue,
		Unit:           normalized.Unit,
		MeasuredAt:     normalized.Timestamp,
		QualityScore:   normalized.QualityScore,
		IsValid:        result.IsValid && len(fieldErrs) == 0,
		Errors:         errs,
		Warnings:       append([]string{}, result.Warnings...),
		RawOriginal:    rawOriginal,
	}

	if p.store != nil {
		if err := p.store.Insert(ctx, reading); err != nil {
			return nil, fmt.Errorf("failed to store reading: %w", err)
		}
	}

	p.publish(ctx, reading)

	p.logger.Info("Processed vital reading",
		zap.String("reading_id", reading.ID),
		zap.String("device_id", reading.DeviceID),
		zap.String("plugin_id", reading.PluginID),
		zap.String("reading_type", reading.ReadingType),
		zap.Bool("is_valid", reading.IsValid),
		zap.Int("warnings", len(reading.Warnings)),
		zap.Int("errors", len(reading.Errors)),
	)
	return reading, nil
}

// publish 发布读数摘要到输出 Stream（触发下游告警等服务）
func (p *ReadingProcessor) publish(ctx context.Context, reading *models.StoredReading) {
	if p.redisClient == nil || p.outputStream == "" {
		return
	}
	outputData := map[string]interface{}{
		"reading_id":      reading.ID,
		"device_id":       reading.DeviceID,
		"plugin_id":       reading.PluginID,
		"patient_id":      reading.PatientID,
		"reading_type":    reading.ReadingType,
		"primary_value":   reading.PrimaryValue,
		"secondary_value": reading.SecondaryValue,
		"unit":            reading.Unit,
		"measured_at":     reading.MeasuredAt.Unix(),
		"quality_score":   reading.QualityScore,
		"is_valid":        reading.IsValid,
		"errors":          reading.Errors,
		"warnings":        reading.Warnings,
	}
	if _, err := rediscommon.PublishJSONToStream(ctx, p.redisClient, p.outputStream, outputData); err != nil {
		p.logger.Warn("Failed to publish to output stream", zap.String("reading_id", reading.ID), zap.Error(err))
	}
}

func hasTimestamp(raw map[string]interface{}) bool {
	for _, k := range []string{"timestamp", "time", "date", "measured_at", "created_at"} {
		if _, ok := raw[k]; ok {
			return true
		}
	}
	return false
}
