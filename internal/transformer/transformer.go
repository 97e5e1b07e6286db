// Package transformer 将任意设备原始数据转换为规范化的 VitalData
//
// 转换内容：
// - 按声明式规则逐字段映射（单个字段失败不影响其它字段）
// - 时间戳解析（按候选字段优先级，缺失时使用当前时间）
// - 读数类型推断、默认单位
// - 质量评分（0~1）
package transformer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
)

// timestampFields 时间戳候选字段（按优先级）
var timestampFields = []string{"timestamp", "time", "date", "measured_at", "created_at"}

// Transformer 设备数据转换器
type Transformer struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewTransformer 创建数据转换器
func NewTransformer(logger *zap.Logger) *Transformer {
	return &Transformer{logger: logger, now: time.Now}
}

// NewTransformerWithClock 创建使用指定时钟的转换器（测试用）
func NewTransformerWithClock(logger *zap.Logger, now func() time.Time) *Transformer {
	return &Transformer{logger: logger, now: now}
}

// transformState 记录哪些字段由规则显式写入
type transformState struct {
	timestampSet   bool
	unitSet        bool
	readingTypeSet bool
}

// Transform 按规则将原始数据转换为 VitalData
//
// 返回的错误列表是字段级别的（如 "required field systolic is missing"），
// 不会因为某个字段失败而放弃整条读数。
func (t *Transformer) Transform(raw map[string]interface{}, deviceType string, rules []models.TransformationRule) (*models.VitalData, []string) {
	data := &models.VitalData{
		RawData:    raw,
		DeviceType: deviceType,
	}
	var errs []string
	var state transformState

	for _, rule := range rules {
		if err := t.applyRule(raw, rule, data, &state); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if !state.timestampSet {
		data.Timestamp = t.resolveTimestamp(raw)
	}

	if !state.readingTypeSet {
		data.ReadingType = inferReadingType(raw, deviceType)
	}

	unitMissing := false
	if !state.unitSet {
		data.Unit = defaultUnits[data.ReadingType]
		unitMissing = true
	}

	data.QualityScore = qualityScore(len(errs), data.Context, unitMissing)

	if len(errs) > 0 {
		t.logger.Debug("Transformation completed with field errors",
			zap.String("device_type", deviceType),
			zap.String("reading_type", data.ReadingType),
			zap.Strings("errors", errs),
		)
	}

	return data, errs
}

// applyRule 应用单条规则；Transform 函数 panic 时恢复并作为字段错误返回
func (t *Transformer) applyRule(raw map[string]interface{}, rule models.TransformationRule, data *models.VitalData, state *transformState) (err error) {
	value, ok := lookupPath(raw, rule.SourcePath)
	if !ok {
		if rule.Required {
			return fmt.Errorf("required field %s is missing", rule.SourcePath)
		}
		return nil
	}

	if rule.Transform != nil {
		value, err = safeTransform(rule.Transform, value)
		if err != nil {
			return fmt.Errorf("field %s: transform failed: %v", rule.SourcePath, err)
		}
	}

	if rule.Validate != nil && !rule.Validate(value) {
		return fmt.Errorf("field %s: validation failed", rule.SourcePath)
	}

	if err := assign(data, rule.TargetField, value, state); err != nil {
		return fmt.Errorf("field %s: %v", rule.SourcePath, err)
	}
	return nil
}

func safeTransform(fn func(interface{}) (interface{}, error), value interface{}) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(value)
}

// assign 将值写入目标字段
func assign(data *models.VitalData, target string, value interface{}, state *transformState) error {
	switch target {
	case models.FieldPrimaryValue:
		f, err := parseFloat(value)
		if err != nil {
			return err
		}
		data.PrimaryValue = f
	case models.FieldSecondaryValue:
		f, err := parseFloat(value)
		if err != nil {
			return err
		}
		data.SecondaryValue = &f
	case models.FieldUnit:
		s, ok := value.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return fmt.Errorf("unit must be a non-empty string")
		}
		data.Unit = strings.TrimSpace(s)
		state.unitSet = true
	case models.FieldReadingType:
		s, ok := value.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return fmt.Errorf("reading type must be a non-empty string")
		}
		data.ReadingType = strings.ToLower(strings.TrimSpace(s))
		state.readingTypeSet = true
	case models.FieldTimestamp:
		ts, err := parseTimestamp(value)
		if err != nil {
			return err
		}
		data.Timestamp = ts
		state.timestampSet = true
	case models.FieldSymptoms:
		symptoms, err := parseStringList(value)
		if err != nil {
			return err
		}
		ensureContext(data).Symptoms = symptoms
	case models.FieldMedicationTaken:
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		ensureContext(data).MedicationTaken = &b
	case models.FieldNotes:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("notes must be a string, got %T", value)
		}
		ensureContext(data).Notes = s
	default:
		return fmt.Errorf("unknown target field %q", target)
	}
	return nil
}

func ensureContext(data *models.VitalData) *models.ReadingContext {
	if data.Context == nil {
		data.Context = &models.ReadingContext{}
	}
	return data.Context
}

// resolveTimestamp 按候选字段顺序取第一个可解析的时间，否则使用当前时间
func (t *Transformer) resolveTimestamp(raw map[string]interface{}) time.Time {
	for _, field := range timestampFields {
		v, ok := raw[field]
		if !ok {
			continue
		}
		if ts, err := parseTimestamp(v); err == nil {
			return ts
		}
	}
	return t.now()
}

// qualityScore 质量评分
// 基础 1.0；每个转换错误 -0.1；无上下文 -0.05；设备未提供单位 -0.05；
// 每个可选上下文字段 +0.05，加分上限 0.1；结果限制在 [0,1]。
func qualityScore(errorCount int, ctx *models.ReadingContext, unitMissing bool) float64 {
	score := 1.0 - 0.1*float64(errorCount)
	if ctx == nil {
		score -= 0.05
	} else {
		bonus := 0.0
		if len(ctx.Symptoms) > 0 {
			bonus += 0.05
		}
		if ctx.MedicationTaken != nil {
			bonus += 0.05
		}
		if ctx.Notes != "" {
			bonus += 0.05
		}
		score += math.Min(bonus, 0.1)
	}
	if unitMissing {
		score -= 0.05
	}
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*100) / 100
}
