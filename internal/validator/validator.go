// Package validator 根据医学参考范围校验规范化读数
//
// 超出危急范围记为错误（IsValid=false），超出正常范围记为警告；
// 校验从不返回 error，由调用方决定如何处理无效读数（如交给医生复核）。
package validator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
)

const (
	// futureTolerance 允许的设备时钟偏差
	futureTolerance = time.Minute
	maxReadingAge   = 365 * 24 * time.Hour

	minPulsePressure = 20
	maxPulsePressure = 80

	minPlausibleCelsius = 30
	maxPlausibleCelsius = 50
)

// Validator 读数校验器
type Validator struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewValidator 创建读数校验器
func NewValidator(logger *zap.Logger) *Validator {
	return &Validator{logger: logger, now: time.Now}
}

// NewValidatorWithClock 创建使用指定时钟的校验器（测试用）
func NewValidatorWithClock(logger *zap.Logger, now func() time.Time) *Validator {
	return &Validator{logger: logger, now: now}
}

// Validate 校验读数
//
// ageGroup 为空时按 adult 处理；gender 可为空。
func (v *Validator) Validate(data *models.VitalData, ageGroup string, gender string) *models.ValidationResult {
	result := &models.ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
	}
	if data == nil {
		result.Errors = append(result.Errors, "reading is empty")
		return result
	}
	if ageGroup == "" {
		ageGroup = models.AgeGroupAdult
	}

	// 在规范化副本上检查，保证规范化前后结论一致
	data = v.NormalizeData(data)

	v.checkRange(result, data.ReadingType, data.PrimaryValue, data.Unit, ageGroup, gender)

	if data.ReadingType == models.ReadingTypeBloodPressure {
		v.checkBloodPressure(result, data, ageGroup, gender)
	}

	v.checkTimestamp(result, data.Timestamp)

	if data.ReadingType == models.ReadingTypeBodyTemperature {
		checkTemperatureUnit(result, data.PrimaryValue, data.Unit)
	}

	result.IsValid = len(result.Errors) == 0
	result.Normalized = data

	if !result.IsValid {
		v.logger.Debug("Reading failed validation",
			zap.String("reading_type", data.ReadingType),
			zap.String("device_id", data.DeviceID),
			zap.Strings("errors", result.Errors),
		)
	}
	return result
}

// checkRange 按参考范围检查单个数值
func (v *Validator) checkRange(result *models.ValidationResult, readingType string, value float64, unit, ageGroup, gender string) {
	r, ok := FindRange(readingType, ageGroup, gender)
	if !ok {
		result.Warnings = append(result.Warnings, fmt.Sprintf("No medical range defined for %s", readingType))
		return
	}
	if unit == "" {
		unit = r.Unit
	}

	switch {
	case value < r.CriticalMin:
		result.Errors = append(result.Errors, fmt.Sprintf("Critical low %s: %s < %s %s", readingType, formatValue(value), formatValue(r.CriticalMin), unit))
	case value > r.CriticalMax:
		result.Errors = append(result.Errors, fmt.Sprintf("Critical high %s: %s > %s %s", readingType, formatValue(value), formatValue(r.CriticalMax), unit))
	case value < r.Min:
		result.Warnings = append(result.Warnings, fmt.Sprintf("Low %s: %s < %s %s", readingType, formatValue(value), formatValue(r.Min), unit))
	case value > r.Max:
		result.Warnings = append(result.Warnings, fmt.Sprintf("High %s: %s > %s %s", readingType, formatValue(value), formatValue(r.Max), unit))
	}
}

// checkBloodPressure 血压特殊检查：收缩压必须大于舒张压，舒张压单独查表，脉压差异常给警告
//
// 收缩压 <= 舒张压时只报一条错误，不再检查舒张压范围和脉压差。
func (v *Validator) checkBloodPressure(result *models.ValidationResult, data *models.VitalData, ageGroup, gender string) {
	if data.SecondaryValue == nil {
		result.Warnings = append(result.Warnings, "Blood pressure reading has no diastolic value")
		return
	}
	systolic := data.PrimaryValue
	diastolic := *data.SecondaryValue

	if diastolic >= systolic {
		result.Errors = append(result.Errors, fmt.Sprintf("Systolic pressure (%s) must be greater than diastolic pressure (%s)", formatValue(systolic), formatValue(diastolic)))
		return
	}

	v.checkRange(result, models.ReadingTypeDiastolic, diastolic, data.Unit, ageGroup, gender)

	pulsePressure := systolic - diastolic
	if pulsePressure < minPulsePressure {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Low pulse pressure: %s mmHg", formatValue(pulsePressure)))
	} else if pulsePressure > maxPulsePressure {
		result.Warnings = append(result.Warnings, fmt.Sprintf("High pulse pressure: %s mmHg", formatValue(pulsePressure)))
	}
}

// checkTimestamp 时间合理性检查（只给警告）
func (v *Validator) checkTimestamp(result *models.ValidationResult, ts time.Time) {
	if ts.IsZero() {
		return
	}
	now := v.now()
	if ts.After(now.Add(futureTolerance)) {
		result.Warnings = append(result.Warnings, "Reading timestamp is in the future")
	} else if now.Sub(ts) > maxReadingAge {
		result.Warnings = append(result.Warnings, "Reading timestamp is more than one year old")
	}
}

// checkTemperatureUnit 摄氏度数值明显不合理时提示单位可能错误（不做单位换算）
func checkTemperatureUnit(result *models.ValidationResult, value float64, unit string) {
	if !isCelsius(unit) {
		return
	}
	if value > maxPlausibleCelsius || value < minPlausibleCelsius {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Temperature %s looks inconsistent with unit %s, check device unit setting", formatValue(value), unit))
	}
}

func isCelsius(unit string) bool {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "°c", "c", "celsius", "degc":
		return true
	}
	return false
}

func formatValue(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
