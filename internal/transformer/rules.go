package transformer

import (
	"fmt"
	"strings"

	"wisefido-vitals/internal/models"
)

// 设备类型
const (
	DeviceTypeBloodPressure      = "BLOOD_PRESSURE"
	DeviceTypeGlucoseMeter       = "GLUCOSE_METER"
	DeviceTypeThermometer        = "THERMOMETER"
	DeviceTypePulseOximeter      = "PULSE_OXIMETER"
	DeviceTypeHeartRateMonitor   = "HEART_RATE_MONITOR"
	DeviceTypeWearable           = "WEARABLE"
	DeviceTypeScale              = "SCALE"
	DeviceTypeRespiratoryMonitor = "RESPIRATORY_MONITOR"
	DeviceTypeRadar              = "RADAR"
	DeviceTypeSleepPad           = "SLEEPPAD"
)

// deviceReadingTypes 设备类型 → 读数类型
var deviceReadingTypes = map[string]string{
	DeviceTypeBloodPressure:      models.ReadingTypeBloodPressure,
	DeviceTypeGlucoseMeter:       models.ReadingTypeBloodGlucose,
	DeviceTypeThermometer:        models.ReadingTypeBodyTemperature,
	DeviceTypePulseOximeter:      models.ReadingTypeOxygenSaturation,
	DeviceTypeHeartRateMonitor:   models.ReadingTypeHeartRate,
	DeviceTypeWearable:           models.ReadingTypeHeartRate,
	DeviceTypeScale:              models.ReadingTypeWeight,
	DeviceTypeRespiratoryMonitor: models.ReadingTypeRespiratoryRate,
	DeviceTypeRadar:              models.ReadingTypeHeartRate,
	DeviceTypeSleepPad:           models.ReadingTypeHeartRate,
	"SLEEPACE":                   models.ReadingTypeHeartRate,
}

// defaultUnits 读数类型 → 默认单位
var defaultUnits = map[string]string{
	models.ReadingTypeBloodPressure:    "mmHg",
	models.ReadingTypeDiastolic:        "mmHg",
	models.ReadingTypeHeartRate:        "bpm",
	models.ReadingTypeBloodGlucose:     "mg/dL",
	models.ReadingTypeBodyTemperature:  "°C",
	models.ReadingTypeOxygenSaturation: "%",
	models.ReadingTypeRespiratoryRate:  "breaths/min",
	models.ReadingTypeWeight:           "kg",
}

// ReadingTypeForDevice 返回设备类型对应的读数类型
func ReadingTypeForDevice(deviceType string) (string, bool) {
	rt, ok := deviceReadingTypes[normalizeDeviceType(deviceType)]
	return rt, ok
}

func normalizeDeviceType(deviceType string) string {
	return strings.ToUpper(strings.TrimSpace(deviceType))
}

// positive 数值必须大于 0
func positive(v interface{}) bool {
	f, err := parseFloat(v)
	return err == nil && f > 0
}

// sleepaceValid Sleepace 心率/呼吸：0 和 255 表示无效值
func sleepaceValid(v interface{}) bool {
	f, err := parseFloat(v)
	return err == nil && f > 0 && f < 255
}

// optionalContextRules 所有规则集共用的可选字段
func optionalContextRules() []models.TransformationRule {
	return []models.TransformationRule{
		{SourcePath: "unit", TargetField: models.FieldUnit},
		{SourcePath: "symptoms", TargetField: models.FieldSymptoms},
		{SourcePath: "medication_taken", TargetField: models.FieldMedicationTaken},
		{SourcePath: "notes", TargetField: models.FieldNotes},
	}
}

func singleValueRules(sourcePath string) []models.TransformationRule {
	return append([]models.TransformationRule{
		{SourcePath: sourcePath, TargetField: models.FieldPrimaryValue, Validate: positive, Required: true},
	}, optionalContextRules()...)
}

// readingTypeRules 读数类型 → 规则集
var readingTypeRules = map[string]func() []models.TransformationRule{
	models.ReadingTypeBloodPressure: func() []models.TransformationRule {
		return append([]models.TransformationRule{
			{SourcePath: "systolic", TargetField: models.FieldPrimaryValue, Validate: positive, Required: true},
			{SourcePath: "diastolic", TargetField: models.FieldSecondaryValue, Validate: positive, Required: true},
		}, optionalContextRules()...)
	},
	models.ReadingTypeBloodGlucose: func() []models.TransformationRule {
		rules := singleValueRules("glucose")
		return append(rules, models.TransformationRule{SourcePath: "meal_context", TargetField: models.FieldNotes, Transform: mealContextNote})
	},
	models.ReadingTypeBodyTemperature:  func() []models.TransformationRule { return singleValueRules("temperature") },
	models.ReadingTypeOxygenSaturation: func() []models.TransformationRule { return singleValueRules("spo2") },
	models.ReadingTypeHeartRate:        func() []models.TransformationRule { return singleValueRules("heart_rate") },
	models.ReadingTypeRespiratoryRate:  func() []models.TransformationRule { return singleValueRules("respiratory_rate") },
	models.ReadingTypeWeight:           func() []models.TransformationRule { return singleValueRules("weight") },
}

// deviceRules 设备特有的规则集（字段命名与通用规则不同）
var deviceRules = map[string]func() []models.TransformationRule{
	// 雷达：heart_rate / breath_rate
	DeviceTypeRadar: func() []models.TransformationRule {
		return []models.TransformationRule{
			{SourcePath: "heart_rate", TargetField: models.FieldPrimaryValue, Validate: positive, Required: true},
		}
	},
	// Sleepace 睡眠垫：heart / breath，0 和 255 为无效值
	DeviceTypeSleepPad: func() []models.TransformationRule {
		return []models.TransformationRule{
			{SourcePath: "heart", TargetField: models.FieldPrimaryValue, Validate: sleepaceValid, Required: true},
		}
	},
	"SLEEPACE": func() []models.TransformationRule {
		return []models.TransformationRule{
			{SourcePath: "heart", TargetField: models.FieldPrimaryValue, Validate: sleepaceValid, Required: true},
		}
	},
}

// GenericRules 未知设备的兜底规则集：value + unit
func GenericRules() []models.TransformationRule {
	return singleValueRules("value")
}

// RulesFor 返回设备类型的规则集，未知设备类型返回 GenericRules
func RulesFor(deviceType string) []models.TransformationRule {
	key := normalizeDeviceType(deviceType)
	if build, ok := deviceRules[key]; ok {
		return build()
	}
	if rt, ok := deviceReadingTypes[key]; ok {
		if build, ok := readingTypeRules[rt]; ok {
			return build()
		}
	}
	return GenericRules()
}

// ResolveRules 与 RulesFor 相同，但未知设备类型时先根据数据字段推断读数类型再选规则集
func ResolveRules(deviceType string, raw map[string]interface{}) []models.TransformationRule {
	key := normalizeDeviceType(deviceType)
	if _, ok := deviceRules[key]; ok {
		return RulesFor(deviceType)
	}
	if _, ok := deviceReadingTypes[key]; ok {
		return RulesFor(deviceType)
	}
	if rt := readingTypeFromPayload(raw); rt != "" {
		if build, ok := readingTypeRules[rt]; ok {
			return build()
		}
	}
	if rt := readingTypeFromFields(raw); rt != models.ReadingTypeUnknown {
		if build, ok := readingTypeRules[rt]; ok {
			return build()
		}
	}
	return GenericRules()
}

func mealContextNote(v interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("meal_context must be a string, got %T", v)
	}
	return "meal: " + s, nil
}
