package transformer

import (
	"strings"

	"wisefido-vitals/internal/models"
)

// fieldHeuristics 字段存在性推断（按顺序匹配）
var fieldHeuristics = []struct {
	fields      []string
	readingType string
}{
	{[]string{"systolic", "diastolic"}, models.ReadingTypeBloodPressure},
	{[]string{"glucose", "blood_glucose"}, models.ReadingTypeBloodGlucose},
	{[]string{"temperature", "temp"}, models.ReadingTypeBodyTemperature},
	{[]string{"spo2", "oxygen_saturation"}, models.ReadingTypeOxygenSaturation},
	{[]string{"heart_rate", "pulse", "heart", "bpm"}, models.ReadingTypeHeartRate},
	{[]string{"respiratory_rate", "breath_rate", "breath"}, models.ReadingTypeRespiratoryRate},
	{[]string{"weight"}, models.ReadingTypeWeight},
}

// inferReadingType 推断读数类型：数据中的显式字段 > 设备类型映射 > 字段启发式 > unknown
func inferReadingType(raw map[string]interface{}, deviceType string) string {
	if rt := readingTypeFromPayload(raw); rt != "" {
		return rt
	}
	if rt, ok := ReadingTypeForDevice(deviceType); ok {
		return rt
	}
	return readingTypeFromFields(raw)
}

// readingTypeFromPayload 只接受已知的读数类型，避免把 "type":"measurement" 之类当作读数类型
func readingTypeFromPayload(raw map[string]interface{}) string {
	for _, key := range []string{"reading_type", "type"} {
		if s, ok := raw[key].(string); ok {
			rt := strings.ToLower(strings.TrimSpace(s))
			if _, known := defaultUnits[rt]; known {
				return rt
			}
		}
	}
	return ""
}

func readingTypeFromFields(raw map[string]interface{}) string {
	for _, h := range fieldHeuristics {
		for _, field := range h.fields {
			if _, ok := raw[field]; ok {
				return h.readingType
			}
		}
	}
	return models.ReadingTypeUnknown
}
