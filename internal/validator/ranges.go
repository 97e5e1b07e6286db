package validator

import "wisefido-vitals/internal/models"

// medicalRanges 医学参考范围表（静态，只读）
//
// 同一读数类型下，第一条为兜底范围（找不到匹配的年龄组/性别时使用）。
var medicalRanges = map[string][]models.MedicalRange{
	models.ReadingTypeBloodPressure: {
		{Min: 90, Max: 140, CriticalMin: 70, CriticalMax: 180, Unit: "mmHg", AgeGroup: models.AgeGroupAdult},
		{Min: 80, Max: 120, CriticalMin: 60, CriticalMax: 160, Unit: "mmHg", AgeGroup: models.AgeGroupChild},
		{Min: 90, Max: 150, CriticalMin: 70, CriticalMax: 190, Unit: "mmHg", AgeGroup: models.AgeGroupElderly},
	},
	models.ReadingTypeDiastolic: {
		{Min: 60, Max: 100, CriticalMin: 40, CriticalMax: 120, Unit: "mmHg", AgeGroup: models.AgeGroupAdult},
		{Min: 50, Max: 80, CriticalMin: 35, CriticalMax: 110, Unit: "mmHg", AgeGroup: models.AgeGroupChild},
		{Min: 60, Max: 100, CriticalMin: 40, CriticalMax: 120, Unit: "mmHg", AgeGroup: models.AgeGroupElderly},
	},
	models.ReadingTypeHeartRate: {
		{Min: 60, Max: 100, CriticalMin: 40, CriticalMax: 150, Unit: "bpm", AgeGroup: models.AgeGroupAdult},
		{Min: 60, Max: 105, CriticalMin: 40, CriticalMax: 150, Unit: "bpm", AgeGroup: models.AgeGroupAdult, Gender: "female"},
		{Min: 70, Max: 120, CriticalMin: 50, CriticalMax: 180, Unit: "bpm", AgeGroup: models.AgeGroupChild},
		{Min: 60, Max: 100, CriticalMin: 40, CriticalMax: 140, Unit: "bpm", AgeGroup: models.AgeGroupElderly},
	},
	models.ReadingTypeBloodGlucose: {
		{Min: 70, Max: 140, CriticalMin: 54, CriticalMax: 400, Unit: "mg/dL", AgeGroup: models.AgeGroupAdult},
		{Min: 70, Max: 150, CriticalMin: 54, CriticalMax: 400, Unit: "mg/dL", AgeGroup: models.AgeGroupChild},
		{Min: 70, Max: 160, CriticalMin: 54, CriticalMax: 400, Unit: "mg/dL", AgeGroup: models.AgeGroupElderly},
	},
	models.ReadingTypeBodyTemperature: {
		{Min: 36.1, Max: 37.2, CriticalMin: 35.0, CriticalMax: 40.0, Unit: "°C", AgeGroup: models.AgeGroupAdult},
		{Min: 36.5, Max: 37.5, CriticalMin: 35.0, CriticalMax: 40.0, Unit: "°C", AgeGroup: models.AgeGroupChild},
		{Min: 35.8, Max: 37.2, CriticalMin: 35.0, CriticalMax: 40.0, Unit: "°C", AgeGroup: models.AgeGroupElderly},
	},
	models.ReadingTypeOxygenSaturation: {
		{Min: 95, Max: 100, CriticalMin: 90, CriticalMax: 100, Unit: "%", AgeGroup: models.AgeGroupAdult},
		{Min: 95, Max: 100, CriticalMin: 90, CriticalMax: 100, Unit: "%", AgeGroup: models.AgeGroupChild},
		{Min: 93, Max: 100, CriticalMin: 88, CriticalMax: 100, Unit: "%", AgeGroup: models.AgeGroupElderly},
	},
	models.ReadingTypeRespiratoryRate: {
		{Min: 12, Max: 20, CriticalMin: 8, CriticalMax: 30, Unit: "breaths/min", AgeGroup: models.AgeGroupAdult},
		{Min: 20, Max: 30, CriticalMin: 12, CriticalMax: 40, Unit: "breaths/min", AgeGroup: models.AgeGroupChild},
		{Min: 12, Max: 22, CriticalMin: 8, CriticalMax: 30, Unit: "breaths/min", AgeGroup: models.AgeGroupElderly},
	},
	models.ReadingTypeWeight: {
		{Min: 30, Max: 200, CriticalMin: 20, CriticalMax: 300, Unit: "kg", AgeGroup: models.AgeGroupAdult},
		{Min: 2, Max: 80, CriticalMin: 1, CriticalMax: 150, Unit: "kg", AgeGroup: models.AgeGroupChild},
		{Min: 30, Max: 180, CriticalMin: 20, CriticalMax: 300, Unit: "kg", AgeGroup: models.AgeGroupElderly},
	},
}

// Ranges 返回读数类型的全部参考范围（副本）
func Ranges(readingType string) []models.MedicalRange {
	ranges := medicalRanges[readingType]
	if ranges == nil {
		return nil
	}
	return append([]models.MedicalRange(nil), ranges...)
}

// FindRange 查找最匹配的参考范围
// 优先级：年龄组+性别完全匹配 > 年龄组匹配且不区分性别 > 该类型的第一条范围。
func FindRange(readingType, ageGroup, gender string) (models.MedicalRange, bool) {
	ranges := medicalRanges[readingType]
	if len(ranges) == 0 {
		return models.MedicalRange{}, false
	}

	if gender != "" {
		for _, r := range ranges {
			if r.AgeGroup == ageGroup && r.Gender == gender {
				return r, true
			}
		}
	}
	for _, r := range ranges {
		if r.AgeGroup == ageGroup && r.Gender == "" {
			return r, true
		}
	}
	return ranges[0], true
}
