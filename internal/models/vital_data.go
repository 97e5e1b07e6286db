package models

import "time"

// 读数类型（与设备类型无关的规范化名称）
const (
	ReadingTypeBloodPressure    = "blood_pressure"
	ReadingTypeDiastolic        = "diastolic_pressure"
	ReadingTypeHeartRate        = "heart_rate"
	ReadingTypeBloodGlucose     = "blood_glucose"
	ReadingTypeBodyTemperature  = "body_temperature"
	ReadingTypeOxygenSaturation = "oxygen_saturation"
	ReadingTypeRespiratoryRate  = "respiratory_rate"
	ReadingTypeWeight           = "weight"
	ReadingTypeUnknown          = "unknown"
)

// 年龄组
const (
	AgeGroupChild   = "child"
	AgeGroupAdult   = "adult"
	AgeGroupElderly = "elderly"
)

// ReadingContext 读数上下文（可选）
type ReadingContext struct {
	Symptoms        []string `json:"symptoms,omitempty"`
	MedicationTaken *bool    `json:"medication_taken,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

// VitalData 规范化后的生命体征读数
//
// 由 transformer 从设备原始数据生成，交给 validator 校验后写入存储。
// 血压读数：PrimaryValue=收缩压，SecondaryValue=舒张压。
type VitalData struct {
	ReadingType    string                 `json:"reading_type"`
	PrimaryValue   float64                `json:"primary_value"`
	SecondaryValue *float64               `json:"secondary_value,omitempty"`
	Unit           string                 `json:"unit"`
	Timestamp      time.Time              `json:"timestamp"`
	Context        *ReadingContext        `json:"context,omitempty"`
	QualityScore   float64                `json:"quality_score"`
	RawData        map[string]interface{} `json:"raw_data,omitempty"`

	DeviceID   string `json:"device_id,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	PluginID   string `json:"plugin_id,omitempty"`
}

// Clone 深拷贝（RawData 只做浅拷贝，原始数据视为只读）
func (v *VitalData) Clone() *VitalData {
	if v == nil {
		return nil
	}
	c := *v
	if v.SecondaryValue != nil {
		s := *v.SecondaryValue
		c.SecondaryValue = &s
	}
	if v.Context != nil {
		ctx := *v.Context
		if v.Context.Symptoms != nil {
			ctx.Symptoms = append([]string(nil), v.Context.Symptoms...)
		}
		if v.Context.MedicationTaken != nil {
			m := *v.Context.MedicationTaken
			ctx.MedicationTaken = &m
		}
		c.Context = &ctx
	}
	if v.RawData != nil {
		c.RawData = make(map[string]interface{}, len(v.RawData))
		for k, val := range v.RawData {
			c.RawData[k] = val
		}
	}
	return &c
}

// ValidationResult 校验结果
type ValidationResult struct {
	IsValid    bool       `json:"is_valid"`
	Errors     []string   `json:"errors"`
	Warnings   []string   `json:"warnings"`
	Normalized *VitalData `json:"normalized"`
}

// MedicalRange 医学参考范围（按年龄组/性别区分，Gender 为空表示不区分）
type MedicalRange struct {
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	CriticalMin float64 `json:"critical_min"`
	CriticalMax float64 `json:"critical_max"`
	Unit        string  `json:"unit"`
	AgeGroup    string  `json:"age_group"`
	Gender      string  `json:"gender,omitempty"`
}

// 转换规则目标字段
const (
	FieldPrimaryValue    = "primaryValue"
	FieldSecondaryValue  = "secondaryValue"
	FieldUnit            = "unit"
	FieldReadingType     = "readingType"
	FieldTimestamp       = "timestamp"
	FieldSymptoms        = "context.symptoms"
	FieldMedicationTaken = "context.medicationTaken"
	FieldNotes           = "context.notes"
)

// TransformationRule 单个字段的转换规则
//
// SourcePath 为点分路径（如 "measurement.systolic"），TargetField 为 VitalData 字段名。
type TransformationRule struct {
	SourcePath  string
	TargetField string
	Transform   func(value interface{}) (interface{}, error)
	Validate    func(value interface{}) bool
	Required    bool
}
