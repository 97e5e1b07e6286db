package models

import (
	"encoding/json"
	"time"
)

// RawDeviceData 原始设备数据（从 Redis Streams 解析）
type RawDeviceData struct {
	DeviceID   string                 `json:"device_id"`
	PluginID   string                 `json:"plugin_id,omitempty"`
	DeviceType string                 `json:"device_type"` // 如 "BLOOD_PRESSURE", "Radar"
	PatientID  string                 `json:"patient_id,omitempty"`
	AgeGroup   string                 `json:"age_group,omitempty"`
	Gender     string                 `json:"gender,omitempty"`
	RawData    map[string]interface{} `json:"raw_data"`
	Timestamp  int64                  `json:"timestamp,omitempty"`
}

// ReadingMeta 读数来源信息（写库/发布时使用）
type ReadingMeta struct {
	DeviceID   string
	PluginID   string
	DeviceType string
	PatientID  string
	AgeGroup   string
	Gender     string
}

// Meta 提取来源信息
func (r *RawDeviceData) Meta() ReadingMeta {
	return ReadingMeta{
		DeviceID:   r.DeviceID,
		PluginID:   r.PluginID,
		DeviceType: r.DeviceType,
		PatientID:  r.PatientID,
		AgeGroup:   r.AgeGroup,
		Gender:     r.Gender,
	}
}

// StoredReading 已校验并持久化的读数
type StoredReading struct {
	ID             string          `json:"id"`
	DeviceID       string          `json:"device_id"`
	PluginID       string          `json:"plugin_id,omitempty"`
	PatientID      string          `json:"patient_id,omitempty"`
	ReadingType    string          `json:"reading_type"`
	PrimaryValue   float64         `json:"primary_value"`
	SecondaryValue *float64        `json:"secondary_value,omitempty"`
	Unit           string          `json:"unit"`
	MeasuredAt     time.Time       `json:"measured_at"`
	QualityScore   float64         `json:"quality_score"`
	IsValid        bool            `json:"is_valid"`
	Errors         []string        `json:"errors"`
	Warnings       []string        `json:"warnings"`
	RawOriginal    json.RawMessage `json:"raw_original,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ParseRawDeviceData 从 Redis Streams 消息解析原始设备数据
func ParseRawDeviceData(values map[string]interface{}) (*RawDeviceData, error) {
	dataStr, ok := values["data"].(string)
	if !ok {
		return nil, ErrInvalidDataFormat
	}

	var rawData RawDeviceData
	if err := json.Unmarshal([]byte(dataStr), &rawData); err != nil {
		return nil, &DataFormatError{Message: "invalid data payload: " + err.Error()}
	}
	if rawData.DeviceID == "" || rawData.RawData == nil {
		return nil, &DataFormatError{Message: "device_id and raw_data are required"}
	}

	return &rawData, nil
}

// ErrInvalidDataFormat 数据格式错误
var ErrInvalidDataFormat = &DataFormatError{Message: "invalid data format"}

// DataFormatError 数据格式错误类型
type DataFormatError struct {
	Message string
}

func (e *DataFormatError) Error() string {
	return e.Message
}
