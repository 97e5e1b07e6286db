package validator

import (
	"math"
	"strings"

	"wisefido-vitals/internal/models"
)

// NormalizeData 返回规范化副本：数值保留两位小数、时间戳缺失时取当前时间、去掉空症状
//
// 对已规范化的数据再次调用结果不变。
func (v *Validator) NormalizeData(data *models.VitalData) *models.VitalData {
	if data == nil {
		return nil
	}
	out := data.Clone()

	out.PrimaryValue = round2(out.PrimaryValue)
	if out.SecondaryValue != nil {
		s := round2(*out.SecondaryValue)
		out.SecondaryValue = &s
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = v.now()
	}
	if out.Context != nil && out.Context.Symptoms != nil {
		symptoms := make([]string, 0, len(out.Context.Symptoms))
		for _, s := range out.Context.Symptoms {
			if strings.TrimSpace(s) != "" {
				symptoms = append(symptoms, s)
			}
		}
		out.Context.Symptoms = symptoms
	}
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
