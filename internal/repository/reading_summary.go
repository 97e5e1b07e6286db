package repository

import (
	"context"
	"fmt"
	"time"
)

// DeviceReadingSummary 设备某类读数的汇总
type DeviceReadingSummary struct {
	DeviceID       string
	ReadingType    string
	Total          int
	Invalid        int
	WithWarnings   int
	AvgQuality     float64
	LastMeasuredAt time.Time
}

// SummarizeSince 按设备、读数类型汇总 since 之后的读数
func (r *VitalReadingsRepository) SummarizeSince(ctx context.Context, since time.Time) ([]DeviceReadingSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			device_id,
			reading_type,
			COUNT(*)                                          AS total,
			COUNT(*) FILTER (WHERE NOT is_valid)              AS invalid,
			COUNT(*) FILTER (WHERE cardinality(warnings) > 0) AS with_warnings,
			AVG(quality_score)                                AS avg_quality,
			MAX(measured_at)                                  AS last_measured_at
		FROM vital_readings
		WHERE measured_at >= $1
		GROUP BY device_id, reading_type
		ORDER BY device_id, reading_type
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize vital readings: %w", err)
	}
	defer rows.Close()

	var out []DeviceReadingSummary
	for rows.Next() {
		var s DeviceReadingSummary
		if err := rows.Scan(&s.DeviceID, &s.ReadingType, &s.Total, &s.Invalid, &s.WithWarnings, &s.AvgQuality, &s.LastMeasuredAt); err != nil {
			return nil, fmt.Errorf("failed to scan reading summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reading summary: %w", err)
	}
	return out, nil
}
