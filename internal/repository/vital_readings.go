package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
)

// ErrReadingNotFound 读数不存在
var ErrReadingNotFound = errors.New("vital reading not found")

// schemaVitalReadings vital_readings 表结构
const schemaVitalReadings = `
	CREATE TABLE IF NOT EXISTS vital_readings (
		id              UUID PRIMARY KEY,
		device_id       TEXT NOT NULL,
		plugin_id       TEXT,
		patient_id      TEXT,
		reading_type    TEXT NOT NULL,
		primary_value   DOUBLE PRECISION NOT NULL,
		secondary_value DOUBLE PRECISION,
		unit            TEXT NOT NULL DEFAULT '',
		measured_at     TIMESTAMPTZ NOT NULL,
		quality_score   DOUBLE PRECISION NOT NULL,
		is_valid        BOOLEAN NOT NULL,
		errors          TEXT[] NOT NULL DEFAULT '{}',
		warnings        TEXT[] NOT NULL DEFAULT '{}',
		raw_original    JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_vital_readings_device_time
		ON vital_readings (device_id, measured_at DESC);
`

// VitalReadingsRepository 读数仓库（PostgreSQL）
type VitalReadingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVitalReadingsRepository 创建读数仓库
func NewVitalReadingsRepository(db *sql.DB, logger *zap.Logger) *VitalReadingsRepository {
	return &VitalReadingsRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 建表（幂等）
func (r *VitalReadingsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaVitalReadings); err != nil {
		return fmt.Errorf("failed to create vital_readings schema: %w", err)
	}
	return nil
}

// Insert 插入读数，回填 created_at
func (r *VitalReadingsRepository) Insert(ctx context.Context, reading *models.StoredReading) error {
	query := `
		INSERT INTO vital_readings (
			id,
			device_id,
			plugin_id,
			patient_id,
			reading_type,
			primary_value,
			secondary_value,
			unit,
			measured_at,
			quality_score,
			is_valid,
			errors,
			warnings,
			raw_original
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		RETURNING created_at
	`

	var raw interface{}
	if len(reading.RawOriginal) > 0 {
		raw = []byte(reading.RawOriginal)
	}

	err := r.db.QueryRowContext(ctx, query,
		reading.ID,
		reading.DeviceID,
		nullString(reading.PluginID),
		nullString(reading.PatientID),
		reading.ReadingType,
		reading.PrimaryValue,
		reading.SecondaryValue,
		reading.Unit,
		reading.MeasuredAt,
		reading.QualityScore,
		reading.IsValid,
		pq.StringArray(nonNil(reading.Errors)),
		pq.StringArray(nonNil(reading.Warnings)),
		raw,
	).Scan(&reading.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert vital_readings: %w", err)
	}
	return nil
}

const selectReadingColumns = `
	SELECT
		id,
		device_id,
		plugin_id,
		patient_id,
		reading_type,
		primary_value,
		secondary_value,
		unit,
		measured_at,
		quality_score,
		is_valid,
		errors,
		warnings,
		raw_original,
		created_at
	FROM vital_readings
`

// GetByID 按 id 查询
func (r *VitalReadingsRepository) GetByID(ctx context.Context, id string) (*models.StoredReading, error) {
	row := r.db.QueryRowContext(ctx, selectReadingColumns+` WHERE id = $1`, id)
	reading, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrReadingNotFound, id)
		}
		return nil, fmt.Errorf("failed to get vital reading: %w", err)
	}
	return reading, nil
}

// ListByDevice 设备最近的读数（按测量时间倒序）
func (r *VitalReadingsRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]models.StoredReading, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		selectReadingColumns+` WHERE device_id = $1 ORDER BY measured_at DESC LIMIT $2`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list vital readings: %w", err)
	}
	defer rows.Close()

	var out []models.StoredReading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vital reading: %w", err)
		}
		out = append(out, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vital readings: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReading(row rowScanner) (*models.StoredReading, error) {
	var (
		reading   models.StoredReading
		pluginID  sql.NullString
		patientID sql.NullString
		secondary sql.NullFloat64
		errs      pq.StringArray
		warnings  pq.StringArray
		raw       []byte
	)
	if err := row.Scan(
		&reading.ID,
		&reading.DeviceID,
		&pluginID,
		&patientID,
		&reading.ReadingType,
		&reading.PrimaryValue,
		&secondary,
		&reading.Unit,
		&reading.MeasuredAt,
		&reading.QualityScore,
		&reading.IsValid,
		&errs,
		&warnings,
		&raw,
		&reading.CreatedAt,
	); err != nil {
		return nil, err
	}

	reading.PluginID = pluginID.String
	reading.PatientID = patientID.String
	if secondary.Valid {
		v := secondary.Float64
		reading.SecondaryValue = &v
	}
	reading.Errors = nonNil(errs)
	reading.Warnings = nonNil(warnings)
	if len(raw) > 0 {
		reading.RawOriginal = raw
	}
	return &reading, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
