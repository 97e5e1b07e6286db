package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
)

func setupMockReadingsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *VitalReadingsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewVitalReadingsRepository(db, zap.NewNop())
	return db, mock, repo
}

var readingColumns = []string{
	"id", "device_id", "plugin_id", "patient_id", "reading_type",
	"primary_value", "secondary_value", "unit", "measured_at", "quality_score",
	"is_valid", "errors", "warnings", "raw_original", "created_at",
}

func TestInsert_Success(t *testing.T) {
	db, mock, repo := setupMockReadingsDB(t)
	defer db.Close()

	diastolic := 95.0
	measuredAt := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	createdAt := time.Date(2024, 1, 1, 8, 0, 1, 0, time.UTC)
	reading := &models.StoredReading{
		ID:             uuid.New().String(),
		DeviceID:       "bp-1",
		PluginID:       "mock-bp",
		ReadingType:    models.ReadingTypeBloodPressure,
		PrimaryValue:   150,
		SecondaryValue: &diastolic,
		Unit:           "mmHg",
		MeasuredAt:     measuredAt,
		QualityScore:   0.9,
		IsValid:        true,
		Warnings:       []string{"High blood_pressure: 150 > 140 mmHg"},
		RawOriginal:    json.RawMessage(`{"systolic":150}`),
	}

	mock.ExpectQuery(`INSERT INTO vital_readings`).
		WithArgs(
			reading.ID, "bp-1", sqlmock.AnyArg(), sqlmock.AnyArg(),
			models.ReadingTypeBloodPressure, 150.0, sqlmock.AnyArg(), "mmHg",
			measuredAt, 0.9, true, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(createdAt))

	err := repo.Insert(context.Background(), reading)
	require.NoError(t, err)
	assert.Equal(t, createdAt, reading.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_Error(t *testing.T) {
	db, mock, repo := setupMockReadingsDB(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO vital_readings`).WillReturnError(sql.ErrConnDone)

	err := repo.Insert(context.Background(), &models.StoredReading{ID: uuid.New().String(), DeviceID: "bp-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert vital_readings")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByDevice(t *testing.T) {
	db, mock, repo := setupMockReadingsDB(t)
	defer db.Close()

	measuredAt := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(readingColumns).
		AddRow("r-1", "bp-1", "mock-bp", nil, "blood_pressure",
			150.0, 95.0, "mmHg", measuredAt, 0.9,
			true, "{}", `{"High blood_pressure: 150 > 140 mmHg"}`, `{"systolic":150}`, measuredAt).
		AddRow("r-2", "bp-1", nil, "p-9", "heart_rate",
			72.0, nil, "bpm", measuredAt.Add(-time.Hour), 1.0,
			false, `{"required field heart_rate is missing"}`, "{}", nil, measuredAt)

	mock.ExpectQuery(`SELECT(.|\n)+FROM vital_readings(.|\n)+WHERE device_id = \$1`).
		WithArgs("bp-1", 100).
		WillReturnRows(rows)

	readings, err := repo.ListByDevice(context.Background(), "bp-1", 0)
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Equal(t, "mock-bp", readings[0].PluginID)
	require.NotNil(t, readings[0].SecondaryValue)
	assert.Equal(t, 95.0, *readings[0].SecondaryValue)
	assert.Empty(t, readings[0].Errors)
	assert.Equal(t, []string{"High blood_pressure: 150 > 140 mmHg"}, readings[0].Warnings)
	assert.JSONEq(t, `{"systolic":150}`, string(readings[0].RawOriginal))

	assert.Equal(t, "", readings[1].PluginID)
	assert.Equal(t, "p-9", readings[1].PatientID)
	assert.Nil(t, readings[1].SecondaryValue)
	assert.False(t, readings[1].IsValid)
	assert.Equal(t, []string{"required field heart_rate is missing"}, readings[1].Errors)
	assert.Nil(t, readings[1].RawOriginal)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_NotFound(t *testing.T) {
	db, mock, repo := setupMockReadingsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	reading, err := repo.GetByID(context.Background(), "missing")
	assert.Nil(t, reading)
	assert.ErrorIs(t, err, ErrReadingNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock, repo := setupMockReadingsDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS vital_readings`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
