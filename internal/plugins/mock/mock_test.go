package mock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/plugin"
)

func TestBloodPressure_SyncCycle(t *testing.T) {
	ctx := context.Background()
	p := NewBloodPressure(zap.NewNop()).(*Device)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	cfg := p.GetDefaultConfig().Merge(plugin.Config{"samples_per_sync": 3, "seed": 42})
	require.NoError(t, p.Initialize(ctx, cfg))

	_, err := p.ReadData(ctx, "bp-1")
	assert.ErrorIs(t, err, plugin.ErrDeviceNotConnected)

	conn, err := p.Connect(ctx, "bp-1")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionConnected, conn.Status)
	require.NotNil(t, conn.BatteryLevel)
	assert.GreaterOrEqual(t, *conn.BatteryLevel, 50)

	payloads, err := p.ReadData(ctx, "bp-1")
	require.NoError(t, err)
	require.Len(t, payloads, 3)
	assert.Equal(t, now.Format(time.RFC3339), payloads[2]["timestamp"])
	assert.NotEmpty(t, payloads[0]["measurement_id"])

	for _, raw := range payloads {
		data, errs := p.TransformData(raw)
		assert.Empty(t, errs)
		assert.Equal(t, models.ReadingTypeBloodPressure, data.ReadingType)
		require.NotNil(t, data.SecondaryValue)
		assert.Greater(t, data.PrimaryValue, *data.SecondaryValue)
		assert.Equal(t, "mmHg", data.Unit)
	}

	require.NoError(t, p.Disconnect(ctx, "bp-1"))
	assert.ErrorIs(t, p.Disconnect(ctx, "bp-1"), plugin.ErrDeviceNotConnected)
}

func TestGlucose_Transform(t *testing.T) {
	ctx := context.Background()
	p := NewGlucose(zap.NewNop()).(*Device)
	require.NoError(t, p.Initialize(ctx, plugin.Config{"seed": 7}))
	_, err := p.Connect(ctx, "gl-1")
	require.NoError(t, err)

	payloads, err := p.ReadData(ctx, "gl-1")
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	data, errs := p.TransformData(payloads[0])
	assert.Empty(t, errs)
	assert.Equal(t, models.ReadingTypeBloodGlucose, data.ReadingType)
	assert.Equal(t, "mg/dL", data.Unit)
	require.NotNil(t, data.Context)
	assert.Contains(t, data.Context.Notes, "meal: ")
}

func TestInitialize_RejectsBadSampleCount(t *testing.T) {
	p := NewBloodPressure(zap.NewNop())
	err := p.Initialize(context.Background(), plugin.Config{"samples_per_sync": 0})
	assert.Error(t, err)
}

func TestRoutes(t *testing.T) {
	ctx := context.Background()
	p := NewBloodPressure(zap.NewNop()).(*Device)
	require.NoError(t, p.Initialize(ctx, p.GetDefaultConfig()))
	_, err := p.Connect(ctx, "bp-1")
	require.NoError(t, err)

	routes := p.Routes()
	require.Len(t, routes, 2)

	rec := httptest.NewRecorder()
	routes[0].Handler(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		PluginID         string   `json:"plugin_id"`
		ConnectedDevices []string `json:"connected_devices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, IDBloodPressure, status.PluginID)
	assert.Equal(t, []string{"bp-1"}, status.ConnectedDevices)

	rec = httptest.NewRecorder()
	routes[1].Handler(rec, httptest.NewRequest(http.MethodGet, "/sample", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reading_type":"blood_pressure"`)
}
