package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/plugin"
	"wisefido-vitals/internal/plugins/mock"
	"wisefido-vitals/internal/repository"
	"wisefido-vitals/internal/transformer"
	"wisefido-vitals/internal/validator"
)

const testToken = "secret-token"

type fakeSyncProcessor struct {
	calls int
	err   error
}

func (f *fakeSyncProcessor) ProcessSynced(ctx context.Context, pluginID, deviceID string, readings []plugin.SyncedReading) ([]models.StoredReading, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.StoredReading, 0, len(readings))
	for i, r := range readings {
		out = append(out, models.StoredReading{
			ID:           string(rune('a' + i)),
			DeviceID:     deviceID,
			PluginID:     pluginID,
			ReadingType:  r.Data.ReadingType,
			PrimaryValue: r.Data.PrimaryValue,
			IsValid:      len(r.Errors) == 0,
		})
	}
	return out, nil
}

type fakeLister struct {
	readings []models.StoredReading
	err      error
	gotLimit int
}

func (f *fakeLister) GetByID(ctx context.Context, id string) (*models.StoredReading, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.readings {
		if f.readings[i].ID == id {
			return &f.readings[i], nil
		}
	}
	return nil, fmt.Errorf("vital reading not found: %s", id)
}

func (f *fakeLister) ListByDevice(ctx context.Context, deviceID string, limit int) ([]models.StoredReading, error) {
	f.gotLimit = limit
	return f.readings, f.err
}

type testEnv struct {
	router    *Router
	registry  *plugin.Registry
	processor *fakeSyncProcessor
	lister    *fakeLister
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	factories := map[string]plugin.Factory{
		mock.IDBloodPressure: mock.NewBloodPressure,
		mock.IDGlucose:       mock.NewGlucose,
	}
	registry := plugin.NewRegistry(factories, plugin.Options{
		Environment: "test",
		PluginConfigs: map[string]plugin.Config{
			mock.IDBloodPressure: {"samples_per_sync": 2, "seed": 1},
		},
	}, logger)
	require.NoError(t, registry.LoadPlugin(context.Background(), mock.IDBloodPressure))
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })

	env := &testEnv{
		router:    NewRouter(logger),
		registry:  registry,
		processor: &fakeSyncProcessor{},
		lister:    &fakeLister{},
	}
	env.router.RegisterPluginRoutes(NewPluginHandler(registry, env.processor, nil, logger))
	env.router.RegisterReadingRoutes(NewReadingHandler(transformer.NewTransformer(logger), validator.NewValidator(logger), env.lister, logger))
	env.router.RegisterPluginMount(NewPluginMount(registry, testToken, logger))
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Code    int             `json:"code"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestListPlugins(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/vitals/api/v1/plugins", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode(t, rec)
	assert.Equal(t, ResultSuccess, res.Code)

	var body struct {
		Items     []PluginInfo `json:"items"`
		Available []string     `json:"available"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, mock.IDBloodPressure, body.Items[0].ID)
	require.NotNil(t, body.Items[0].Health)
	assert.Equal(t, models.HealthHealthy, body.Items[0].Health.Status)
	assert.ElementsMatch(t, []string{mock.IDBloodPressure, mock.IDGlucose}, body.Available)

	rec = env.do(t, http.MethodGet, "/vitals/api/v1/plugins?device_type=GLUCOSE_METER", nil)
	require.NoError(t, json.Unmarshal(decode(t, rec).Result, &body))
	assert.Empty(t, body.Items)

	rec = env.do(t, http.MethodGet, "/vitals/api/v1/plugins?device_type=BLOOD_PRESSURE&region=eu", nil)
	require.NoError(t, json.Unmarshal(decode(t, rec).Result, &body))
	assert.Len(t, body.Items, 1)

	rec = env.do(t, http.MethodPost, "/vitals/api/v1/plugins", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPluginActions(t *testing.T) {
	env := newTestEnv(t)

	res := decode(t, env.do(t, http.MethodPost, "/vitals/api/v1/plugins/mock-glucose/load", nil))
	assert.Equal(t, ResultSuccess, res.Code)
	assert.True(t, env.registry.IsLoaded(mock.IDGlucose))

	res = decode(t, env.do(t, http.MethodPost, "/vitals/api/v1/plugins/nope/load", nil))
	assert.Equal(t, ResultError, res.Code)
	assert.Contains(t, res.Message, "plugin not found")

	res = decode(t, env.do(t, http.MethodPost, "/vitals/api/v1/plugins/mock-glucose/unload", nil))
	assert.Equal(t, ResultSuccess, res.Code)
	assert.False(t, env.registry.IsLoaded(mock.IDGlucose))

	res = decode(t, env.do(t, http.MethodPost, "/vitals/api/v1/plugins/mock-glucose/unload", nil))
	assert.Equal(t, ResultError, res.Code)

	res = decode(t, env.do(t, http.MethodPost, "/vitals/api/v1/plugins/mock-bp/reset-health", nil))
	assert.Equal(t, ResultSuccess, res.Code)
	var health models.PluginHealth
	require.NoError(t, json.Unmarshal(res.Result, &health))
	assert.Equal(t, models.HealthHealthy, health.Status)

	res = decode(t, env.do(t, http.MethodGet, "/vitals/api/v1/plugins/health", nil))
	var all []models.PluginHealth
	require.NoError(t, json.Unmarshal(res.Result, &all))
	assert.NotEmpty(t, all)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodGet, "/vitals/api/v1/plugins/mock-bp/load", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/vitals/api/v1/plugins/mock-bp/explode", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/vitals/api/v1/plugins/mock-bp", nil).Code)
}

func TestPluginConfigAndHealth(t *testing.T) {
	env := newTestEnv(t)

	res := decode(t, env.do(t, http.MethodGet, "/vitals/api/v1/plugins/mock-bp/config", nil))
	require.Equal(t, ResultSuccess, res.Code, res.Message)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal(res.Result, &cfg))
	assert.Equal(t, 2.0, cfg["samples_per_sync"])
	assert.Equal(t, "test", cfg["environment"])

	res = decode(t, env.do(t, http.MethodGet, "/vitals/api/v1/plugins/mock-glucose/config", nil))
	assert.Equal(t, ResultError, res.Code)
	assert.Contains(t, res.Message, "plugin not loaded")

	res = decode(t, env.do(t, http.MethodGet, "/vitals/api/v1/plugins/mock-bp/health", nil))
	require.Equal(t, ResultSuccess, res.Code, res.Message)
	var health models.PluginHealth
	require.NoError(t, json.Unmarshal(res.Result, &health))
	assert.Equal(t, mock.IDBloodPressure, health.PluginID)

	res = decode(t, env.do(t, http.MethodGet, "/vitals/api/v1/plugins/mock-glucose/health", nil))
	assert.Equal(t, ResultError, res.Code)
	assert.Equal(t, "no health record for plugin: mock-glucose", res.Message)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodPost, "/vitals/api/v1/plugins/mock-bp/config", nil).Code)
}

func TestRedactConfig(t *testing.T) {
	cfg := plugin.Config{
		"access_token": "abc",
		"api_key":      "k",
		"password":     "",
		"base_url":     "https://api.example.com",
		"retry_count":  3,
	}
	out := redactConfig(cfg)
	assert.Equal(t, "***", out["access_token"])
	assert.Equal(t, "***", out["api_key"])
	assert.Equal(t, "", out["password"], "empty secrets stay visible as unset")
	assert.Equal(t, "https://api.example.com", out["base_url"])
	assert.Equal(t, 3, out["retry_count"])
	assert.Equal(t, "abc", cfg["access_token"])
}

func TestPluginHealth_Snapshots(t *testing.T) {
	logger := zap.NewNop()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := repository.NewPluginHealthStore(rdb, "", time.Minute, logger)

	registry := plugin.NewRegistry(map[string]plugin.Factory{mock.IDBloodPressure: mock.NewBloodPressure}, plugin.Options{}, logger)
	registry.SetHealthSink(store)
	require.NoError(t, registry.LoadPlugin(context.Background(), mock.IDBloodPressure))
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })

	// 另一个实例写入的快照
	require.NoError(t, store.SaveHealth(context.Background(), models.PluginHealth{
		PluginID: "omron", Status: models.HealthWarning, ErrorCount: 2,
	}))

	router := NewRouter(logger)
	router.RegisterPluginRoutes(NewPluginHandler(registry, &fakeSyncProcessor{}, store, logger))
	get := func(path string) envelope {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return decode(t, rec)
	}

	res := get("/vitals/api/v1/plugins/health")
	require.Equal(t, ResultSuccess, res.Code)
	var all []models.PluginHealth
	require.NoError(t, json.Unmarshal(res.Result, &all))
	require.Len(t, all, 2)
	assert.Equal(t, mock.IDBloodPressure, all[0].PluginID)
	assert.Equal(t, models.HealthHealthy, all[0].Status)
	assert.Equal(t, "omron", all[1].PluginID)
	assert.Equal(t, models.HealthWarning, all[1].Status)

	res = get("/vitals/api/v1/plugins/omron/health")
	require.Equal(t, ResultSuccess, res.Code, res.Message)
	var one models.PluginHealth
	require.NoError(t, json.Unmarshal(res.Result, &one))
	assert.Equal(t, 2, one.ErrorCount)

	mr.Close()
	res = get("/vitals/api/v1/plugins/health")
	require.Equal(t, ResultSuccess, res.Code)
	require.NoError(t, json.Unmarshal(res.Result, &all))
	assert.Len(t, all, 1, "redis outage falls back to local records")
}

func TestDeviceLifecycle(t *testing.T) {
	env := newTestEnv(t)

	res := decode(t, env.do(t, http.MethodPost, "/vitals/api/v1/devices/mock-bp/bp-1/connect", nil))
	require.Equal(t, ResultSuccess, res.Code, res.Message)
	var conn models.DeviceConnection
	require.NoError(t, json.Unmarshal(res.Result, &conn))
	assert.Equal(t, "bp-1", conn.DeviceID)
	assert.Equal(t, models.ConnectionConnected, conn.Status)

	res = decode(t, env.do(t, http.MethodGet, "/vitals/api/v1/plugins/mock-bp/connections", nil))
	var conns []models.DeviceConnection
	require.NoError(t, json.Unmarshal(res.Result, &conns))
	require.Len(t, conns, 1)

	res = decode(t, env.do(t, http.MethodPost, "/vitals/api/v1/devices/mock-bp/bp-1/sync", nil))
	require.Equal(t, ResultSuccess, res.Code, res.Message)
	var sync SyncResponse
	require.NoError(t, json.Unmarshal(res.Result, &sync))
	assert.Equal(t, 2, sync.Count)
	assert.Equal(t, models.ReadingTypeBloodPressure, sync.Readings[0].ReadingType)
	assert.Equal(t, 1, env.processor.calls)

	res = decode(t, env.do(t, http.MethodPost, "/vitals/api/v1/devices/mock-bp/bp-1/disconnect", nil))
	assert.Equal(t, ResultSuccess, res.Code)

	res = decode(t, env.do(t, http.MethodPost, "/vitals/api/v1/devices/mock-bp/bp-1/sync", nil))
	assert.Equal(t, ResultError, res.Code)
	assert.Equal(t, 1, env.processor.calls)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodGet, "/vitals/api/v1/devices/mock-bp/bp-1/connect", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/vitals/api/v1/devices/mock-bp/bp-1", nil).Code)
}

func TestDeviceSync_ProcessorError(t *testing.T) {
	env := newTestEnv(t)
	env.processor.err = errors.New("db down")

	decode(t, env.do(t, http.MethodPost, "/vitals/api/v1/devices/mock-bp/bp-1/connect", nil))
	res := decode(t, env.do(t, http.MethodPost, "/vitals/api/v1/devices/mock-bp/bp-1/sync", nil))
	assert.Equal(t, ResultError, res.Code)
	assert.Equal(t, "db down", res.Message)
}

func TestTransformAndValidate(t *testing.T) {
	env := newTestEnv(t)

	res := decode(t, env.do(t, http.MethodPost, "/vitals/api/v1/readings/transform", TransformRequest{
		DeviceType: transformer.DeviceTypeBloodPressure,
		Raw:        map[string]interface{}{"systolic": 120, "diastolic": 80, "unit": "mmHg"},
	}))
	require.Equal(t, ResultSuccess, res.Code, res.Message)
	var tr TransformResponse
	require.NoError(t, json.Unmarshal(res.Result, &tr))
	assert.Empty(t, tr.Errors)
	assert.Equal(t, models.ReadingTypeBloodPressure, tr.Data.ReadingType)
	assert.Equal(t, 120.0, tr.Data.PrimaryValue)

	res = decode(t, env.do(t, http.MethodPost, "/vitals/api/v1/readings/transform", map[string]any{"device_type": "BLOOD_PRESSURE"}))
	assert.Equal(t, ResultError, res.Code)

	diastolic := 80.0
	res = decode(t, env.do(t, http.MethodPost, "/vitals/api/v1/readings/validate", ValidateRequest{
		Reading: &models.VitalData{
			ReadingType:    models.ReadingTypeBloodPressure,
			PrimaryValue:   120,
			SecondaryValue: &diastolic,
			Unit:           "mmHg",
			Timestamp:      time.Now(),
		},
	}))
	require.Equal(t, ResultSuccess, res.Code, res.Message)
	var vr models.ValidationResult
	require.NoError(t, json.Unmarshal(res.Result, &vr))
	assert.True(t, vr.IsValid)

	res = decode(t, env.do(t, http.MethodPost, "/vitals/api/v1/readings/validate", ValidateRequest{
		Reading: &models.VitalData{
			ReadingType:    models.ReadingTypeBloodPressure,
			PrimaryValue:   250,
			SecondaryValue: &diastolic,
			Unit:           "mmHg",
			Timestamp:      time.Now(),
		},
		AgeGroup: models.AgeGroupAdult,
	}))
	require.Equal(t, ResultSuccess, res.Code, res.Message)
	vr = models.ValidationResult{}
	require.NoError(t, json.Unmarshal(res.Result, &vr))
	assert.False(t, vr.IsValid)
	assert.NotEmpty(t, vr.Errors)

	res = decode(t, env.do(t, http.MethodPost, "/vitals/api/v1/readings/validate", map[string]any{}))
	assert.Equal(t, ResultError, res.Code)
}

func TestListAndExportReadings(t *testing.T) {
	env := newTestEnv(t)
	secondary := 82.0
	env.lister.readings = []models.StoredReading{
		{
			ID:             "r-1",
			DeviceID:       "bp-1",
			PluginID:       mock.IDBloodPressure,
			ReadingType:    models.ReadingTypeBloodPressure,
			PrimaryValue:   121,
			SecondaryValue: &secondary,
			Unit:           "mmHg",
			MeasuredAt:     time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
			QualityScore:   1,
			IsValid:        true,
			Errors:         []string{},
			Warnings:       []string{"w1", "w2"},
		},
	}

	res := decode(t, env.do(t, http.MethodGet, "/vitals/api/v1/readings?device_id=bp-1&limit=5", nil))
	require.Equal(t, ResultSuccess, res.Code, res.Message)
	assert.Equal(t, 5, env.lister.gotLimit)
	var list struct {
		Items []models.StoredReading `json:"items"`
		Total int                    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, "r-1", list.Items[0].ID)

	res = decode(t, env.do(t, http.MethodGet, "/vitals/api/v1/readings", nil))
	assert.Equal(t, ResultError, res.Code)

	rec := env.do(t, http.MethodGet, "/vitals/api/v1/readings/export?device_id=bp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "vital-readings-bp-1.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(readingsSheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ReadingsExportHeader[0], rows[0][0])
	assert.Equal(t, "r-1", rows[1][0])
	assert.Equal(t, "Yes", rows[1][10])
	assert.Equal(t, "w1; w2", rows[1][12])
}

func TestReadings_StoreErrors(t *testing.T) {
	logger := zap.NewNop()
	router := NewRouter(logger)
	router.RegisterReadingRoutes(NewReadingHandler(transformer.NewTransformer(logger), validator.NewValidator(logger), nil, logger))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vitals/api/v1/readings?device_id=x", nil))
	res := decode(t, rec)
	assert.Equal(t, ResultError, res.Code)
	assert.Equal(t, "database not enabled", res.Message)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vitals/api/v1/readings/r-1", nil))
	res = decode(t, rec)
	assert.Equal(t, "database not enabled", res.Message)

	env := newTestEnv(t)
	env.lister.err = errors.New("boom")
	res = decode(t, env.do(t, http.MethodGet, "/vitals/api/v1/readings/export?device_id=x", nil))
	assert.Equal(t, ResultError, res.Code)
}

func TestGetReading(t *testing.T) {
	env := newTestEnv(t)
	env.lister.readings = []models.StoredReading{
		{ID: "r-1", DeviceID: "bp-1", ReadingType: models.ReadingTypeBloodPressure, PrimaryValue: 120, IsValid: true},
	}

	res := decode(t, env.do(t, http.MethodGet, "/vitals/api/v1/readings/r-1", nil))
	require.Equal(t, ResultSuccess, res.Code, res.Message)
	var reading models.StoredReading
	require.NoError(t, json.Unmarshal(res.Result, &reading))
	assert.Equal(t, "bp-1", reading.DeviceID)
	assert.Equal(t, 120.0, reading.PrimaryValue)

	res = decode(t, env.do(t, http.MethodGet, "/vitals/api/v1/readings/r-404", nil))
	assert.Equal(t, ResultError, res.Code)
	assert.Contains(t, res.Message, "not found")

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/vitals/api/v1/readings/r-1/extra", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodDelete, "/vitals/api/v1/readings/r-1", nil).Code)
}

func TestPluginMount(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/plugins/api/v1/mock-bp/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		PluginID string `json:"plugin_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, mock.IDBloodPressure, status.PluginID)

	rec = env.do(t, http.MethodGet, "/plugins/api/v1/mock-bp/sample", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "blood_pressure")

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodPost, "/plugins/api/v1/mock-bp/status", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/plugins/api/v1/mock-bp/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/plugins/api/v1/mock-glucose/status", nil).Code)

	require.NoError(t, env.registry.UnloadPlugin(context.Background(), mock.IDBloodPressure))
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/plugins/api/v1/mock-bp/status", nil).Code)
}

func TestPluginMount_Auth(t *testing.T) {
	logger := zap.NewNop()
	registry := plugin.NewRegistry(map[string]plugin.Factory{
		"guarded": func(*zap.Logger) plugin.Plugin { return &guardedPlugin{} },
	}, plugin.Options{}, logger)
	require.NoError(t, registry.LoadPlugin(context.Background(), "guarded"))

	router := NewRouter(logger)
	router.RegisterPluginMount(NewPluginMount(registry, testToken, logger))
	call := func(auth string) int {
		req := httptest.NewRequest(http.MethodGet, "/plugins/api/v1/guarded/secret", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer wrong"))
	assert.Equal(t, http.StatusUnauthorized, call(testToken))
	assert.Equal(t, http.StatusNoContent, call("Bearer "+testToken))

	unbound := httptest.NewRecorder()
	router.ServeHTTP(unbound, httptest.NewRequest(http.MethodGet, "/plugins/api/v1/guarded/unbound", nil))
	assert.Equal(t, http.StatusNotImplemented, unbound.Code)
	assert.Contains(t, unbound.Body.String(), "handler not implemented: unbound")

	noToken := NewRouter(logger)
	noToken.RegisterPluginMount(NewPluginMount(registry, "", logger))
	req := httptest.NewRequest(http.MethodGet, "/plugins/api/v1/guarded/secret", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	noToken.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// guardedPlugin 只提供一个需要鉴权的路由
type guardedPlugin struct{}

func (g *guardedPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{ID: "guarded", Name: "Guarded", Version: "0.0.1", SupportedDevices: []string{"*"}, Regions: []string{"global"}}
}
func (g *guardedPlugin) Initialize(context.Context, plugin.Config) error { return nil }
func (g *guardedPlugin) Destroy(context.Context) error                   { return nil }
func (g *guardedPlugin) Connect(_ context.Context, id string) (*models.DeviceConnection, error) {
	return &models.DeviceConnection{DeviceID: id}, nil
}
func (g *guardedPlugin) Disconnect(context.Context, string) error { return nil }
func (g *guardedPlugin) ReadData(context.Context, string) ([]map[string]interface{}, error) {
	return nil, nil
}
func (g *guardedPlugin) TransformData(map[string]interface{}) (*models.VitalData, []string) {
	return &models.VitalData{}, nil
}
func (g *guardedPlugin) GetDefaultConfig() plugin.Config { return plugin.Config{} }
func (g *guardedPlugin) Routes() []plugin.RouteDescriptor {
	return []plugin.RouteDescriptor{{
		Method:       http.MethodGet,
		Path:         "/secret",
		RequiresAuth: true,
		Handler:      func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) },
	}, {
		Method:      http.MethodGet,
		Path:        "/unbound",
		HandlerName: "unbound",
	}}
}

// committingPlugin 记录 CommitSync 调用次数
type committingPlugin struct {
	guardedPlugin
	mu      sync.Mutex
	commits int
}

func (c *committingPlugin) ReadData(context.Context, string) ([]map[string]interface{}, error) {
	return []map[string]interface{}{{"value": 1.0}}, nil
}

func (c *committingPlugin) CommitSync(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++
}

func (c *committingPlugin) commitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commits
}

func TestDeviceSync_CommitsOnlyAfterProcessing(t *testing.T) {
	logger := zap.NewNop()
	p := &committingPlugin{}
	registry := plugin.NewRegistry(map[string]plugin.Factory{
		"guarded": func(*zap.Logger) plugin.Plugin { return p },
	}, plugin.Options{}, logger)
	require.NoError(t, registry.LoadPlugin(context.Background(), "guarded"))

	processor := &fakeSyncProcessor{err: errors.New("db down")}
	router := NewRouter(logger)
	router.RegisterPluginRoutes(NewPluginHandler(registry, processor, nil, logger))
	post := func(path string) envelope {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		return decode(t, rec)
	}

	require.Equal(t, ResultSuccess, post("/vitals/api/v1/devices/guarded/dev-1/connect").Code)
	assert.Equal(t, ResultError, post("/vitals/api/v1/devices/guarded/dev-1/sync").Code)
	assert.Zero(t, p.commitCount(), "failed processing leaves the sync cursor in place")

	processor.err = nil
	assert.Equal(t, ResultSuccess, post("/vitals/api/v1/devices/guarded/dev-1/sync").Code)
	assert.Equal(t, 1, p.commitCount())
}

func TestDoctor(t *testing.T) {
	logger := zap.NewNop()
	registry := plugin.NewRegistry(map[string]plugin.Factory{mock.IDGlucose: mock.NewGlucose}, plugin.Options{}, logger)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	router := NewRouter(logger)
	router.RegisterDoctorRoutes(NewDoctorHandler(nil, rdb, registry, logger))

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthCheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "healthy", health.Services["redis"])
	assert.Equal(t, "not configured", health.Services["database"])

	// 没有已加载插件时未就绪
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)

	require.NoError(t, registry.LoadPlugin(context.Background(), mock.IDGlucose))
	assert.Equal(t, http.StatusOK, get("/ready").Code)

	mr.Close()
	assert.Equal(t, http.StatusServiceUnavailable, get("/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready").Code)
}
