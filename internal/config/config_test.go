package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"wisefido-vitals/internal/plugin"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"APP_ENV", "NODE_ENV", "ENABLED_PLUGINS", "HEALTH_CHECK_INTERVAL", "MQTT_ENABLED", "DB_ENABLED"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, ":8090", cfg.HTTP.Addr)
	assert.True(t, cfg.DBEnabled)
	assert.False(t, cfg.MQTTEnabled)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, []string{"mock-bp", "mock-glucose", "fitbit", "omron-bp", "generic-bluetooth"}, cfg.Plugins.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Plugins.HealthInterval)
	assert.Equal(t, 5, cfg.Plugins.MaintenanceThreshold)
	assert.Equal(t, "vitals:raw:stream", cfg.Streams.Raw)
	assert.Equal(t, "adult", cfg.DefaultAgeGroup)
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("ENABLED_PLUGINS", " mock-bp , ,fitbit")
	t.Setenv("HEALTH_CHECK_INTERVAL", "10")
	t.Setenv("DB_HOST", "pg")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg := Load()

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, []string{"mock-bp", "fitbit"}, cfg.Plugins.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Plugins.HealthInterval)
	assert.Equal(t, "pg", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)

	t.Setenv("APP_ENV", "staging")
	assert.Equal(t, "staging", Load().Environment, "APP_ENV wins over NODE_ENV")
}

func TestPluginConfigs(t *testing.T) {
	t.Setenv("FITBIT_ACCESS_TOKEN", "tok")
	t.Setenv("OMRON_API_KEY", "key")
	t.Setenv("OMRON_REGION", "eu")
	t.Setenv("FITBIT_BASE_URL", "")
	t.Setenv("OMRON_BASE_URL", "")
	t.Setenv("BLE_TOPIC_PREFIX", "")
	t.Setenv("MQTT_ENABLED", "true")
	t.Setenv("MQTT_QOS", "2")

	cfgs := Load().PluginConfigs()

	assert.Equal(t, plugin.Config{"access_token": "tok"}, cfgs["fitbit"])
	assert.Equal(t, plugin.Config{"api_key": "key", "region": "eu"}, cfgs["omron-bp"])
	assert.Equal(t, plugin.Config{"qos": 2}, cfgs["generic-bluetooth"])
	_, ok := cfgs["mock-bp"]
	assert.False(t, ok)
}
