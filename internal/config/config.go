package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"wisefido-vitals/internal/plugin"
	"wisefido-vitals/internal/plugins"
	commoncfg "wisefido-vitals/pkg/config"
)

// Config wisefido-vitals 配置
type Config struct {
	HTTP struct {
		Addr string
	}
	// APIToken 插件路由（RequiresAuth）使用的 Bearer token，为空时这些路由一律拒绝
	APIToken string

	DBEnabled bool
	Database  commoncfg.DatabaseConfig
	Redis     commoncfg.RedisConfig

	MQTTEnabled bool
	MQTT        commoncfg.MQTTConfig

	Log struct {
		Level  string
		Format string
	}

	// Environment 运行环境（APP_ENV，兼容 NODE_ENV）
	Environment string

	Plugins struct {
		Enabled              []string
		HealthInterval       time.Duration
		MaintenanceThreshold int
		Fitbit               struct {
			BaseURL     string
			AccessToken string
		}
		Omron struct {
			BaseURL string
			APIKey  string
			Region  string
		}
		BLE struct {
			TopicPrefix string
		}
	}

	// Redis Streams
	Streams struct {
		Raw    string // 原始设备数据
		Output string // 校验后的读数摘要
		Events string // 插件事件
	}
	ConsumerGroup string
	ConsumerName  string
	BatchSize     int64

	DefaultAgeGroup string
}

// Load 从环境变量加载配置
func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")
	cfg.APIToken = getEnv("API_TOKEN", "")

	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database = commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "owlrd",
		SSLMode:  "disable",
		MaxConns: 10,
		MaxIdle:  5,

		ApplicationName: "wisefido-vitals",
		ConnectTimeout:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = commoncfg.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTTEnabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT = commoncfg.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "wisefido-vitals",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Environment = getEnv("APP_ENV", getEnv("NODE_ENV", "development"))

	cfg.Plugins.Enabled = parseList(getEnv("ENABLED_PLUGINS", ""), plugins.IDs())
	cfg.Plugins.HealthInterval = time.Duration(parseInt(getEnv("HEALTH_CHECK_INTERVAL", "30"), 30)) * time.Second
	cfg.Plugins.MaintenanceThreshold = parseInt(getEnv("PLUGIN_MAINTENANCE_THRESHOLD", "5"), 5)
	cfg.Plugins.Fitbit.BaseURL = getEnv("FITBIT_BASE_URL", "")
	cfg.Plugins.Fitbit.AccessToken = getEnv("FITBIT_ACCESS_TOKEN", "")
	cfg.Plugins.Omron.BaseURL = getEnv("OMRON_BASE_URL", "")
	cfg.Plugins.Omron.APIKey = getEnv("OMRON_API_KEY", "")
	cfg.Plugins.Omron.Region = getEnv("OMRON_REGION", "")
	cfg.Plugins.BLE.TopicPrefix = getEnv("BLE_TOPIC_PREFIX", "")

	cfg.Streams.Raw = getEnv("STREAM_RAW", "vitals:raw:stream")
	cfg.Streams.Output = getEnv("STREAM_OUTPUT", "vitals:validated:stream")
	cfg.Streams.Events = getEnv("STREAM_EVENTS", "vitals:plugin:events")
	cfg.ConsumerGroup = getEnv("CONSUMER_GROUP", "vitals-group")
	cfg.ConsumerName = getEnv("CONSUMER_NAME", "vitals-1")
	cfg.BatchSize = int64(parseInt(getEnv("CONSUMER_BATCH_SIZE", "10"), 10))

	cfg.DefaultAgeGroup = getEnv("DEFAULT_AGE_GROUP", "adult")

	return cfg
}

// PluginConfigs 环境变量中的插件配置覆盖（只包含已设置的项）
func (c *Config) PluginConfigs() map[string]plugin.Config {
	out := map[string]plugin.Config{}
	set := func(id, key, value string) {
		if value == "" {
			return
		}
		if out[id] == nil {
			out[id] = plugin.Config{}
		}
		out[id][key] = value
	}
	set("fitbit", "base_url", c.Plugins.Fitbit.BaseURL)
	set("fitbit", "access_token", c.Plugins.Fitbit.AccessToken)
	set("omron-bp", "base_url", c.Plugins.Omron.BaseURL)
	set("omron-bp", "api_key", c.Plugins.Omron.APIKey)
	set("omron-bp", "region", c.Plugins.Omron.Region)
	set("generic-bluetooth", "topic_prefix", c.Plugins.BLE.TopicPrefix)
	if c.MQTTEnabled {
		if out["generic-bluetooth"] == nil {
			out["generic-bluetooth"] = plugin.Config{}
		}
		out["generic-bluetooth"]["qos"] = int(c.MQTT.QoS)
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseList 逗号分隔列表，空白项忽略；结果为空时返回 def
func parseList(s string, def []string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
