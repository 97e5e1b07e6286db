// Package config 各服务共用的 Postgres / Redis / MQTT 连接配置
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
	// 连接最长存活时间，0 表示不限制
	ConnMaxLifetime time.Duration
	// 出现在 pg_stat_activity 中，便于区分服务
	ApplicationName string
	// 建连超时（秒），0 表示使用驱动默认
	ConnectTimeout int
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// 连接池大小，0 使用 go-redis 默认（10 * GOMAXPROCS）
	PoolSize    int
	DialTimeout time.Duration
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// GetDSN lib/pq 连接串
func (c *DatabaseConfig) GetDSN() string {
	parts := []string{
		"host=" + c.Host,
		"port=" + strconv.Itoa(c.Port),
		"user=" + c.User,
		"password=" + c.Password,
		"dbname=" + c.Database,
		"sslmode=" + c.SSLMode,
	}
	if c.ApplicationName != "" {
		parts = append(parts, "application_name="+c.ApplicationName)
	}
	if c.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", c.ConnectTimeout))
	}
	return strings.Join(parts, " ")
}

// LoadFromEnv 用 <prefix>_HOST、<prefix>_PORT ... 覆盖已有值（prefix 如 "DB"）
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	envString(&c.Host, prefix+"_HOST")
	envInt(&c.Port, prefix+"_PORT")
	envString(&c.User, prefix+"_USER")
	envString(&c.Password, prefix+"_PASSWORD")
	envString(&c.Database, prefix+"_NAME")
	envString(&c.SSLMode, prefix+"_SSLMODE")
	envInt(&c.MaxConns, prefix+"_MAX_CONNS")
	envInt(&c.MaxIdle, prefix+"_MAX_IDLE")
	envDuration(&c.ConnMaxLifetime, prefix+"_CONN_MAX_LIFETIME")
	envInt(&c.ConnectTimeout, prefix+"_CONNECT_TIMEOUT")
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	envString(&c.Addr, prefix+"_ADDR")
	envString(&c.Password, prefix+"_PASSWORD")
	envInt(&c.DB, prefix+"_DB")
	envInt(&c.PoolSize, prefix+"_POOL_SIZE")
	envDuration(&c.DialTimeout, prefix+"_DIAL_TIMEOUT")
}

// LoadFromEnv 从环境变量加载MQTT配置（QoS 超出 0-2 时忽略）
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	envString(&c.Broker, prefix+"_BROKER")
	envString(&c.ClientID, prefix+"_CLIENT_ID")
	envString(&c.Username, prefix+"_USERNAME")
	envString(&c.Password, prefix+"_PASSWORD")

	qos := int(c.QoS)
	envInt(&qos, prefix+"_QOS")
	if qos >= 0 && qos <= 2 {
		c.QoS = byte(qos)
	}
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envInt 非数字的值忽略
func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

// envDuration 接受 "30s" 这样的时长或纯数字秒数
func envDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
	}
}
