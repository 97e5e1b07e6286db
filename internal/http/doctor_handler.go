package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/plugin"
)

// DoctorHandler 诊断处理器
type DoctorHandler struct {
	db          *sql.DB
	redisClient *redis.Client
	registry    *plugin.Registry
	logger      *zap.Logger
}

// NewDoctorHandler 创建诊断处理器（db、redisClient 可为 nil）
func NewDoctorHandler(db *sql.DB, redisClient *redis.Client, registry *plugin.Registry, logger *zap.Logger) *DoctorHandler {
	return &DoctorHandler{
		db:          db,
		redisClient: redisClient,
		registry:    registry,
		logger:      logger,
	}
}

// HealthCheckResponse 健康检查响应
type HealthCheckResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Plugins   map[string]string `json:"plugins"`
}

// HealthCheck 健康检查：Redis/数据库不可用为 unhealthy；插件状态只做展示
func (d *DoctorHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	services := make(map[string]string)

	if d.redisClient != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.redisClient.Ping(ctx).Err(); err != nil {
			status = "unhealthy"
			services["redis"] = "unhealthy: " + err.Error()
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "not configured"
	}

	if d.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.db.PingContext(ctx); err != nil {
			status = "unhealthy"
			services["database"] = "unhealthy: " + err.Error()
		} else {
			services["database"] = "healthy"
		}
	} else {
		services["database"] = "not configured"
	}

	plugins := make(map[string]string)
	for _, h := range d.registry.GetAllHealth() {
		plugins[h.PluginID] = string(h.Status)
		if status == "healthy" && h.Status != models.HealthHealthy {
			status = "degraded"
		}
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, HealthCheckResponse{
		Status:    status,
		Timestamp: time.Now(),
		Services:  services,
		Plugins:   plugins,
	})
}

// Ready 就绪检查：Redis 必须可用，至少加载了一个插件
func (d *DoctorHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ready := true
	checks := make(map[string]bool)

	if d.redisClient != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()
		checks["redis"] = d.redisClient.Ping(ctx).Err() == nil
	} else {
		checks["redis"] = false
	}
	if !checks["redis"] {
		ready = false
	}

	if d.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()
		checks["database"] = d.db.PingContext(ctx) == nil
		if !checks["database"] {
			ready = false
		}
	} else {
		checks["database"] = true // DB 是可选的
	}

	checks["plugins"] = len(d.registry.GetLoadedPlugins()) > 0
	if !checks["plugins"] {
		ready = false
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]interface{}{
		"ready":  ready,
		"checks": checks,
	})
}
