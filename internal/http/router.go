package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

// RegisterPluginRoutes 插件管理与设备操作
func (r *Router) RegisterPluginRoutes(p *PluginHandler) {
	r.Handle("/vitals/api/v1/plugins", methodOnly(http.MethodGet, p.ListPlugins))
	r.Handle("/vitals/api/v1/plugins/health", methodOnly(http.MethodGet, p.GetHealth))
	// plugins/{id}/load | unload | reset-health | connections | config | health
	r.Handle("/vitals/api/v1/plugins/", p.PluginAction)
	// devices/{pluginID}/{deviceID}/connect | disconnect | sync
	r.Handle("/vitals/api/v1/devices/", methodOnly(http.MethodPost, p.DeviceAction))
}

// RegisterReadingRoutes 读数转换、校验、查询与导出
func (r *Router) RegisterReadingRoutes(h *ReadingHandler) {
	r.Handle("/vitals/api/v1/readings/transform", methodOnly(http.MethodPost, h.Transform))
	r.Handle("/vitals/api/v1/readings/validate", methodOnly(http.MethodPost, h.Validate))
	r.Handle("/vitals/api/v1/readings", methodOnly(http.MethodGet, h.List))
	r.Handle("/vitals/api/v1/readings/export", methodOnly(http.MethodGet, h.Export))
	// readings/{id}
	r.Handle("/vitals/api/v1/readings/", methodOnly(http.MethodGet, h.Get))
}

// RegisterPluginMount 挂载插件自带路由：/plugins/api/v1/{pluginID}{path}
func (r *Router) RegisterPluginMount(m *PluginMount) {
	r.HandleHandler(PluginMountPrefix, m)
}

// RegisterDoctorRoutes 注册诊断路由
func (r *Router) RegisterDoctorRoutes(doctor *DoctorHandler) {
	r.Handle("/health", doctor.HealthCheck)
	r.Handle("/healthz", doctor.HealthCheck)
	r.Handle("/ready", doctor.Ready)
	r.Handle("/readyz", doctor.Ready)
}
