package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"wisefido-vitals/internal/plugin"
)

// PluginMountPrefix 插件路由挂载前缀
const PluginMountPrefix = "/plugins/api/v1/"

// PluginMount 把已加载插件的路由挂到 /plugins/api/v1/{pluginID}{path}
//
// 每次请求都查询注册表，插件卸载后其路由立即返回 404。
// 未配置 apiToken 时 RequiresAuth 路由一律 401；只声明了 HandlerName 的路由返回 501。
type PluginMount struct {
	registry *plugin.Registry
	apiToken string
	logger   *zap.Logger
}

func NewPluginMount(registry *plugin.Registry, apiToken string, logger *zap.Logger) *PluginMount {
	return &PluginMount{registry: registry, apiToken: apiToken, logger: logger}
}

func (m *PluginMount) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, PluginMountPrefix)
	pluginID, path, _ := strings.Cut(rest, "/")
	path = "/" + strings.TrimSuffix(path, "/")
	if pluginID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	routes, ok := m.registry.GetRoutes(pluginID)
	if !ok {
		writeJSON(w, http.StatusNotFound, Fail("plugin not loaded: "+pluginID))
		return
	}

	pathMatched := false
	for _, route := range routes {
		if route.Path != path {
			continue
		}
		pathMatched = true
		if route.Method != r.Method {
			continue
		}
		if route.RequiresAuth && !m.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, Fail("unauthorized"))
			return
		}
		if route.Handler == nil {
			m.logger.Warn("Plugin route has no handler",
				zap.String("plugin_id", pluginID),
				zap.String("path", path),
				zap.String("handler_name", route.HandlerName),
			)
			writeJSON(w, http.StatusNotImplemented, Fail("handler not implemented: "+route.HandlerName))
			return
		}
		route.Handler(w, r)
		return
	}
	if pathMatched {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (m *PluginMount) authorized(r *http.Request) bool {
	if m.apiToken == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.apiToken)) == 1
}
