package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/plugin"
)

// SyncProcessor 处理同步得到的读数
type SyncProcessor interface {
	ProcessSynced(ctx context.Context, pluginID, deviceID string, readings []plugin.SyncedReading) ([]models.StoredReading, error)
}

// HealthSnapshots 持久化的插件健康快照（多实例共享同一 Redis 时可见其它实例的插件）
type HealthSnapshots interface {
	GetHealth(ctx context.Context, pluginID string) (*models.PluginHealth, error)
	ListHealth(ctx context.Context) ([]models.PluginHealth, error)
}

// PluginHandler 插件管理与设备操作
type PluginHandler struct {
	registry  *plugin.Registry
	processor SyncProcessor
	// 可为 nil
	snapshots HealthSnapshots
	logger    *zap.Logger
}

func NewPluginHandler(registry *plugin.Registry, processor SyncProcessor, snapshots HealthSnapshots, logger *zap.Logger) *PluginHandler {
	return &PluginHandler{registry: registry, processor: processor, snapshots: snapshots, logger: logger}
}

// secretConfigKeys 配置项名包含这些词时，值在接口中打码
var secretConfigKeys = []string{"token", "secret", "password", "key"}

// PluginInfo 插件列表项
type PluginInfo struct {
	plugin.Metadata
	Health *models.PluginHealth `json:"health,omitempty"`
}

// SyncResponse 同步结果
type SyncResponse struct {
	PluginID string                 `json:"plugin_id"`
	DeviceID string                 `json:"device_id"`
	Count    int                    `json:"count"`
	Readings []models.StoredReading `json:"readings"`
}

// ListPlugins GET /vitals/api/v1/plugins[?device_type=&region=]
func (h *PluginHandler) ListPlugins(w http.ResponseWriter, r *http.Request) {
	deviceType := r.URL.Query().Get("device_type")
	region := r.URL.Query().Get("region")

	var metas []plugin.Metadata
	switch {
	case deviceType != "":
		metas = h.registry.GetPluginsForDeviceType(deviceType)
	case region != "":
		metas = h.registry.GetPluginsForRegion(region)
	default:
		metas = h.registry.GetLoadedPlugins()
	}
	if deviceType != "" && region != "" {
		filtered := metas[:0]
		for _, m := range metas {
			if m.AvailableIn(region) {
				filtered = append(filtered, m)
			}
		}
		metas = filtered
	}

	out := make([]PluginInfo, 0, len(metas))
	for _, m := range metas {
		info := PluginInfo{Metadata: m}
		if health, ok := h.registry.GetPluginHealth(m.ID); ok {
			info.Health = &health
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items":     out,
		"available": h.registry.AvailablePlugins(),
	}))
}

// GetHealth GET /vitals/api/v1/plugins/health，合并 Redis 中本进程没有的健康快照
func (h *PluginHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	all := h.registry.GetAllHealth()
	if h.snapshots == nil {
		writeJSON(w, http.StatusOK, Ok(all))
		return
	}
	snaps, err := h.snapshots.ListHealth(r.Context())
	if err != nil {
		h.logger.Warn("Failed to list plugin health snapshots", zap.Error(err))
		writeJSON(w, http.StatusOK, Ok(all))
		return
	}
	// 本进程的记录优先，快照只补充本进程没有的插件
	seen := make(map[string]bool, len(all))
	for _, ph := range all {
		seen[ph.PluginID] = true
	}
	for _, ph := range snaps {
		if !seen[ph.PluginID] {
			all = append(all, ph)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PluginID < all[j].PluginID })
	writeJSON(w, http.StatusOK, Ok(all))
}

func (h *PluginHandler) pluginHealth(ctx context.Context, id string) (*models.PluginHealth, error) {
	if ph, ok := h.registry.GetPluginHealth(id); ok {
		return &ph, nil
	}
	if h.snapshots == nil {
		return nil, nil
	}
	return h.snapshots.GetHealth(ctx, id)
}

// redactConfig 返回打码后的配置副本
func redactConfig(cfg plugin.Config) plugin.Config {
	out := make(plugin.Config, len(cfg))
	for k, v := range cfg {
		out[k] = v
		lower := strings.ToLower(k)
		for _, word := range secretConfigKeys {
			if strings.Contains(lower, word) {
				if s, ok := v.(string); !ok || s != "" {
					out[k] = "***"
				}
				break
			}
		}
	}
	return out
}

// PluginAction /vitals/api/v1/plugins/{id}/{action}
func (h *PluginHandler) PluginAction(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/vitals/api/v1/plugins/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id, action := parts[0], parts[1]
	ctx := r.Context()

	switch action {
	case "load":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := h.registry.LoadPlugin(ctx, id); err != nil {
			writeJSON(w, http.StatusOK, Fail(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{"plugin_id": id, "loaded": true}))
	case "unload":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := h.registry.UnloadPlugin(ctx, id); err != nil {
			writeJSON(w, http.StatusOK, Fail(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{"plugin_id": id, "loaded": false}))
	case "reset-health":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := h.registry.ResetPluginHealth(ctx, id); err != nil {
			writeJSON(w, http.StatusOK, Fail(err.Error()))
			return
		}
		health, _ := h.registry.GetPluginHealth(id)
		writeJSON(w, http.StatusOK, Ok(health))
	case "connections":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		conns, err := h.registry.GetConnections(id)
		if err != nil {
			writeJSON(w, http.StatusOK, Fail(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, Ok(conns))
	case "config":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		cfg, ok := h.registry.GetPluginConfig(id)
		if !ok {
			writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("%s: %s", plugin.ErrPluginNotLoaded, id)))
			return
		}
		writeJSON(w, http.StatusOK, Ok(redactConfig(cfg)))
	case "health":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ph, err := h.pluginHealth(ctx, id)
		if err != nil {
			h.logger.Warn("Failed to get plugin health", zap.String("plugin_id", id), zap.Error(err))
			writeJSON(w, http.StatusOK, Fail(err.Error()))
			return
		}
		if ph == nil {
			writeJSON(w, http.StatusOK, Fail("no health record for plugin: "+id))
			return
		}
		writeJSON(w, http.StatusOK, Ok(ph))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// DeviceAction POST /vitals/api/v1/devices/{pluginID}/{deviceID}/{connect|disconnect|sync}
func (h *PluginHandler) DeviceAction(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/vitals/api/v1/devices/")
	if len(parts) != 3 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	pluginID, deviceID, action := parts[0], parts[1], parts[2]
	ctx := r.Context()

	switch action {
	case "connect":
		conn, err := h.registry.ConnectDevice(ctx, pluginID, deviceID)
		if err != nil {
			h.logger.Warn("Connect device failed",
				zap.String("plugin_id", pluginID), zap.String("device_id", deviceID), zap.Error(err))
			writeJSON(w, http.StatusOK, Fail(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, Ok(conn))
	case "disconnect":
		if err := h.registry.DisconnectDevice(ctx, pluginID, deviceID); err != nil {
			writeJSON(w, http.StatusOK, Fail(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{"plugin_id": pluginID, "device_id": deviceID, "connected": false}))
	case "sync":
		readings, err := h.registry.SyncDevice(ctx, pluginID, deviceID)
		if err != nil {
			h.logger.Warn("Sync device failed",
				zap.String("plugin_id", pluginID), zap.String("device_id", deviceID), zap.Error(err))
			writeJSON(w, http.StatusOK, Fail(err.Error()))
			return
		}
		stored, err := h.processor.ProcessSynced(ctx, pluginID, deviceID, readings)
		if err != nil {
			h.logger.Error("Process synced readings failed",
				zap.String("plugin_id", pluginID), zap.String("device_id", deviceID), zap.Error(err))
			writeJSON(w, http.StatusOK, Fail(err.Error()))
			return
		}
		h.registry.CommitSync(pluginID, deviceID)
		if stored == nil {
			stored = []models.StoredReading{}
		}
		writeJSON(w, http.StatusOK, Ok(SyncResponse{
			PluginID: pluginID,
			DeviceID: deviceID,
			Count:    len(stored),
			Readings: stored,
		}))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
