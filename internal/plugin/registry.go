package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
)

const (
	DefaultHealthInterval       = 30 * time.Second
	DefaultMaintenanceThreshold = 5
)

// Options 注册表配置
type Options struct {
	Environment          string
	HealthInterval       time.Duration
	MaintenanceThreshold int
	// PluginConfigs 按插件 id 覆盖默认配置
	PluginConfigs map[string]Config
}

// entry 已加载插件的簿记信息
type entry struct {
	plugin      Plugin
	meta        Metadata
	config      Config
	loadedAt    time.Time
	connections map[string]*models.DeviceConnection
}

// Registry 插件注册表
//
// 由进程的组装根创建并持有（非全局单例）。内部 map 由读写锁保护，
// 对插件的调用（Initialize/Connect/ReadData 等）都在锁外进行。
// 同一设备的并发 connect/disconnect 不做串行化，由调用方保证。
type Registry struct {
	mu          sync.RWMutex
	factories   map[string]Factory
	plugins     map[string]*entry
	loading     map[string]bool
	health      map[string]*models.PluginHealth
	subscribers []func(Event)
	eventSink   EventSink
	healthSink  HealthSink
	scheduler   *gocron.Scheduler

	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewRegistry 创建插件注册表
func NewRegistry(factories map[string]Factory, opts Options, logger *zap.Logger) *Registry {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	if opts.MaintenanceThreshold <= 0 {
		opts.MaintenanceThreshold = DefaultMaintenanceThreshold
	}
	fs := make(map[string]Factory, len(factories))
	for id, f := range factories {
		fs[id] = f
	}
	return &Registry{
		factories: fs,
		plugins:   make(map[string]*entry),
		loading:   make(map[string]bool),
		health:    make(map[string]*models.PluginHealth),
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// AvailablePlugins 工厂表中所有插件 id（排序）
func (r *Registry) AvailablePlugins() []string {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadPlugin 加载插件
//
// 已加载（或正在加载）时只记录警告并返回 nil。
func (r *Registry) LoadPlugin(ctx context.Context, id string) error {
	factory, ok := r.factories[id]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrPluginNotFound, id)
		r.emit(ctx, EventPluginError, id, "", err, nil)
		return err
	}

	r.mu.Lock()
	if _, loaded := r.plugins[id]; loaded || r.loading[id] {
		r.mu.Unlock()
		r.logger.Warn("Plugin already loaded, skipping", zap.String("plugin_id", id))
		return nil
	}
	r.loading[id] = true
	r.mu.Unlock()

	e, err := r.instantiate(ctx, id, factory)

	var health models.PluginHealth
	r.mu.Lock()
	delete(r.loading, id)
	if err == nil {
		r.plugins[id] = e
		r.health[id] = &models.PluginHealth{
			PluginID:  id,
			Status:    models.HealthHealthy,
			LastCheck: e.loadedAt,
		}
		health = *r.health[id]
	}
	r.mu.Unlock()

	if err != nil {
		r.recordLoadFailure(ctx, id, err)
		return err
	}

	r.logger.Info("Plugin loaded",
		zap.String("plugin_id", id),
		zap.String("name", e.meta.Name),
		zap.String("version", e.meta.Version),
	)
	r.saveHealth(ctx, health)
	r.emit(ctx, EventPluginLoaded, id, "", nil, map[string]interface{}{"version": e.meta.Version})
	return nil
}

// instantiate 创建、校验并初始化插件
func (r *Registry) instantiate(ctx context.Context, id string, factory Factory) (*entry, error) {
	p := factory(r.logger.With(zap.String("plugin_id", id)))
	if p == nil {
		return nil, fmt.Errorf("%w: factory for %s returned nil", ErrInvalidPlugin, id)
	}

	meta := p.Metadata()
	if err := validateMetadata(id, meta); err != nil {
		return nil, err
	}

	cfg := p.GetDefaultConfig().Merge(r.opts.PluginConfigs[id])
	cfg["environment"] = r.opts.Environment

	if err := p.Initialize(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize plugin %s: %w", id, err)
	}

	return &entry{
		plugin:      p,
		meta:        meta,
		config:      cfg,
		loadedAt:    r.now(),
		connections: make(map[string]*models.DeviceConnection),
	}, nil
}

func validateMetadata(id string, meta Metadata) error {
	if meta.ID == "" || meta.Name == "" {
		return fmt.Errorf("%w: %s is missing id or name", ErrInvalidPlugin, id)
	}
	if meta.ID != id {
		return fmt.Errorf("%w: registered as %s but reports id %s", ErrInvalidPlugin, id, meta.ID)
	}
	return nil
}

// LoadPlugins 依次加载多个插件，返回合并后的错误（不中断）
func (r *Registry) LoadPlugins(ctx context.Context, ids []string) error {
	var errs error
	for _, id := range ids {
		errs = multierr.Append(errs, r.LoadPlugin(ctx, id))
	}
	return errs
}

// UnloadPlugin 卸载插件：断开已连接设备、调用 Destroy、清除全部簿记
//
// Destroy 失败时插件仍视为已卸载，但健康记录保留以便观察。
func (r *Registry) UnloadPlugin(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.plugins[id]
	if !ok {
		r.mu.Unlock()
		err := fmt.Errorf("%w: %s", ErrPluginNotLoaded, id)
		r.emit(ctx, EventPluginError, id, "", err, nil)
		return err
	}
	delete(r.plugins, id)
	health := r.health[id]
	deviceIDs := make([]string, 0, len(e.connections))
	for deviceID := range e.connections {
		deviceIDs = append(deviceIDs, deviceID)
	}
	r.mu.Unlock()

	for _, deviceID := range deviceIDs {
		if err := e.plugin.Disconnect(ctx, deviceID); err != nil {
			r.logger.Warn("Failed to disconnect device during unload",
				zap.String("plugin_id", id),
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
		}
	}

	// Destroy 失败时保留健康记录（计数加一），成功后才删除
	if err := e.plugin.Destroy(ctx); err != nil {
		err = fmt.Errorf("failed to destroy plugin %s: %w", id, err)
		r.recordError(ctx, id, "", err)
		return err
	}

	r.mu.Lock()
	if current, ok := r.health[id]; ok && current == health {
		delete(r.health, id)
	}
	r.mu.Unlock()

	r.logger.Info("Plugin unloaded", zap.String("plugin_id", id))
	r.emit(ctx, EventPluginUnloaded, id, "", nil, nil)
	return nil
}

// IsLoaded 插件是否已加载
func (r *Registry) IsLoaded(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[id]
	return ok
}

// GetPlugin 返回已加载的插件实例
func (r *Registry) GetPlugin(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[id]
	if !ok {
		return nil, false
	}
	return e.plugin, true
}

// GetPluginConfig 返回插件生效的配置（副本）
func (r *Registry) GetPluginConfig(id string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[id]
	if !ok {
		return nil, false
	}
	return e.config.Merge(nil), true
}

// GetLoadedPlugins 已加载插件的元数据（按 id 排序，每个 id 一条）
func (r *Registry) GetLoadedPlugins() []Metadata {
	return r.filterLoaded(func(Metadata) bool { return true })
}

// GetPluginsForDeviceType 支持某设备类型的插件
func (r *Registry) GetPluginsForDeviceType(deviceType string) []Metadata {
	return r.filterLoaded(func(m Metadata) bool { return m.SupportsDevice(deviceType) })
}

// GetPluginsForRegion 在某地区可用的插件
func (r *Registry) GetPluginsForRegion(region string) []Metadata {
	return r.filterLoaded(func(m Metadata) bool { return m.AvailableIn(region) })
}

func (r *Registry) filterLoaded(match func(Metadata) bool) []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.plugins))
	for _, e := range r.plugins {
		if match(e.meta) {
			out = append(out, e.meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetRoutes 已加载插件提供的路由
func (r *Registry) GetRoutes(id string) ([]RouteDescriptor, bool) {
	p, ok := r.GetPlugin(id)
	if !ok {
		return nil, false
	}
	provider, ok := p.(RouteProvider)
	if !ok {
		return nil, true
	}
	return provider.Routes(), true
}

// ConnectDevice 通过插件连接设备
func (r *Registry) ConnectDevice(ctx context.Context, pluginID, deviceID string) (*models.DeviceConnection, error) {
	e, err := r.activeEntry(pluginID)
	if err != nil {
		return nil, err
	}

	conn, err := e.plugin.Connect(ctx, deviceID)
	if err != nil {
		err = fmt.Errorf("failed to connect device %s via %s: %w", deviceID, pluginID, err)
		r.setConnectionError(pluginID, deviceID, err)
		r.recordError(ctx, pluginID, deviceID, err)
		return nil, err
	}
	if conn == nil {
		conn = &models.DeviceConnection{}
	}
	conn.DeviceID = deviceID
	conn.PluginID = pluginID
	conn.Status = models.ConnectionConnected
	conn.LastError = ""

	r.mu.Lock()
	if current, ok := r.plugins[pluginID]; ok && current == e {
		e.connections[deviceID] = conn
	}
	snapshot := *conn
	r.mu.Unlock()

	r.logger.Info("Device connected", zap.String("plugin_id", pluginID), zap.String("device_id", deviceID))
	r.emit(ctx, EventDeviceConnected, pluginID, deviceID, nil, nil)
	return &snapshot, nil
}

// DisconnectDevice 断开设备并丢弃连接信息
func (r *Registry) DisconnectDevice(ctx context.Context, pluginID, deviceID string) error {
	e, err := r.loadedEntry(pluginID)
	if err != nil {
		return err
	}

	r.mu.RLock()
	_, connected := e.connections[deviceID]
	r.mu.RUnlock()
	if !connected {
		return fmt.Errorf("%w: %s", ErrDeviceNotConnected, deviceID)
	}

	if err := e.plugin.Disconnect(ctx, deviceID); err != nil {
		err = fmt.Errorf("failed to disconnect device %s via %s: %w", deviceID, pluginID, err)
		r.setConnectionError(pluginID, deviceID, err)
		r.recordError(ctx, pluginID, deviceID, err)
		return err
	}

	r.mu.Lock()
	delete(e.connections, deviceID)
	r.mu.Unlock()

	r.logger.Info("Device disconnected", zap.String("plugin_id", pluginID), zap.String("device_id", deviceID))
	r.emit(ctx, EventDeviceDisconnected, pluginID, deviceID, nil, nil)
	return nil
}

// SyncDevice 读取设备数据并转换为规范化读数
//
// 连接状态：syncing → connected（成功）或 error（失败）。
func (r *Registry) SyncDevice(ctx context.Context, pluginID, deviceID string) ([]SyncedReading, error) {
	e, err := r.activeEntry(pluginID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	conn, connected := e.connections[deviceID]
	if connected {
		conn.Status = models.ConnectionSyncing
	}
	r.mu.Unlock()
	if !connected {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotConnected, deviceID)
	}

	payloads, err := e.plugin.ReadData(ctx, deviceID)
	if err != nil {
		err = fmt.Errorf("failed to read data from %s via %s: %w", deviceID, pluginID, err)
		r.setConnectionError(pluginID, deviceID, err)
		r.recordError(ctx, pluginID, deviceID, err)
		return nil, err
	}

	readings := make([]SyncedReading, 0, len(payloads))
	for _, raw := range payloads {
		data, fieldErrs := e.plugin.TransformData(raw)
		if data == nil {
			continue
		}
		data.DeviceID = deviceID
		data.PluginID = pluginID
		readings = append(readings, SyncedReading{Data: data, Errors: fieldErrs})
	}

	now := r.now()
	r.mu.Lock()
	conn.Status = models.ConnectionConnected
	conn.LastSync = &now
	conn.LastError = ""
	r.mu.Unlock()

	r.logger.Debug("Device synced",
		zap.String("plugin_id", pluginID),
		zap.String("device_id", deviceID),
		zap.Int("readings", len(readings)),
	)
	r.emit(ctx, EventDeviceSynced, pluginID, deviceID, nil, map[string]interface{}{"readings": len(readings)})
	return readings, nil
}

// CommitSync 确认一次同步的读数已处理完毕，插件可推进同步游标
//
// 处理失败时不调用，下一次 SyncDevice 会重新读到同一批数据。
func (r *Registry) CommitSync(pluginID, deviceID string) {
	p, ok := r.GetPlugin(pluginID)
	if !ok {
		return
	}
	if c, ok := p.(SyncCommitter); ok {
		c.CommitSync(deviceID)
	}
}

// GetConnections 插件当前的设备连接（副本，按设备 id 排序）
func (r *Registry) GetConnections(pluginID string) ([]models.DeviceConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[pluginID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotLoaded, pluginID)
	}
	out := make([]models.DeviceConnection, 0, len(e.connections))
	for _, c := range e.connections {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// Shutdown 停止健康监控并卸载全部插件
func (r *Registry) Shutdown(ctx context.Context) error {
	r.StopHealthMonitor()

	var errs error
	for _, meta := range r.GetLoadedPlugins() {
		errs = multierr.Append(errs, r.UnloadPlugin(ctx, meta.ID))
	}
	r.logger.Info("Plugin registry shut down")
	return errs
}

func (r *Registry) loadedEntry(pluginID string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[pluginID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotLoaded, pluginID)
	}
	return e, nil
}

// activeEntry 已加载且不在维护状态的插件
func (r *Registry) activeEntry(pluginID string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[pluginID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotLoaded, pluginID)
	}
	if h, ok := r.health[pluginID]; ok && h.Status == models.HealthMaintenance {
		return nil, fmt.Errorf("%w: %s", ErrPluginInMaintenance, pluginID)
	}
	return e, nil
}

func (r *Registry) setConnectionError(pluginID, deviceID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.plugins[pluginID]
	if !ok {
		return
	}
	if conn, ok := e.connections[deviceID]; ok {
		conn.Status = models.ConnectionError
		conn.LastError = err.Error()
	}
}
