// 配置热重载管理器实现。
//
// 配置文件变化时重新加载、校验并通知回调，回调失败时回滚。
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HotReloadManager 管理配置热重载
type HotReloadManager struct {
	mu sync.RWMutex

	config *Config
	loader *Loader

	// 回滚支持
	previousConfig *Config
	version        int
	validateFunc   ValidateFunc

	watcher *FileWatcher

	changeCallbacks []ChangeCallback
	reloadCallbacks []ReloadCallback

	changeLog []ConfigChange

	logger *zap.Logger

	running bool
	cancel  context.CancelFunc
}

// ChangeCallback 配置字段变化时调用
type ChangeCallback func(change ConfigChange)

// ReloadCallback 新配置生效后调用；panic 会触发回滚
type ReloadCallback func(oldConfig, newConfig *Config)

// ValidateFunc 应用前的额外校验
type ValidateFunc func(newConfig *Config) error

// ConfigChange 代表一次字段变更
type ConfigChange struct {
	Timestamp       time.Time `json:"timestamp"`
	Source          string    `json:"source"`
	Path            string    `json:"path"`
	OldValue        any       `json:"old_value,omitempty"`
	NewValue        any       `json:"new_value,omitempty"`
	RequiresRestart bool      `json:"requires_restart"`
}

// HotReloadableField 描述一个可热更新字段
type HotReloadableField struct {
	Path        string
	Description string
	Sensitive   bool
}

// hotReloadableFields 运行时可直接生效的字段，其余字段变更需要重启
var hotReloadableFields = map[string]HotReloadableField{
	"Log.Level":                 {Path: "Log.Level", Description: "Log level (debug, info, warn, error)"},
	"RateLimit.RPS":             {Path: "RateLimit.RPS", Description: "Requests per second per client"},
	"RateLimit.Burst":           {Path: "RateLimit.Burst", Description: "Burst size per client"},
	"Server.FallbackResponse":   {Path: "Server.FallbackResponse", Description: "Reply used when nothing matches"},
	"Server.CORSAllowedOrigins": {Path: "Server.CORSAllowedOrigins", Description: "Allowed CORS origins"},
	"Server.APIKeys":            {Path: "Server.APIKeys", Description: "Admin API keys", Sensitive: true},
}

// sensitivePaths 不在日志中输出值的字段
var sensitivePaths = map[string]bool{
	"Server.APIKeys":       true,
	"Store.Redis.Password": true,
	"Store.SQL.DSN":        true,
	"Store.Mongo.URI":      true,
}

// IsHotReloadable 判断字段变更是否无需重启
func IsHotReloadable(path string) bool {
	_, ok := hotReloadableFields[path]
	return ok
}

// HotReloadOption 配置 HotReloadManager
type HotReloadOption func(*HotReloadManager)

// WithHotReloadLogger 设置记录器
func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithValidateFunc 设置配置验证钩子
func WithValidateFunc(fn ValidateFunc) HotReloadOption {
	return func(m *HotReloadManager) {
		m.validateFunc = fn
	}
}

// NewHotReloadManager 创建热重载管理器；loader 决定重载时的文件路径与环境变量前缀
func NewHotReloadManager(cfg *Config, loader *Loader, opts ...HotReloadOption) *HotReloadManager {
	m := &HotReloadManager{
		config:  cfg,
		loader:  loader,
		version: 1,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "config_reload"))
	return m
}

// Start 启动文件监听；没有配置文件时什么都不做
func (m *HotReloadManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hot reload manager already running")
	}
	if m.loader == nil || m.loader.ConfigPath() == "" {
		return nil
	}

	wctx, cancel := context.WithCancel(ctx)
	watcher, err := NewFileWatcher(
		[]string{m.loader.ConfigPath()},
		WithWatcherLogger(m.logger),
		WithDebounceDelay(500*time.Millisecond),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	watcher.OnChange(m.handleFileChange)
	if err := watcher.Start(wctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start file watcher: %w", err)
	}

	m.watcher = watcher
	m.cancel = cancel
	m.running = true
	m.logger.Info("hot reload manager started", zap.String("config_path", m.loader.ConfigPath()))
	return nil
}

// Stop 停止文件监听
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.cancel()
	if err := m.watcher.Stop(); err != nil {
		m.logger.Error("failed to stop file watcher", zap.Error(err))
	}
	m.running = false
	return nil
}

func (m *HotReloadManager) handleFileChange(event FileEvent) {
	if event.Op != FileOpWrite && event.Op != FileOpCreate {
		return
	}
	if err := m.Reload(); err != nil {
		m.logger.Error("failed to reload configuration", zap.Error(err))
	}
}

// Reload 通过 loader 重新加载并应用配置；失败时保留当前配置
func (m *HotReloadManager) Reload() error {
	if m.loader == nil {
		return fmt.Errorf("no loader configured")
	}
	newConfig, err := m.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return m.ApplyConfig(newConfig, "file")
}

// ApplyConfig 应用新配置。校验、替换与变更记录在同一把锁内完成，回调在锁外执行
func (m *HotReloadManager) ApplyConfig(newConfig *Config, source string) error {
	m.mu.Lock()
	if m.validateFunc != nil {
		if err := m.validateFunc(newConfig); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	oldConfig := m.config
	changes := detectChanges(oldConfig, newConfig)
	now := time.Now()
	requiresRestart := false
	for i := range changes {
		changes[i].Source = source
		changes[i].Timestamp = now
		changes[i].RequiresRestart = !IsHotReloadable(changes[i].Path)
		requiresRestart = requiresRestart || changes[i].RequiresRestart
		if sensitivePaths[changes[i].Path] {
			changes[i].OldValue = "[REDACTED]"
			changes[i].NewValue = "[REDACTED]"
		}
		m.logChange(changes[i])
	}

	m.previousConfig = deepCopyConfig(oldConfig)
	m.config = newConfig
	m.version++
	m.changeLog = append(m.changeLog, changes...)
	if len(m.changeLog) > 1000 {
		m.changeLog = m.changeLog[len(m.changeLog)-1000:]
	}

	changeCallbacks := append([]ChangeCallback(nil), m.changeCallbacks...)
	reloadCallbacks := append([]ReloadCallback(nil), m.reloadCallbacks...)
	m.mu.Unlock()

	if err := notifyCallbacksSafe(changeCallbacks, reloadCallbacks, oldConfig, newConfig, changes); err != nil {
		m.mu.Lock()
		if m.config == newConfig {
			m.logger.Error("reload callback failed, rolling back", zap.Error(err))
			m.config = oldConfig
			m.version++
		}
		m.mu.Unlock()
		return fmt.Errorf("config applied but callback failed: %w", err)
	}

	if requiresRestart {
		m.logger.Warn("some configuration changes require restart to take effect")
	}
	m.logger.Info("configuration reloaded", zap.Int("changes", len(changes)), zap.Int("version", m.Version()))
	return nil
}

func notifyCallbacksSafe(changeCallbacks []ChangeCallback, reloadCallbacks []ReloadCallback, oldConfig, newConfig *Config, changes []ConfigChange) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	for _, cb := range changeCallbacks {
		for _, change := range changes {
			cb(change)
		}
	}
	for _, cb := range reloadCallbacks {
		cb(oldConfig, newConfig)
	}
	return nil
}

// detectChanges 逐字段比较新旧配置
func detectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}
		oldField, newField := oldVal.Field(i), newVal.Field(i)
		if oldField.Kind() == reflect.Struct {
			compareStructs(path, oldField, newField, changes)
			continue
		}
		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:     path,
				OldValue: oldField.Interface(),
				NewValue: newField.Interface(),
			})
		}
	}
}

func (m *HotReloadManager) logChange(change ConfigChange) {
	fields := []zap.Field{
		zap.String("path", change.Path),
		zap.String("source", change.Source),
		zap.Bool("requires_restart", change.RequiresRestart),
	}
	if !sensitivePaths[change.Path] {
		fields = append(fields, zap.Any("old_value", change.OldValue), zap.Any("new_value", change.NewValue))
	}
	m.logger.Info("configuration changed", fields...)
}

// deepCopyConfig 深拷贝配置（通过 JSON 序列化/反序列化）
func deepCopyConfig(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var copied Config
	if err := json.Unmarshal(data, &copied); err != nil {
		return cfg
	}
	return &copied
}

// OnChange 注册字段变更回调
func (m *HotReloadManager) OnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeCallbacks = append(m.changeCallbacks, callback)
}

// OnReload 注册重载回调
func (m *HotReloadManager) OnReload(callback ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCallbacks = append(m.reloadCallbacks, callback)
}

// Rollback 恢复到上一次成功应用前的配置
func (m *HotReloadManager) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.previousConfig == nil {
		return fmt.Errorf("no previous config to roll back to")
	}
	m.config, m.previousConfig = m.previousConfig, nil
	m.version++
	m.logger.Warn("configuration rolled back", zap.Int("version", m.version))
	return nil
}

// GetConfig 返回当前配置
func (m *HotReloadManager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Version 返回配置版本号，每次应用或回滚递增
func (m *HotReloadManager) Version() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// GetChangeLog 返回最近 limit 条变更，limit<=0 返回全部
func (m *HotReloadManager) GetChangeLog(limit int) []ConfigChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := 0
	if limit > 0 && len(m.changeLog) > limit {
		start = len(m.changeLog) - limit
	}
	return append([]ConfigChange(nil), m.changeLog[start:]...)
}
