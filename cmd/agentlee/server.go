package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leesite/agentlee/agent/content"
	"github.com/leesite/agentlee/agent/conversation"
	"github.com/leesite/agentlee/agent/memory"
	"github.com/leesite/agentlee/agent/persistence"
	"github.com/leesite/agentlee/api/handlers"
	"github.com/leesite/agentlee/config"
	"github.com/leesite/agentlee/internal/metrics"
	"github.com/leesite/agentlee/internal/server"
	"github.com/leesite/agentlee/internal/telemetry"
)

// poolStatsInterval SQL 连接池指标的采样间隔
const poolStatsInterval = 15 * time.Second

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 Agent Lee 的主服务器
type Server struct {
	cfg      *config.Config
	loader   *config.Loader
	logger   *zap.Logger
	logLevel zap.AtomicLevel

	registry         *prometheus.Registry
	metricsCollector *metrics.Collector
	telemetry        *telemetry.Providers

	training *memory.TrainingSystem
	convo    *conversation.Manager

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler    *handlers.HealthHandler
	assistantHandler *handlers.AssistantHandler

	// 可热更新的中间件
	apiKeyAuth  *APIKeyAuth
	cors        *CORS
	rateLimiter *RateLimiter

	hotReloadManager *config.HotReloadManager

	// 后台任务（限流清理、连接池采样）
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	shutdownOnce sync.Once
}

// NewServer 创建新的服务器实例；loader 带有配置文件路径时启用热更新
func NewServer(cfg *config.Config, loader *config.Loader, logger *zap.Logger, level zap.AtomicLevel) *Server {
	return &Server{
		cfg:      cfg,
		loader:   loader,
		logger:   logger,
		logLevel: level,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// 1. 遥测与指标
	providers, err := telemetry.Init(ctx, s.cfg.Telemetry, Version, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = providers

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metricsCollector = metrics.NewCollector("agentlee", s.registry, s.logger)

	// 2. 存储与训练系统
	if err := s.initTraining(ctx, bgCtx); err != nil {
		return fmt.Errorf("failed to init training system: %w", err)
	}

	// 3. Handlers
	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	// 4. 热更新
	if err := s.initHotReloadManager(bgCtx); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	// 5. HTTP 服务器
	if err := s.startHTTPServer(bgCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.loader.ConfigPath() != ""),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initTraining 打开存储、恢复训练状态、导入启动内容并启动整合调度
func (s *Server) initTraining(ctx, bgCtx context.Context) error {
	store, err := persistence.Open(ctx, s.cfg.Store, s.logger)
	if err != nil {
		return err
	}
	store = persistence.Instrument(store, s.metricsCollector)

	ts, err := memory.NewTrainingSystem(s.cfg.Memory, store, s.metricsCollector, s.logger)
	if err != nil {
		_ = store.Close()
		return err
	}
	s.training = ts

	report, err := ts.Load(ctx)
	if err != nil {
		// 已保存的数据读不出来时以空状态运行，写入仍会落盘
		s.logger.Error("failed to load training state, starting empty", zap.Error(err))
	} else {
		s.logger.Info("training state restored",
			zap.Int("knowledge", report.Knowledge),
			zap.Int("memories", report.Memories),
		)
	}

	for _, path := range s.cfg.Server.TrainingFiles {
		doc, err := content.LoadFile(ctx, path)
		if err != nil {
			s.logger.Warn("skipping training file", zap.String("path", path), zap.Error(err))
			continue
		}
		n := ts.TrainFromContent(ctx, doc)
		s.logger.Info("trained from file", zap.String("path", path), zap.Int("items", n))
	}

	if err := ts.Start(bgCtx); err != nil {
		return err
	}

	s.convo, err = conversation.NewManager(s.cfg.Conversation, store, s.logger)
	if err != nil {
		return err
	}

	if _, ok := persistence.PoolStatsOf(store); ok {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.samplePoolStats(bgCtx, store)
		}()
	}
	return nil
}

// samplePoolStats 周期记录 SQL 连接池状态
func (s *Server) samplePoolStats(ctx context.Context, store persistence.Store) {
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		if stats, ok := persistence.PoolStatsOf(store); ok {
			s.metricsCollector.RecordDBConnections(stats)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() error {
	s.healthHandler = handlers.NewHealthHandler(Version, s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("store", s.training.Ping))

	s.assistantHandler = handlers.NewAssistantHandler(s.training, s.convo, s.cfg.Server.FallbackResponse, s.logger)

	s.apiKeyAuth = NewAPIKeyAuth(s.cfg.Server.APIKeys, handlers.AdminPaths, s.logger)
	if len(s.cfg.Server.APIKeys) == 0 {
		s.logger.Warn("no API keys configured, admin endpoints are unauthenticated")
	}
	s.cors = NewCORS(s.cfg.Server.CORSAllowedOrigins)
	s.rateLimiter = NewRateLimiter(s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst, s.metricsCollector.RecordRateLimited, s.logger)

	s.logger.Info("handlers initialized")
	return nil
}

// initHotReloadManager 初始化热更新管理器
func (s *Server) initHotReloadManager(ctx context.Context) error {
	s.hotReloadManager = config.NewHotReloadManager(s.cfg, s.loader,
		config.WithHotReloadLogger(s.logger),
	)

	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		if change.RequiresRestart {
			s.logger.Warn("configuration change requires restart", zap.String("path", change.Path))
		}
	})
	s.hotReloadManager.OnReload(s.applyConfig)

	return s.hotReloadManager.Start(ctx)
}

// applyConfig 把可热更新的字段应用到运行中的组件
func (s *Server) applyConfig(oldConfig, newConfig *config.Config) {
	s.logLevel.SetLevel(parseLevel(newConfig.Log.Level))
	s.rateLimiter.SetLimits(newConfig.RateLimit.RPS, newConfig.RateLimit.Burst)
	s.assistantHandler.SetFallbackResponse(newConfig.Server.FallbackResponse)
	s.cors.SetOrigins(newConfig.Server.CORSAllowedOrigins)
	s.apiKeyAuth.SetKeys(newConfig.Server.APIKeys)

	s.logger.Info("configuration reloaded",
		zap.String("log_level", newConfig.Log.Level),
		zap.Float64("rate_limit_rps", newConfig.RateLimit.RPS),
		zap.Int("api_keys", len(newConfig.Server.APIKeys)),
	)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册全部路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(BuildTime, GitCommit))

	s.assistantHandler.Register(mux)

	// 未配置独立端口时 /metrics 挂在 API 端口上
	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("GET /metrics", s.metricsHandler())
	}
	return mux
}

// handler 构建带中间件链的根 handler
func (s *Server) handler(ctx context.Context) http.Handler {
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		s.cors.Middleware(),
	}
	if s.cfg.RateLimit.Enabled {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.rateLimiter.Run(ctx, s.cfg.RateLimit.CleanupInterval)
		}()
		middlewares = append(middlewares, s.rateLimiter.Middleware())
	}
	middlewares = append(middlewares, s.apiKeyAuth.Middleware())

	return Chain(s.routes(), middlewares...)
}

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer(ctx context.Context) error {
	serverConfig := server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(s.handler(ctx), serverConfig, s.logger)
	return s.httpManager.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// startMetricsServer 在独立端口暴露 /metrics；MetricsPort 为 0 时跳过
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.metricsHandler())

	serverConfig := server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞直到 ctx 结束（收到信号）或任一服务器异常退出
func (s *Server) Wait(ctx context.Context) error {
	if s.metricsManager == nil {
		return s.httpManager.Wait(ctx)
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.httpManager.Errors():
		return fmt.Errorf("api server exited: %w", err)
	case err := <-s.metricsManager.Errors():
		return fmt.Errorf("metrics server exited: %w", err)
	}
}

// Shutdown 按启动的逆序优雅关闭所有服务，可重复调用
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.logger.Info("starting graceful shutdown")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. 停止热更新管理器
	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("hot reload manager shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 HTTP 与 Metrics 服务器
	var errs []error
	if s.httpManager != nil {
		errs = append(errs, s.httpManager.Shutdown(ctx))
	}
	if s.metricsManager != nil {
		errs = append(errs, s.metricsManager.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("server shutdown error", zap.Error(err))
	}

	// 3. 停止后台任务
	if s.bgCancel != nil {
		s.bgCancel()
	}
	s.wg.Wait()

	// 4. 停止整合调度并关闭存储
	if s.training != nil {
		if err := s.training.Close(); err != nil {
			s.logger.Error("store close error", zap.Error(err))
		}
	}

	// 5. 刷新遥测数据
	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Error("telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("graceful shutdown completed")
}
