package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/streamgate/abort"
	"github.com/BaSui01/streamgate/api/handlers"
	"github.com/BaSui01/streamgate/config"
	"github.com/BaSui01/streamgate/conversation"
	"github.com/BaSui01/streamgate/execution/loopback"
	"github.com/BaSui01/streamgate/internal/cache"
	"github.com/BaSui01/streamgate/internal/database"
	"github.com/BaSui01/streamgate/internal/metrics"
	"github.com/BaSui01/streamgate/internal/server"
	"github.com/BaSui01/streamgate/internal/telemetry"
	"github.com/BaSui01/streamgate/liveness"
	"github.com/BaSui01/streamgate/sandbox"
	"github.com/BaSui01/streamgate/stream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 是 streamgate 的主服务器，持有所有长生命周期组件
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	collector   *metrics.Collector
	telemetry   *telemetry.Providers
	cache       *cache.Manager
	pool        *database.PoolManager
	coordinator *stream.Coordinator

	rateLimiterCancel context.CancelFunc
	drainOnce         sync.Once
}

// NewServer 按配置装配全部组件。失败时已创建的资源会被释放。
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logger,
	}
	if err := s.init(ctx); err != nil {
		s.release(context.WithoutCancel(ctx))
		return nil, err
	}

	logger.Info("Server initialized",
		zap.String("http_addr", cfg.Server.HTTPAddr()),
		zap.String("metrics_addr", cfg.Server.MetricsAddr()),
		zap.String("database", cfg.Database.Driver),
		zap.Bool("sandbox_enabled", cfg.Sandbox.Enabled),
		zap.Bool("telemetry_enabled", s.telemetry.Enabled()),
	)
	return s, nil
}

func (s *Server) init(ctx context.Context) error {
	cfg, logger := s.cfg, s.logger
	var err error

	// 1. 指标与遥测
	s.collector = metrics.NewCollector("streamgate", logger)
	s.telemetry, err = telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}

	// 2. 存活记录存储
	s.cache, err = cache.NewManager(cacheConfig(cfg.Redis), logger)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	store := liveness.NewRedisStore(s.cache, cfg.Redis.KeyPrefix, logger)

	// 3. 会话数据库
	apps, turns, err := s.initDatabase(ctx)
	if err != nil {
		return err
	}

	// 4. 流协调器
	s.coordinator, err = s.initCoordinator(store, apps, turns)
	if err != nil {
		return err
	}

	// 5. HTTP
	s.initHTTP(apps)
	return nil
}

func (s *Server) initDatabase(ctx context.Context) (*conversation.GormAppStore, *conversation.GormStore, error) {
	db, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return nil, nil, err
	}

	driver := s.cfg.Database.Driver
	s.pool, err = database.NewPoolManager(db, database.PoolConfigFrom(s.cfg.Database), s.logger,
		database.WithStatsReporter(func(st database.PoolStats) {
			s.collector.RecordDBConnections(driver, st.OpenConnections, st.Idle)
		}),
	)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, nil, fmt.Errorf("failed to init connection pool: %w", err)
	}
	if err := s.pool.Ping(ctx); err != nil {
		return nil, nil, fmt.Errorf("database unreachable: %w", err)
	}

	apps := conversation.NewGormAppStore(s.pool.DB(), s.logger)
	turns := conversation.NewGormStore(s.pool.DB(), s.logger)
	if s.cfg.Database.AutoMigrate {
		if err := apps.AutoMigrate(); err != nil {
			return nil, nil, err
		}
		if err := turns.AutoMigrate(); err != nil {
			return nil, nil, err
		}
		s.logger.Info("Database schema auto-migrated")
	}
	return apps, turns, nil
}

func (s *Server) initCoordinator(store liveness.Store, apps conversation.AppStore, turns stream.ConversationStore) (*stream.Coordinator, error) {
	var provider stream.Provider
	switch s.cfg.Execution.Provider {
	case "", "loopback":
		provider = loopback.New(loopbackConfig(s.cfg.Execution.Loopback), s.logger)
	default:
		return nil, fmt.Errorf("unsupported execution provider: %s", s.cfg.Execution.Provider)
	}

	opts := []stream.Option{
		stream.WithConversationStore(turns),
		stream.WithMetrics(s.collector),
		stream.WithTracer(s.telemetry.Tracer("github.com/BaSui01/streamgate/stream")),
		stream.WithRetryExecutor(newRetryExecutor(s.cfg.Retry, "provider.start", s.collector, s.logger)),
	}
	if s.cfg.Sandbox.Enabled {
		client := sandbox.NewClient(sandboxConfig(s.cfg.Sandbox),
			newRetryExecutor(s.cfg.Retry, "sandbox", s.collector, s.logger), s.logger)
		opts = append(opts, stream.WithWorkspace(sandbox.NewWorkspace(client, apps)))
	}

	coord, err := stream.NewCoordinator(streamConfig(s.cfg.Stream), store, abort.NewRegistry(s.logger), provider, s.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream coordinator: %w", err)
	}
	return coord, nil
}

func (s *Server) initHTTP(apps conversation.AppStore) {
	health := handlers.NewHealthHandler(s.logger).WithVersion(Version)
	health.RegisterCheck(handlers.NewRedisHealthCheck(s.cache.Ping))
	health.RegisterCheck(handlers.NewDatabaseHealthCheck(s.pool.Ping))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.HandleHealth)
	mux.HandleFunc("/healthz", health.HandleHealthz)
	mux.HandleFunc("/ready", health.HandleReady)
	mux.HandleFunc("/readyz", health.HandleReady)
	mux.HandleFunc("/version", health.HandleVersion(Version, BuildTime, GitCommit))
	handlers.NewStreamHandler(s.coordinator, apps, s.logger).Register(mux)

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(s.telemetry.Tracer("github.com/BaSui01/streamgate/http")),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	s.httpManager = server.NewManager(handler, apiServerConfig(s.cfg.Server), s.logger)
	// 关闭时先中止所有运行中的流，让 SSE 连接得以收尾
	s.httpManager.OnShutdown(s.drain)

	if addr := s.cfg.Server.MetricsAddr(); addr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		s.metricsManager = server.NewManager(metricsMux, metricsServerConfig(s.cfg.Server), s.logger)
	}
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run 启动所有监听并阻塞，直到 ctx 结束或某个服务异常退出
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Run(gctx) })
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)

	err := g.Wait()
	s.logger.Info("Starting graceful shutdown...")

	bg := context.WithoutCancel(ctx)
	s.drain()
	s.release(bg)

	s.logger.Info("Graceful shutdown completed")
	return err
}

// drain 中止所有运行中的流并等待其落盘，最长等待 ShutdownTimeout
func (s *Server) drain() {
	s.drainOnce.Do(func() {
		if s.coordinator == nil {
			return
		}
		timeout := s.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.coordinator.Shutdown(ctx); err != nil {
			s.logger.Warn("Stream runs did not finish before shutdown timeout",
				zap.Int("active_runs", s.coordinator.ActiveRuns()),
				zap.Error(err),
			)
		}
	})
}

// release 按创建的逆序释放资源
func (s *Server) release(ctx context.Context) {
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	var errs []error
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if s.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.telemetry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
		cancel()
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Resource cleanup failed", zap.Error(err))
	}
}
