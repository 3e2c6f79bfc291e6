package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/api"
	"github.com/MorseWayne/stock_ledger/internal/cache"
	"github.com/MorseWayne/stock_ledger/internal/config"
	"github.com/MorseWayne/stock_ledger/internal/database"
	"github.com/MorseWayne/stock_ledger/internal/limiter"
	"github.com/MorseWayne/stock_ledger/internal/logger"
	mw "github.com/MorseWayne/stock_ledger/internal/middleware"
	"github.com/MorseWayne/stock_ledger/internal/mq"
	"github.com/MorseWayne/stock_ledger/internal/repo"
	"github.com/MorseWayne/stock_ledger/internal/resp"
	"github.com/MorseWayne/stock_ledger/internal/service"
)

// AppDependencies 包含应用的所有依赖
type AppDependencies struct {
	LedgerHandler *api.LedgerHandler
	BatchHandler  *api.BatchHandler
	JWTService    service.JWTService
}

// initConfigAndLogger 初始化配置和日志器
func initConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %v", err)
	}

	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, cfg.App.Name, cfg.App.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %v", err)
	}

	return cfg, lg, nil
}

// initDatabase 初始化数据库连接并执行迁移
func initDatabase(cfg *config.Config, lg *zap.Logger) (*database.DB, error) {
	db, err := database.New(cfg, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}

	// 在HTTP服务器启动前执行迁移，保证处理请求时表结构已就绪
	migrationsDir := cfg.Migrations.Dir
	lg.Sugar().Infow("using migrations directory", "path", migrationsDir)

	if err := db.RunMigrations(migrationsDir); err != nil {
		return nil, fmt.Errorf("failed to run database migrations: %v", err)
	}

	return db, nil
}

// initCache 初始化缓存实例
func initCache(cfg *config.Config, lg *zap.Logger) cache.Cache {
	if !cfg.Cache.Enabled {
		lg.Sugar().Infow("cache disabled")
		return cache.NewNullCache()
	}

	switch cfg.Cache.Type {
	case "redis":
		redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		redisCache, err := cache.NewRedisCache(redisAddr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			lg.Sugar().Warnw("failed to connect to Redis, falling back to memory cache", "error", err)
			lg.Sugar().Infow("cache enabled", "type", "memory (fallback)", "ttl", cfg.Cache.TTL)
			return cache.NewMemoryCache()
		}
		lg.Sugar().Infow("cache enabled", "type", "redis", "addr", redisAddr, "ttl", cfg.Cache.TTL)
		return redisCache
	case "memory":
		lg.Sugar().Infow("cache enabled", "type", "memory", "ttl", cfg.Cache.TTL)
		return cache.NewMemoryCache()
	default:
		lg.Sugar().Warnw("unknown cache type, using memory cache", "type", cfg.Cache.Type)
		return cache.NewMemoryCache()
	}
}

// initEventPublisher 初始化流水事件发布器（可选）
func initEventPublisher(cfg *config.Config, lg *zap.Logger) (service.MovementPublisher, func()) {
	if !cfg.MQ.Enabled {
		lg.Sugar().Infow("movement event publishing disabled")
		return nil, func() {}
	}

	conn, err := mq.Connect(cfg.MQ.URL, lg)
	if err != nil {
		lg.Sugar().Warnw("failed to connect to RabbitMQ, movement events disabled", "error", err)
		return nil, func() {}
	}

	publisher, err := mq.NewMovementPublisher(conn, cfg.MQ.Exchange, lg)
	if err != nil {
		lg.Sugar().Warnw("failed to set up movement publisher, movement events disabled", "error", err)
		_ = conn.Close()
		return nil, func() {}
	}

	lg.Sugar().Infow("movement event publishing enabled", "exchange", cfg.MQ.Exchange)
	return publisher, func() {
		if err := conn.Close(); err != nil {
			lg.Sugar().Errorw("failed to close RabbitMQ connection", "error", err)
		}
	}
}

// initDependencies 初始化应用依赖（仓储、服务、处理器）
func initDependencies(cfg *config.Config, db *database.DB, cacheInstance cache.Cache, events service.MovementPublisher, lg *zap.Logger) *AppDependencies {
	// 依赖注入链：仓储 -> 服务 -> API处理器
	txScope := repo.NewTxScope(db.DB)
	batchRepo := repo.NewProductBatchRepository(db.DB)
	inventoryReader := repo.NewInventoryReader(db.DB)
	movementReader := repo.NewMovementReader(db.DB)

	var snapshotCache *cache.InventorySnapshotCache
	var readCache service.SnapshotCache
	var invalidator service.SnapshotInvalidator
	if cfg.Cache.Enabled {
		snapshotCache = cache.NewInventorySnapshotCache(cacheInstance, cfg.Cache.TTL)
		readCache = snapshotCache
		invalidator = snapshotCache
	}

	ledgerService := service.NewLedgerService(txScope, batchRepo, events, invalidator, cfg.Idempotency.Retention, lg)
	queryService := service.NewInventoryQueryService(inventoryReader, movementReader, readCache, lg)
	batchService := service.NewProductBatchService(batchRepo)
	jwtService := service.NewJWTService(cfg, lg)

	return &AppDependencies{
		LedgerHandler: api.NewLedgerHandler(ledgerService, queryService, lg),
		BatchHandler:  api.NewBatchHandler(batchService, lg),
		JWTService:    jwtService,
	}
}

// setupRoutes 设置路由和中间件
func setupRoutes(cfg *config.Config, deps *AppDependencies, lg *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		reqID := mw.RequestIDFromContext(r.Context())
		data := map[string]any{
			"status":  "ok",
			"version": cfg.App.Version,
		}
		resp.OK(w, &data, reqID, "")
	})

	authMiddleware := mw.AuthMiddleware(deps.JWTService, lg)
	mutation := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(mw.IdempotencyKey(postOnly(h)))
	}

	// 台账操作（需要认证，携带幂等键）
	mux.Handle("/api/v1/ledger/receive", mutation(deps.LedgerHandler.Receive))
	mux.Handle("/api/v1/ledger/dispatch", mutation(deps.LedgerHandler.Dispatch))
	mux.Handle("/api/v1/ledger/transfer", mutation(deps.LedgerHandler.Transfer))
	mux.Handle("/api/v1/ledger/reserve", mutation(deps.LedgerHandler.Reserve))
	mux.Handle("/api/v1/ledger/release", mutation(deps.LedgerHandler.Release))

	// 台账查询（无需认证）
	mux.HandleFunc("/api/v1/inventory", getOnly(deps.LedgerHandler.GetInventory))
	mux.HandleFunc("/api/v1/inventory/by-location", getOnly(deps.LedgerHandler.ListByLocation))
	mux.HandleFunc("/api/v1/inventory/by-batch", getOnly(deps.LedgerHandler.ListByBatch))
	mux.HandleFunc("/api/v1/movements", getOnly(deps.LedgerHandler.ListMovements))
	mux.HandleFunc("/api/v1/movements/by-reference", getOnly(deps.LedgerHandler.ListMovementsByReference))

	// 批次查询（无需认证）
	mux.HandleFunc("/api/v1/batches", getOnly(deps.BatchHandler.List))
	mux.HandleFunc("/api/v1/batches/", getOnly(deps.BatchHandler.Get))

	// 管理员API：批次注册与盘点调整（需要认证）
	mux.Handle("/api/v1/admin/batches", authMiddleware(postOnly(deps.BatchHandler.Create)))
	mux.Handle("/api/v1/admin/ledger/adjust", mutation(deps.LedgerHandler.Adjust))

	// 中间件链：请求进入时执行顺序为 access log → rate limit → timeout → recovery → request ID
	handler := mw.RequestID(mux)
	handler = mw.Recovery(lg)(handler)
	handler = mw.Timeout(cfg.App.RequestTimeout)(handler)
	if cfg.RateLimit.Enabled {
		handler = setupRateLimit(cfg, lg)(handler)
	}
	handler = mw.AccessLog(lg)(handler)

	return handler
}

// setupRateLimit 构建基于Redis令牌桶的限流中间件。
func setupRateLimit(cfg *config.Config, lg *zap.Logger) func(http.Handler) http.Handler {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	tb := limiter.NewTokenBucketLimiter(client, &limiter.Config{
		Rate:   cfg.RateLimit.Rate,
		Burst:  cfg.RateLimit.Burst,
		Window: cfg.RateLimit.Window,
	})
	lg.Sugar().Infow("rate limiting enabled",
		"rate", cfg.RateLimit.Rate,
		"burst", cfg.RateLimit.Burst,
		"window", cfg.RateLimit.Window,
	)
	return limiter.Middleware(tb, limiter.IPKeyFunc, lg)
}

// startIdempotencyPruner 启动幂等记录的后台清理任务。
func startIdempotencyPruner(ctx context.Context, cfg *config.Config, db *database.DB, lg *zap.Logger) {
	store := repo.NewIdempotencyPruner(db.DB)
	ticker := time.NewTicker(cfg.Idempotency.PruneInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pruned, err := store.PruneExpired(ctx, time.Now().UTC())
				if err != nil {
					lg.Sugar().Warnw("failed to prune expired idempotency records", "error", err)
					continue
				}
				if pruned > 0 {
					lg.Sugar().Infow("pruned expired idempotency records", "count", pruned)
				}
			}
		}
	}()
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return methodOnly(http.MethodGet, h)
}

func postOnly(h http.HandlerFunc) http.Handler {
	return methodOnly(http.MethodPost, h)
}

func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// startServer 启动服务器并处理优雅关闭
func startServer(cfg *config.Config, handler http.Handler, lg *zap.Logger) {
	addr := fmt.Sprintf(":%d", cfg.App.Port)
	lg.Sugar().Infow("server starting", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	select {
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			lg.Sugar().Fatalw("server error", "err", err)
		}
	case <-quit:
		lg.Sugar().Infow("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Sugar().Errorw("server shutdown error", "err", err)
	}
	lg.Sugar().Infow("server exited")
}

// main 为应用入口，协调各个组件的初始化和启动
func main() {
	// 1) 加载配置和初始化日志
	cfg, lg, err := initConfigAndLogger()
	if err != nil {
		log.Fatalf("failed to initialize config and logger: %v", err)
	}

	// 2) 初始化数据库连接并执行迁移
	db, err := initDatabase(cfg, lg)
	if err != nil {
		lg.Sugar().Fatalw("failed to initialize database", "err", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			lg.Sugar().Errorw("failed to close database connection", "err", err)
		}
	}()

	// 3) 初始化缓存
	cacheInstance := initCache(cfg, lg)

	// 4) 初始化流水事件发布器（可选）
	events, closeEvents := initEventPublisher(cfg, lg)
	defer closeEvents()

	// 5) 初始化应用依赖（仓储、服务、处理器）
	deps := initDependencies(cfg, db, cacheInstance, events, lg)

	// 6) 启动幂等记录后台清理
	prunerCtx, stopPruner := context.WithCancel(context.Background())
	defer stopPruner()
	startIdempotencyPruner(prunerCtx, cfg, db, lg)

	// 7) 设置路由和中间件
	handler := setupRoutes(cfg, deps, lg)

	// 8) 启动 HTTP 服务器
	startServer(cfg, handler, lg)
}
