package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "onetimemail/backend/docs" // Swagger docs
	"onetimemail/backend/internal/abuse"
	"onetimemail/backend/internal/config"
	"onetimemail/backend/internal/domain"
	"onetimemail/backend/internal/health"
	"onetimemail/backend/internal/logger"
	"onetimemail/backend/internal/monitoring"
	"onetimemail/backend/internal/pool"
	"onetimemail/backend/internal/service"
	"onetimemail/backend/internal/storage"
	"onetimemail/backend/internal/storage/memory"
	redisstore "onetimemail/backend/internal/storage/redis"
	sqlstore "onetimemail/backend/internal/storage/sql"
	httptransport "onetimemail/backend/internal/transport/http"
	"onetimemail/backend/internal/webhook"
)

// main 启动一次性邮箱 HTTP 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting onetimemail server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}

	// 限流计数器后端：启用 Redis 时使用共享计数器，否则退回存储层
	var counters storage.RateLimitRepository = store
	var redisClient *redisstore.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisstore.New(&cfg.Redis, log)
		if err != nil {
			panic(fmt.Sprintf("failed to connect redis: %v", err))
		}
		counters = redisClient
		log.Info("using redis rate counters", zap.String("address", cfg.Redis.Address))
	}

	// 初始化监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, counters, log)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 风控后台任务池（检测记录落库、自动封禁升级）
	tasks := pool.NewWorkerPool(4, 256, log)
	tasks.Start(ctx)

	// 初始化风控引擎与服务层
	engine := abuse.NewEngine(store, cfg.Abuse, cfg.Inbox.QueryTimeout, tasks, metrics, log)
	inboxService := service.NewInboxService(store, engine, cfg)
	messageService := service.NewMessageService(store)

	// 入站邮件 Webhook 验证器
	pattern := domain.NewAddressPattern(cfg.Inbox.Domain, cfg.Inbox.AddressLen)
	authenticator := webhook.NewAuthenticator(store, counters, pattern, webhook.Options{
		SigningKey:     cfg.Webhook.SigningKey,
		ReplayWindow:   cfg.Webhook.ReplayWindow,
		RateWindow:     cfg.Webhook.RateWindow,
		SenderLimit:    cfg.Webhook.SenderLimit,
		RecipientLimit: cfg.Webhook.RecipientLimit,
		MaxContentSize: cfg.Webhook.MaxContentSize,
	}, log)
	inboundHandler := httptransport.NewInboundHandler(authenticator, &cfg.Webhook, metrics, log)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		InboxService:   inboxService,
		MessageService: messageService,
		InboundHandler: inboundHandler,
		Metrics:        metrics,
		Health:         healthChecker,
		Logger:         log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 定时清理过期邮箱 goroutine。邮箱只存活 10 分钟，清理间隔取 1 分钟
	group.Go(func() error {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		log.Info("starting expired inbox cleanup task", zap.Duration("interval", 1*time.Minute))

		for {
			select {
			case <-groupCtx.Done():
				log.Info("inbox cleanup task stopped")
				return nil
			case <-ticker.C:
				count, err := store.DeleteExpiredInboxes()
				if err != nil {
					log.Error("failed to cleanup expired inboxes", zap.Error(err))
				} else if count > 0 {
					metrics.InboxesExpired.Add(float64(count))
					log.Info("cleaned up expired inboxes", zap.Int("count", count))
				}
			}
		}
	})

	// 定时清理过期封禁条目 goroutine（仅在配置了封禁 TTL 时需要）
	if cfg.Abuse.BlockTTL > 0 {
		group.Go(func() error {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()

			for {
				select {
				case <-groupCtx.Done():
					return nil
				case <-ticker.C:
					count, err := store.DeleteExpiredBlockEntries(time.Now().UTC())
					if err != nil {
						log.Error("failed to cleanup expired block entries", zap.Error(err))
					} else if count > 0 {
						log.Info("cleaned up expired block entries", zap.Int("count", count))
					}
				}
			}
		})
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
			return err
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited with error", zap.Error(err))
	}

	// 收尾：停任务池、断开外部连接
	tasks.Stop()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if err := store.Close(); err != nil {
		log.Warn("failed to close storage", zap.Error(err))
	}

	log.Info("server stopped")
	_ = log.Sync()
}
