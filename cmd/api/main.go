package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"lostfound/internal/core/auth"
	"lostfound/internal/core/cache"
	"lostfound/internal/core/config"
	"lostfound/internal/core/database"
	"lostfound/internal/core/logger"
	"lostfound/internal/core/server"
	"lostfound/internal/domain"
	"lostfound/internal/identity"
	"lostfound/internal/items"
	"lostfound/internal/realtime"
	"lostfound/internal/repo"
	"lostfound/internal/session"
	"lostfound/internal/storage"
	"lostfound/internal/transport/http/router"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load(os.Getenv("CONFIG_PATH"))

	log, cleanup := logger.New(logger.Options{
		Level: cfg.Log.Level,
		JSON:  cfg.Log.JSON,
		Rotate: logger.FileRotate{
			Enable:     cfg.Log.File.Enable,
			Filename:   cfg.Log.File.Filename,
			MaxSizeMB:  cfg.Log.File.MaxSizeMB,
			MaxBackups: cfg.Log.File.MaxBackups,
			MaxAgeDays: cfg.Log.File.MaxAgeDays,
			Compress:   cfg.Log.File.Compress,
		},
	})
	defer cleanup()
	undo := logger.RedirectStdLog(log, zapcore.InfoLevel)
	defer undo()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB 连接（失败直接 Fatal）
	db := mustOpenDB(cfg, log)
	log.Info("database connected", zap.String("driver", cfg.DB.Driver))
	if cfg.DB.AutoMigrate {
		models := append([]any{&domain.User{}, &domain.Item{}, &identity.Account{}}, storage.Models()...)
		if err := db.AutoMigrate(models...); err != nil {
			log.Fatal("auto migrate", zap.Error(err))
		}
	}

	// Redis：会话 / 对象缓存 / 变更广播都走它
	cch := cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix)
	defer func() { _ = cch.Close() }()
	if err := cch.Ping(rootCtx); err != nil {
		log.Fatal("redis ping", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	// 依赖
	feed := realtime.New(cch.R, cch.Key("items", "feed"), log)
	jwter := auth.JWTer{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
		TTL:    time.Duration(cfg.JWT.AccessTokenTTLMin) * time.Minute,
	}
	provider := identity.NewService(db, cch, jwter, cfg.Auth, log)
	profiles := repo.NewProfileRepo(db)
	sessions := session.NewManager(provider, profiles, cfg.Auth.AdminCode, log)
	itemCache := items.NewCache(repo.NewItemRepo(db, feed), feed, log)
	store := storage.NewService(db, cch, cfg.Storage, log)

	// 预热快照；失败会降级到演示数据，不拦着启动
	if err := itemCache.Reload(rootCtx); err != nil {
		log.Warn("initial item load failed, serving fallback data", zap.Error(err))
	}
	go runLoop(rootCtx, "session events", sessions.Run, log)
	go runLoop(rootCtx, "item change feed", itemCache.Run, log)

	// 路由（用户端）
	r := router.NewAPIEngine(router.Deps{
		Log:      log,
		Cfg:      cfg,
		Sessions: sessions,
		Items:    itemCache,
		Storage:  store,
		Identity: provider,
		Profiles: profiles,
		Feed:     feed,
	})

	// HTTP Server
	addr := server.Addr(cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	srv := server.New(addr, r, cfg.App.HTTP)
	// SSE 长连接不能吃写超时，掉线检测交给心跳
	srv.WriteTimeout = 0

	// 启动前打印可点击地址
	host4human := cfg.App.HTTP.Host
	if host4human == "" || host4human == "0.0.0.0" {
		host4human = "127.0.0.1"
	}
	baseURL := "http://" + host4human + ":" + fmt.Sprint(cfg.App.HTTP.Port)
	log.Info("api starting",
		zap.String("addr", addr),
		zap.String("open", baseURL),
		zap.String("health", baseURL+"/health"),
		zap.String("api_v1", baseURL+"/api/v1"),
	)

	// 异步启动；失败立即标红退出
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("api start FAILED", zap.Error(err))
		}
	}()
	log.Info("api started SUCCESS")

	// 关闭
	<-rootCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info("api stopped gracefully")
}

// runLoop 订阅类后台循环断了就等一会儿重连，进程退出时收手
func runLoop(ctx context.Context, name string, fn func(context.Context) error, log *zap.Logger) {
	for {
		err := fn(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn(name+" loop exited, retrying", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
		}
	}
}

func mustOpenDB(cfg *config.Config, l *zap.Logger) *gorm.DB {
	db, err := database.Open(cfg.DB)
	if err != nil {
		l.Fatal("db open", zap.Error(err))
	}
	return db
}
