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
	"lostfound/internal/identity"
	"lostfound/internal/items"
	"lostfound/internal/realtime"
	"lostfound/internal/repo"
	"lostfound/internal/session"
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

	// 建表交给 api 进程，这边只连
	db := mustOpenDB(cfg, log)
	log.Info("database connected", zap.String("driver", cfg.DB.Driver))

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

	if err := itemCache.Reload(rootCtx); err != nil {
		log.Warn("initial item load failed, serving fallback data", zap.Error(err))
	}
	go runLoop(rootCtx, "session events", sessions.Run, log)
	go runLoop(rootCtx, "item change feed", itemCache.Run, log)

	// 保留期清理只在管理进程跑，多个 API 实例不抢着删
	if cfg.Cleanup.Enabled {
		retention := time.Duration(cfg.Cleanup.RetentionDays) * 24 * time.Hour
		interval := time.Duration(cfg.Cleanup.IntervalHours) * time.Hour
		go itemCache.RunRetentionSweep(rootCtx, retention, interval)
		log.Info("retention sweep enabled",
			zap.Int("retentionDays", cfg.Cleanup.RetentionDays),
			zap.Int("intervalHours", cfg.Cleanup.IntervalHours))
	}

	// 路由（管理端）
	r := router.NewAdminEngine(router.Deps{
		Log:      log,
		Cfg:      cfg,
		Sessions: sessions,
		Items:    itemCache,
		Identity: provider,
		Profiles: profiles,
		Feed:     feed,
	})

	addr := server.Addr(cfg.App.Admin.Host, cfg.App.Admin.Port)
	srv := server.New(addr, r, cfg.App.HTTP)

	// 启动前打印可点击地址
	host4human := cfg.App.Admin.Host
	if host4human == "" || host4human == "0.0.0.0" {
		host4human = "127.0.0.1"
	}
	baseURL := "http://" + host4human + ":" + fmt.Sprint(cfg.App.Admin.Port)
	log.Info("admin api starting",
		zap.String("addr", addr),
		zap.String("open", baseURL),
		zap.String("health", baseURL+"/health"),
		zap.String("metrics", baseURL+"/metrics"),
		zap.String("admin_v1", baseURL+"/admin/v1"),
	)

	// 异步启动；失败立即标红退出
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("admin api start FAILED", zap.Error(err))
		}
	}()
	log.Info("admin api started SUCCESS")

	<-rootCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info("admin api stopped gracefully")
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
