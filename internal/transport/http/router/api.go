package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lostfound/internal/core/config"
	"lostfound/internal/domain"
	"lostfound/internal/identity"
	"lostfound/internal/items"
	"lostfound/internal/realtime"
	"lostfound/internal/session"
	"lostfound/internal/storage"
	mdw "lostfound/internal/transport/http/middleware"
)

// Deps 路由层用到的全部依赖
type Deps struct {
	Log      *zap.Logger
	Cfg      *config.Config
	Sessions *session.Manager
	Items    *items.Cache
	Storage  *storage.Service
	Identity identity.Provider
	Profiles domain.ProfileRepository
	Feed     *realtime.Feed
	// WatchHeartbeat SSE 心跳间隔，零值用默认 25s（测试里调小）
	WatchHeartbeat time.Duration
}

func NewAPIEngine(d Deps) *gin.Engine {
	r := gin.New()

	r.Use(
		mdw.RequestID(),
		mdw.RateLimit(200, 400),
		mdw.ConcurrencyLimit(300),
		mdw.MaxBodyBytes(maxBody(d.Cfg)),
		mdw.Recovery(d.Log),
		mdw.Metrics(),
		mdw.AccessLog(d.Log),
	)
	r.Use(cors.New(corsConfig(d.Cfg)))

	// 健康检查和指标
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": 1}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	itemMod := &itemModule{
		sessions:  d.Sessions,
		items:     d.Items,
		store:     d.Storage,
		feed:      d.Feed,
		heartbeat: d.WatchHeartbeat,
		maxUpload: int64(d.Cfg.Storage.MaxPhotoMB) << 20,
	}

	// 常规接口挂超时
	api := r.Group("/api/v1")
	api.Use(mdw.Timeout(10 * time.Second))

	reg := &Registry{}
	reg.Register(&authModule{sessions: d.Sessions, provider: d.Identity})
	reg.Register(itemMod)
	reg.MountAllAPI(api)

	// SSE 订阅和照片直出是长连接 / 大响应，单独开不带超时的分组
	live := r.Group("/api/v1")
	itemMod.MountLive(live)

	return r
}

func maxBody(cfg *config.Config) int64 {
	n := int64(cfg.Storage.MaxPhotoMB+1) << 20
	if n < 16<<20 {
		n = 16 << 20
	}
	return n
}

func corsConfig(cfg *config.Config) cors.Config {
	cc := cors.DefaultConfig()
	cc.AllowOrigins = cfg.CORS.AllowOrigins
	cc.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	cc.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	cc.ExposeHeaders = []string{mdw.KeyRequestID}
	cc.AllowCredentials = true
	cc.MaxAge = 12 * time.Hour
	for _, o := range cc.AllowOrigins {
		// 通配下不能同时开 credentials，gin-contrib 会直接 panic
		if o == "*" {
			cc.AllowAllOrigins = true
			cc.AllowOrigins = nil
			cc.AllowCredentials = false
			break
		}
	}
	return cc
}
