package router

import (
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lostfound/internal/domain"
	mdw "lostfound/internal/transport/http/middleware"
)

// NewAdminEngine 管理端引擎。跑在内网端口上，访问日志直接用 gin-contrib 的
// zap 中间件，/metrics 也挂在这边给采集器抓
func NewAdminEngine(d Deps) *gin.Engine {
	r := gin.New()

	r.Use(
		mdw.RequestID(),
		ginzap.Ginzap(d.Log, time.RFC3339, true),
		ginzap.RecoveryWithZap(d.Log, true),
		mdw.Metrics(),
	)

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": 1}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 管理端 v1（统一要求 admin 角色）
	admin := r.Group("/admin/v1")
	admin.Use(mdw.AuthSession(d.Sessions, domain.RoleAdmin))

	reg := &Registry{}
	reg.Register(&adminModule{
		profiles: d.Profiles,
		items:    d.Items,
		provider: d.Identity,
		log:      d.Log,
	})
	reg.MountAllAdmin(admin)

	return r
}
