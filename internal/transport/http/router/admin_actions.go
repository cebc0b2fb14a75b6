package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lostfound/internal/domain"
	"lostfound/internal/identity"
	"lostfound/internal/items"
	httpez "lostfound/internal/transport/http/ez"
	mdw "lostfound/internal/transport/http/middleware"
)

// adminModule 管理端：用户治理 + 记录清理 + 概览。
// 整个分组已挂 admin 鉴权，动作上的 Roles 只是双保险
type adminModule struct {
	profiles domain.ProfileRepository
	items    *items.Cache
	provider identity.Provider
	log      *zap.Logger
}

var adminOnly = []string{domain.RoleAdmin}

func (m *adminModule) MountAdmin(admin *gin.RouterGroup) {
	ez := httpez.New(admin)

	type listQ struct {
		Offset int    `form:"offset,default=0"`
		Limit  int    `form:"limit,default=20"`
		Q      string `form:"q"`
	}
	type userListOut struct {
		Total int64         `json:"total"`
		Items []domain.User `json:"items"`
	}
	httpez.RegisterAction(ez, httpez.Action[listQ, userListOut]{
		Method: http.MethodGet,
		Path:   "/users",
		Binder: httpez.BindQuery,
		Roles:  adminOnly,
		Handler: func(c *gin.Context, in *listQ) (userListOut, error) {
			if in.Limit <= 0 || in.Limit > 100 {
				in.Limit = 20
			}
			us, total, err := m.profiles.List(c.Request.Context(), in.Q, in.Offset, in.Limit)
			if err != nil {
				return userListOut{}, domain.WrapRemote("listUsers", err)
			}
			return userListOut{Total: total, Items: us}, nil
		},
	})

	type banOut struct {
		ID string `json:"id"`
		// SessionsRevoked 封禁成功但吊销会话失败时为 false，靠令牌过期兜底
		SessionsRevoked bool `json:"sessionsRevoked"`
	}
	httpez.RegisterAction(ez, httpez.Action[struct{}, banOut]{
		Method: http.MethodPost,
		Path:   "/users/:id/ban",
		Binder: httpez.BindNone,
		Roles:  adminOnly,
		Handler: func(c *gin.Context, _ *struct{}) (banOut, error) {
			id := c.Param("id")
			if err := m.profiles.Ban(c.Request.Context(), id); err != nil {
				return banOut{}, domain.WrapRemote("banUser", err)
			}
			out := banOut{ID: id, SessionsRevoked: true}
			if err := m.provider.SignOutGlobal(c.Request.Context(), id); err != nil {
				m.log.Error("revoke sessions after ban", zap.String("userId", id), zap.Error(err))
				out.SessionsRevoked = false
			}
			return out, nil
		},
	})

	httpez.RegisterAction(ez, httpez.Action[struct{}, gin.H]{
		Method: http.MethodPost,
		Path:   "/users/:id/unban",
		Binder: httpez.BindNone,
		Roles:  adminOnly,
		Handler: func(c *gin.Context, _ *struct{}) (gin.H, error) {
			id := c.Param("id")
			if err := m.profiles.Unban(c.Request.Context(), id); err != nil {
				return nil, domain.WrapRemote("unbanUser", err)
			}
			return gin.H{"id": id}, nil
		},
	})

	// 按条件查记录，直接扫公共快照
	type itemsQ struct {
		DateFrom string `form:"dateFrom" binding:"omitempty"`
		DateTo   string `form:"dateTo"   binding:"omitempty"`
		Type     string `form:"type"     binding:"omitempty,oneof=all normal emergency"`
	}
	httpez.RegisterAction(ez, httpez.Action[itemsQ, listOut]{
		Method: http.MethodGet,
		Path:   "/items",
		Binder: httpez.BindQuery,
		Roles:  adminOnly,
		Handler: func(c *gin.Context, in *itemsQ) (listOut, error) {
			f, err := buildFilter(in.DateFrom, in.DateTo, in.Type)
			if err != nil {
				return listOut{}, err
			}
			all := m.items.Items(c.Request.Context())
			got := make([]domain.Item, 0, len(all))
			for i := range all {
				if f.Matches(&all[i]) {
					got = append(got, all[i])
				}
			}
			return listOut{Total: len(got), Items: got, Degraded: m.items.Degraded()}, nil
		},
	})

	// 批量清理和用户端同一条路：服务层校验角色后才动远端
	type purgeIn struct {
		DateFrom string `json:"dateFrom" binding:"omitempty"`
		DateTo   string `json:"dateTo"   binding:"omitempty"`
		Type     string `json:"type"     binding:"omitempty"`
	}
	type purgeOut struct {
		Deleted int64 `json:"deleted"`
	}
	httpez.RegisterAction(ez, httpez.Action[purgeIn, purgeOut]{
		Method: http.MethodDelete,
		Path:   "/items",
		Binder: httpez.BindJSON,
		Roles:  adminOnly,
		Handler: func(c *gin.Context, in *purgeIn) (purgeOut, error) {
			f, err := buildFilter(in.DateFrom, in.DateTo, in.Type)
			if err != nil {
				return purgeOut{}, err
			}
			n, err := m.items.DeleteByFilter(c.Request.Context(), mdw.CurrentUser(c), f)
			if err != nil {
				return purgeOut{}, err
			}
			return purgeOut{Deleted: n}, nil
		},
	})

	type statsOut struct {
		Users          int64 `json:"users"`
		Items          int   `json:"items"`
		EmergencyItems int   `json:"emergencyItems"`
		Degraded       bool  `json:"degraded"`
	}
	httpez.RegisterAction(ez, httpez.Action[struct{}, statsOut]{
		Method: http.MethodGet,
		Path:   "/stats",
		Binder: httpez.BindNone,
		Roles:  adminOnly,
		Handler: func(c *gin.Context, _ *struct{}) (statsOut, error) {
			ctx := c.Request.Context()
			_, total, err := m.profiles.List(ctx, "", 0, 1)
			if err != nil {
				return statsOut{}, domain.WrapRemote("countUsers", err)
			}
			return statsOut{
				Users:          total,
				Items:          len(m.items.Items(ctx)),
				EmergencyItems: len(m.items.EmergencyItems(ctx)),
				Degraded:       m.items.Degraded(),
			}, nil
		},
	})
}
