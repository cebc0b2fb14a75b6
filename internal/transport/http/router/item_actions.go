package router

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"lostfound/internal/domain"
	"lostfound/internal/items"
	"lostfound/internal/realtime"
	"lostfound/internal/session"
	"lostfound/internal/storage"
	httpez "lostfound/internal/transport/http/ez"
	mdw "lostfound/internal/transport/http/middleware"
	resp "lostfound/internal/transport/http/response"
)

// itemModule 失物招领记录的读写接口。
// 读接口全部打公共快照，写接口要登录
type itemModule struct {
	sessions *session.Manager
	items    *items.Cache
	store    *storage.Service
	feed     *realtime.Feed
	// heartbeat SSE 心跳间隔，零值用 25s
	heartbeat time.Duration
	// maxUpload 单张照片上传上限（字节）
	maxUpload int64
}

func (m *itemModule) Priority() int { return 20 }

type listOut struct {
	Total int           `json:"total"`
	Items []domain.Item `json:"items"`
	// Degraded 远端不可用、当前给的是演示数据
	Degraded bool `json:"degraded,omitempty"`
}

func (m *itemModule) listOf(got []domain.Item) listOut {
	return listOut{Total: len(got), Items: got, Degraded: m.items.Degraded()}
}

func (m *itemModule) MountAPI(api *gin.RouterGroup) {
	pub := httpez.New(api)

	// 列表支持 ?type=emergency|normal 和 ?mine=1（mine 需要带令牌）
	type listQ struct {
		Type string `form:"type" binding:"omitempty,oneof=all normal emergency"`
		Mine bool   `form:"mine"`
	}
	httpez.RegisterAction(pub, httpez.Action[listQ, listOut]{
		Method: http.MethodGet,
		Path:   "/items",
		Binder: httpez.BindQuery,
		Handler: func(c *gin.Context, in *listQ) (listOut, error) {
			ctx := c.Request.Context()
			if in.Mine {
				u, err := m.sessions.Current(ctx, mdw.BearerToken(c))
				if err != nil {
					return listOut{}, err
				}
				return m.listOf(m.items.UserItems(ctx, u.ID)), nil
			}
			switch in.Type {
			case domain.TypeEmergency:
				return m.listOf(m.items.EmergencyItems(ctx)), nil
			case domain.TypeNormal:
				return m.listOf(m.items.NormalItems(ctx)), nil
			default:
				return m.listOf(m.items.Items(ctx)), nil
			}
		},
	})

	httpez.RegisterAction(pub, httpez.Action[struct{}, listOut]{
		Method: http.MethodGet,
		Path:   "/items/emergency",
		Binder: httpez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (listOut, error) {
			return m.listOf(m.items.EmergencyItems(c.Request.Context())), nil
		},
	})

	httpez.RegisterAction(pub, httpez.Action[struct{}, listOut]{
		Method: http.MethodGet,
		Path:   "/items/normal",
		Binder: httpez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (listOut, error) {
			return m.listOf(m.items.NormalItems(c.Request.Context())), nil
		},
	})

	httpez.RegisterAction(pub, httpez.Action[struct{}, *domain.Item]{
		Method: http.MethodGet,
		Path:   "/items/:id",
		Binder: httpez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (*domain.Item, error) {
			return m.items.ItemByID(c.Request.Context(), c.Param("id"))
		},
	})

	// 鉴权分组：发布 / 改状态 / 删除 / 上传照片
	authed := api.Group("")
	authed.Use(mdw.AuthSession(m.sessions, ""))
	ezAuth := httpez.New(authed)

	httpez.RegisterAction(ezAuth, httpez.Action[struct{}, listOut]{
		Method: http.MethodGet,
		Path:   "/me/items",
		Binder: httpez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (listOut, error) {
			return m.listOf(m.items.UserItems(c.Request.Context(), c.GetString(mdw.KeyUserID))), nil
		},
	})

	type addIn struct {
		ProductName string  `json:"productName" binding:"required,min=2,max=120"`
		Phone       string  `json:"phone"       binding:"omitempty,number,min=10,max=11"`
		Location    string  `json:"location"    binding:"required,max=128"`
		Description string  `json:"description" binding:"omitempty,max=500"`
		Date        string  `json:"date"        binding:"required"`
		Type        string  `json:"type"        binding:"omitempty"`
		Status      string  `json:"status"      binding:"omitempty"`
		Photo       *string `json:"photo"       binding:"omitempty,max=512"`
	}
	httpez.RegisterAction(ezAuth, httpez.Action[addIn, *domain.Item]{
		Method: http.MethodPost,
		Path:   "/items",
		Binder: httpez.BindJSON,
		Handler: func(c *gin.Context, in *addIn) (*domain.Item, error) {
			date, err := parseDate(in.Date)
			if err != nil {
				return nil, err
			}
			return m.items.AddItem(c.Request.Context(), mdw.CurrentUser(c), items.AddInput{
				ProductName: in.ProductName,
				Phone:       in.Phone,
				Location:    in.Location,
				Description: in.Description,
				Date:        date,
				Type:        in.Type,
				Status:      in.Status,
				Photo:       in.Photo,
			})
		},
	})

	type statusIn struct {
		Status string `json:"status" binding:"required"`
	}
	httpez.RegisterAction(ezAuth, httpez.Action[statusIn, gin.H]{
		Method: http.MethodPatch,
		Path:   "/items/:id/status",
		Binder: httpez.BindJSON,
		Handler: func(c *gin.Context, in *statusIn) (gin.H, error) {
			id := c.Param("id")
			if err := m.items.UpdateStatus(c.Request.Context(), id, in.Status); err != nil {
				return nil, err
			}
			return gin.H{"id": id, "status": in.Status}, nil
		},
	})

	httpez.RegisterAction(ezAuth, httpez.Action[struct{}, gin.H]{
		Method: http.MethodDelete,
		Path:   "/items/:id",
		Binder: httpez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (gin.H, error) {
			id := c.Param("id")
			if err := m.items.Delete(c.Request.Context(), mdw.CurrentUser(c), id); err != nil {
				return nil, err
			}
			return gin.H{"id": id}, nil
		},
	})

	// 按条件清理，角色校验在服务层：不是管理员时根本不碰远端
	type purgeIn struct {
		DateFrom string `json:"dateFrom" binding:"omitempty"`
		DateTo   string `json:"dateTo"   binding:"omitempty"`
		Type     string `json:"type"     binding:"omitempty"`
	}
	type purgeOut struct {
		Deleted int64 `json:"deleted"`
	}
	httpez.RegisterAction(ezAuth, httpez.Action[purgeIn, purgeOut]{
		Method: http.MethodPost,
		Path:   "/items/purge",
		Binder: httpez.BindJSON,
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

	httpez.POSTFILE(ezAuth, "/upload", "photo", m.maxUpload, func(c *gin.Context, data []byte, _ string) (any, error) {
		url, err := m.store.UploadPhoto(c.Request.Context(), data)
		if err != nil {
			return nil, err
		}
		return gin.H{"url": url}, nil
	})
}

// MountLive 挂 SSE 订阅和照片直出。这两条是长连接 / 大响应，
// 调用方要把它们放在不带 Timeout 的分组里
func (m *itemModule) MountLive(g *gin.RouterGroup) {
	g.GET("/items/watch", m.watch)
	g.GET("/storage/:bucket/*key", m.fetchObject)
}

func (m *itemModule) watch(c *gin.Context) {
	sub, stop, err := m.feed.Subscribe(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, resp.FromError(domain.WrapRemote("subscribe", err)))
		return
	}
	defer stop()

	hb := m.heartbeat
	if hb <= 0 {
		hb = 25 * time.Second
	}
	tick := time.NewTicker(hb)
	defer tick.Stop()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	// 连上先推一条，客户端拿到就做首次全量加载
	c.SSEvent("change", "sync")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case _, ok := <-sub:
			if !ok {
				return false
			}
			// 事件不带内容，客户端收到就重新拉全量
			c.SSEvent("change", "sync")
			return true
		case <-tick.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}

func (m *itemModule) fetchObject(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	ct, data, err := m.store.Fetch(c.Request.Context(), c.Param("bucket"), key)
	if err != nil {
		c.JSON(http.StatusOK, resp.FromError(err))
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, ct, data)
}

// parseDate 支持日期和完整 RFC3339 两种写法
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, domain.Invalid("date", "want YYYY-MM-DD or RFC3339")
	}
	return t, nil
}

func buildFilter(from, to, typ string) (domain.ItemFilter, error) {
	var f domain.ItemFilter
	if from != "" {
		t, err := parseDate(from)
		if err != nil {
			return f, domain.Invalid("dateFrom", "want YYYY-MM-DD or RFC3339")
		}
		f.DateFrom = &t
	}
	if to != "" {
		t, err := parseDate(to)
		if err != nil {
			return f, domain.Invalid("dateTo", "want YYYY-MM-DD or RFC3339")
		}
		f.DateTo = &t
	}
	f.Type = typ
	return f, nil
}
