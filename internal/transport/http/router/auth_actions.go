package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lostfound/internal/domain"
	"lostfound/internal/identity"
	"lostfound/internal/session"
	httpez "lostfound/internal/transport/http/ez"
	mdw "lostfound/internal/transport/http/middleware"
	resp "lostfound/internal/transport/http/response"
)

// authModule 注册 / 登录 / 会话相关接口
type authModule struct {
	sessions *session.Manager
	provider identity.Provider
}

func (m *authModule) Priority() int { return 10 }

type sessionOut struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *domain.User `json:"user"`
}

func (m *authModule) MountAPI(api *gin.RouterGroup) {
	// 公共分组（无需登录）
	pub := httpez.New(api)

	type registerIn struct {
		Name            string `json:"name"            binding:"required,min=2,max=64"`
		Email           string `json:"email"           binding:"required,email"`
		Password        string `json:"password"        binding:"required,min=6,max=72"`
		ConfirmPassword string `json:"confirmPassword" binding:"required,eqfield=Password"`
		Phone           string `json:"phone"           binding:"omitempty,number,min=10,max=11"`
		AdminCode       string `json:"adminCode"       binding:"omitempty,max=64"`
	}
	type registerOut struct {
		AccountID string `json:"accountId"`
		Role      string `json:"role"`
		// ProfilePending 账号建好但档案还没写进去，首次登录时会补建
		ProfilePending bool `json:"profilePending,omitempty"`
	}
	httpez.RegisterAction(pub, httpez.Action[registerIn, registerOut]{
		Method: http.MethodPost,
		Path:   "/auth/register",
		Binder: httpez.BindJSON,
		Handler: func(c *gin.Context, in *registerIn) (registerOut, error) {
			res, err := m.sessions.Register(c.Request.Context(), session.RegisterInput{
				Name:      in.Name,
				Email:     in.Email,
				Password:  in.Password,
				Phone:     in.Phone,
				AdminCode: in.AdminCode,
			})
			if err != nil {
				return registerOut{}, err
			}
			return registerOut{AccountID: res.AccountID, Role: res.Role, ProfilePending: res.ProfilePending}, nil
		},
	})

	type loginIn struct {
		Email    string `json:"email"    binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	httpez.RegisterAction(pub, httpez.Action[loginIn, sessionOut]{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Binder: httpez.BindJSON,
		Handler: func(c *gin.Context, in *loginIn) (sessionOut, error) {
			// 带着残留令牌来登录的，旧会话先丢掉
			user, sess, err := m.sessions.Login(c.Request.Context(), in.Email, in.Password, mdw.BearerToken(c))
			if err != nil {
				return sessionOut{}, err
			}
			return sessionOut{Token: sess.Token, ExpiresAt: sess.ExpiresAt, User: user}, nil
		},
	})

	type confirmIn struct {
		Token string `json:"token" binding:"required"`
	}
	httpez.RegisterAction(pub, httpez.Action[confirmIn, gin.H]{
		Method: http.MethodPost,
		Path:   "/auth/confirm",
		Binder: httpez.BindJSON,
		Handler: func(c *gin.Context, in *confirmIn) (gin.H, error) {
			if err := m.provider.ConfirmEmail(c.Request.Context(), in.Token); err != nil {
				return nil, err
			}
			return gin.H{"confirmed": true}, nil
		},
	})

	// Google OAuth：入口 302 跳身份源，回调回统一 JSON
	api.GET("/auth/google", func(c *gin.Context) {
		url, err := m.sessions.GoogleAuthURL(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, resp.FromError(err))
			return
		}
		c.Redirect(http.StatusFound, url)
	})

	type callbackIn struct {
		State string `form:"state" binding:"required"`
		Code  string `form:"code"  binding:"required"`
	}
	httpez.RegisterAction(pub, httpez.Action[callbackIn, sessionOut]{
		Method: http.MethodGet,
		Path:   "/auth/google/callback",
		Binder: httpez.BindQuery,
		Handler: func(c *gin.Context, in *callbackIn) (sessionOut, error) {
			user, sess, err := m.sessions.CompleteOAuth(c.Request.Context(), in.State, in.Code)
			if err != nil {
				return sessionOut{}, err
			}
			return sessionOut{Token: sess.Token, ExpiresAt: sess.ExpiresAt, User: user}, nil
		},
	})

	// 鉴权分组（/me 必须挂这里，才能拿到当前用户）
	authed := api.Group("")
	authed.Use(mdw.AuthSession(m.sessions, ""))
	ezAuth := httpez.New(authed)

	httpez.RegisterAction(ezAuth, httpez.Action[struct{}, *domain.User]{
		Method: http.MethodGet,
		Path:   "/me",
		Binder: httpez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (*domain.User, error) {
			u := mdw.CurrentUser(c)
			if u == nil {
				return nil, domain.ErrLoginRequired
			}
			return u, nil
		},
	})

	type profileIn struct {
		Name  string `json:"name"  binding:"required,min=2,max=64"`
		Phone string `json:"phone" binding:"omitempty,number,min=10,max=11"`
	}
	httpez.RegisterAction(ezAuth, httpez.Action[profileIn, *domain.User]{
		Method: http.MethodPut,
		Path:   "/me",
		Binder: httpez.BindJSON,
		Handler: func(c *gin.Context, in *profileIn) (*domain.User, error) {
			return m.sessions.UpdateProfile(c.Request.Context(), c.GetString(mdw.KeyToken), in.Name, in.Phone)
		},
	})

	httpez.RegisterAction(ezAuth, httpez.Action[struct{}, sessionOut]{
		Method: http.MethodPost,
		Path:   "/auth/refresh",
		Binder: httpez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (sessionOut, error) {
			user, sess, err := m.sessions.Refresh(c.Request.Context(), c.GetString(mdw.KeyToken))
			if err != nil {
				return sessionOut{}, err
			}
			return sessionOut{Token: sess.Token, ExpiresAt: sess.ExpiresAt, User: user}, nil
		},
	})

	httpez.RegisterAction(ezAuth, httpez.Action[struct{}, gin.H]{
		Method: http.MethodPost,
		Path:   "/auth/logout",
		Binder: httpez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (gin.H, error) {
			if err := m.sessions.Logout(c.Request.Context(), c.GetString(mdw.KeyToken)); err != nil {
				return nil, err
			}
			return gin.H{"loggedOut": true}, nil
		},
	})
}
