package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"lostfound/internal/domain"
	"lostfound/internal/session"
	resp "lostfound/internal/transport/http/response"
)

const (
	KeyUser   = "user"
	KeyUserID = "userId"
	KeyRole   = "role"
	KeyToken  = "token"
)

// BearerToken 从 Authorization 头取令牌，没有则返回空串
func BearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return ""
	}
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(h)
}

// AuthSession 把 Bearer 令牌解析成当前用户写入上下文。
// requireRole 非空时还要求角色匹配。失败统一 200 + 401/403 业务码
func AuthSession(mgr *session.Manager, requireRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := BearerToken(c)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusOK, resp.FromError(domain.ErrLoginRequired))
			return
		}
		u, err := mgr.Current(c.Request.Context(), tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusOK, resp.FromError(err))
			return
		}
		if requireRole != "" && u.Role != requireRole {
			c.AbortWithStatusJSON(http.StatusOK, resp.FromError(domain.ErrAdminRequired))
			return
		}
		c.Set(KeyUser, u)
		c.Set(KeyUserID, u.ID)
		c.Set(KeyRole, u.Role)
		c.Set(KeyToken, tok)
		c.Next()
	}
}

// CurrentUser 取中间件写入的当前用户，拿不到返回 nil
func CurrentUser(c *gin.Context) *domain.User {
	v, ok := c.Get(KeyUser)
	if !ok {
		return nil
	}
	u, _ := v.(*domain.User)
	return u
}
