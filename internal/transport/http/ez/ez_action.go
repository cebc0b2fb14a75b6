package ez

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"lostfound/internal/domain"
	resp "lostfound/internal/transport/http/response"
)

// EZ 在 RouterGroup 上注册统一响应格式的动作。
// HTTP 状态一律 200，业务结果看 body 里的 code
type EZ struct{ g *gin.RouterGroup }

func New(g *gin.RouterGroup) *EZ { return &EZ{g: g} }

// Binder 入参绑定方式
type Binder int

const (
	BindNone Binder = iota
	BindJSON
	BindQuery
)

// Action 一个接口动作的声明式描述。
// Handler 返回的 error 经 response.FromError 翻译成业务码
type Action[I any, O any] struct {
	Method string
	Path   string
	Binder Binder
	// Roles 非空时要求会话角色命中其一（分组中间件需先写入 role，这里做双保险）
	Roles   []string
	Handler func(c *gin.Context, in *I) (O, error)
}

func RegisterAction[I any, O any](e *EZ, a Action[I, O]) {
	e.g.Handle(a.Method, a.Path, func(c *gin.Context) {
		if len(a.Roles) > 0 && !roleAllowed(c, a.Roles) {
			c.JSON(http.StatusOK, resp.FromError(domain.ErrAdminRequired))
			return
		}

		var in I
		switch a.Binder {
		case BindJSON:
			if err := c.ShouldBindJSON(&in); err != nil {
				c.JSON(http.StatusOK, resp.Error(resp.CodeBadRequest, err.Error()))
				return
			}
		case BindQuery:
			if err := c.ShouldBindQuery(&in); err != nil {
				c.JSON(http.StatusOK, resp.Error(resp.CodeBadRequest, err.Error()))
				return
			}
		}

		out, err := a.Handler(c, &in)
		if err != nil {
			c.JSON(http.StatusOK, resp.FromError(err))
			return
		}
		c.JSON(http.StatusOK, resp.OK(out))
	})
}

func roleAllowed(c *gin.Context, roles []string) bool {
	cur := c.GetString("role")
	for _, r := range roles {
		if r == cur {
			return true
		}
	}
	return false
}

// POSTFILE 注册单文件上传动作，field 是表单里的文件字段名
func POSTFILE(e *EZ, path, field string, maxBytes int64, h func(c *gin.Context, data []byte, name string) (any, error)) {
	e.g.POST(path, func(c *gin.Context) {
		fh, err := c.FormFile(field)
		if err != nil {
			c.JSON(http.StatusOK, resp.Error(resp.CodeBadRequest, "missing file field "+field))
			return
		}
		if maxBytes > 0 && fh.Size > maxBytes {
			c.JSON(http.StatusOK, resp.Error(resp.CodeBadRequest, "file too large"))
			return
		}
		data, err := readAll(fh)
		if err != nil {
			c.JSON(http.StatusOK, resp.Error(resp.CodeBadRequest, err.Error()))
			return
		}
		out, err := h(c, data, fh.Filename)
		if err != nil {
			c.JSON(http.StatusOK, resp.FromError(err))
			return
		}
		c.JSON(http.StatusOK, resp.OK(out))
	})
}

func readAll(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
