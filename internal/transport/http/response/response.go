package response

import (
	"errors"

	"lostfound/internal/domain"
)

type Resp struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data"`
}

// New 构造函数（保证 data 不为 null）
func New(code int, msg string, data interface{}) Resp {
	if data == nil {
		data = struct{}{}
	}
	return Resp{Code: code, Msg: msg, Data: data}
}

// OK 成功响应
func OK(data interface{}) Resp {
	return New(CodeOK, CodeMsgMap[CodeOK], data)
}

// Error 失败响应（可以传自定义 msg 覆盖默认）
func Error(code int, customMsg string) Resp {
	msg := CodeMsgMap[code]
	if customMsg != "" {
		msg = customMsg
	}
	return New(code, msg, struct{}{})
}

// FromError 领域错误翻译成业务码。
// 认证失败一律 401；权限不足 403，但「未登录」归 401；
// 邮箱被占 409，找不到 404，参数错 400，其余都算 500
func FromError(err error) Resp {
	switch {
	case err == nil:
		return OK(nil)
	case errors.Is(err, domain.ErrLoginRequired):
		return Error(CodeUnauthorized, err.Error())
	case errors.Is(err, domain.ErrEmailTaken):
		return Error(CodeConflict, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		return Error(CodeConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return Error(CodeNotFound, err.Error())
	}

	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		return Error(CodeUnauthorized, authErr.Error())
	}
	var permErr *domain.AuthorizationError
	if errors.As(err, &permErr) {
		return Error(CodeForbidden, permErr.Error())
	}
	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		return Error(CodeBadRequest, valErr.Error())
	}
	var remErr *domain.RemoteOpError
	if errors.As(err, &remErr) {
		return Error(CodeServerError, remErr.Error())
	}
	return Error(CodeServerError, err.Error())
}
