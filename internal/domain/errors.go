package domain

import (
	"errors"
	"fmt"
)

// 错误分四类：认证失败、鉴权失败、入参校验失败、远端调用失败。
// HTTP 层按类别映射状态码，service 层只管返回正确的类别

// AuthError 凭证 / 会话类失败，统一映射 401
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

var (
	ErrInvalidCredentials = &AuthError{Reason: "invalid email or password"}
	ErrEmailNotConfirmed  = &AuthError{Reason: "email not confirmed, check your inbox"}
	ErrSessionExpired     = &AuthError{Reason: "session expired, sign in again"}
)

// AuthorizationError 权限不足类失败。ErrLoginRequired 例外地映射 401，其余 403
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string { return e.Reason }

var (
	ErrLoginRequired    = &AuthorizationError{Reason: "login required"}
	ErrAdminRequired    = &AuthorizationError{Reason: "admin privilege required"}
	ErrInvalidAdminCode = &AuthorizationError{Reason: "invalid admin code"}
	ErrNotOwner         = &AuthorizationError{Reason: "not the owner of this record"}
	ErrAccountDisabled  = &AuthorizationError{Reason: "account disabled"}
)

// ValidationError 表单 / 入参不合法，映射 400
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func Invalid(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

// RemoteOpError 对存储 / 身份源 / 对象存储的调用失败，映射 500。
// Op 标注动作名，方便日志归因
type RemoteOpError struct {
	Op  string
	Err error
}

func (e *RemoteOpError) Error() string { return e.Op + " failed: " + e.Err.Error() }
func (e *RemoteOpError) Unwrap() error { return e.Err }

func Remote(op string, err error) *RemoteOpError {
	return &RemoteOpError{Op: op, Err: err}
}

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrEmailTaken    = errors.New("email already registered")
)

// WrapRemote 把未分类的底层错误包装成远端调用失败；已经带类别的原样透传，
// 避免在层层转手时丢掉 401/403/400 的语义
func WrapRemote(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AuthError
	var ze *AuthorizationError
	var ve *ValidationError
	var re *RemoteOpError
	if errors.As(err, &ae) || errors.As(err, &ze) || errors.As(err, &ve) || errors.As(err, &re) {
		return err
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrEmailTaken) {
		return err
	}
	return Remote(op, err)
}
