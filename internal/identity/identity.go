package identity

import (
	"context"
	"time"
)

// 认证状态事件，经 Redis 广播给所有实例。会话层订阅后刷新 / 清退本地快照
const (
	EventSignedIn  = "signed_in"
	EventSignedOut = "signed_out"
	EventRefreshed = "refreshed"
)

type Event struct {
	Type      string `json:"type"`
	AccountID string `json:"accountId"`
	Email     string `json:"email,omitempty"`
}

// Session 一次已确认的登录。Name 只有 OAuth 登录能拿到（身份源返回的显示名）
type Session struct {
	Token     string
	AccountID string
	Email     string
	Name      string
	ExpiresAt time.Time
}

// Provider 身份源：账号、口令校验、会话签发与吊销、OAuth 握手。
// 档案（profiles 表）不归它管，由会话层维护
type Provider interface {
	// SignUp 创建账号，返回账号 ID。邮箱重复返回 domain.ErrEmailTaken
	SignUp(ctx context.Context, email, password string) (string, error)
	// SignIn 校验口令并签发会话。凭证错误 / 邮箱未确认返回对应 AuthError
	SignIn(ctx context.Context, email, password string) (*Session, error)
	// GetSession 校验令牌并确认会话还活着，失效返回 domain.ErrSessionExpired
	GetSession(ctx context.Context, token string) (*Session, error)
	// Refresh 换发新令牌，旧令牌立即作废
	Refresh(ctx context.Context, token string) (*Session, error)
	// Discard 丢弃单个令牌对应的会话，尽力而为，不广播
	Discard(ctx context.Context, token string)
	// SignOutGlobal 吊销该账号全部会话并广播 signed_out
	SignOutGlobal(ctx context.Context, accountID string) error
	// ConfirmEmail 用确认令牌激活账号
	ConfirmEmail(ctx context.Context, confirmToken string) error
	// AuthURL 生成带一次性 state 的 Google 授权跳转地址
	AuthURL(ctx context.Context) (string, error)
	// CompleteOAuth 用回调的 state + code 换取会话，账号不存在则创建
	CompleteOAuth(ctx context.Context, state, code string) (*Session, error)
	// Subscribe 订阅认证事件流
	Subscribe(ctx context.Context) (<-chan Event, func(), error)
}
