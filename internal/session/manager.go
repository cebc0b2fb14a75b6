package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"lostfound/internal/domain"
	"lostfound/internal/identity"
)

// Manager 当前用户的唯一事实来源。把身份源的会话翻译成应用档案（domain.User），
// 按令牌缓存快照，并订阅认证事件保持多实例一致。
// 只有确认过的会话才会产出 User，不做任何投机填充
type Manager struct {
	provider  identity.Provider
	profiles  domain.ProfileRepository
	adminCode string
	log       *zap.Logger

	mu      sync.RWMutex
	byToken map[string]entry
}

type entry struct {
	user      domain.User
	accountID string
	expiresAt time.Time
}

func NewManager(p identity.Provider, profiles domain.ProfileRepository, adminCode string, log *zap.Logger) *Manager {
	return &Manager{
		provider:  p,
		profiles:  profiles,
		adminCode: adminCode,
		log:       log,
		byToken:   make(map[string]entry),
	}
}

type RegisterInput struct {
	Name      string
	Email     string
	Password  string
	Phone     string
	AdminCode string
}

type RegisterResult struct {
	AccountID string
	Role      string
	// ProfilePending 账号建好但档案没写进去：注册算成功，档案留待会话解析时补建
	ProfilePending bool
}

// Register 建账号 + 档案。管理码填错直接拒绝，不碰身份源
func (m *Manager) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	role := domain.RoleUser
	if in.AdminCode != "" {
		if in.AdminCode != m.adminCode {
			return nil, domain.ErrInvalidAdminCode
		}
		role = domain.RoleAdmin
	}

	accID, err := m.provider.SignUp(ctx, in.Email, in.Password)
	if err != nil {
		return nil, domain.WrapRemote("signUp", err)
	}

	profile := &domain.User{
		ID:    accID,
		Email: strings.ToLower(strings.TrimSpace(in.Email)),
		Name:  in.Name,
		Phone: in.Phone,
		Role:  role,
	}
	if err := m.profiles.Create(ctx, profile); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		m.log.Error("create profile after signup",
			zap.String("accountId", accID), zap.Error(err))
		return &RegisterResult{AccountID: accID, Role: role, ProfilePending: true}, nil
	}
	return &RegisterResult{AccountID: accID, Role: role}, nil
}

// Login 先丢掉调用方残留的旧令牌再登录，防止新旧会话混用
func (m *Manager) Login(ctx context.Context, email, password, staleToken string) (*domain.User, *identity.Session, error) {
	if staleToken != "" {
		m.provider.Discard(ctx, staleToken)
		m.evictToken(staleToken)
	}

	sess, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, nil, domain.WrapRemote("signIn", err)
	}
	user, err := m.resolveUser(ctx, sess.AccountID, sess.Email, sess.Name)
	if err != nil {
		// 档案不可用（如被封禁）就不把会话留着
		m.provider.Discard(ctx, sess.Token)
		return nil, nil, err
	}
	m.remember(sess, user)
	return user, sess, nil
}

// GoogleAuthURL OAuth 第一跳，返回带一次性 state 的授权地址
func (m *Manager) GoogleAuthURL(ctx context.Context) (string, error) {
	u, err := m.provider.AuthURL(ctx)
	if err != nil {
		return "", domain.WrapRemote("oauthStart", err)
	}
	return u, nil
}

// CompleteOAuth OAuth 回调落地：换会话、解析档案（没有就补建）
func (m *Manager) CompleteOAuth(ctx context.Context, state, code string) (*domain.User, *identity.Session, error) {
	sess, err := m.provider.CompleteOAuth(ctx, state, code)
	if err != nil {
		return nil, nil, domain.WrapRemote("oauthComplete", err)
	}
	user, err := m.resolveUser(ctx, sess.AccountID, sess.Email, sess.Name)
	if err != nil {
		m.provider.Discard(ctx, sess.Token)
		return nil, nil, err
	}
	m.remember(sess, user)
	return user, sess, nil
}

// Current 令牌换用户。快照新鲜直接回，否则走身份源确认会话再解析档案
func (m *Manager) Current(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, domain.ErrLoginRequired
	}
	if u, ok := m.lookup(token); ok {
		return u, nil
	}

	sess, err := m.provider.GetSession(ctx, token)
	if err != nil {
		return nil, domain.WrapRemote("getSession", err)
	}
	user, err := m.resolveUser(ctx, sess.AccountID, sess.Email, sess.Name)
	if err != nil {
		return nil, err
	}
	m.remember(sess, user)
	return user, nil
}

// Refresh 换发令牌并刷新快照
func (m *Manager) Refresh(ctx context.Context, token string) (*domain.User, *identity.Session, error) {
	sess, err := m.provider.Refresh(ctx, token)
	if err != nil {
		return nil, nil, domain.WrapRemote("refresh", err)
	}
	user, err := m.resolveUser(ctx, sess.AccountID, sess.Email, sess.Name)
	if err != nil {
		return nil, nil, err
	}
	m.evictToken(token)
	m.remember(sess, user)
	return user, sess, nil
}

// Logout 全局登出：该账号所有设备的会话一起吊销。对已失效令牌幂等
func (m *Manager) Logout(ctx context.Context, token string) error {
	accountID := ""
	if e, ok := m.lookupEntry(token); ok {
		accountID = e.accountID
	}
	m.evictToken(token)

	if accountID == "" {
		sess, err := m.provider.GetSession(ctx, token)
		if err != nil {
			// 会话早没了，本地清掉就算登出成功
			return nil
		}
		accountID = sess.AccountID
	}
	if err := m.provider.SignOutGlobal(ctx, accountID); err != nil {
		return domain.WrapRemote("signOut", err)
	}
	m.evictAccount(accountID)
	return nil
}

// UpdateProfile 改联系方式后清快照，下次解析拿到新档案
func (m *Manager) UpdateProfile(ctx context.Context, token, name, phone string) (*domain.User, error) {
	user, err := m.Current(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := m.profiles.UpdateProfile(ctx, user.ID, name, phone); err != nil {
		return nil, domain.WrapRemote("updateProfile", err)
	}
	m.evictAccount(user.ID)
	return m.Current(ctx, token)
}

// Run 消费认证事件流直到 ctx 结束。signed_out 清退该账号的本地快照；
// signed_in / refreshed 重新解析档案，OAuth 首登的档案补建也发生在这里
func (m *Manager) Run(ctx context.Context) error {
	events, stop, err := m.provider.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer stop()
	m.log.Info("session manager subscribed to auth events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return errors.New("auth event stream closed")
			}
			m.handleEvent(ctx, ev)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev identity.Event) {
	switch ev.Type {
	case identity.EventSignedOut:
		m.evictAccount(ev.AccountID)
	case identity.EventSignedIn, identity.EventRefreshed:
		m.evictAccount(ev.AccountID)
		if _, err := m.resolveUser(ctx, ev.AccountID, ev.Email, ""); err != nil {
			m.log.Warn("re-derive user after auth event",
				zap.String("type", ev.Type), zap.String("accountId", ev.AccountID), zap.Error(err))
		}
	default:
		m.log.Debug("ignore auth event", zap.String("type", ev.Type))
	}
}

// resolveUser 账号到档案。查不到档案就当场补一份（默认普通用户），
// 已封禁的明确拒绝而不是当成不存在
func (m *Manager) resolveUser(ctx context.Context, accountID, email, name string) (*domain.User, error) {
	u, err := m.profiles.FindByID(ctx, accountID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.WrapRemote("fetchProfile", err)
	}

	if any, err2 := m.profiles.FindByIDAny(ctx, accountID); err2 == nil && any.DeletedAt.Valid {
		return nil, domain.ErrAccountDisabled
	}

	nu := &domain.User{
		ID:    accountID,
		Email: email,
		Name:  displayName(name, email),
		Role:  domain.RoleUser,
	}
	if err := m.profiles.Create(ctx, nu); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// 并发补建撞上了，读对方写好的
			u, err := m.profiles.FindByID(ctx, accountID)
			if err != nil {
				return nil, domain.WrapRemote("fetchProfile", err)
			}
			return u, nil
		}
		return nil, domain.WrapRemote("createProfile", err)
	}
	m.log.Info("profile created on the fly",
		zap.String("accountId", accountID), zap.String("email", email))
	return nu, nil
}

func displayName(name, email string) string {
	if name != "" {
		return name
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}

func (m *Manager) lookup(token string) (*domain.User, bool) {
	e, ok := m.lookupEntry(token)
	if !ok {
		return nil, false
	}
	u := e.user
	return &u, true
}

func (m *Manager) lookupEntry(token string) (entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byToken[token]
	if !ok || time.Now().After(e.expiresAt) {
		return entry{}, false
	}
	return e, true
}

func (m *Manager) remember(sess *identity.Session, user *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for t, e := range m.byToken {
		if now.After(e.expiresAt) {
			delete(m.byToken, t)
		}
	}
	m.byToken[sess.Token] = entry{user: *user, accountID: user.ID, expiresAt: sess.ExpiresAt}
}

func (m *Manager) evictToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byToken, token)
}

func (m *Manager) evictAccount(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for t, e := range m.byToken {
		if e.accountID == accountID {
			delete(m.byToken, t)
		}
	}
}
