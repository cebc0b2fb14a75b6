package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"lostfound/internal/domain"
	"lostfound/pkg/utils"
)

// AuthURL 生成授权跳转地址。state 一次性、10 分钟有效，防 CSRF
func (s *Service) AuthURL(ctx context.Context) (string, error) {
	state := utils.NewID()
	if err := s.c.R.Set(ctx, s.c.Key("oauthstate", state), "1", 10*time.Minute).Err(); err != nil {
		return "", err
	}
	return s.oauth.AuthCodeURL(state), nil
}

func (s *Service) CompleteOAuth(ctx context.Context, state, code string) (*Session, error) {
	_, err := s.c.R.GetDel(ctx, s.c.Key("oauthstate", state)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, &domain.AuthError{Reason: "invalid or expired oauth state"}
	}
	if err != nil {
		return nil, err
	}

	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, &domain.AuthError{Reason: "oauth code exchange failed", Err: err}
	}
	info, err := s.fetchUserinfo(ctx, tok)
	if err != nil {
		return nil, err
	}

	acc, err := s.findOrCreateGoogleAccount(ctx, info.Email)
	if err != nil {
		return nil, err
	}
	return s.issueSession(ctx, acc, info.Name, EventSignedIn)
}

type userinfo struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (s *Service) fetchUserinfo(ctx context.Context, tok *oauth2.Token) (*userinfo, error) {
	client := s.oauth.Client(ctx, tok)
	resp, err := client.Get(s.userinfoURL)
	if err != nil {
		return nil, domain.Remote("fetchUserinfo", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Remote("fetchUserinfo", fmt.Errorf("status %d", resp.StatusCode))
	}
	var info userinfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, domain.Remote("fetchUserinfo", err)
	}
	if info.Email == "" {
		return nil, &domain.AuthError{Reason: "oauth provider returned no email"}
	}
	return &info, nil
}

// findOrCreateGoogleAccount 邮箱已注册则复用该账号（含密码账号），否则建新的。
// OAuth 来的邮箱视为已确认
func (s *Service) findOrCreateGoogleAccount(ctx context.Context, email string) (*Account, error) {
	var acc Account
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&acc).Error
	if err == nil {
		return &acc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	now := time.Now()
	acc = Account{
		ID:          utils.NewID(),
		Email:       email,
		Provider:    providerGoogle,
		ConfirmedAt: &now,
	}
	if err := s.db.WithContext(ctx).Create(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 并发回调撞了，读已存在的那条
			if err := s.db.WithContext(ctx).Where("email = ?", email).First(&acc).Error; err != nil {
				return nil, err
			}
			return &acc, nil
		}
		return nil, err
	}
	return &acc, nil
}
