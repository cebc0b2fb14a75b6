package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"lostfound/internal/core/auth"
	"lostfound/internal/core/cache"
	"lostfound/internal/core/config"
	"lostfound/internal/domain"
	"lostfound/internal/repo"
)

func newTestService(t *testing.T, cfg config.Auth) (*Service, *miniredis.Miniredis) {
	t.Helper()
	db := repo.NewTestDB(t)
	if err := db.AutoMigrate(&Account{}); err != nil {
		t.Fatal(err)
	}
	mr := miniredis.RunT(t)
	c := cache.New(mr.Addr(), "", 0, "t:")
	t.Cleanup(func() { _ = c.Close() })
	j := auth.JWTer{Secret: "test-secret", Issuer: "lostfound-test", TTL: time.Hour}
	return NewService(db, c, j, cfg, zap.NewNop()), mr
}

func TestSignUpAndSignIn(t *testing.T) {
	s, _ := newTestService(t, config.Auth{})
	ctx := context.Background()

	accID, err := s.SignUp(ctx, "A@Example.com", "secret123")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if accID == "" {
		t.Fatal("empty account id")
	}

	// 邮箱大小写不敏感
	sess, err := s.SignIn(ctx, "a@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if sess.AccountID != accID || sess.Token == "" {
		t.Errorf("session = %+v", sess)
	}

	got, err := s.GetSession(ctx, sess.Token)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.AccountID != accID || got.Email != "a@example.com" {
		t.Errorf("got %+v", got)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	s, _ := newTestService(t, config.Auth{})
	ctx := context.Background()

	if _, err := s.SignUp(ctx, "a@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SignIn(ctx, "a@example.com", "wrong"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestSignInUnknownEmail(t *testing.T) {
	s, _ := newTestService(t, config.Auth{})
	if _, err := s.SignIn(context.Background(), "ghost@example.com", "x"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	s, _ := newTestService(t, config.Auth{})
	ctx := context.Background()

	if _, err := s.SignUp(ctx, "a@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SignUp(ctx, "a@example.com", "other456"); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("err = %v, want ErrEmailTaken", err)
	}
}

func confirmToken(t *testing.T, mr *miniredis.Miniredis) string {
	t.Helper()
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, "t:confirm:") {
			return strings.TrimPrefix(k, "t:confirm:")
		}
	}
	t.Fatal("no confirm token stored")
	return ""
}

func TestEmailConfirmGate(t *testing.T) {
	s, mr := newTestService(t, config.Auth{RequireEmailConfirm: true})
	ctx := context.Background()

	if _, err := s.SignUp(ctx, "a@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SignIn(ctx, "a@example.com", "secret123"); !errors.Is(err, domain.ErrEmailNotConfirmed) {
		t.Fatalf("err = %v, want ErrEmailNotConfirmed", err)
	}

	if err := s.ConfirmEmail(ctx, confirmToken(t, mr)); err != nil {
		t.Fatalf("ConfirmEmail: %v", err)
	}
	if _, err := s.SignIn(ctx, "a@example.com", "secret123"); err != nil {
		t.Fatalf("SignIn after confirm: %v", err)
	}
}

func TestConfirmEmailBadToken(t *testing.T) {
	s, _ := newTestService(t, config.Auth{RequireEmailConfirm: true})
	err := s.ConfirmEmail(context.Background(), "bogus")
	var ae *domain.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want AuthError", err)
	}
}

func TestSignOutGlobalKillsAllSessions(t *testing.T) {
	s, _ := newTestService(t, config.Auth{})
	ctx := context.Background()

	accID, err := s.SignUp(ctx, "a@example.com", "secret123")
	if err != nil {
		t.Fatal(err)
	}
	s1, err := s.SignIn(ctx, "a@example.com", "secret123")
	if err != nil {
		t.Fatal(err)
	}
	s2, err := s.SignIn(ctx, "a@example.com", "secret123")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SignOutGlobal(ctx, accID); err != nil {
		t.Fatalf("SignOutGlobal: %v", err)
	}
	if _, err := s.GetSession(ctx, s1.Token); !errors.Is(err, domain.ErrSessionExpired) {
		t.Errorf("first session survived: %v", err)
	}
	if _, err := s.GetSession(ctx, s2.Token); !errors.Is(err, domain.ErrSessionExpired) {
		t.Errorf("second session survived: %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	s, _ := newTestService(t, config.Auth{})
	ctx := context.Background()

	if _, err := s.SignUp(ctx, "a@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}
	old, err := s.SignIn(ctx, "a@example.com", "secret123")
	if err != nil {
		t.Fatal(err)
	}

	fresh, err := s.Refresh(ctx, old.Token)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if fresh.Token == old.Token {
		t.Fatal("refresh returned the same token")
	}
	if _, err := s.GetSession(ctx, old.Token); !errors.Is(err, domain.ErrSessionExpired) {
		t.Errorf("old token still valid: %v", err)
	}
	if _, err := s.GetSession(ctx, fresh.Token); err != nil {
		t.Errorf("fresh token invalid: %v", err)
	}
}

func TestDiscardDropsSingleSession(t *testing.T) {
	s, _ := newTestService(t, config.Auth{})
	ctx := context.Background()

	if _, err := s.SignUp(ctx, "a@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}
	s1, _ := s.SignIn(ctx, "a@example.com", "secret123")
	s2, _ := s.SignIn(ctx, "a@example.com", "secret123")

	s.Discard(ctx, s1.Token)

	if _, err := s.GetSession(ctx, s1.Token); !errors.Is(err, domain.ErrSessionExpired) {
		t.Errorf("discarded session still valid: %v", err)
	}
	if _, err := s.GetSession(ctx, s2.Token); err != nil {
		t.Errorf("sibling session lost: %v", err)
	}
}

func TestSessionExpiresWithRedisTTL(t *testing.T) {
	s, mr := newTestService(t, config.Auth{})
	ctx := context.Background()

	if _, err := s.SignUp(ctx, "a@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}
	sess, err := s.SignIn(ctx, "a@example.com", "secret123")
	if err != nil {
		t.Fatal(err)
	}

	mr.FastForward(2 * time.Hour)

	if _, err := s.GetSession(ctx, sess.Token); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
}

func TestAuthEventsPublished(t *testing.T) {
	s, _ := newTestService(t, config.Auth{})
	ctx := context.Background()

	events, stop, err := s.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	accID, err := s.SignUp(ctx, "a@example.com", "secret123")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SignIn(ctx, "a@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}

	ev := recvEvent(t, events)
	if ev.Type != EventSignedIn || ev.AccountID != accID {
		t.Errorf("event = %+v", ev)
	}

	if err := s.SignOutGlobal(ctx, accID); err != nil {
		t.Fatal(err)
	}
	ev = recvEvent(t, events)
	if ev.Type != EventSignedOut || ev.AccountID != accID {
		t.Errorf("event = %+v", ev)
	}
}

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for auth event")
		return Event{}
	}
}

func newOAuthStub(t *testing.T, email, name string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "stub-access-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"email": email, "name": name})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func oauthState(t *testing.T, s *Service) string {
	t.Helper()
	raw, err := s.AuthURL(context.Background())
	if err != nil {
		t.Fatalf("AuthURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatal("auth url missing state")
	}
	return state
}

func TestCompleteOAuthCreatesAccount(t *testing.T) {
	s, _ := newTestService(t, config.Auth{})
	ts := newOAuthStub(t, "g@example.com", "Google 用户")
	s.oauth.Endpoint = oauth2.Endpoint{AuthURL: ts.URL + "/auth", TokenURL: ts.URL + "/token"}
	s.userinfoURL = ts.URL + "/userinfo"
	ctx := context.Background()

	sess, err := s.CompleteOAuth(ctx, oauthState(t, s), "stub-code")
	if err != nil {
		t.Fatalf("CompleteOAuth: %v", err)
	}
	if sess.Email != "g@example.com" || sess.Name != "Google 用户" {
		t.Errorf("session = %+v", sess)
	}
	if _, err := s.GetSession(ctx, sess.Token); err != nil {
		t.Errorf("oauth session invalid: %v", err)
	}

	// 第二次回调复用同一账号
	again, err := s.CompleteOAuth(ctx, oauthState(t, s), "stub-code")
	if err != nil {
		t.Fatal(err)
	}
	if again.AccountID != sess.AccountID {
		t.Errorf("account duplicated: %s vs %s", again.AccountID, sess.AccountID)
	}
}

func TestCompleteOAuthStateSingleUse(t *testing.T) {
	s, _ := newTestService(t, config.Auth{})
	ts := newOAuthStub(t, "g@example.com", "")
	s.oauth.Endpoint = oauth2.Endpoint{AuthURL: ts.URL + "/auth", TokenURL: ts.URL + "/token"}
	s.userinfoURL = ts.URL + "/userinfo"
	ctx := context.Background()

	state := oauthState(t, s)
	if _, err := s.CompleteOAuth(ctx, state, "stub-code"); err != nil {
		t.Fatal(err)
	}

	_, err := s.CompleteOAuth(ctx, state, "stub-code")
	var ae *domain.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("reused state err = %v, want AuthError", err)
	}
}

func TestGoogleAccountHasNoPasswordLogin(t *testing.T) {
	s, _ := newTestService(t, config.Auth{})
	ts := newOAuthStub(t, "g@example.com", "")
	s.oauth.Endpoint = oauth2.Endpoint{AuthURL: ts.URL + "/auth", TokenURL: ts.URL + "/token"}
	s.userinfoURL = ts.URL + "/userinfo"
	ctx := context.Background()

	if _, err := s.CompleteOAuth(ctx, oauthState(t, s), "stub-code"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SignIn(ctx, "g@example.com", ""); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}
