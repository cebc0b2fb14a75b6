package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"lostfound/internal/core/auth"
	"lostfound/internal/core/cache"
	"lostfound/internal/core/config"
	"lostfound/internal/domain"
	"lostfound/internal/identity"
	"lostfound/internal/repo"
)

const testAdminCode = "79041167197200060295"

func testStack(t *testing.T) (*identity.Service, *repo.ProfileRepo) {
	t.Helper()
	db := repo.NewTestDB(t)
	if err := db.AutoMigrate(&identity.Account{}); err != nil {
		t.Fatal(err)
	}
	mr := miniredis.RunT(t)
	c := cache.New(mr.Addr(), "", 0, "t:")
	t.Cleanup(func() { _ = c.Close() })
	j := auth.JWTer{Secret: "test-secret", Issuer: "lostfound-test", TTL: time.Hour}
	svc := identity.NewService(db, c, j, config.Auth{}, zap.NewNop())
	return svc, repo.NewProfileRepo(db)
}

func newManager(p identity.Provider, profiles domain.ProfileRepository) *Manager {
	return NewManager(p, profiles, testAdminCode, zap.NewNop())
}

func TestRegisterGrantsAdminWithCorrectCode(t *testing.T) {
	svc, profiles := testStack(t)
	m := newManager(svc, profiles)
	ctx := context.Background()

	res, err := m.Register(ctx, RegisterInput{
		Name: "管理员", Email: "admin@example.com", Password: "secret123",
		AdminCode: testAdminCode,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.Role != domain.RoleAdmin || res.ProfilePending {
		t.Errorf("result = %+v", res)
	}

	u, err := profiles.FindByID(ctx, res.AccountID)
	if err != nil {
		t.Fatal(err)
	}
	if !u.IsAdmin() {
		t.Errorf("profile role = %q, want admin", u.Role)
	}
}

func TestRegisterRejectsWrongCode(t *testing.T) {
	svc, profiles := testStack(t)
	m := newManager(svc, profiles)
	ctx := context.Background()

	_, err := m.Register(ctx, RegisterInput{
		Name: "no", Email: "no@example.com", Password: "secret123", AdminCode: "wrong",
	})
	if !errors.Is(err, domain.ErrInvalidAdminCode) {
		t.Fatalf("err = %v, want ErrInvalidAdminCode", err)
	}

	// 身份源没被碰：账号不存在
	if _, err := svc.SignIn(ctx, "no@example.com", "secret123"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Errorf("account was created despite rejected code: %v", err)
	}
	if _, err := profiles.FindByID(ctx, "any"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unexpected profile state: %v", err)
	}
}

func TestRegisterEmptyCodeMakesPlainUser(t *testing.T) {
	svc, profiles := testStack(t)
	m := newManager(svc, profiles)

	res, err := m.Register(context.Background(), RegisterInput{
		Name: "普通", Email: "u@example.com", Password: "secret123",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Role != domain.RoleUser {
		t.Errorf("role = %q, want user", res.Role)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, profiles := testStack(t)
	m := newManager(svc, profiles)
	ctx := context.Background()

	if _, err := m.Register(ctx, RegisterInput{Name: "一", Email: "a@example.com", Password: "secret123"}); err != nil {
		t.Fatal(err)
	}
	_, err := m.Register(ctx, RegisterInput{Name: "二", Email: "a@example.com", Password: "other456"})
	if !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("err = %v, want ErrEmailTaken", err)
	}
}

type flakyProfiles struct {
	domain.ProfileRepository
	fail bool
}

func (f *flakyProfiles) Create(ctx context.Context, u *domain.User) error {
	if f.fail {
		return errors.New("profiles table unavailable")
	}
	return f.ProfileRepository.Create(ctx, u)
}

func TestRegisterPartialFailureReportedNotMasked(t *testing.T) {
	svc, profiles := testStack(t)
	flaky := &flakyProfiles{ProfileRepository: profiles, fail: true}
	m := newManager(svc, flaky)
	ctx := context.Background()

	res, err := m.Register(ctx, RegisterInput{Name: "半", Email: "p@example.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("partial failure must not surface as error: %v", err)
	}
	if !res.ProfilePending {
		t.Fatal("ProfilePending not set")
	}

	// 档案恢复可写后，下次登录当场补建（默认 user 角色）
	flaky.fail = false
	user, _, err := m.Login(ctx, "p@example.com", "secret123", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.Role != domain.RoleUser {
		t.Errorf("recovered profile role = %q, want user", user.Role)
	}
}

func TestLoginAndCurrent(t *testing.T) {
	svc, profiles := testStack(t)
	m := newManager(svc, profiles)
	ctx := context.Background()

	if _, err := m.Register(ctx, RegisterInput{Name: "张三", Email: "z@example.com", Password: "secret123", Phone: "13800000000"}); err != nil {
		t.Fatal(err)
	}

	user, sess, err := m.Login(ctx, "z@example.com", "secret123", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.Name != "张三" || sess.Token == "" {
		t.Errorf("user = %+v, sess = %+v", user, sess)
	}

	got, err := m.Current(ctx, sess.Token)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if got.ID != user.ID || got.Email != "z@example.com" {
		t.Errorf("got %+v", got)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, profiles := testStack(t)
	m := newManager(svc, profiles)
	ctx := context.Background()

	if _, err := m.Register(ctx, RegisterInput{Name: "x", Email: "x@example.com", Password: "secret123"}); err != nil {
		t.Fatal(err)
	}
	_, _, err := m.Login(ctx, "x@example.com", "nope", "")
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginDiscardsStaleToken(t *testing.T) {
	svc, profiles := testStack(t)
	m := newManager(svc, profiles)
	ctx := context.Background()

	if _, err := m.Register(ctx, RegisterInput{Name: "x", Email: "x@example.com", Password: "secret123"}); err != nil {
		t.Fatal(err)
	}
	_, first, err := m.Login(ctx, "x@example.com", "secret123", "")
	if err != nil {
		t.Fatal(err)
	}
	_, second, err := m.Login(ctx, "x@example.com", "secret123", first.Token)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.GetSession(ctx, first.Token); !errors.Is(err, domain.ErrSessionExpired) {
		t.Errorf("stale token still alive: %v", err)
	}
	if _, err := m.Current(ctx, second.Token); err != nil {
		t.Errorf("fresh token rejected: %v", err)
	}
}

func TestLogoutIsGlobal(t *testing.T) {
	svc, profiles := testStack(t)
	m := newManager(svc, profiles)
	ctx := context.Background()

	if _, err := m.Register(ctx, RegisterInput{Name: "x", Email: "x@example.com", Password: "secret123"}); err != nil {
		t.Fatal(err)
	}
	// 两个设备各登一次
	_, s1, err := m.Login(ctx, "x@example.com", "secret123", "")
	if err != nil {
		t.Fatal(err)
	}
	_, s2, err := m.Login(ctx, "x@example.com", "secret123", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Logout(ctx, s1.Token); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := m.Current(ctx, s1.Token); err == nil {
		t.Error("own session survived logout")
	}
	if _, err := m.Current(ctx, s2.Token); err == nil {
		t.Error("sibling device session survived global logout")
	}
}

func TestLogoutDeadTokenIsIdempotent(t *testing.T) {
	svc, profiles := testStack(t)
	m := newManager(svc, profiles)
	if err := m.Logout(context.Background(), "not-a-real-token"); err != nil {
		t.Fatalf("Logout of dead token: %v", err)
	}
}

func TestCurrentRequiresToken(t *testing.T) {
	svc, profiles := testStack(t)
	m := newManager(svc, profiles)
	if _, err := m.Current(context.Background(), ""); !errors.Is(err, domain.ErrLoginRequired) {
		t.Fatalf("err = %v, want ErrLoginRequired", err)
	}
}

func TestProfileCreatedOnTheFly(t *testing.T) {
	svc, profiles := testStack(t)
	m := newManager(svc, profiles)
	ctx := context.Background()

	// 绕过 Register 直接开账号：模拟档案插入曾失败的历史账号
	if _, err := svc.SignUp(ctx, "orphan@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}

	user, _, err := m.Login(ctx, "orphan@example.com", "secret123", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.Role != domain.RoleUser {
		t.Errorf("role = %q, want user", user.Role)
	}
	if user.Name != "orphan" {
		t.Errorf("name = %q, want email local part", user.Name)
	}
}

func TestBannedUserCannotLogin(t *testing.T) {
	svc, profiles := testStack(t)
	m := newManager(svc, profiles)
	ctx := context.Background()

	res, err := m.Register(ctx, RegisterInput{Name: "坏", Email: "bad@example.com", Password: "secret123"})
	if err != nil {
		t.Fatal(err)
	}
	if err := profiles.Ban(ctx, res.AccountID); err != nil {
		t.Fatal(err)
	}

	_, _, err = m.Login(ctx, "bad@example.com", "secret123", "")
	if !errors.Is(err, domain.ErrAccountDisabled) {
		t.Fatalf("err = %v, want ErrAccountDisabled", err)
	}
}

func TestRunEvictsSnapshotOnCrossInstanceLogout(t *testing.T) {
	svc, profiles := testStack(t)
	m1 := newManager(svc, profiles)
	m2 := newManager(svc, profiles)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := m1.Register(ctx, RegisterInput{Name: "x", Email: "x@example.com", Password: "secret123"}); err != nil {
		t.Fatal(err)
	}
	_, sess, err := m1.Login(ctx, "x@example.com", "secret123", "")
	if err != nil {
		t.Fatal(err)
	}
	// m2 先用同一令牌服务过该用户，快照里有他
	if _, err := m2.Current(ctx, sess.Token); err != nil {
		t.Fatal(err)
	}

	go func() { _ = m2.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := m1.Logout(ctx, sess.Token); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := m2.Current(ctx, sess.Token); err != nil {
			return // 快照被事件清退，会话已不可用
		}
		if time.Now().After(deadline) {
			t.Fatal("second instance kept serving a logged-out session")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestUpdateProfile(t *testing.T) {
	svc, profiles := testStack(t)
	m := newManager(svc, profiles)
	ctx := context.Background()

	if _, err := m.Register(ctx, RegisterInput{Name: "旧名", Email: "u@example.com", Password: "secret123"}); err != nil {
		t.Fatal(err)
	}
	_, sess, err := m.Login(ctx, "u@example.com", "secret123", "")
	if err != nil {
		t.Fatal(err)
	}

	user, err := m.UpdateProfile(ctx, sess.Token, "新名", "13911112222")
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if user.Name != "新名" || user.Phone != "13911112222" {
		t.Errorf("user = %+v", user)
	}

	got, err := m.Current(ctx, sess.Token)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "新名" {
		t.Errorf("snapshot not refreshed: %+v", got)
	}
}
