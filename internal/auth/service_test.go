package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/oauth"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
	"github.com/hitoshi/authgate/internal/session"
	"github.com/hitoshi/authgate/internal/token"
	"github.com/hitoshi/authgate/internal/twofactor"
	"github.com/hitoshi/authgate/internal/verification"
	"github.com/redis/go-redis/v9"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn          func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn       func(ctx context.Context, email string) (*model.User, error)
	createFn            func(ctx context.Context, user *model.User) error
	createWithAccountFn func(ctx context.Context, user *model.User, account *model.Account) error
	updateFn            func(ctx context.Context, id string, update model.UserUpdate) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) CreateWithAccount(ctx context.Context, user *model.User, account *model.Account) error {
	if m.createWithAccountFn != nil {
		return m.createWithAccountFn(ctx, user, account)
	}
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, id string, update model.UserUpdate) (*model.User, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, update)
	}
	return nil, nil
}

func (m *mockUserRepo) DeleteByID(_ context.Context, _ string) error {
	return nil
}

type mockAccountRepo struct {
	findFn         func(ctx context.Context, provider, subject string) (*model.Account, error)
	updateTokensFn func(ctx context.Context, id, access, refresh string, expiresAt time.Time) error
}

func (m *mockAccountRepo) FindByProviderAndSubject(ctx context.Context, provider, subject string) (*model.Account, error) {
	if m.findFn != nil {
		return m.findFn(ctx, provider, subject)
	}
	return nil, nil
}

func (m *mockAccountRepo) UpdateTokens(ctx context.Context, id, access, refresh string, expiresAt time.Time) error {
	if m.updateTokensFn != nil {
		return m.updateTokensFn(ctx, id, access, refresh, expiresAt)
	}
	return nil
}

// plainHasher はテスト用にハッシュ化しない。
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (plainHasher) Verify(password, encoded string) (bool, error) {
	return encoded == "plain:"+password, nil
}

type mockSender struct {
	verification []string
	twoFactor    []string
}

func (m *mockSender) SendVerificationEmail(_ context.Context, email, token string) (*model.DeliveryResult, error) {
	m.verification = append(m.verification, token)
	return &model.DeliveryResult{Accepted: []string{email}}, nil
}

func (m *mockSender) SendResetEmail(_ context.Context, email, _ string) (*model.DeliveryResult, error) {
	return &model.DeliveryResult{Accepted: []string{email}}, nil
}

func (m *mockSender) SendTwoFactorEmail(_ context.Context, email, token string) (*model.DeliveryResult, error) {
	m.twoFactor = append(m.twoFactor, token)
	return &model.DeliveryResult{Accepted: []string{email}}, nil
}

type mockProvider struct {
	name           string
	exchangeCalls  int
	exchangeCodeFn func(ctx context.Context, code string) (*model.OAuthProfile, error)
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) AuthURL(state string) string {
	return "https://idp.example.com/auth?state=" + state
}

func (m *mockProvider) ExchangeCode(ctx context.Context, code string) (*model.OAuthProfile, error) {
	m.exchangeCalls++
	return m.exchangeCodeFn(ctx, code)
}

func (m *mockProvider) NormalizeProfile(_ []byte) (*model.OAuthProfile, error) {
	return nil, errors.New("not implemented")
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.AccountRepository = (*mockAccountRepo)(nil)
var _ oauth.Provider = (*mockProvider)(nil)

// --- フィクスチャ ---

type fixture struct {
	svc      *Service
	users    map[string]*model.User
	userRepo *mockUserRepo
	accounts *mockAccountRepo
	sessions *session.Store
	ledger   *token.Ledger
	sender   *mockSender
	provider *mockProvider
	mr       *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := &fixture{
		users:    map[string]*model.User{},
		accounts: &mockAccountRepo{},
		sessions: session.NewStore(rdb, "sessions", time.Hour),
		ledger:   token.NewLedger(rdb, time.Hour),
		sender:   &mockSender{},
		provider: &mockProvider{name: oauth.GoogleName},
		mr:       mr,
	}
	f.userRepo = &mockUserRepo{
		findByIDFn: func(_ context.Context, id string) (*model.User, error) {
			return f.users[id], nil
		},
		findByEmailFn: func(_ context.Context, email string) (*model.User, error) {
			for _, u := range f.users {
				if u.Email == email {
					return u, nil
				}
			}
			return nil, nil
		},
		createFn: func(_ context.Context, user *model.User) error {
			f.users[user.ID] = user
			return nil
		},
		createWithAccountFn: func(_ context.Context, user *model.User, _ *model.Account) error {
			f.users[user.ID] = user
			return nil
		},
		updateFn: func(_ context.Context, id string, update model.UserUpdate) (*model.User, error) {
			u, ok := f.users[id]
			if !ok {
				return nil, nil
			}
			if update.IsVerified != nil {
				u.IsVerified = *update.IsVerified
			}
			return u, nil
		},
	}

	f.svc = NewService(Deps{
		Users:        f.userRepo,
		Accounts:     f.accounts,
		Sessions:     f.sessions,
		Hasher:       plainHasher{},
		Verification: verification.NewService(f.ledger, f.userRepo, f.sessions, f.sender, metrics.Nop{}),
		TwoFactor:    twofactor.NewService(f.ledger, f.sender, metrics.Nop{}),
		Providers:    oauth.NewRegistry(f.provider),
		Sanitizer:    security.NewProfileSanitizer(),
	})
	return f
}

func (f *fixture) addUser(u *model.User) *model.User {
	if u.PasswordHash == "" {
		u.PasswordHash = "plain:secret"
	}
	f.users[u.ID] = u
	return u
}

// --- Register ---

func TestRegister_CreatesUnverifiedUserAndSendsToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	user, err := f.svc.Register(ctx, RegisterInput{Email: " A@B.com ", Password: "secret", Name: "Alice"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.Email != "a@b.com" {
		t.Errorf("Email = %q, want %q", user.Email, "a@b.com")
	}
	if user.IsVerified {
		t.Error("expected new user to be unverified")
	}
	if user.PasswordHash != "plain:secret" {
		t.Errorf("PasswordHash = %q, want hashed password", user.PasswordHash)
	}
	if user.Method != model.AuthMethodCredentials {
		t.Errorf("Method = %q, want %q", user.Method, model.AuthMethodCredentials)
	}
	if len(f.sender.verification) != 1 {
		t.Fatalf("verification emails = %d, want 1", len(f.sender.verification))
	}
	if n := len(f.mr.Keys()); n != 2 {
		t.Errorf("redis keys = %d, want only the token record and its value index", n)
	}
}

func TestRegister_SameEmailTwice_EmailTaken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.Register(ctx, RegisterInput{Email: "a@b.com", Password: "secret"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	_, err := f.svc.Register(ctx, RegisterInput{Email: "a@b.com", Password: "other"})
	if !errors.Is(err, model.ErrEmailTaken) {
		t.Errorf("Register() error = %v, want EMAIL_TAKEN", err)
	}
}

func TestRegister_DuplicateOnInsert_EmailTaken(t *testing.T) {
	f := newFixture(t)
	f.userRepo.createFn = func(_ context.Context, _ *model.User) error {
		return repository.ErrDuplicate
	}

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@b.com", Password: "secret"})
	if !errors.Is(err, model.ErrEmailTaken) {
		t.Errorf("Register() error = %v, want EMAIL_TAKEN", err)
	}
}

// --- LoginWithCredentials ---

func TestLogin_Success(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(&model.User{ID: "u1", Email: "a@b.com", IsVerified: true})

	res, err := f.svc.LoginWithCredentials(ctx, LoginInput{Email: "a@b.com", Password: "secret"})
	if err != nil {
		t.Fatalf("LoginWithCredentials() error = %v", err)
	}
	if res.Session == nil || res.Session.UserID != "u1" {
		t.Fatalf("Session = %+v, want session for u1", res.Session)
	}

	found, err := f.sessions.Find(ctx, res.Session.ID)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if found == nil {
		t.Error("expected session to be persisted")
	}
}

func TestLogin_WrongPassword_InvalidCredentialsWithoutSession(t *testing.T) {
	f := newFixture(t)
	f.addUser(&model.User{ID: "u1", Email: "a@b.com", IsVerified: true})

	_, err := f.svc.LoginWithCredentials(context.Background(), LoginInput{Email: "a@b.com", Password: "wrong"})
	if !errors.Is(err, model.ErrInvalidCredentials) {
		t.Errorf("LoginWithCredentials() error = %v, want INVALID_CREDENTIALS", err)
	}
	if n := len(f.mr.Keys()); n != 0 {
		t.Errorf("redis keys = %d, want 0", n)
	}
}

func TestLogin_UnknownUserOrNoPassword_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	f.users["oauth-only"] = &model.User{ID: "oauth-only", Email: "o@b.com", IsVerified: true}

	for _, email := range []string{"nobody@b.com", "o@b.com"} {
		_, err := f.svc.LoginWithCredentials(context.Background(), LoginInput{Email: email, Password: "secret"})
		if !errors.Is(err, model.ErrInvalidCredentials) {
			t.Errorf("LoginWithCredentials(%q) error = %v, want INVALID_CREDENTIALS", email, err)
		}
	}
}

func TestLogin_Unverified_ResendsFreshToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(&model.User{ID: "u1", Email: "a@b.com"})

	prior, err := f.ledger.Issue(ctx, "a@b.com", model.TokenVerification)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	_, err = f.svc.LoginWithCredentials(ctx, LoginInput{Email: "a@b.com", Password: "secret"})
	if !errors.Is(err, model.ErrUnverifiedEmail) {
		t.Fatalf("LoginWithCredentials() error = %v, want UNVERIFIED_EMAIL", err)
	}
	if len(f.sender.verification) != 1 {
		t.Fatalf("verification emails = %d, want 1", len(f.sender.verification))
	}
	if f.sender.verification[0] == prior.Value {
		t.Error("expected a fresh token value")
	}
}

func TestLogin_TwoFactor_FullCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(&model.User{ID: "u1", Email: "a@b.com", IsVerified: true, IsTwoFactorEnabled: true})

	res, err := f.svc.LoginWithCredentials(ctx, LoginInput{Email: "a@b.com", Password: "secret"})
	if err != nil {
		t.Fatalf("first login error = %v", err)
	}
	if !res.TwoFactorRequired || res.Session != nil {
		t.Fatalf("result = %+v, want code sent without session", res)
	}
	live, err := f.ledger.LookupByEmail(ctx, "a@b.com", model.TokenTwoFactor)
	if err != nil || live == nil {
		t.Fatalf("LookupByEmail() = %v, %v, want live token", live, err)
	}
	code := f.sender.twoFactor[0]

	res, err = f.svc.LoginWithCredentials(ctx, LoginInput{Email: "a@b.com", Password: "secret", Code: code})
	if err != nil {
		t.Fatalf("second login error = %v", err)
	}
	if res.Session == nil {
		t.Fatal("expected session after valid code")
	}

	_, err = f.svc.LoginWithCredentials(ctx, LoginInput{Email: "a@b.com", Password: "secret", Code: code})
	if !errors.Is(err, model.ErrTokenNotFound) {
		t.Errorf("third login error = %v, want TOKEN_NOT_FOUND", err)
	}
}

func TestLogin_TwoFactor_WrongCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(&model.User{ID: "u1", Email: "a@b.com", IsVerified: true, IsTwoFactorEnabled: true})

	if _, err := f.svc.LoginWithCredentials(ctx, LoginInput{Email: "a@b.com", Password: "secret"}); err != nil {
		t.Fatalf("first login error = %v", err)
	}
	wrong := "100000"
	if f.sender.twoFactor[0] == wrong {
		wrong = "100001"
	}

	_, err := f.svc.LoginWithCredentials(ctx, LoginInput{Email: "a@b.com", Password: "secret", Code: wrong})
	if !errors.Is(err, model.ErrTwoFactorInvalid) {
		t.Errorf("LoginWithCredentials() error = %v, want TWO_FACTOR_INVALID", err)
	}
}

func TestLogin_ConflictingSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(&model.User{ID: "u1", Email: "a@b.com", IsVerified: true})

	other, err := f.sessions.Create(ctx, "u2")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err = f.svc.LoginWithCredentials(ctx, LoginInput{
		Email: "a@b.com", Password: "secret", CurrentSessionID: other.ID,
	})
	if !errors.Is(err, model.ErrConflictingSession) {
		t.Errorf("LoginWithCredentials() error = %v, want CONFLICTING_SESSION", err)
	}

	own, err := f.sessions.Create(ctx, "u1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.svc.LoginWithCredentials(ctx, LoginInput{
		Email: "a@b.com", Password: "secret", CurrentSessionID: own.ID,
	}); err != nil {
		t.Errorf("LoginWithCredentials() with own session error = %v", err)
	}
}

func TestLogin_WithOwnSession_RotatesHandle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(&model.User{ID: "u1", Email: "a@b.com", IsVerified: true})

	first, err := f.svc.LoginWithCredentials(ctx, LoginInput{Email: "a@b.com", Password: "secret"})
	if err != nil {
		t.Fatalf("LoginWithCredentials() error = %v", err)
	}
	second, err := f.svc.LoginWithCredentials(ctx, LoginInput{
		Email: "a@b.com", Password: "secret", CurrentSessionID: first.Session.ID,
	})
	if err != nil {
		t.Fatalf("LoginWithCredentials() error = %v", err)
	}
	if second.Session.ID == first.Session.ID {
		t.Fatal("expected a new handle on re-login")
	}

	if _, err := f.svc.Me(ctx, first.Session.ID); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("Me(old handle) error = %v, want UNAUTHORIZED", err)
	}
	handles, err := f.sessions.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(handles) != 1 || handles[0] != second.Session.ID {
		t.Errorf("handles = %v, want [%s]", handles, second.Session.ID)
	}
}

// --- OAuth ---

func googleProfile() *model.OAuthProfile {
	return &model.OAuthProfile{
		Subject:      "sub-1",
		Email:        "G@Example.com",
		Name:         "<b>Gina</b>",
		PictureURL:   "https://lh3.googleusercontent.com/a/photo",
		ProviderName: oauth.GoogleName,
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func TestLoginWithOAuth_UnknownProvider_NoExchange(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.LoginWithOAuth(context.Background(), "github", "code", "")
	if !errors.Is(err, model.ErrUnknownProvider) {
		t.Errorf("LoginWithOAuth() error = %v, want UNKNOWN_PROVIDER", err)
	}
	if f.provider.exchangeCalls != 0 {
		t.Errorf("exchange calls = %d, want 0", f.provider.exchangeCalls)
	}
}

func TestLoginWithOAuth_NewUser_CreatesVerifiedUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.exchangeCodeFn = func(_ context.Context, _ string) (*model.OAuthProfile, error) {
		return googleProfile(), nil
	}

	var createdAccount *model.Account
	f.userRepo.createWithAccountFn = func(_ context.Context, user *model.User, account *model.Account) error {
		f.users[user.ID] = user
		createdAccount = account
		return nil
	}

	res, err := f.svc.LoginWithOAuth(ctx, oauth.GoogleName, "code", "")
	if err != nil {
		t.Fatalf("LoginWithOAuth() error = %v", err)
	}
	u := res.User
	if !u.IsVerified {
		t.Error("expected OAuth user to be verified")
	}
	if u.Email != "g@example.com" {
		t.Errorf("Email = %q, want %q", u.Email, "g@example.com")
	}
	if u.Name != "Gina" {
		t.Errorf("Name = %q, want %q", u.Name, "Gina")
	}
	if u.Method != model.AuthMethodGoogle {
		t.Errorf("Method = %q, want %q", u.Method, model.AuthMethodGoogle)
	}
	if createdAccount == nil || createdAccount.ProviderAccountID != "sub-1" || createdAccount.UserID != u.ID {
		t.Errorf("account = %+v, want link to sub-1", createdAccount)
	}
	if createdAccount != nil && createdAccount.RefreshToken != "rt" {
		t.Errorf("RefreshToken = %q, want %q", createdAccount.RefreshToken, "rt")
	}
	if res.Session == nil || res.Session.UserID != u.ID {
		t.Errorf("Session = %+v, want session for new user", res.Session)
	}
	if len(f.sender.verification) != 0 || len(f.sender.twoFactor) != 0 {
		t.Error("expected no email on OAuth login")
	}
}

func TestLoginWithOAuth_ExistingAccount_RefreshesTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(&model.User{ID: "u1", Email: "g@example.com", IsVerified: true, IsTwoFactorEnabled: true})
	f.provider.exchangeCodeFn = func(_ context.Context, _ string) (*model.OAuthProfile, error) {
		return googleProfile(), nil
	}
	f.accounts.findFn = func(_ context.Context, provider, subject string) (*model.Account, error) {
		if provider == oauth.GoogleName && subject == "sub-1" {
			return &model.Account{ID: "acc-1", UserID: "u1"}, nil
		}
		return nil, nil
	}
	var updatedID, updatedAccess string
	f.accounts.updateTokensFn = func(_ context.Context, id, access, _ string, _ time.Time) error {
		updatedID, updatedAccess = id, access
		return nil
	}

	res, err := f.svc.LoginWithOAuth(ctx, oauth.GoogleName, "code", "")
	if err != nil {
		t.Fatalf("LoginWithOAuth() error = %v", err)
	}
	if res.User.ID != "u1" {
		t.Errorf("User.ID = %q, want %q", res.User.ID, "u1")
	}
	if updatedID != "acc-1" || updatedAccess != "at" {
		t.Errorf("UpdateTokens(%q, %q), want (acc-1, at)", updatedID, updatedAccess)
	}
	if res.Session == nil {
		t.Error("expected session without two-factor on OAuth login")
	}
}

func TestLoginWithOAuth_ReplacesCurrentSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(&model.User{ID: "u1", Email: "g@example.com", IsVerified: true})
	f.provider.exchangeCodeFn = func(_ context.Context, _ string) (*model.OAuthProfile, error) {
		return googleProfile(), nil
	}
	f.accounts.findFn = func(_ context.Context, _, _ string) (*model.Account, error) {
		return &model.Account{ID: "acc-1", UserID: "u1"}, nil
	}

	old, err := f.sessions.Create(ctx, "u1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	res, err := f.svc.LoginWithOAuth(ctx, oauth.GoogleName, "code", old.ID)
	if err != nil {
		t.Fatalf("LoginWithOAuth() error = %v", err)
	}
	if res.Session.ID == old.ID {
		t.Fatal("expected a new handle")
	}
	if found, _ := f.sessions.Find(ctx, old.ID); found != nil {
		t.Error("old handle still resolves after OAuth login")
	}
}

func TestLoginWithOAuth_EmailOwnedByOtherUser_EmailTaken(t *testing.T) {
	f := newFixture(t)
	f.addUser(&model.User{ID: "u1", Email: "g@example.com", IsVerified: true})
	f.provider.exchangeCodeFn = func(_ context.Context, _ string) (*model.OAuthProfile, error) {
		return googleProfile(), nil
	}

	_, err := f.svc.LoginWithOAuth(context.Background(), oauth.GoogleName, "code", "")
	if !errors.Is(err, model.ErrEmailTaken) {
		t.Errorf("LoginWithOAuth() error = %v, want EMAIL_TAKEN", err)
	}
}

func TestLoginWithOAuth_ExchangeFailure_Propagates(t *testing.T) {
	f := newFixture(t)
	f.provider.exchangeCodeFn = func(_ context.Context, _ string) (*model.OAuthProfile, error) {
		return nil, model.NewOAuthExchangeFailedError("invalid_grant")
	}

	_, err := f.svc.LoginWithOAuth(context.Background(), oauth.GoogleName, "code", "")
	if !errors.Is(err, model.ErrOAuthExchangeFailed) {
		t.Errorf("LoginWithOAuth() error = %v, want OAUTH_EXCHANGE_FAILED", err)
	}
}

func TestConnectURL(t *testing.T) {
	f := newFixture(t)

	url, err := f.svc.ConnectURL(oauth.GoogleName, "xyz")
	if err != nil {
		t.Fatalf("ConnectURL() error = %v", err)
	}
	if !strings.Contains(url, "state=xyz") {
		t.Errorf("ConnectURL() = %q, want state parameter", url)
	}

	if _, err := f.svc.ConnectURL("github", "xyz"); !errors.Is(err, model.ErrUnknownProvider) {
		t.Errorf("ConnectURL(github) error = %v, want UNKNOWN_PROVIDER", err)
	}
}

// --- Logout / Me ---

func TestLogout_DestroysSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.sessions.Create(ctx, "u1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := f.svc.Logout(ctx, sess.ID, "u1"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	found, err := f.sessions.Find(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if found != nil {
		t.Error("expected session to be destroyed")
	}

	// 既に存在しなくても成功する
	if err := f.svc.Logout(ctx, sess.ID, "u1"); err != nil {
		t.Errorf("second Logout() error = %v", err)
	}
}

func TestLogoutAll_RevokesEverySession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var handles []string
	for i := 0; i < 3; i++ {
		sess, err := f.sessions.Create(ctx, "u1")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		handles = append(handles, sess.ID)
	}

	n, err := f.svc.LogoutAll(ctx, "u1")
	if err != nil {
		t.Fatalf("LogoutAll() error = %v", err)
	}
	if n != 3 {
		t.Errorf("LogoutAll() = %d, want 3", n)
	}
	for _, h := range handles {
		if found, _ := f.sessions.Find(ctx, h); found != nil {
			t.Errorf("session %s still resolvable", h)
		}
	}
}

func TestMe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(&model.User{ID: "u1", Email: "a@b.com", IsVerified: true})

	sess, err := f.sessions.Create(ctx, "u1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	user, err := f.svc.Me(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("Me().ID = %q, want %q", user.ID, "u1")
	}

	if _, err := f.svc.Me(ctx, "missing"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("Me(missing) error = %v, want UNAUTHORIZED", err)
	}
	if _, err := f.svc.Me(ctx, ""); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("Me(\"\") error = %v, want UNAUTHORIZED", err)
	}
}
