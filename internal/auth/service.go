// Package auth は登録、ログイン、ログアウトを束ねる認証オーケストレーターを提供する。
//
// 状態遷移:
//
//	anonymous → registered-unverified  (Register)
//	anonymous → authenticated          (LoginWithCredentials / LoginWithOAuth)
//	authenticated → two-factor-pending → authenticated
//	authenticated → anonymous          (Logout)
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/oauth"
	"github.com/hitoshi/authgate/internal/repository"
)

const (
	methodCredentials = "credentials"
)

// SessionStore はオーケストレーターが使うセッション操作。
type SessionStore interface {
	Replace(ctx context.Context, current, userID string) (*model.Session, error)
	Find(ctx context.Context, handle string) (*model.Session, error)
	Destroy(ctx context.Context, handle, userID string) error
	DestroyAll(ctx context.Context, userID string) (int, error)
}

// PasswordHasher はパスワードのハッシュ化と照合を行う。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// VerificationStarter は確認トークンを発行して送信する。
type VerificationStarter interface {
	Start(ctx context.Context, user *model.User) error
}

// TwoFactor は二要素認証コードの送信と照合を行う。
type TwoFactor interface {
	SendCode(ctx context.Context, email string) error
	ValidateCode(ctx context.Context, email, code string) (bool, error)
}

// ProviderRegistry は名前からOAuthプロバイダーを解決する。
type ProviderRegistry interface {
	Get(name string) (oauth.Provider, error)
}

// ProfileSanitizer はIdPから受け取った表示名とアバターURLを無害化する。
type ProfileSanitizer interface {
	DisplayName(raw string) string
	PictureURL(raw string) string
}

// Deps はServiceの依存関係。
type Deps struct {
	Users        repository.UserRepository
	Accounts     repository.AccountRepository
	Sessions     SessionStore
	Hasher       PasswordHasher
	Verification VerificationStarter
	TwoFactor    TwoFactor
	Providers    ProviderRegistry
	Sanitizer    ProfileSanitizer
	Metrics      metrics.MetricsCollector
}

// Service は認証のトップレベルの状態機械。
// リクエスト間で共有する状態は持たず、セッションハンドルとユーザーIDは引数で受け取る。
type Service struct {
	users        repository.UserRepository
	accounts     repository.AccountRepository
	sessions     SessionStore
	hasher       PasswordHasher
	verification VerificationStarter
	twoFactor    TwoFactor
	providers    ProviderRegistry
	sanitizer    ProfileSanitizer
	metrics      metrics.MetricsCollector
	now          func() time.Time
}

// NewService はServiceを生成する。Metricsがnilの場合は記録しない。
func NewService(deps Deps) *Service {
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		users:        deps.Users,
		accounts:     deps.Accounts,
		sessions:     deps.Sessions,
		hasher:       deps.Hasher,
		verification: deps.Verification,
		twoFactor:    deps.TwoFactor,
		providers:    deps.Providers,
		sanitizer:    deps.Sanitizer,
		metrics:      mc,
		now:          time.Now,
	}
}

// RegisterInput は新規登録の入力。
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// LoginInput はパスワードログインの入力。
// CurrentSessionIDはリクエストが既に持っているセッションハンドル（なければ空）。
type LoginInput struct {
	Email            string
	Password         string
	Code             string
	CurrentSessionID string
}

// LoginResult はログインの結果。
// TwoFactorRequiredがtrueの場合、コードを送信済みでSessionはnil。
type LoginResult struct {
	User              *model.User
	Session           *model.Session
	TwoFactorRequired bool
}

// Register はユーザーを作成して確認メールを送る。セッションは発行しない。
// 確認メールの送信に失敗した場合もユーザーは作成済みのまま返る。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	email := model.NormalizeEmail(in.Email)

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(in.Name),
		Method:       model.AuthMethodCredentials,
		Role:         model.RoleRegular,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", slog.String("user_id", user.ID))

	if err := s.verification.Start(ctx, user); err != nil {
		return user, err
	}
	return user, nil
}

// LoginWithCredentials はメールアドレスとパスワードでログインする。
// 確認、二要素認証の順に判定する。
func (s *Service) LoginWithCredentials(ctx context.Context, in LoginInput) (*LoginResult, error) {
	result, err := s.loginWithCredentials(ctx, in)
	switch {
	case err != nil:
		s.metrics.RecordLogin(methodCredentials, metrics.ResultFailure)
	case result.TwoFactorRequired:
		s.metrics.RecordLogin(methodCredentials, metrics.ResultTwoFactorRequired)
	default:
		s.metrics.RecordLogin(methodCredentials, metrics.ResultSuccess)
	}
	return result, err
}

func (s *Service) loginWithCredentials(ctx context.Context, in LoginInput) (*LoginResult, error) {
	user, err := s.users.FindByEmail(ctx, model.NormalizeEmail(in.Email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.HasPassword() {
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := s.hasher.Verify(in.Password, user.PasswordHash)
	if err != nil {
		slog.Error("failed to verify password",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInvalidCredentialsError()
	}
	if !ok {
		return nil, model.NewInvalidCredentialsError()
	}

	if err := s.checkCurrentSession(ctx, in.CurrentSessionID, user.ID); err != nil {
		return nil, err
	}

	if !user.IsVerified {
		if err := s.verification.Start(ctx, user); err != nil {
			return nil, err
		}
		return nil, model.NewUnverifiedEmailError()
	}

	if user.IsTwoFactorEnabled {
		if in.Code == "" {
			if err := s.twoFactor.SendCode(ctx, user.Email); err != nil {
				return nil, err
			}
			slog.Info("two-factor code sent", slog.String("user_id", user.ID))
			return &LoginResult{User: user, TwoFactorRequired: true}, nil
		}

		if _, err := s.twoFactor.ValidateCode(ctx, user.Email, in.Code); err != nil {
			if errors.Is(err, model.ErrInvalidCode) {
				return nil, model.NewTwoFactorInvalidError()
			}
			return nil, err
		}
	}

	session, err := s.startSession(ctx, in.CurrentSessionID, user.ID)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("method", methodCredentials),
	)
	return &LoginResult{User: user, Session: session}, nil
}

// checkCurrentSession は別ユーザーのセッションを持ったままのログインを拒否する。
func (s *Service) checkCurrentSession(ctx context.Context, handle, userID string) error {
	if handle == "" {
		return nil
	}
	current, err := s.sessions.Find(ctx, handle)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}
	if current != nil && current.UserID != userID {
		return model.NewConflictingSessionError()
	}
	return nil
}

// ConnectURL はプロバイダーの認可画面のURLを返す。
func (s *Service) ConnectURL(providerName, state string) (string, error) {
	p, err := s.providers.Get(providerName)
	if err != nil {
		return "", err
	}
	return p.AuthURL(state), nil
}

// LoginWithOAuth は認可コードを交換してログインする。
// 未登録の場合は確認済みユーザーとaccountを作成する。確認メールと二要素認証は使わない。
// currentSessionIDはリクエストが既に持っているセッションハンドルで、新しいセッションに置き換える。
func (s *Service) LoginWithOAuth(ctx context.Context, providerName, code, currentSessionID string) (*LoginResult, error) {
	result, err := s.loginWithOAuth(ctx, providerName, code, currentSessionID)
	if err != nil {
		s.metrics.RecordLogin(providerName, metrics.ResultFailure)
		return nil, err
	}
	s.metrics.RecordLogin(providerName, metrics.ResultSuccess)
	return result, nil
}

func (s *Service) loginWithOAuth(ctx context.Context, providerName, code, currentSessionID string) (*LoginResult, error) {
	provider, err := s.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	started := s.now()
	profile, err := provider.ExchangeCode(ctx, code)
	s.metrics.RecordOAuthExchange(providerName, s.now().Sub(started))
	if err != nil {
		return nil, err
	}
	profile.Email = model.NormalizeEmail(profile.Email)
	if profile.Subject == "" || profile.Email == "" {
		return nil, model.NewOAuthProfileFetchFailedError("profile has no subject or email")
	}

	user, err := s.resolveOAuthUser(ctx, providerName, profile)
	if err != nil {
		return nil, err
	}

	session, err := s.startSession(ctx, currentSessionID, user.ID)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("method", providerName),
	)
	return &LoginResult{User: user, Session: session}, nil
}

// resolveOAuthUser は(provider, subject)に紐づくユーザーを返す。なければ作成する。
func (s *Service) resolveOAuthUser(ctx context.Context, providerName string, profile *model.OAuthProfile) (*model.User, error) {
	account, err := s.accounts.FindByProviderAndSubject(ctx, providerName, profile.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	if account != nil {
		if err := s.accounts.UpdateTokens(ctx, account.ID, profile.AccessToken, profile.RefreshToken, profile.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to update account tokens: %w", err)
		}
		user, err := s.users.FindByID(ctx, account.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, model.NewUserNotFoundError()
		}
		return user, nil
	}

	// 同じメールアドレスの既存ユーザーへの暗黙の紐付けはしない
	existing, err := s.users.FindByEmail(ctx, profile.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	now := s.now()
	user := &model.User{
		ID:         uuid.New().String(),
		Email:      profile.Email,
		Name:       s.sanitizer.DisplayName(profile.Name),
		Picture:    s.sanitizer.PictureURL(profile.PictureURL),
		Method:     methodFor(providerName),
		Role:       model.RoleRegular,
		IsVerified: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	newAccount := &model.Account{
		ID:                uuid.New().String(),
		UserID:            user.ID,
		Type:              "oauth",
		Provider:          providerName,
		ProviderAccountID: profile.Subject,
		AccessToken:       profile.AccessToken,
		RefreshToken:      profile.RefreshToken,
		ExpiresAt:         profile.ExpiresAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.users.CreateWithAccount(ctx, user, newAccount); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user and account: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", providerName),
	)
	return user, nil
}

// Logout はセッションを破棄する。既に存在しなくても成功する。
func (s *Service) Logout(ctx context.Context, handle, userID string) error {
	if err := s.sessions.Destroy(ctx, handle, userID); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	slog.Info("user logged out", slog.String("user_id", userID))
	return nil
}

// LogoutAll はユーザーの全セッションを破棄し、破棄した件数を返す。
func (s *Service) LogoutAll(ctx context.Context, userID string) (int, error) {
	n, err := s.sessions.DestroyAll(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to destroy sessions: %w", err)
	}
	s.metrics.RecordSessionsRevoked(n)
	slog.Info("all sessions revoked",
		slog.String("user_id", userID),
		slog.Int("count", n),
	)
	return n, nil
}

// Me はセッションから現在のユーザーを取得する。
func (s *Service) Me(ctx context.Context, handle string) (*model.User, error) {
	if handle == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessions.Find(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// startSession はリクエストが持っていたセッションを破棄して新しいセッションを発行する。
func (s *Service) startSession(ctx context.Context, current, userID string) (*model.Session, error) {
	session, err := s.sessions.Replace(ctx, current, userID)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSessionCreated()
	return session, nil
}

// methodFor はプロバイダー名からユーザー作成時の認証方式を決める。
func methodFor(providerName string) model.AuthMethod {
	switch providerName {
	case oauth.GoogleName:
		return model.AuthMethodGoogle
	case oauth.YandexName:
		return model.AuthMethodYandex
	default:
		return model.AuthMethod(strings.ToUpper(providerName))
	}
}
