// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*model.User, error)
	LoginWithCredentials(ctx context.Context, in auth.LoginInput) (*auth.LoginResult, error)
	ConnectURL(providerName, state string) (string, error)
	LoginWithOAuth(ctx context.Context, providerName, code, currentSessionID string) (*auth.LoginResult, error)
	Logout(ctx context.Context, handle, userID string) error
	LogoutAll(ctx context.Context, userID string) (int, error)
	Me(ctx context.Context, handle string) (*model.User, error)
}

// VerificationServiceInterface はメール確認の完了処理。
type VerificationServiceInterface interface {
	Complete(ctx context.Context, tokenValue, currentSessionID string) (*model.User, *model.Session, error)
}

// RecoveryServiceInterface はパスワードリセット処理。
type RecoveryServiceInterface interface {
	RequestReset(ctx context.Context, email string) error
	ApplyReset(ctx context.Context, tokenValue, newPassword string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// RedirectURL はOAuthログイン完了後のリダイレクト先（フロントエンド）。
	RedirectURL   string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service      AuthServiceInterface
	verification VerificationServiceInterface
	recovery     RecoveryServiceInterface
	config       AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	service AuthServiceInterface,
	verification VerificationServiceInterface,
	recovery RecoveryServiceInterface,
	config AuthHandlerConfig,
) *AuthHandler {
	return &AuthHandler{
		service:      service,
		verification: verification,
		recovery:     recovery,
		config:       config,
	}
}

type registerRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	PasswordRepeat string `json:"password_repeat"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"code,omitempty"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type newPasswordRequest struct {
	Password       string `json:"password"`
	PasswordRepeat string `json:"password_repeat"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

// Register はパスワードで新規登録する。セッションは発行せず、確認メールを送る。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg := firstError(validateName(req.Name), validateEmail(req.Email), validatePassword(req.Password))
	if msg == "" && req.Password != req.PasswordRepeat {
		msg = "確認用パスワードが一致しません。"
	}
	if msg != "" {
		writeValidationError(w, msg)
		return
	}

	user, err := h.service.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil && user == nil {
		middleware.WriteError(w, err)
		return
	}

	// ユーザー作成後に確認メールの送信だけ失敗した場合は再送を促す
	sent := err == nil
	if !sent {
		slog.Warn("registered without verification email",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":              toUserResponse(user),
		"verification_sent": sent,
	})
}

// Login はパスワードでログインする。
// 二要素認証が必要な場合はコードを送信して202を返し、セッションは発行しない。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := firstError(validateEmail(req.Email), validatePassword(req.Password)); msg != "" {
		writeValidationError(w, msg)
		return
	}

	result, err := h.service.LoginWithCredentials(r.Context(), auth.LoginInput{
		Email:            req.Email,
		Password:         req.Password,
		Code:             req.Code,
		CurrentSessionID: currentSessionHandle(r),
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	if result.TwoFactorRequired {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"two_factor_required": true,
		})
		return
	}

	setSessionCookie(w, h.config, result.Session)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": toUserResponse(result.User),
	})
}

// Connect はOAuthフローを開始する。
// GET /auth/oauth/connect/{provider}
func (h *AuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	url, err := h.service.ConnectURL(provider, state)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/oauth/callback/{provider}?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" ||
		subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch", slog.String("provider", provider))
		writeValidationError(w, "stateパラメータが不正です。")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		writeValidationError(w, "認可コードがありません。")
		return
	}

	result, err := h.service.LoginWithOAuth(r.Context(), provider, code, currentSessionHandle(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	setSessionCookie(w, h.config, result.Session)
	http.Redirect(w, r, h.config.RedirectURL, http.StatusTemporaryRedirect)
}

// Logout は現在のセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Logout(r.Context(), middleware.SessionIDFromContext(r.Context()), userID); err != nil {
		middleware.WriteError(w, err)
		return
	}

	clearSessionCookie(w, h.config)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll はユーザーの全セッションを破棄する。
// POST /auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewUnauthorizedError())
		return
	}

	n, err := h.service.LogoutAll(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	clearSessionCookie(w, h.config)
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Me(r.Context(), currentSessionHandle(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// RequestPasswordReset はリセットメールを送る。
// メールアドレスの登録有無にかかわらず同じレスポンスを返す。
// POST /auth/password-recovery
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := validateEmail(req.Email); msg != "" {
		writeValidationError(w, msg)
		return
	}

	if err := h.recovery.RequestReset(r.Context(), req.Email); err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ApplyPasswordReset はトークンを検証して新しいパスワードを設定する。
// POST /auth/password-recovery/{token}
func (h *AuthHandler) ApplyPasswordReset(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req newPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg := validatePassword(req.Password)
	if msg == "" && req.Password != req.PasswordRepeat {
		msg = "確認用パスワードが一致しません。"
	}
	if msg != "" {
		writeValidationError(w, msg)
		return
	}

	if err := h.recovery.ApplyReset(r.Context(), token, req.Password); err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ConfirmEmail は確認トークンを検証してユーザーを確認済みにし、ログインさせる。
// POST /auth/email-confirmation
func (h *AuthHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeValidationError(w, "トークンがありません。")
		return
	}

	user, session, err := h.verification.Complete(r.Context(), req.Token, currentSessionHandle(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	setSessionCookie(w, h.config, session)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": toUserResponse(user),
	})
}

// currentSessionHandle はリクエストのセッションCookieの値を返す。無ければ空文字。
func currentSessionHandle(r *http.Request) string {
	c, err := r.Cookie(middleware.SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func setSessionCookie(w http.ResponseWriter, cfg AuthHandlerConfig, session *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   cfg.SessionMaxAge,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, cfg AuthHandlerConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
