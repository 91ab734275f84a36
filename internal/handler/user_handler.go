package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Profile(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID string, in user.ProfileUpdate) (*model.User, error)

	// Withdraw はユーザーの退会処理を実行する。
	// 全セッションを破棄してからuserを削除する（accountsはCASCADE）。
	Withdraw(ctx context.Context, userID string) error

	UpdateByAdmin(ctx context.Context, actorID, targetID string, in user.AdminUpdate) (*model.User, error)
	DeleteByAdmin(ctx context.Context, actorID, targetID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	cookies AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, cookies AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service: service,
		cookies: cookies,
	}
}

type profileUpdateRequest struct {
	Name               *string `json:"name"`
	IsTwoFactorEnabled *bool   `json:"is_two_factor_enabled"`
}

type adminUpdateRequest struct {
	Name               *string `json:"name"`
	Picture            *string `json:"picture"`
	Role               *string `json:"role"`
	IsTwoFactorEnabled *bool   `json:"is_two_factor_enabled"`
}

// Profile はログインユーザーのプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewUnauthorizedError())
		return
	}

	u, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// UpdateProfile は表示名と二要素認証の設定を変更する。
// PATCH /api/users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewUnauthorizedError())
		return
	}

	var req profileUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name != nil {
		if msg := validateName(*req.Name); msg != "" {
			writeValidationError(w, msg)
			return
		}
	}

	u, err := h.service.UpdateProfile(r.Context(), userID, user.ProfileUpdate{
		Name:               req.Name,
		IsTwoFactorEnabled: req.IsTwoFactorEnabled,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		middleware.WriteError(w, err)
		return
	}

	clearSessionCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// AdminUpdate は管理者が他のユーザーを更新する。
// PATCH /api/users/{id}
func (h *UserHandler) AdminUpdate(w http.ResponseWriter, r *http.Request) {
	actorID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewUnauthorizedError())
		return
	}

	var req adminUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := user.AdminUpdate{
		Name:               req.Name,
		Picture:            req.Picture,
		IsTwoFactorEnabled: req.IsTwoFactorEnabled,
	}
	if req.Name != nil {
		if msg := validateName(*req.Name); msg != "" {
			writeValidationError(w, msg)
			return
		}
	}
	if req.Role != nil {
		role := model.UserRole(*req.Role)
		if role != model.RoleRegular && role != model.RoleAdmin {
			writeValidationError(w, "ロールが正しくありません。")
			return
		}
		in.Role = &role
	}

	u, err := h.service.UpdateByAdmin(r.Context(), actorID, chi.URLParam(r, "id"), in)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toUserResponse(u))
}

// AdminDelete は管理者が他のユーザーを削除する。
// DELETE /api/users/{id}
func (h *UserHandler) AdminDelete(w http.ResponseWriter, r *http.Request) {
	actorID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewUnauthorizedError())
		return
	}

	targetID := chi.URLParam(r, "id")
	if err := h.service.DeleteByAdmin(r.Context(), actorID, targetID); err != nil {
		middleware.WriteError(w, err)
		return
	}

	// 自分自身を削除した場合はCookieも消す
	if targetID == actorID {
		clearSessionCookie(w, h.cookies)
	}
	w.WriteHeader(http.StatusNoContent)
}
