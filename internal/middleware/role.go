package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/hitoshi/authgate/internal/model"
)

// RoleFinder はロール判定のためにユーザーを取得するインターフェース。
type RoleFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// NewRoleMiddleware はログインユーザーのロールがrolesに含まれない場合に403を返すミドルウェアを返す。
// セッションミドルウェアの後ろに置く。
func NewRoleMiddleware(finder RoleFinder, roles ...model.UserRole) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			user, err := finder.FindByID(r.Context(), userID)
			if err != nil {
				WriteError(w, err)
				return
			}
			// セッションだけ残っている削除済みユーザー
			if user == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if !slices.Contains(roles, user.Role) {
				slog.Warn("role check failed",
					slog.String("user_id", userID),
					slog.String("role", string(user.Role)),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
