package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぎ、
// 統一フォーマットの500レスポンスを返すミドルウェアを生成する。
// http.ErrAbortHandlerはnet/httpに任せるため再度panicする。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				attrs := []any{
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("route", routeLabel(r)),
					slog.String("client_ip", ClientIP(r)),
					slog.String("stack", string(debug.Stack())),
				}
				if info, ok := r.Context().Value(requestInfoContextKey).(*requestInfo); ok && info.userID != "" {
					attrs = append(attrs, slog.String("user_id", info.userID))
				}
				slog.Error("panic recovered", attrs...)

				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
