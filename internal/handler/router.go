package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// HealthCheck は依存サービスの疎通確認を行う関数。
type HealthCheck func(ctx context.Context) error

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 認証
	AuthService         AuthServiceInterface
	VerificationService VerificationServiceInterface
	RecoveryService     RecoveryServiceInterface
	AuthConfig          AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface
	RoleFinder  middleware.RoleFinder

	// 運用
	HealthChecks   map[string]HealthCheck
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → CSRF → RateLimit(/auth) → Session(保護ルート) → Role(管理者ルート)
//
// /health と /metrics はレート制限とCSRFの対象外。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.VerificationService, deps.RecoveryService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)
	sessionMW := middleware.NewSessionMiddleware(deps.SessionFinder)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecks))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		// --- 認証ルート ---
		r.Route("/auth", func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Middleware())
			}

			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Get("/me", authHandler.Me)

			r.Get("/oauth/connect/{provider}", authHandler.Connect)
			r.Get("/oauth/callback/{provider}", authHandler.Callback)

			r.Post("/password-recovery", authHandler.RequestPasswordReset)
			r.Post("/password-recovery/{token}", authHandler.ApplyPasswordReset)
			r.Post("/email-confirmation", authHandler.ConfirmEmail)

			r.With(sessionMW).Post("/logout", authHandler.Logout)
			r.With(sessionMW).Post("/logout-all", authHandler.LogoutAll)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(sessionMW)

			r.Route("/api/users", func(r chi.Router) {
				r.Get("/me", userHandler.Profile)
				r.Patch("/me", userHandler.UpdateProfile)
				r.Delete("/me", userHandler.Withdraw)

				if deps.RoleFinder != nil {
					r.Group(func(r chi.Router) {
						r.Use(middleware.NewRoleMiddleware(deps.RoleFinder, model.RoleAdmin))
						r.Patch("/{id}", userHandler.AdminUpdate)
						r.Delete("/{id}", userHandler.AdminDelete)
					})
				}
			})
		})
	})

	return r
}

// healthHandler は全ての依存サービスに疎通できれば200、いずれかが失敗すれば503を返す。
func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		result := make(map[string]string, len(checks))

		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				slog.Warn("health check failed",
					slog.String("dependency", name),
					slog.String("error", err.Error()),
				)
				result[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}

		writeJSON(w, status, map[string]interface{}{
			"status":       http.StatusText(status),
			"dependencies": result,
		})
	}
}
