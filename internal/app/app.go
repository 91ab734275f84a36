package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/config"
	"github.com/hitoshi/authgate/internal/database"
	"github.com/hitoshi/authgate/internal/handler"
	"github.com/hitoshi/authgate/internal/logger"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/notification"
	"github.com/hitoshi/authgate/internal/oauth"
	"github.com/hitoshi/authgate/internal/password"
	"github.com/hitoshi/authgate/internal/recovery"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
	"github.com/hitoshi/authgate/internal/session"
	"github.com/hitoshi/authgate/internal/token"
	"github.com/hitoshi/authgate/internal/twofactor"
	"github.com/hitoshi/authgate/internal/user"
	"github.com/hitoshi/authgate/internal/verification"
	"github.com/hitoshi/authgate/internal/worker/cleanup"
)

// pingTimeout は起動時とヘルスチェックでの疎通確認のタイムアウト。
const pingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	inv, err := ParseCommand(args)
	if err != nil {
		return fmt.Errorf("%w\n%s", err, Usage)
	}
	cmd := inv.Command

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandPruneSessions:
		return withRedis(cfg, func(ctx context.Context, rdb redis.UniversalClient) error {
			return pruneSessions(ctx, rdb, cfg)
		})
	case CommandRevokeSessions:
		return withRedis(cfg, func(ctx context.Context, rdb redis.UniversalClient) error {
			return revokeSessions(ctx, rdb, cfg, inv.UserID)
		})
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// PostgreSQLとRedisに接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(ctx, db, pingTimeout); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	// 2. Redis接続
	rdb, err := database.OpenRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to open redis: %w", err)
	}
	defer rdb.Close()

	if err := database.PingRedis(ctx, rdb, pingTimeout); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("redis connection established")

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. 永続化層
	userRepo := repository.NewPostgresUserRepo(db)
	accountRepo := repository.NewPostgresAccountRepo(db)
	ledger := token.NewLedger(rdb, cfg.TokenRetention)
	sessions := session.NewStore(rdb, cfg.SessionPrefix, time.Duration(cfg.SessionMaxAge)*time.Second)

	// 5. 通知
	sender := newSender(cfg)

	// 6. OAuthプロバイダー
	providers, err := newProviderRegistry(cfg)
	if err != nil {
		return err
	}

	// 7. ドメインサービスの初期化
	hasher := password.NewHasher(password.DefaultParams)
	sanitizer := security.NewProfileSanitizer()
	verificationService := verification.NewService(ledger, userRepo, sessions, sender, collector)
	twoFactorService := twofactor.NewService(ledger, sender, collector)
	recoveryService := recovery.NewService(ledger, userRepo, hasher, sender, collector)

	authService := auth.NewService(auth.Deps{
		Users:        userRepo,
		Accounts:     accountRepo,
		Sessions:     sessions,
		Hasher:       hasher,
		Verification: verificationService,
		TwoFactor:    twoFactorService,
		Providers:    providers,
		Sanitizer:    sanitizer,
		Metrics:      collector,
	})
	userService := user.NewService(userRepo, sessions, sanitizer, collector)

	// 8. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitAuth))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		SessionFinder:     sessions,
		CORSAllowedOrigin: cfg.AllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		AuthService:         authService,
		VerificationService: verificationService,
		RecoveryService:     recoveryService,
		AuthConfig: handler.AuthHandlerConfig{
			RedirectURL:   cfg.AllowedOrigin,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		UserService: userService,
		RoleFinder:  userRepo,

		HealthChecks:   healthChecks(db, rdb, sender),
		MetricsHandler: metrics.Handler(registry),
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Any("oauth_providers", providers.Names()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// mailPinger はSMTPSenderのように送信先へ疎通確認できるSender。
type mailPinger interface {
	Ping(ctx context.Context) error
}

// healthChecks は/healthで確認する依存サービスを返す。
// メールはSMTPが設定されている場合だけ対象にする。
func healthChecks(db *sql.DB, rdb redis.UniversalClient, sender notification.Sender) map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{
		"postgres": func(ctx context.Context) error {
			return database.Ping(ctx, db, pingTimeout)
		},
		"redis": func(ctx context.Context) error {
			return database.PingRedis(ctx, rdb, pingTimeout)
		},
	}
	if p, ok := sender.(mailPinger); ok {
		checks["mail"] = p.Ping
	}
	return checks
}

// newSender はSMTP設定があればSMTPSenderを、なければ送信内容をログに出すLogSenderを返す。
func newSender(cfg *config.Config) notification.Sender {
	composer := notification.NewComposer(cfg.AllowedOrigin)
	if !cfg.MailEnabled() {
		slog.Warn("mail is not configured, notifications are written to the log")
		return notification.NewLogSender(composer)
	}
	return notification.NewSMTPSender(notification.SMTPConfig{
		Host:     cfg.MailHost,
		Port:     cfg.MailPort,
		Login:    cfg.MailLogin,
		Password: cfg.MailPassword,
		From:     cfg.MailFrom,
		Timeout:  cfg.MailTimeout,
	}, composer)
}

type endpointProvider interface {
	oauth.Provider
	Endpoints() oauth.Endpoints
}

// newProviderRegistry は資格情報が設定されたIdPだけを登録する。
// エンドポイントは起動時にEgressGuardで検証し、IdP呼び出しはガード付きのクライアントで行う。
func newProviderRegistry(cfg *config.Config) (*oauth.Registry, error) {
	guard := security.NewEgressGuard(cfg.OAuthAllowInsecure)
	client := guard.NewClient(cfg.OAuthTimeout)

	var providers []endpointProvider
	if cfg.GoogleEnabled() {
		providers = append(providers, oauth.NewGoogle(oauth.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			BaseURL:      cfg.BaseURL,
			HTTPClient:   client,
		}))
	}
	if cfg.YandexEnabled() {
		providers = append(providers, oauth.NewYandex(oauth.Config{
			ClientID:     cfg.YandexClientID,
			ClientSecret: cfg.YandexClientSecret,
			BaseURL:      cfg.BaseURL,
			HTTPClient:   client,
		}))
	}

	registered := make([]oauth.Provider, 0, len(providers))
	for _, p := range providers {
		ep := p.Endpoints()
		for _, u := range []string{ep.AuthURL, ep.TokenURL, ep.ProfileURL} {
			if err := guard.ValidateEndpoint(u); err != nil {
				return nil, fmt.Errorf("invalid %s endpoint: %w", p.Name(), err)
			}
		}
		registered = append(registered, p)
	}

	return oauth.NewRegistry(registered...), nil
}

// runWorker はワーカーモードで起動する。
// Redisに接続し、セッション逆引きインデックスの掃除ジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	rdb, err := database.OpenRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to open redis: %w", err)
	}
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := database.PingRedis(ctx, rdb, pingTimeout); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("redis connection established (worker)")

	return runCleanup(ctx, cancel, rdb, cfg)
}

// runCleanup はシグナルを受けるまでクリーンアップジョブを実行する。
func runCleanup(ctx context.Context, cancel context.CancelFunc, rdb redis.UniversalClient, cfg *config.Config) error {
	sessions := session.NewStore(rdb, cfg.SessionPrefix, time.Duration(cfg.SessionMaxAge)*time.Second)
	job := cleanup.NewCleanupJob(sessions, slog.Default(), cfg.IndexPruneInterval)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("prune_interval", job.Interval),
	)

	job.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// withRedis はRedisに接続してfnを1回実行する。一回限りのサブコマンド用。
func withRedis(cfg *config.Config, fn func(ctx context.Context, rdb redis.UniversalClient) error) error {
	rdb, err := database.OpenRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to open redis: %w", err)
	}
	defer rdb.Close()

	ctx := context.Background()
	if err := database.PingRedis(ctx, rdb, pingTimeout); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	return fn(ctx, rdb)
}

// pruneSessions はワーカーと同じ掃除を1回だけ行う。
func pruneSessions(ctx context.Context, rdb redis.UniversalClient, cfg *config.Config) error {
	sessions := session.NewStore(rdb, cfg.SessionPrefix, time.Duration(cfg.SessionMaxAge)*time.Second)
	return cleanup.NewCleanupJob(sessions, slog.Default(), cfg.IndexPruneInterval).Run(ctx)
}

// revokeSessions はユーザーの全セッションを破棄する。アカウント乗っ取りが疑われるときの運用向け。
func revokeSessions(ctx context.Context, rdb redis.UniversalClient, cfg *config.Config, userID string) error {
	sessions := session.NewStore(rdb, cfg.SessionPrefix, time.Duration(cfg.SessionMaxAge)*time.Second)
	n, err := sessions.DestroyAll(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	slog.Info("sessions revoked",
		slog.String("user_id", userID),
		slog.Int("revoked", n),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	latest, err := database.LatestVersion()
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Uint64("target_version", uint64(latest)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
