package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	DatabaseURL string
	RedisURL    string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	YandexClientID     string
	YandexClientSecret string
	OAuthTimeout       time.Duration
	OAuthAllowInsecure bool

	// Session
	SessionPrefix string
	SessionMaxAge int

	// Token
	TokenRetention time.Duration

	// Mail
	MailHost     string
	MailPort     int
	MailLogin    string
	MailPassword string
	MailFrom     string
	MailTimeout  time.Duration

	// Rate Limit
	RateLimitAuth int

	// Worker
	IndexPruneInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	AllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.YandexClientID = os.Getenv("YANDEX_CLIENT_ID")
	cfg.YandexClientSecret = os.Getenv("YANDEX_CLIENT_SECRET")
	cfg.OAuthTimeout = getEnvDuration("OAUTH_TIMEOUT", 10*time.Second)
	cfg.OAuthAllowInsecure = getEnvBool("OAUTH_ALLOW_INSECURE", false)
	cfg.SessionPrefix = getEnvString("SESSION_PREFIX", "sessions")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.TokenRetention = getEnvDuration("TOKEN_RETENTION", 24*time.Hour)
	cfg.MailHost = os.Getenv("MAIL_HOST")
	cfg.MailPort = getEnvInt("MAIL_PORT", 587)
	cfg.MailLogin = os.Getenv("MAIL_LOGIN")
	cfg.MailPassword = os.Getenv("MAIL_PASSWORD")
	cfg.MailFrom = getEnvString("MAIL_FROM", cfg.MailLogin)
	cfg.MailTimeout = getEnvDuration("MAIL_TIMEOUT", 10*time.Second)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.IndexPruneInterval = getEnvDuration("INDEX_PRUNE_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.AllowedOrigin = getEnvString("ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// GoogleEnabled はGoogleのクライアントIDとシークレットが両方設定されているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// YandexEnabled はYandexのクライアントIDとシークレットが両方設定されているかを返す。
func (c *Config) YandexEnabled() bool {
	return c.YandexClientID != "" && c.YandexClientSecret != ""
}

// MailEnabled はSMTP送信を使うかを返す。falseの場合はログ出力のみ。
func (c *Config) MailEnabled() bool {
	return c.MailHost != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
