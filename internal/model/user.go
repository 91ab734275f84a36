// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// AuthMethod はユーザーが作成された認証方式を表す。
type AuthMethod string

const (
	AuthMethodCredentials AuthMethod = "CREDENTIALS"
	AuthMethodGoogle      AuthMethod = "GOOGLE"
	AuthMethodYandex      AuthMethod = "YANDEX"
)

// UserRole はユーザーのロール。
type UserRole string

const (
	RoleRegular UserRole = "REGULAR"
	RoleAdmin   UserRole = "ADMIN"
)

// User はサービス利用ユーザーを表す。
// PasswordHashが空の場合、パスワードによるログインはできない（OAuthのみのユーザー）。
type User struct {
	ID                 string
	Email              string
	PasswordHash       string
	Name               string
	Picture            string
	Method             AuthMethod
	Role               UserRole
	IsVerified         bool
	IsTwoFactorEnabled bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NormalizeEmail はメールアドレスを保存と検索に使う形（前後の空白除去、小文字）にそろえる。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasPassword はパスワードハッシュが設定されているかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// UserUpdate はユーザーの部分更新フィールド。nilのフィールドは変更しない。
type UserUpdate struct {
	PasswordHash       *string
	Name               *string
	Picture            *string
	Role               *UserRole
	IsVerified         *bool
	IsTwoFactorEnabled *bool
}

// Account は外部IdPとの紐付け情報を表す。
// (Provider, ProviderAccountID) の組はストア側で一意。
type Account struct {
	ID                string
	UserID            string
	Type              string
	Provider          string
	ProviderAccountID string
	AccessToken       string
	RefreshToken      string
	ExpiresAt         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string    `json:"-"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// OAuthProfile はIdPごとに異なるプロフィールを正規化した一時的なデータ。永続化はしない。
type OAuthProfile struct {
	Subject      string
	Email        string
	Name         string
	PictureURL   string
	ProviderName string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}
