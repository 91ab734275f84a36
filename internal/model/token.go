package model

import "time"

// TokenType は短命トークンの用途。
type TokenType string

const (
	TokenVerification  TokenType = "VERIFICATION"
	TokenPasswordReset TokenType = "PASSWORD_RESET"
	TokenTwoFactor     TokenType = "TWO_FACTOR"
)

// Token はメール確認、パスワードリセット、二要素認証に使う一回限りの秘密値。
// (Email, Type) ごとに有効なトークンは高々1つ。
type Token struct {
	ID        string    `json:"id"`
	Value     string    `json:"value"`
	Email     string    `json:"email"`
	Type      TokenType `json:"type"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsExpired はnow時点でトークンが期限切れかを返す。now >= ExpiresAt で期限切れとする。
func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// DeliveryResult はメール送信結果。Acceptedが空なら配信失敗とみなす。
type DeliveryResult struct {
	MessageID string
	Accepted  []string
	Rejected  []string
}

// Delivered は少なくとも1件の宛先が受理されたかを返す。
func (r *DeliveryResult) Delivered() bool {
	return r != nil && len(r.Accepted) > 0
}
