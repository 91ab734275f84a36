package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

const (
	maxRequestBodyBytes = 1 << 20

	nameMinLength     = 2
	nameMaxLength     = 25
	emailMaxLength    = 40
	passwordMinLength = 8
	passwordMaxLength = 40
)

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	Name               string    `json:"name"`
	Picture            string    `json:"picture"`
	Method             string    `json:"method"`
	Role               string    `json:"role"`
	IsVerified         bool      `json:"is_verified"`
	IsTwoFactorEnabled bool      `json:"is_two_factor_enabled"`
	CreatedAt          time.Time `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:                 u.ID,
		Email:              u.Email,
		Name:               u.Name,
		Picture:            u.Picture,
		Method:             string(u.Method),
		Role:               string(u.Role),
		IsVerified:         u.IsVerified,
		IsTwoFactorEnabled: u.IsTwoFactorEnabled,
		CreatedAt:          u.CreatedAt,
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeValidationError は入力検証エラーを400で返す。
func writeValidationError(w http.ResponseWriter, message string) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "VALIDATION_FAILED",
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	})
}

// decodeJSON はリクエストボディをデコードする。未知のフィールドは拒否する。
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeValidationError(w, "リクエストボディが大きすぎます。")
			return false
		}
		writeValidationError(w, "リクエストボディが不正です。")
		return false
	}
	return true
}

func validateEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return "メールアドレスを入力してください。"
	}
	if utf8.RuneCountInString(email) > emailMaxLength {
		return "メールアドレスが長すぎます。"
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "メールアドレスの形式が正しくありません。"
	}
	return ""
}

func validatePassword(password string) string {
	n := utf8.RuneCountInString(password)
	if n < passwordMinLength {
		return "パスワードは8文字以上で入力してください。"
	}
	if n > passwordMaxLength {
		return "パスワードは40文字以内で入力してください。"
	}
	return ""
}

func validateName(name string) string {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < nameMinLength || n > nameMaxLength {
		return "名前は2〜25文字で入力してください。"
	}
	return ""
}

// firstError は最初の空でないメッセージを返す。
func firstError(msgs ...string) string {
	for _, m := range msgs {
		if m != "" {
			return m
		}
	}
	return ""
}
