package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/authgate/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// StatusForCategory はエラーカテゴリに対応するHTTPステータスを返す。
func StatusForCategory(category string) int {
	switch category {
	case model.CategoryNotFound:
		return http.StatusNotFound
	case model.CategoryExpired:
		return http.StatusGone
	case model.CategoryConflict:
		return http.StatusConflict
	case model.CategoryAuth:
		return http.StatusUnauthorized
	case model.CategoryForbidden, model.CategoryUnverified:
		return http.StatusForbidden
	case model.CategoryUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError はerrをAPIErrorとして書き込む。
// APIErrorでないエラーはログに記録して500を返す。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusForCategory(apiErr.Category), apiErr)
		return
	}
	slog.Error("internal error", slog.String("error", err.Error()))
	WriteInternalServerError(w)
}
