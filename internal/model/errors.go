// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: not_found, expired, conflict, auth, forbidden, unverified, upstream, persist
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はエラーコードが一致する場合にtrueを返す。
// fmt.Errorfでラップされていてもerrors.Isで判定できる。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// エラーカテゴリ
const (
	CategoryNotFound   = "not_found"
	CategoryExpired    = "expired"
	CategoryConflict   = "conflict"
	CategoryAuth       = "auth"
	CategoryForbidden  = "forbidden"
	CategoryUnverified = "unverified"
	CategoryUpstream   = "upstream"
	CategoryPersist    = "persist"
)

// 定義済みエラーコード
const (
	ErrCodeTokenNotFound           = "TOKEN_NOT_FOUND"
	ErrCodeUserNotFound            = "USER_NOT_FOUND"
	ErrCodeUnknownProvider         = "UNKNOWN_PROVIDER"
	ErrCodeTokenExpired            = "TOKEN_EXPIRED"
	ErrCodeEmailTaken              = "EMAIL_TAKEN"
	ErrCodeConflictingSession      = "CONFLICTING_SESSION"
	ErrCodeInvalidCredentials      = "INVALID_CREDENTIALS"
	ErrCodeInvalidCode             = "INVALID_CODE"
	ErrCodeTwoFactorInvalid        = "TWO_FACTOR_INVALID"
	ErrCodeUnverifiedEmail         = "UNVERIFIED_EMAIL"
	ErrCodeOAuthExchangeFailed     = "OAUTH_EXCHANGE_FAILED"
	ErrCodeOAuthProfileFetchFailed = "OAUTH_PROFILE_FETCH_FAILED"
	ErrCodeNotificationFailed      = "NOTIFICATION_FAILED"
	ErrCodeSessionPersistFailed    = "SESSION_PERSIST_FAILED"
	ErrCodePersistFailed           = "PERSIST_FAILED"
	ErrCodeTokenIssueFailed        = "TOKEN_ISSUE_FAILED"
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeForbidden               = "FORBIDDEN"
)

// errors.Isの比較対象となる定義済みエラー。
var (
	ErrTokenNotFound           = &APIError{Code: ErrCodeTokenNotFound}
	ErrUserNotFound            = &APIError{Code: ErrCodeUserNotFound}
	ErrUnknownProvider         = &APIError{Code: ErrCodeUnknownProvider}
	ErrTokenExpired            = &APIError{Code: ErrCodeTokenExpired}
	ErrEmailTaken              = &APIError{Code: ErrCodeEmailTaken}
	ErrConflictingSession      = &APIError{Code: ErrCodeConflictingSession}
	ErrInvalidCredentials      = &APIError{Code: ErrCodeInvalidCredentials}
	ErrInvalidCode             = &APIError{Code: ErrCodeInvalidCode}
	ErrTwoFactorInvalid        = &APIError{Code: ErrCodeTwoFactorInvalid}
	ErrUnverifiedEmail         = &APIError{Code: ErrCodeUnverifiedEmail}
	ErrOAuthExchangeFailed     = &APIError{Code: ErrCodeOAuthExchangeFailed}
	ErrOAuthProfileFetchFailed = &APIError{Code: ErrCodeOAuthProfileFetchFailed}
	ErrNotificationFailed      = &APIError{Code: ErrCodeNotificationFailed}
	ErrSessionPersistFailed    = &APIError{Code: ErrCodeSessionPersistFailed}
	ErrPersistFailed           = &APIError{Code: ErrCodePersistFailed}
	ErrTokenIssueFailed        = &APIError{Code: ErrCodeTokenIssueFailed}
	ErrUnauthorized            = &APIError{Code: ErrCodeUnauthorized}
	ErrForbidden               = &APIError{Code: ErrCodeForbidden}
)

// NewTokenNotFoundError はトークン未検出エラーを生成する。
func NewTokenNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenNotFound,
		Message:  "トークンが見つかりません。",
		Category: CategoryNotFound,
		Action:   "もう一度手続きをやり直してください。",
	}
}

// NewTokenExpiredError はトークン期限切れエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "トークンの有効期限が切れています。",
		Category: CategoryExpired,
		Action:   "新しいトークンを発行してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: CategoryNotFound,
		Action:   "ログインし直してください。",
	}
}

// NewUnknownProviderError は未登録のOAuthプロバイダーが指定された場合のエラーを生成する。
func NewUnknownProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("プロバイダー %s は利用できません。", provider),
		Category: CategoryNotFound,
		Action:   "対応しているプロバイダーを選択してください。",
	}
}

// NewEmailTakenError はメールアドレスが登録済みの場合のエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: CategoryConflict,
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewConflictingSessionError は別アカウントでログイン中の場合のエラーを生成する。
func NewConflictingSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeConflictingSession,
		Message:  "別のアカウントでログイン中です。",
		Category: CategoryConflict,
		Action:   "ログアウトしてから再度ログインしてください。",
	}
}

// NewInvalidCredentialsError は認証情報が不正な場合のエラーを生成する。
// どの項目が誤っているかは明かさない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: CategoryAuth,
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidCodeError は二要素認証コードが一致しない場合のエラーを生成する。
func NewInvalidCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCode,
		Message:  "認証コードが正しくありません。",
		Category: CategoryAuth,
		Action:   "メールに記載されたコードを入力してください。",
	}
}

// NewTwoFactorInvalidError はログイン時の二要素認証に失敗した場合のエラーを生成する。
func NewTwoFactorInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeTwoFactorInvalid,
		Message:  "二要素認証に失敗しました。",
		Category: CategoryAuth,
		Action:   "コードを再送信してやり直してください。",
	}
}

// NewUnverifiedEmailError はメール未確認ユーザーのログイン時のエラーを生成する。
// このエラーが返る時点で新しい確認メールは送信済み。
func NewUnverifiedEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeUnverifiedEmail,
		Message:  "メールアドレスが確認されていません。新しい確認メールを送信しました。",
		Category: CategoryUnverified,
		Action:   "メールに記載されたリンクから確認を完了してください。",
	}
}

// NewOAuthExchangeFailedError は認可コードの交換に失敗した場合のエラーを生成する。
func NewOAuthExchangeFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeOAuthExchangeFailed,
		Message:  fmt.Sprintf("認可コードの交換に失敗しました: %s", reason),
		Category: CategoryUpstream,
		Action:   "もう一度ログインをやり直してください。",
	}
}

// NewOAuthProfileFetchFailedError はプロフィール取得に失敗した場合のエラーを生成する。
func NewOAuthProfileFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeOAuthProfileFetchFailed,
		Message:  fmt.Sprintf("プロフィールの取得に失敗しました: %s", reason),
		Category: CategoryUpstream,
		Action:   "もう一度ログインをやり直してください。",
	}
}

// NewNotificationFailedError はメール送信に失敗した場合のエラーを生成する。
func NewNotificationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotificationFailed,
		Message:  "メールの送信に失敗しました。",
		Category: CategoryUpstream,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewSessionPersistFailedError はセッションの保存に失敗した場合のエラーを生成する。
func NewSessionPersistFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionPersistFailed,
		Message:  "セッションの保存に失敗しました。",
		Category: CategoryPersist,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewPersistFailedError は更新が反映されなかった場合のエラーを生成する。
func NewPersistFailedError() *APIError {
	return &APIError{
		Code:     ErrCodePersistFailed,
		Message:  "データの更新に失敗しました。",
		Category: CategoryPersist,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewTokenIssueFailedError はトークンの発行に失敗した場合のエラーを生成する。
func NewTokenIssueFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenIssueFailed,
		Message:  "トークンの発行に失敗しました。",
		Category: CategoryPersist,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnauthorizedError は未ログインの場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: CategoryAuth,
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError はロールが足りない場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: CategoryForbidden,
		Action:   "管理者に問い合わせてください。",
	}
}
