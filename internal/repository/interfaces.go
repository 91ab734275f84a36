// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate key")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。emailが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateWithAccount はユーザーとaccountを同一トランザクションで作成する。
	CreateWithAccount(ctx context.Context, user *model.User, account *model.Account) error

	// Update はnilでないフィールドだけを更新し、更新後のユーザーを返す。
	// 対象が存在しない場合はnilを返す。
	Update(ctx context.Context, id string, update model.UserUpdate) (*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するaccountsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// AccountRepository は外部IdP紐付け情報の永続化インターフェース。
type AccountRepository interface {
	// FindByProviderAndSubject はproviderとprovider_account_idでaccountを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndSubject(ctx context.Context, provider, providerAccountID string) (*model.Account, error)

	// UpdateTokens はIdPから受け取ったトークンを更新する。
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error
}
