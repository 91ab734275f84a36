package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したaccountリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByProviderAndSubject はproviderとprovider_account_idでaccountを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByProviderAndSubject(ctx context.Context, provider, providerAccountID string) (*model.Account, error) {
	account := &model.Account{}
	var expiresAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, type, provider, provider_account_id,
		        access_token, refresh_token, expires_at, created_at, updated_at
		 FROM accounts
		 WHERE provider = $1 AND provider_account_id = $2`,
		provider, providerAccountID,
	).Scan(
		&account.ID, &account.UserID, &account.Type, &account.Provider, &account.ProviderAccountID,
		&account.AccessToken, &account.RefreshToken, &expiresAt, &account.CreatedAt, &account.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if expiresAt.Valid {
		account.ExpiresAt = expiresAt.Time
	}

	return account, nil
}

// insertAccount はaccountを作成する。(provider, provider_account_id)が重複する場合はErrDuplicateを返す。
func insertAccount(ctx context.Context, ex execer, account *model.Account) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, type, provider, provider_account_id,
		   access_token, refresh_token, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		account.ID, account.UserID, account.Type, account.Provider, account.ProviderAccountID,
		account.AccessToken, account.RefreshToken, nullTime(account.ExpiresAt),
		account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", translateError(err))
	}
	return nil
}

// UpdateTokens はIdPから受け取ったトークンを更新する。
func (r *PostgresAccountRepo) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET access_token = $2, refresh_token = $3, expires_at = $4, updated_at = $5
		 WHERE id = $1`,
		id, accessToken, refreshToken, nullTime(expiresAt), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update account tokens: %w", err)
	}
	return nil
}

// nullTime はゼロ値の時刻をNULLとして扱う。
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
