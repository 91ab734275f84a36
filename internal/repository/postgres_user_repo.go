package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

const userColumns = `id, email, password_hash, name, picture, method, role,
	is_verified, is_two_factor_enabled, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.Picture,
		&user.Method, &user.Role, &user.IsVerified, &user.IsTwoFactorEnabled,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	if err := insertUser(ctx, r.db, user); err != nil {
		return err
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertUser(ctx context.Context, ex execer, user *model.User) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, name, picture, method, role,
		   is_verified, is_two_factor_enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		user.ID, user.Email, user.PasswordHash, user.Name, user.Picture,
		string(user.Method), string(user.Role), user.IsVerified, user.IsTwoFactorEnabled,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", translateError(err))
	}
	return nil
}

// CreateWithAccount はユーザーとaccountを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithAccount(ctx context.Context, user *model.User, account *model.Account) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertUser(ctx, tx, user); err != nil {
		return err
	}
	if err := insertAccount(ctx, tx, account); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Update はnilでないフィールドだけを更新し、更新後のユーザーを返す。
// 対象が存在しない場合はnilを返す。
func (r *PostgresUserRepo) Update(ctx context.Context, id string, update model.UserUpdate) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET
		   password_hash = COALESCE($2, password_hash),
		   name = COALESCE($3, name),
		   picture = COALESCE($4, picture),
		   role = COALESCE($5, role),
		   is_verified = COALESCE($6, is_verified),
		   is_two_factor_enabled = COALESCE($7, is_two_factor_enabled),
		   updated_at = $8
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, update.PasswordHash, update.Name, update.Picture, roleArg(update.Role),
		update.IsVerified, update.IsTwoFactorEnabled, time.Now(),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

func roleArg(role *model.UserRole) *string {
	if role == nil {
		return nil
	}
	v := string(*role)
	return &v
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するaccountsはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
