// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
)

// UserStore はユーザー管理で使うユーザー操作。
type UserStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	Update(ctx context.Context, id string, update model.UserUpdate) (*model.User, error)
	DeleteByID(ctx context.Context, id string) error
}

// ProfileSanitizer は表示名とアバターURLを保存前に無害化する。
type ProfileSanitizer interface {
	DisplayName(raw string) string
	PictureURL(raw string) string
}

// ProfileUpdate は本人が変更できる項目。nilのフィールドは変更しない。
type ProfileUpdate struct {
	Name               *string
	IsTwoFactorEnabled *bool
}

// AdminUpdate は管理者が他のユーザーに対して変更できる項目。
type AdminUpdate struct {
	Name               *string
	Picture            *string
	Role               *model.UserRole
	IsTwoFactorEnabled *bool
}

// SessionRevoker はユーザーの全セッションを破棄する。
type SessionRevoker interface {
	DestroyAll(ctx context.Context, userID string) (int, error)
}

// Service はユーザー管理のサービス層。
// プロフィールの参照と更新、管理者による更新と削除、退会処理を提供する。
type Service struct {
	users     UserStore
	sessions  SessionRevoker
	sanitizer ProfileSanitizer
	metrics   metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(users UserStore, sessions SessionRevoker, sanitizer ProfileSanitizer, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		users:     users,
		sessions:  sessions,
		sanitizer: sanitizer,
		metrics:   mc,
	}
}

// Profile はユーザーを取得する。
func (s *Service) Profile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateProfile は本人による表示名と二要素認証の設定変更を反映する。
func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (*model.User, error) {
	update := model.UserUpdate{IsTwoFactorEnabled: in.IsTwoFactorEnabled}
	if in.Name != nil {
		name := s.sanitizer.DisplayName(*in.Name)
		update.Name = &name
	}

	user, err := s.apply(ctx, userID, update)
	if err != nil {
		return nil, err
	}
	if in.IsTwoFactorEnabled != nil {
		slog.Info("two-factor setting changed",
			slog.String("user_id", userID),
			slog.Bool("enabled", *in.IsTwoFactorEnabled),
		)
	}
	return user, nil
}

// UpdateByAdmin は管理者による他ユーザーの更新を反映する。
// ロールが変わった場合は対象の全セッションを破棄し、新しいロールで再ログインさせる。
func (s *Service) UpdateByAdmin(ctx context.Context, actorID, targetID string, in AdminUpdate) (*model.User, error) {
	current, err := s.Profile(ctx, targetID)
	if err != nil {
		return nil, err
	}

	update := model.UserUpdate{Role: in.Role, IsTwoFactorEnabled: in.IsTwoFactorEnabled}
	if in.Name != nil {
		name := s.sanitizer.DisplayName(*in.Name)
		update.Name = &name
	}
	if in.Picture != nil {
		picture := s.sanitizer.PictureURL(*in.Picture)
		update.Picture = &picture
	}

	user, err := s.apply(ctx, targetID, update)
	if err != nil {
		return nil, err
	}

	if in.Role != nil && *in.Role != current.Role {
		n, err := s.sessions.DestroyAll(ctx, targetID)
		if err != nil {
			return nil, fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
		s.metrics.RecordSessionsRevoked(n)
	}

	slog.Info("user updated by admin",
		slog.String("actor_id", actorID),
		slog.String("user_id", targetID),
		slog.String("role", string(user.Role)),
	)
	return user, nil
}

// DeleteByAdmin は管理者による他ユーザーの削除。処理内容は退会と同じ。
func (s *Service) DeleteByAdmin(ctx context.Context, actorID, targetID string) error {
	if err := s.Withdraw(ctx, targetID); err != nil {
		return err
	}
	slog.Info("user deleted by admin",
		slog.String("actor_id", actorID),
		slog.String("user_id", targetID),
	)
	return nil
}

func (s *Service) apply(ctx context.Context, userID string, update model.UserUpdate) (*model.User, error) {
	user, err := s.users.Update(ctx, userID, update)
	if err != nil {
		slog.Error("failed to update user",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewPersistFailedError()
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: accounts）
// 発行済みトークンは保持期間の経過で消える。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. セッションを破棄（先に行い、削除後のユーザーでログイン状態が残らないようにする）
	n, err := s.sessions.DestroyAll(ctx, userID)
	if err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}
	s.metrics.RecordSessionsRevoked(n)

	// 2. ユーザーを削除（accountsはCASCADE削除）
	if err := s.users.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
		slog.Int("revoked_sessions", n),
	)

	return nil
}
