// Package recovery はパスワード再設定フローを提供する。
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/notification"
)

// TokenLedger はこのフローが使うトークン操作。
type TokenLedger interface {
	Issue(ctx context.Context, email string, kind model.TokenType) (*model.Token, error)
	Lookup(ctx context.Context, value string, kind model.TokenType, email string) (*model.Token, error)
	Consume(ctx context.Context, tok *model.Token) error
}

// UserStore はこのフローが使うユーザー操作。
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Update(ctx context.Context, id string, update model.UserUpdate) (*model.User, error)
}

// PasswordHasher はパスワードをハッシュ化する。
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// Service はパスワード再設定フロー。
type Service struct {
	ledger  TokenLedger
	users   UserStore
	hasher  PasswordHasher
	sender  notification.Sender
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewService はServiceを生成する。mcがnilの場合は記録しない。
func NewService(
	ledger TokenLedger,
	users UserStore,
	hasher PasswordHasher,
	sender notification.Sender,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		ledger:  ledger,
		users:   users,
		hasher:  hasher,
		sender:  sender,
		metrics: mc,
		now:     time.Now,
	}
}

// RequestReset は再設定メールを送る。
// アカウントの有無を明かさないため、未登録のメールアドレスでも成功を返す。
func (s *Service) RequestReset(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		return err
	}
	if user == nil {
		slog.Info("password reset requested for unknown email")
		return nil
	}

	tok, err := s.ledger.Issue(ctx, user.Email, model.TokenPasswordReset)
	if err != nil {
		slog.Error("failed to issue password reset token",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return model.NewTokenIssueFailedError()
	}
	s.metrics.RecordTokenIssued(string(model.TokenPasswordReset))

	result, err := s.sender.SendResetEmail(ctx, tok.Email, tok.Value)
	if err != nil || !result.Delivered() {
		s.metrics.RecordNotificationFailed(string(notification.KindReset))
		slog.Warn("password reset email not delivered", slog.String("user_id", user.ID))
		return model.NewNotificationFailedError()
	}

	slog.Info("password reset email sent", slog.String("user_id", user.ID))
	return nil
}

// ApplyReset はトークンを検証して新しいパスワードを設定する。
// 期限切れのトークンは存在しないものとして扱う。
func (s *Service) ApplyReset(ctx context.Context, tokenValue, newPassword string) error {
	tok, err := s.ledger.Lookup(ctx, tokenValue, model.TokenPasswordReset, "")
	if err != nil {
		return err
	}
	if tok == nil || tok.IsExpired(s.now()) {
		return model.NewTokenNotFoundError()
	}

	user, err := s.users.FindByEmail(ctx, tok.Email)
	if err != nil {
		return err
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	updated, err := s.users.Update(ctx, user.ID, model.UserUpdate{PasswordHash: &hash})
	if err != nil {
		return err
	}
	if updated == nil {
		return model.NewPersistFailedError()
	}

	if err := s.ledger.Consume(ctx, tok); err != nil {
		return err
	}

	slog.Info("password reset applied", slog.String("user_id", user.ID))
	return nil
}
