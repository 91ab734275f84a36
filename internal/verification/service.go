// Package verification はメールアドレス確認フローを提供する。
// ユーザーは 未確認 → トークン発行済み → 確認済み と遷移する。
package verification

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

// SessionCreator はリクエストが持っていたセッションを置き換えて新しいセッションを発行する。
type SessionCreator interface {
	Replace(ctx context.Context, current, userID string) (*model.Session, error)
}

// Service はメールアドレス確認フロー。
type Service struct {
	ledger   TokenLedger
	users    UserStore
	sessions SessionCreator
	sender   notification.Sender
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewService はServiceを生成する。mcがnilの場合は記録しない。
func NewService(
	ledger TokenLedger,
	users UserStore,
	sessions SessionCreator,
	sender notification.Sender,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		ledger:   ledger,
		users:    users,
		sessions: sessions,
		sender:   sender,
		metrics:  mc,
		now:      time.Now,
	}
}

// Start は確認トークンを発行してメールで送る。
// 以前のトークンは無効になる。
func (s *Service) Start(ctx context.Context, user *model.User) error {
	tok, err := s.ledger.Issue(ctx, user.Email, model.TokenVerification)
	if err != nil {
		slog.Error("failed to issue verification token",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return model.NewTokenIssueFailedError()
	}
	s.metrics.RecordTokenIssued(string(model.TokenVerification))

	result, err := s.sender.SendVerificationEmail(ctx, tok.Email, tok.Value)
	if err != nil || !result.Delivered() {
		s.metrics.RecordNotificationFailed(string(notification.KindVerification))
		slog.Warn("verification email not delivered", slog.String("user_id", user.ID))
		return model.NewNotificationFailedError()
	}

	slog.Info("verification email sent", slog.String("user_id", user.ID))
	return nil
}

// Complete はトークンを検証してユーザーを確認済みにし、セッションを発行する。
// currentSessionIDが指すセッションは破棄される。
func (s *Service) Complete(ctx context.Context, tokenValue, currentSessionID string) (*model.User, *model.Session, error) {
	tok, err := s.ledger.Lookup(ctx, tokenValue, model.TokenVerification, "")
	if err != nil {
		return nil, nil, err
	}
	if tok == nil {
		return nil, nil, model.NewTokenNotFoundError()
	}
	if tok.IsExpired(s.now()) {
		return nil, nil, model.NewTokenExpiredError()
	}

	user, err := s.users.FindByEmail(ctx, tok.Email)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, model.NewUserNotFoundError()
	}

	verified := true
	updated, err := s.users.Update(ctx, user.ID, model.UserUpdate{IsVerified: &verified})
	if err != nil {
		return nil, nil, err
	}
	if updated == nil {
		return nil, nil, model.NewPersistFailedError()
	}

	if err := s.ledger.Consume(ctx, tok); err != nil {
		return nil, nil, err
	}

	session, err := s.sessions.Replace(ctx, currentSessionID, updated.ID)
	if err != nil {
		return nil, nil, err
	}
	s.metrics.RecordSessionCreated()

	slog.Info("email verified", slog.String("user_id", updated.ID))
	return updated, session, nil
}
