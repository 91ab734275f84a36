// Package twofactor はメールで届ける6桁コードによる二要素認証を提供する。
package twofactor

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
	LookupByEmail(ctx context.Context, email string, kind model.TokenType) (*model.Token, error)
	Consume(ctx context.Context, tok *model.Token) error
}

// Service は二要素認証フロー。
type Service struct {
	ledger  TokenLedger
	sender  notification.Sender
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewService はServiceを生成する。mcがnilの場合は記録しない。
func NewService(ledger TokenLedger, sender notification.Sender, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		ledger:  ledger,
		sender:  sender,
		metrics: mc,
		now:     time.Now,
	}
}

// SendCode はコードを発行してメールで送る。未使用の以前のコードは無効になる。
func (s *Service) SendCode(ctx context.Context, email string) error {
	tok, err := s.ledger.Issue(ctx, email, model.TokenTwoFactor)
	if err != nil {
		slog.Error("failed to issue two-factor token", slog.String("error", err.Error()))
		return model.NewTokenIssueFailedError()
	}
	s.metrics.RecordTokenIssued(string(model.TokenTwoFactor))

	result, err := s.sender.SendTwoFactorEmail(ctx, tok.Email, tok.Value)
	if err != nil || !result.Delivered() {
		s.metrics.RecordNotificationFailed(string(notification.KindTwoFactor))
		slog.Warn("two-factor email not delivered")
		return model.NewNotificationFailedError()
	}
	return nil
}

// ValidateCode はemailに紐づく現在のコードと照合する。成功したコードは消費される。
// 照合は値の一致、期限の順に行う。
func (s *Service) ValidateCode(ctx context.Context, email, code string) (bool, error) {
	tok, err := s.ledger.LookupByEmail(ctx, email, model.TokenTwoFactor)
	if err != nil {
		return false, err
	}
	if tok == nil {
		return false, model.NewTokenNotFoundError()
	}
	if tok.Value != code {
		return false, model.NewInvalidCodeError()
	}
	if tok.IsExpired(s.now()) {
		return false, model.NewTokenExpiredError()
	}

	if err := s.ledger.Consume(ctx, tok); err != nil {
		return false, err
	}
	return true, nil
}
