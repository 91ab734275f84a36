package notification

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hitoshi/authgate/internal/model"
)

// LogSender はメールを送らずにログへ出力する。MAIL_HOST未設定の開発環境で使う。
// リンクやコードを含む本文はDEBUGレベルでのみ出力する。
type LogSender struct {
	composer *Composer
}

// NewLogSender はLogSenderを生成する。
func NewLogSender(composer *Composer) *LogSender {
	return &LogSender{composer: composer}
}

func (s *LogSender) SendVerificationEmail(ctx context.Context, email, token string) (*model.DeliveryResult, error) {
	return s.send(ctx, KindVerification, email, token)
}

func (s *LogSender) SendResetEmail(ctx context.Context, email, token string) (*model.DeliveryResult, error) {
	return s.send(ctx, KindReset, email, token)
}

func (s *LogSender) SendTwoFactorEmail(ctx context.Context, email, token string) (*model.DeliveryResult, error) {
	return s.send(ctx, KindTwoFactor, email, token)
}

func (s *LogSender) send(ctx context.Context, kind Kind, email, token string) (*model.DeliveryResult, error) {
	msg, err := s.composer.Compose(kind, email, token)
	if err != nil {
		return nil, err
	}

	slog.Info("mail suppressed",
		slog.String("kind", string(kind)),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	slog.DebugContext(ctx, "mail body", slog.String("html", msg.HTML))

	return &model.DeliveryResult{
		MessageID: "<" + uuid.New().String() + "@log>",
		Accepted:  []string{email},
	}, nil
}

// compile-time interface check
var _ Sender = (*LogSender)(nil)
