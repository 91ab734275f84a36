package notification

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/authgate/internal/model"
)

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Login    string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSender はSMTPでメールを送信する。
type SMTPSender struct {
	config   SMTPConfig
	composer *Composer
}

// NewSMTPSender はSMTPSenderを生成する。
func NewSMTPSender(config SMTPConfig, composer *Composer) *SMTPSender {
	return &SMTPSender{config: config, composer: composer}
}

// SendVerificationEmail はメールアドレス確認リンクを送信する。
func (s *SMTPSender) SendVerificationEmail(ctx context.Context, email, token string) (*model.DeliveryResult, error) {
	return s.send(ctx, KindVerification, email, token)
}

// SendResetEmail はパスワード再設定リンクを送信する。
func (s *SMTPSender) SendResetEmail(ctx context.Context, email, token string) (*model.DeliveryResult, error) {
	return s.send(ctx, KindReset, email, token)
}

// SendTwoFactorEmail は二要素認証コードを送信する。
func (s *SMTPSender) SendTwoFactorEmail(ctx context.Context, email, token string) (*model.DeliveryResult, error) {
	return s.send(ctx, KindTwoFactor, email, token)
}

func (s *SMTPSender) send(ctx context.Context, kind Kind, email, token string) (*model.DeliveryResult, error) {
	msg, err := s.composer.Compose(kind, email, token)
	if err != nil {
		return nil, err
	}

	result, err := s.deliver(ctx, msg)
	if err != nil {
		slog.Error("failed to send mail",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return result, nil
}

// Ping はSMTPサーバーに接続してNOOPが通るかを確認する。
// 認証情報が設定されていれば認証まで行う。
func (s *SMTPSender) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	c, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Noop(); err != nil {
		return fmt.Errorf("smtp noop failed: %w", err)
	}
	return c.Quit()
}

// connect はSMTPサーバーに接続し、可能ならSTARTTLSと認証まで済ませたクライアントを返す。
func (s *SMTPSender) connect(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect smtp server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to start smtp session: %w", err)
	}

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.config.Host}); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to start tls: %w", err)
		}
	}
	if s.config.Login != "" {
		auth := smtp.PlainAuth("", s.config.Login, s.config.Password, s.config.Host)
		if err := c.Auth(auth); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}
	return c, nil
}

// deliver はSMTPセッションを1回張ってメッセージを送る。
// RCPTが拒否された宛先はRejectedに入り、エラーにはしない。
func (s *SMTPSender) deliver(ctx context.Context, msg *Message) (*model.DeliveryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if err := c.Mail(s.config.From); err != nil {
		return nil, fmt.Errorf("failed to set sender: %w", err)
	}

	result := &model.DeliveryResult{MessageID: newMessageID(s.config.From)}
	if err := c.Rcpt(msg.To); err != nil {
		result.Rejected = append(result.Rejected, msg.To)
	} else {
		result.Accepted = append(result.Accepted, msg.To)
	}
	if len(result.Accepted) == 0 {
		c.Reset()
		c.Quit()
		return result, nil
	}

	w, err := c.Data()
	if err != nil {
		return nil, fmt.Errorf("failed to open data: %w", err)
	}
	if _, err := w.Write(buildMIME(s.config.From, msg, result.MessageID)); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close data: %w", err)
	}

	if err := c.Quit(); err != nil {
		slog.Warn("smtp quit failed", slog.String("error", err.Error()))
	}
	return result, nil
}

// buildMIME はHTML本文のMIMEメッセージを組み立てる。
func buildMIME(from string, msg *Message, messageID string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + mime.BEncoding.Encode("UTF-8", msg.Subject) + "\r\n")
	b.WriteString("Message-ID: " + messageID + "\r\n")
	b.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	b.WriteString("\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(msg.HTML))
	for len(encoded) > 76 {
		b.WriteString(encoded[:76] + "\r\n")
		encoded = encoded[76:]
	}
	b.WriteString(encoded + "\r\n")

	return []byte(b.String())
}

func newMessageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 {
		domain = strings.TrimRight(from[i+1:], ">")
	}
	return "<" + uuid.New().String() + "@" + domain + ">"
}

// compile-time interface check
var _ Sender = (*SMTPSender)(nil)
