// Package notification はトークンをメールで届ける送信処理を提供する。
package notification

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/hitoshi/authgate/internal/model"
)

// Sender はトークン通知メールの送信インターフェース。
// DeliveryResult.Acceptedが空の場合、呼び出し元は配信失敗として扱う。
type Sender interface {
	SendVerificationEmail(ctx context.Context, email, token string) (*model.DeliveryResult, error)
	SendResetEmail(ctx context.Context, email, token string) (*model.DeliveryResult, error)
	SendTwoFactorEmail(ctx context.Context, email, token string) (*model.DeliveryResult, error)
}

// Kind は通知の種類。メトリクスのラベルにも使う。
type Kind string

const (
	KindVerification Kind = "verification"
	KindReset        Kind = "reset"
	KindTwoFactor    Kind = "two_factor"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Message は送信するメール1通分。
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Composer は通知の種類ごとに件名と本文を組み立てる。
type Composer struct {
	origin string
}

// NewComposer はComposerを生成する。originはリンク先フロントエンドのオリジン。
func NewComposer(origin string) *Composer {
	return &Composer{origin: strings.TrimRight(origin, "/")}
}

// Compose はメッセージを組み立てる。
func (c *Composer) Compose(kind Kind, email, token string) (*Message, error) {
	var (
		name    string
		subject string
		data    any
	)

	switch kind {
	case KindVerification:
		name, subject = "verification.html", "メールアドレスの確認"
		data = struct{ Link string }{c.link("/auth/new-verification", token)}
	case KindReset:
		name, subject = "reset.html", "パスワードの再設定"
		data = struct{ Link string }{c.link("/auth/new-password", token)}
	case KindTwoFactor:
		name, subject = "two_factor.html", "ログイン確認コード"
		data = struct{ Code string }{token}
	default:
		return nil, fmt.Errorf("unknown notification kind: %s", kind)
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", name, err)
	}

	return &Message{To: email, Subject: subject, HTML: buf.String()}, nil
}

func (c *Composer) link(path, token string) string {
	return c.origin + path + "?token=" + url.QueryEscape(token)
}
