package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxDisplayNameLength は表示名として保存する最大文字数。
const maxDisplayNameLength = 255

// ProfileSanitizer はIdPから受け取ったプロフィール値を保存前に無害化する。
type ProfileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
// 表示名にはタグを一切許可しない。
func NewProfileSanitizer() *ProfileSanitizer {
	return &ProfileSanitizer{policy: bluemonday.StrictPolicy()}
}

// DisplayName はタグを除去し、前後の空白を落として長さを制限した表示名を返す。
// bluemondayがエスケープした実体参照は元の文字に戻す。
func (s *ProfileSanitizer) DisplayName(raw string) string {
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned = strings.TrimSpace(cleaned)

	runes := []rune(cleaned)
	if len(runes) > maxDisplayNameLength {
		cleaned = string(runes[:maxDisplayNameLength])
	}
	return cleaned
}

// PictureURL はhttpsの絶対URLだけを通し、それ以外は空文字列を返す。
func (s *ProfileSanitizer) PictureURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ""
	}
	return u.String()
}
