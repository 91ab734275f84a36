package oauth

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/hitoshi/authgate/internal/model"
)

// YandexName はYandexプロバイダーの名前。
const YandexName = "yandex"

const yandexAvatarURL = "https://avatars.yandex.net/get-yapic/%s/islands-200"

var yandexEndpoints = Endpoints{
	AuthURL:    "https://oauth.yandex.ru/authorize",
	TokenURL:   "https://oauth.yandex.ru/token",
	ProfileURL: "https://login.yandex.ru/info?format=json",
}

// Yandex はYandex ID OAuthプロバイダー。
type Yandex struct {
	baseProvider
}

// NewYandex はYandexプロバイダーを生成する。
func NewYandex(cfg Config) *Yandex {
	y := &Yandex{
		baseProvider: newBaseProvider(YandexName, cfg, yandexEndpoints,
			[]string{"login:email", "login:avatar", "login:info"},
			url.Values{"force_confirm": {"yes"}},
		),
	}
	y.normalize = y.NormalizeProfile
	return y
}

type yandexProfile struct {
	ID              string   `json:"id"`
	DefaultEmail    string   `json:"default_email"`
	Emails          []string `json:"emails"`
	DisplayName     string   `json:"display_name"`
	RealName        string   `json:"real_name"`
	DefaultAvatarID string   `json:"default_avatar_id"`
	IsAvatarEmpty   bool     `json:"is_avatar_empty"`
}

// NormalizeProfile はlogin.yandex.ruのレスポンスを正規化する。
// メールアドレスはemailsの先頭、アバターはdefault_avatar_idからURLを組み立てる。
func (y *Yandex) NormalizeProfile(raw []byte) (*model.OAuthProfile, error) {
	var p yandexProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse yandex profile: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("empty id in yandex profile")
	}

	email := p.DefaultEmail
	if len(p.Emails) > 0 {
		email = p.Emails[0]
	}

	name := p.DisplayName
	if name == "" {
		name = p.RealName
	}

	var picture string
	if p.DefaultAvatarID != "" && !p.IsAvatarEmpty {
		picture = fmt.Sprintf(yandexAvatarURL, p.DefaultAvatarID)
	}

	return &model.OAuthProfile{
		Subject:      p.ID,
		Email:        email,
		Name:         name,
		PictureURL:   picture,
		ProviderName: YandexName,
	}, nil
}

// compile-time interface check
var _ Provider = (*Yandex)(nil)
