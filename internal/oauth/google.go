package oauth

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/hitoshi/authgate/internal/model"
)

// GoogleName はGoogleプロバイダーの名前。
const GoogleName = "google"

var googleEndpoints = Endpoints{
	AuthURL:    "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL:   "https://oauth2.googleapis.com/token",
	ProfileURL: "https://www.googleapis.com/oauth2/v3/userinfo",
}

// Google はGoogle OAuth 2.0プロバイダー。
type Google struct {
	baseProvider
}

// NewGoogle はGoogleプロバイダーを生成する。
// オフラインアクセスとアカウント選択画面を要求する。
func NewGoogle(cfg Config) *Google {
	g := &Google{
		baseProvider: newBaseProvider(GoogleName, cfg, googleEndpoints,
			[]string{"openid", "email", "profile"},
			url.Values{
				"access_type": {"offline"},
				"prompt":      {"select_account"},
			},
		),
	}
	g.normalize = g.NormalizeProfile
	return g
}

type googleProfile struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// NormalizeProfile はuserinfoレスポンスを正規化する。nameとpictureは省略可能。
func (g *Google) NormalizeProfile(raw []byte) (*model.OAuthProfile, error) {
	var p googleProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse google profile: %w", err)
	}
	if p.Sub == "" {
		return nil, fmt.Errorf("empty sub in google profile")
	}

	return &model.OAuthProfile{
		Subject:      p.Sub,
		Email:        p.Email,
		Name:         p.Name,
		PictureURL:   p.Picture,
		ProviderName: GoogleName,
	}, nil
}

// compile-time interface check
var _ Provider = (*Google)(nil)
