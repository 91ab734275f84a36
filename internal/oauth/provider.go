// Package oauth は外部IdPのOAuth 2.0ログインフローを共通のインターフェースに正規化する。
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// maxResponseSize はIdPレスポンスとして読み込む最大バイト数。
const maxResponseSize = 1 << 20

// Provider はIdPごとのOAuthフローを表す。
type Provider interface {
	// Name はプロバイダー名を返す。コールバックURLとAccountのproviderに使われる。
	Name() string
	// AuthURL は認可エンドポイントのURLを生成する。stateが空の場合は付与しない。
	AuthURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、正規化したプロフィールを返す。
	ExchangeCode(ctx context.Context, code string) (*model.OAuthProfile, error)
	// NormalizeProfile はプロフィールエンドポイントの生レスポンスを正規化する。
	NormalizeProfile(raw []byte) (*model.OAuthProfile, error)
}

// Endpoints はIdPのエンドポイントURL。
type Endpoints struct {
	AuthURL    string
	TokenURL   string
	ProfileURL string
}

// Config はプロバイダー共通の設定。
type Config struct {
	ClientID     string
	ClientSecret string
	// BaseURL はコールバックURLの基点（例: https://auth.example.com）。
	BaseURL string

	// テスト用にオーバーライド可能なエンドポイント。空のフィールドは既定値を使う
	Endpoints Endpoints

	// HTTPClient はIdP呼び出しに使うクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
}

// baseProvider はトークン交換とプロフィール取得のHTTP処理を提供する。
// 各プロバイダーはこれを埋め込み、プロフィールの正規化だけを実装する。
type baseProvider struct {
	name         string
	endpoints    Endpoints
	clientID     string
	clientSecret string
	redirectURL  string
	scopes       []string
	extraParams  url.Values
	client       *http.Client
	normalize    func(raw []byte) (*model.OAuthProfile, error)
	now          func() time.Time
}

func newBaseProvider(name string, cfg Config, defaults Endpoints, scopes []string, extra url.Values) baseProvider {
	endpoints := cfg.Endpoints
	if endpoints.AuthURL == "" {
		endpoints.AuthURL = defaults.AuthURL
	}
	if endpoints.TokenURL == "" {
		endpoints.TokenURL = defaults.TokenURL
	}
	if endpoints.ProfileURL == "" {
		endpoints.ProfileURL = defaults.ProfileURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return baseProvider{
		name:         name,
		endpoints:    endpoints,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  strings.TrimRight(cfg.BaseURL, "/") + "/auth/oauth/callback/" + name,
		scopes:       scopes,
		extraParams:  extra,
		client:       client,
		now:          time.Now,
	}
}

// Name はプロバイダー名を返す。
func (p *baseProvider) Name() string {
	return p.name
}

// AuthURL は認可エンドポイントのURLを生成する。
func (p *baseProvider) AuthURL(state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {p.clientID},
		"redirect_uri":  {p.redirectURL},
		"scope":         {strings.Join(p.scopes, " ")},
	}
	if state != "" {
		params.Set("state", state)
	}
	for k, vs := range p.extraParams {
		params[k] = vs
	}
	return p.endpoints.AuthURL + "?" + params.Encode()
}

// Endpoints は使用中のエンドポイントを返す。起動時の検証に使う。
func (p *baseProvider) Endpoints() Endpoints {
	return p.endpoints
}

// ExchangeCode は認可コードをトークンに交換し、プロフィールを取得して正規化する。
func (p *baseProvider) ExchangeCode(ctx context.Context, code string) (*model.OAuthProfile, error) {
	tok, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, err
	}

	raw, err := p.fetchProfile(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	profile, err := p.normalize(raw)
	if err != nil {
		slog.Warn("failed to normalize oauth profile",
			slog.String("provider", p.name),
			slog.String("error", err.Error()),
		)
		return nil, model.NewOAuthProfileFetchFailedError(err.Error())
	}

	profile.ProviderName = p.name
	profile.AccessToken = tok.AccessToken
	profile.RefreshToken = tok.RefreshToken
	profile.ExpiresAt = p.expiry(tok)

	return profile, nil
}

// expiry はexpires_atを優先し、なければexpires_inから有効期限を求める。
// どちらもない場合はゼロ値。
func (p *baseProvider) expiry(tok *tokenResponse) time.Time {
	if tok.ExpiresAt > 0 {
		return time.Unix(tok.ExpiresAt, 0)
	}
	if tok.ExpiresIn > 0 {
		return p.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return time.Time{}
}

// exchangeToken は認可コードをアクセストークンに交換する。
func (p *baseProvider) exchangeToken(ctx context.Context, code string) (*tokenResponse, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
		"redirect_uri":  {p.redirectURL},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoints.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Warn("oauth token request failed",
			slog.String("provider", p.name),
			slog.String("error", err.Error()),
		)
		return nil, model.NewOAuthExchangeFailedError("token request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, model.NewOAuthExchangeFailedError("failed to read token response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("oauth token exchange rejected",
			slog.String("provider", p.name),
			slog.Int("status", resp.StatusCode),
		)
		return nil, model.NewOAuthExchangeFailedError(fmt.Sprintf("status %d", resp.StatusCode))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, model.NewOAuthExchangeFailedError("malformed token response")
	}
	if tok.AccessToken == "" {
		return nil, model.NewOAuthExchangeFailedError("empty access token")
	}

	return &tok, nil
}

// fetchProfile はアクセストークンでプロフィールを取得し、生のレスポンスを返す。
func (p *baseProvider) fetchProfile(ctx context.Context, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoints.ProfileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Warn("oauth profile request failed",
			slog.String("provider", p.name),
			slog.String("error", err.Error()),
		)
		return nil, model.NewOAuthProfileFetchFailedError("profile request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, model.NewOAuthProfileFetchFailedError("failed to read profile response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("oauth profile fetch rejected",
			slog.String("provider", p.name),
			slog.Int("status", resp.StatusCode),
		)
		return nil, model.NewOAuthProfileFetchFailedError(fmt.Sprintf("status %d", resp.StatusCode))
	}

	return body, nil
}
