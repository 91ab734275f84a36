// Package security はIdPとの通信やIdPから受け取った値の取り扱いに関するセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// blockedNetworks はIdPエンドポイントとして許可しないネットワーク範囲。
// パッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル。クラウドメタデータIPを含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// EgressGuard はIdPへの外向き通信を制限する。
type EgressGuard struct {
	allowInsecure bool
}

// NewEgressGuard はEgressGuardを生成する。
// allowInsecureがtrueの場合はhttpスキームも許可する（ローカル開発用）。
func NewEgressGuard(allowInsecure bool) *EgressGuard {
	return &EgressGuard{allowInsecure: allowInsecure}
}

func (g *EgressGuard) schemes() []string {
	if g.allowInsecure {
		return []string{"https", "http"}
	}
	return []string{"https"}
}

// NewClient はIdP呼び出し用のHTTPクライアントを生成する。
// safeurlがDNS解決後のIPを検証するため、プライベートIPやメタデータIPへは接続できない。
// timeoutはリクエスト全体（トークン交換、プロフィール取得の各1回）に適用される。
func (g *EgressGuard) NewClient(timeout time.Duration) *http.Client {
	ports := []int{443}
	if g.allowInsecure {
		ports = append(ports, 80)
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(g.schemes()...).
		SetAllowedPorts(ports...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateEndpoint は設定されたIdPエンドポイントURLを起動時に静的検証する。
// DNS解決は行わない。
func (g *EgressGuard) ValidateEndpoint(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !contains(g.schemes(), scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, g.schemes())
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// isBlockedIP はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
