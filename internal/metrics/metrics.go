// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	ResultSuccess           = "success"
	ResultFailure           = "failure"
	ResultTwoFactorRequired = "two_factor_required"
)

// MetricsCollector はメトリクス収集のインターフェース。
// フローやオーケストレーターから利用する。
type MetricsCollector interface {
	RecordLogin(method, result string)
	RecordTokenIssued(kind string)
	RecordSessionCreated()
	RecordSessionsRevoked(count int)
	RecordNotificationFailed(kind string)
	RecordOAuthExchange(provider string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins              *prometheus.CounterVec
	tokensIssued        *prometheus.CounterVec
	sessionsCreated     prometheus.Counter
	sessionsRevoked     prometheus.Counter
	notificationsFailed *prometheus.CounterVec
	oauthExchange       *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_logins_total",
			Help: "認証方式と結果別のログイン試行数",
		}, []string{"method", "result"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_tokens_issued_total",
			Help: "種別ごとのトークン発行数",
		}, []string{"kind"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_sessions_created_total",
			Help: "作成されたセッションの合計数",
		}),
		sessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_sessions_revoked_total",
			Help: "破棄されたセッションの合計数",
		}),
		notificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_notifications_failed_total",
			Help: "種別ごとのメール配信失敗数",
		}, []string{"kind"}),
		oauthExchange: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authgate_oauth_exchange_seconds",
			Help:    "IdPとの認可コード交換にかかった時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}

	reg.MustRegister(
		c.logins,
		c.tokensIssued,
		c.sessionsCreated,
		c.sessionsRevoked,
		c.notificationsFailed,
		c.oauthExchange,
	)

	return c
}

// RecordLogin はログイン試行を記録する。
func (c *Collector) RecordLogin(method, result string) {
	c.logins.WithLabelValues(method, result).Inc()
}

// RecordTokenIssued はトークン発行を記録する。
func (c *Collector) RecordTokenIssued(kind string) {
	c.tokensIssued.WithLabelValues(kind).Inc()
}

// RecordSessionCreated はセッション作成を記録する。
func (c *Collector) RecordSessionCreated() {
	c.sessionsCreated.Inc()
}

// RecordSessionsRevoked は破棄したセッション数を記録する。
func (c *Collector) RecordSessionsRevoked(count int) {
	c.sessionsRevoked.Add(float64(count))
}

// RecordNotificationFailed はメール配信失敗を記録する。
func (c *Collector) RecordNotificationFailed(kind string) {
	c.notificationsFailed.WithLabelValues(kind).Inc()
}

// RecordOAuthExchange は認可コード交換の所要時間を記録する。
func (c *Collector) RecordOAuthExchange(provider string, duration time.Duration) {
	c.oauthExchange.WithLabelValues(provider).Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordLogin(string, string) {}
func (Nop) RecordTokenIssued(string) {}
func (Nop) RecordSessionCreated() {}
func (Nop) RecordSessionsRevoked(int) {}
func (Nop) RecordNotificationFailed(string) {}
func (Nop) RecordOAuthExchange(string, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
