// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// コールバックオーケストレーターとマージエンジンから利用する。
type MetricsCollector interface {
	RecordLogin(provider string)
	RecordMerge(provider string, loserCount int)
	RecordAuthFailure(reason string)
	RecordCallbackLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	merges          *prometheus.CounterVec
	mergedUsers     prometheus.Counter
	authFailures    *prometheus.CounterVec
	callbackLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authman_logins_total",
			Help: "プロバイダー別のログイン成功の合計数",
		}, []string{"provider"}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authman_merges_total",
			Help: "プロバイダー別のユーザーマージ実行の合計数",
		}, []string{"provider"}),
		mergedUsers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authman_merged_users_total",
			Help: "マージで統合された敗者ユーザーの合計数",
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authman_auth_failures_total",
			Help: "理由別の認証失敗の合計数",
		}, []string{"reason"}),
		callbackLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authman_callback_latency_seconds",
			Help:    "OAuthコールバック処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.merges,
		c.mergedUsers,
		c.authFailures,
		c.callbackLatency,
	)

	return c
}

// RecordLogin はプロバイダー経由のログイン成功を記録する。
func (c *Collector) RecordLogin(provider string) {
	c.logins.WithLabelValues(provider).Inc()
}

// RecordMerge はユーザーマージの実行を記録する。
// loserCountは統合された敗者ユーザーの数。
func (c *Collector) RecordMerge(provider string, loserCount int) {
	c.merges.WithLabelValues(provider).Inc()
	c.mergedUsers.Add(float64(loserCount))
}

// RecordAuthFailure は認証失敗を理由別に記録する。
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// RecordCallbackLatency はコールバック処理のレイテンシを記録する。
func (c *Collector) RecordCallbackLatency(duration time.Duration) {
	c.callbackLatency.Observe(duration.Seconds())
}

// Handler はPrometheusメトリクスのHTTPハンドラーを返す。
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
