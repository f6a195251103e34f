// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ボット、中継、セッション監視から利用する。
type MetricsCollector interface {
	RecordPairingRequest(outcome string)
	RecordSessionEstablished()
	RecordSessionClosed(reason string)
	RecordPendingExpired(count int)
	RecordRelay(kind string, delivered bool)
	RecordRelayLatency(duration time.Duration)
	RecordRateLimited()
	SetActive(pending, sessions int)
}

// セッション終了理由のラベル値。
const (
	CloseReasonDisconnect  = "disconnect"
	CloseReasonIdleTimeout = "idle_timeout"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	pairingRequests *prometheus.CounterVec
	sessionsOpened  prometheus.Counter
	sessionsClosed  *prometheus.CounterVec
	pendingExpired  prometheus.Counter
	relays          *prometheus.CounterVec
	relayLatency    prometheus.Histogram
	rateLimited     prometheus.Counter
	activePending   prometheus.Gauge
	activeSessions  prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pairingRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anonchat_pairing_requests_total",
			Help: "チャットリクエストの結果別の合計数",
		}, []string{"outcome"}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anonchat_sessions_established_total",
			Help: "成立したチャットの合計数",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anonchat_sessions_closed_total",
			Help: "終了したチャットの理由別の合計数",
		}, []string{"reason"}),
		pendingExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anonchat_pending_expired_total",
			Help: "期限切れで削除されたリクエストの合計数",
		}),
		relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anonchat_relay_messages_total",
			Help: "中継したメッセージの種別・結果別の合計数",
		}, []string{"kind", "result"}),
		relayLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "anonchat_relay_latency_seconds",
			Help:    "メッセージ中継のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anonchat_rate_limited_total",
			Help: "レート制限で破棄されたイベントの合計数",
		}),
		activePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anonchat_pending_requests",
			Help: "現在の承認待ちリクエスト数",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anonchat_active_sessions",
			Help: "現在チャット中のペア数",
		}),
	}

	reg.MustRegister(
		c.pairingRequests,
		c.sessionsOpened,
		c.sessionsClosed,
		c.pendingExpired,
		c.relays,
		c.relayLatency,
		c.rateLimited,
		c.activePending,
		c.activeSessions,
	)

	return c
}

// RecordPairingRequest はチャットリクエストの結果を記録する。
// outcomeは成功時"ok"、失敗時はエラーコード。
func (c *Collector) RecordPairingRequest(outcome string) {
	c.pairingRequests.WithLabelValues(outcome).Inc()
}

// RecordSessionEstablished はチャット成立を記録する。
func (c *Collector) RecordSessionEstablished() {
	c.sessionsOpened.Inc()
}

// RecordSessionClosed はチャット終了を記録する。
func (c *Collector) RecordSessionClosed(reason string) {
	c.sessionsClosed.WithLabelValues(reason).Inc()
}

// RecordPendingExpired は期限切れリクエスト数を記録する。
func (c *Collector) RecordPendingExpired(count int) {
	c.pendingExpired.Add(float64(count))
}

// RecordRelay はメッセージ中継の結果を記録する。
func (c *Collector) RecordRelay(kind string, delivered bool) {
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	c.relays.WithLabelValues(kind, result).Inc()
}

// RecordRelayLatency は中継のレイテンシを記録する。
func (c *Collector) RecordRelayLatency(duration time.Duration) {
	c.relayLatency.Observe(duration.Seconds())
}

// RecordRateLimited はレート制限による破棄を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// SetActive は現在のリクエスト数とチャット数を設定する。
func (c *Collector) SetActive(pending, sessions int) {
	c.activePending.Set(float64(pending))
	c.activeSessions.Set(float64(sessions))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordPairingRequest(string)      {}
func (NopCollector) RecordSessionEstablished()        {}
func (NopCollector) RecordSessionClosed(string)       {}
func (NopCollector) RecordPendingExpired(int)         {}
func (NopCollector) RecordRelay(string, bool)         {}
func (NopCollector) RecordRelayLatency(time.Duration) {}
func (NopCollector) RecordRateLimited()               {}
func (NopCollector) SetActive(int, int)               {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
