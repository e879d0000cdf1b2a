// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス記録のインターフェース。
// サービス層・ミドルウェア・ライブ同期から利用する。
type Recorder interface {
	RecordHTTPRequest(method string, statusCode int, duration time.Duration)
	RecordAuthEvent(event, result string)
	RecordSnapshot(feed string)
	RecordSyncError(feed, op string)
	LiveSubscriptionOpened()
	LiveSubscriptionClosed()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests *prometheus.CounterVec
	httpLatency  prometheus.Histogram
	authEvents   *prometheus.CounterVec
	snapshots    *prometheus.CounterVec
	syncErrors   *prometheus.CounterVec
	liveSubs     prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eplan_http_requests_total",
			Help: "メソッド・ステータスコード別のHTTPリクエスト数",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eplan_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eplan_auth_events_total",
			Help: "認証イベント（signup/login/logout/admin_grant）の結果別件数",
		}, []string{"event", "result"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eplan_sync_snapshots_total",
			Help: "ライブ同期で配信したスナップショット数",
		}, []string{"feed"}),
		syncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eplan_sync_errors_total",
			Help: "ライブ同期の購読・書き込みエラー数",
		}, []string{"feed", "op"}),
		liveSubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eplan_live_subscriptions",
			Help: "現在開いているライブ購読の数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.authEvents,
		c.snapshots,
		c.syncErrors,
		c.liveSubs,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの結果と処理時間を記録する。
func (c *Collector) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// RecordAuthEvent は認証イベントを記録する。
func (c *Collector) RecordAuthEvent(event, result string) {
	c.authEvents.WithLabelValues(event, result).Inc()
}

// RecordSnapshot はスナップショット配信を記録する。
func (c *Collector) RecordSnapshot(feed string) {
	c.snapshots.WithLabelValues(feed).Inc()
}

// RecordSyncError はライブ同期のエラーを記録する。
func (c *Collector) RecordSyncError(feed, op string) {
	c.syncErrors.WithLabelValues(feed, op).Inc()
}

// LiveSubscriptionOpened はライブ購読の開始を記録する。
func (c *Collector) LiveSubscriptionOpened() {
	c.liveSubs.Inc()
}

// LiveSubscriptionClosed はライブ購読の終了を記録する。
func (c *Collector) LiveSubscriptionClosed() {
	c.liveSubs.Dec()
}

// Nop は何も記録しないRecorder。
type Nop struct{}

func (Nop) RecordHTTPRequest(string, int, time.Duration) {}
func (Nop) RecordAuthEvent(string, string)               {}
func (Nop) RecordSnapshot(string)                        {}
func (Nop) RecordSyncError(string, string)               {}
func (Nop) LiveSubscriptionOpened()                      {}
func (Nop) LiveSubscriptionClosed()                      {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
