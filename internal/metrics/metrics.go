// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ストアクライアント、セッション管理、アクセスガード、採番から利用する。
type MetricsCollector interface {
	RecordStoreCall(op, target, outcome string, duration time.Duration)
	RecordSessionEvent(event string)
	RecordGuardDecision(outcome string)
	RecordAllocationConflict()
	RecordHTTPStatus(statusCode int)
	SetActiveWorkspaces(n int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	storeCalls          *prometheus.CounterVec
	storeLatency        *prometheus.HistogramVec
	sessionEvents       *prometheus.CounterVec
	guardDecisions      *prometheus.CounterVec
	allocationConflicts prometheus.Counter
	httpStatus          *prometheus.CounterVec
	activeWorkspaces    prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		storeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "babyprofile_store_calls_total",
			Help: "リモートストア呼び出しの合計数",
		}, []string{"op", "target", "outcome"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "babyprofile_store_latency_seconds",
			Help:    "リモートストア呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "babyprofile_session_events_total",
			Help: "セッション変更通知の合計数",
		}, []string{"event"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "babyprofile_guard_decisions_total",
			Help: "アクセスガードの判定結果別の合計数",
		}, []string{"outcome"}),
		allocationConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "babyprofile_profile_id_conflicts_total",
			Help: "プロフィールID採番で一意制約違反となった回数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "babyprofile_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		activeWorkspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "babyprofile_active_workspaces",
			Help: "メモリ上に保持しているクライアントWorkspaceの数",
		}),
	}

	reg.MustRegister(
		c.storeCalls,
		c.storeLatency,
		c.sessionEvents,
		c.guardDecisions,
		c.allocationConflicts,
		c.httpStatus,
		c.activeWorkspaces,
	)

	return c
}

// RecordStoreCall はストア呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordStoreCall(op, target, outcome string, duration time.Duration) {
	c.storeCalls.WithLabelValues(op, target, outcome).Inc()
	c.storeLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSessionEvent はセッション変更通知を記録する。
func (c *Collector) RecordSessionEvent(event string) {
	c.sessionEvents.WithLabelValues(event).Inc()
}

// RecordGuardDecision はアクセスガードの判定結果を記録する。
func (c *Collector) RecordGuardDecision(outcome string) {
	c.guardDecisions.WithLabelValues(outcome).Inc()
}

// RecordAllocationConflict はプロフィールID採番の競合を記録する。
func (c *Collector) RecordAllocationConflict() {
	c.allocationConflicts.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// SetActiveWorkspaces は保持中のWorkspace数を設定する。
func (c *Collector) SetActiveWorkspaces(n int) {
	c.activeWorkspaces.Set(float64(n))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ MetricsCollector = (*Collector)(nil)
