// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 受講登録の結果ラベル
const (
	EnrollmentCreated  = "created"
	EnrollmentConflict = "conflict"
	EnrollmentRejected = "rejected"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・ワーカー・HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordEnrollment(outcome string)
	RecordLessonTransition(status string)
	RecordCourseCompleted()
	RecordCompletionCheckFailure()
	RecordPaymentCreated()
	RecordPaymentStatus(status string)
	RecordInvoiceCollision()
	RecordNotificationFailure(kind string)
	RecordHTTPStatus(statusCode int)
	RecordHTTPLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	enrollments       *prometheus.CounterVec
	lessonTransitions *prometheus.CounterVec
	coursesCompleted  prometheus.Counter
	completionFail    prometheus.Counter
	paymentsCreated   prometheus.Counter
	paymentStatus     *prometheus.CounterVec
	invoiceCollisions prometheus.Counter
	notifyFail        *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	httpLatency       prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		enrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "manabiya_enrollments_total",
			Help: "受講登録リクエストの結果別の合計数",
		}, []string{"outcome"}),
		lessonTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "manabiya_lesson_transitions_total",
			Help: "レッスン進捗の状態遷移の合計数",
		}, []string{"status"}),
		coursesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "manabiya_courses_completed_total",
			Help: "コース修了に遷移した受講登録の合計数",
		}),
		completionFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "manabiya_completion_check_fail_total",
			Help: "コース修了判定の失敗数",
		}),
		paymentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "manabiya_payments_created_total",
			Help: "作成された支払いの合計数",
		}),
		paymentStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "manabiya_payment_status_updates_total",
			Help: "支払いステータス更新の合計数",
		}, []string{"status"}),
		invoiceCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "manabiya_invoice_collisions_total",
			Help: "請求書番号の衝突数",
		}),
		notifyFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "manabiya_notification_fail_total",
			Help: "通知送信の失敗数",
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "manabiya_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "manabiya_http_latency_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.enrollments,
		c.lessonTransitions,
		c.coursesCompleted,
		c.completionFail,
		c.paymentsCreated,
		c.paymentStatus,
		c.invoiceCollisions,
		c.notifyFail,
		c.httpStatus,
		c.httpLatency,
	)

	return c
}

// RecordEnrollment は受講登録リクエストの結果を記録する。
func (c *Collector) RecordEnrollment(outcome string) {
	c.enrollments.WithLabelValues(outcome).Inc()
}

// RecordLessonTransition はレッスン進捗の状態遷移を記録する。
func (c *Collector) RecordLessonTransition(status string) {
	c.lessonTransitions.WithLabelValues(status).Inc()
}

// RecordCourseCompleted はコース修了を記録する。
func (c *Collector) RecordCourseCompleted() {
	c.coursesCompleted.Inc()
}

// RecordCompletionCheckFailure は修了判定の失敗を記録する。
func (c *Collector) RecordCompletionCheckFailure() {
	c.completionFail.Inc()
}

// RecordPaymentCreated は支払い作成を記録する。
func (c *Collector) RecordPaymentCreated() {
	c.paymentsCreated.Inc()
}

// RecordPaymentStatus は支払いステータスの更新を記録する。
func (c *Collector) RecordPaymentStatus(status string) {
	c.paymentStatus.WithLabelValues(status).Inc()
}

// RecordInvoiceCollision は請求書番号の衝突を記録する。
func (c *Collector) RecordInvoiceCollision() {
	c.invoiceCollisions.Inc()
}

// RecordNotificationFailure は通知送信の失敗を記録する。
func (c *Collector) RecordNotificationFailure(kind string) {
	c.notifyFail.WithLabelValues(kind).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordHTTPLatency はHTTPリクエストの処理時間を記録する。
func (c *Collector) RecordHTTPLatency(duration time.Duration) {
	c.httpLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordEnrollment(string)          {}
func (Nop) RecordLessonTransition(string)    {}
func (Nop) RecordCourseCompleted()           {}
func (Nop) RecordCompletionCheckFailure()    {}
func (Nop) RecordPaymentCreated()            {}
func (Nop) RecordPaymentStatus(string)       {}
func (Nop) RecordInvoiceCollision()          {}
func (Nop) RecordNotificationFailure(string) {}
func (Nop) RecordHTTPStatus(int)             {}
func (Nop) RecordHTTPLatency(time.Duration)  {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
