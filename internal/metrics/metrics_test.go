package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名・ラベルに一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordEnrollment_CountsByOutcome は受講登録が結果ラベル別に集計されることを検証する。
func TestRecordEnrollment_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEnrollment(EnrollmentCreated)
	c.RecordEnrollment(EnrollmentCreated)
	c.RecordEnrollment(EnrollmentConflict)

	created := findMetric(t, reg, "manabiya_enrollments_total", map[string]string{"outcome": "created"})
	if created == nil || created.GetCounter().GetValue() != 2 {
		t.Errorf("created = %v, want 2", created.GetCounter().GetValue())
	}
	conflict := findMetric(t, reg, "manabiya_enrollments_total", map[string]string{"outcome": "conflict"})
	if conflict == nil || conflict.GetCounter().GetValue() != 1 {
		t.Errorf("conflict = %v, want 1", conflict.GetCounter().GetValue())
	}
}

// TestRecordCourseCompleted_IncrementsCounter はコース修了カウンタが増加することを検証する。
func TestRecordCourseCompleted_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCourseCompleted()
	c.RecordCompletionCheckFailure()
	c.RecordCompletionCheckFailure()

	if m := findMetric(t, reg, "manabiya_courses_completed_total", nil); m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("manabiya_courses_completed_total should be 1")
	}
	if m := findMetric(t, reg, "manabiya_completion_check_fail_total", nil); m == nil || m.GetCounter().GetValue() != 2 {
		t.Error("manabiya_completion_check_fail_total should be 2")
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はステータスコード別に集計されることを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(409)

	ok := findMetric(t, reg, "manabiya_http_status_total", map[string]string{"status_code": "200"})
	if ok == nil || ok.GetCounter().GetValue() != 2 {
		t.Error("status_code=200 should be 2")
	}
	conflict := findMetric(t, reg, "manabiya_http_status_total", map[string]string{"status_code": "409"})
	if conflict == nil || conflict.GetCounter().GetValue() != 1 {
		t.Error("status_code=409 should be 1")
	}
}

// TestRecordHTTPLatency_ObservesHistogram はレイテンシがヒストグラムに記録されることを検証する。
func TestRecordHTTPLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPLatency(150 * time.Millisecond)

	m := findMetric(t, reg, "manabiya_http_latency_seconds", nil)
	if m == nil {
		t.Fatal("manabiya_http_latency_seconds metric not found")
	}
	if got := m.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat はハンドラーがテキスト形式で出力することを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordPaymentCreated()
	c.RecordPaymentStatus("Completed")
	c.RecordNotificationFailure("enrollment_confirmation")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{
		"manabiya_payments_created_total",
		"manabiya_payment_status_updates_total",
		"manabiya_notification_fail_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("response should contain %s", name)
		}
	}
}

// TestMultipleCollectors_IndependentRegistries は別レジストリへの登録が衝突しないことを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	NewCollector(prometheus.NewRegistry())
	NewCollector(prometheus.NewRegistry())
}
