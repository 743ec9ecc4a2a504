package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// Reconciler インターフェースに対するモック実装
type mockReconciler struct {
	calls     atomic.Int32
	lastLimit atomic.Int32
	completed int
	err       error
}

func (m *mockReconciler) ReconcileCompletions(ctx context.Context, limit int) (int, error) {
	m.calls.Add(1)
	m.lastLimit.Store(int32(limit))
	return m.completed, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func findLogField(t *testing.T, buf *bytes.Buffer, key string) (interface{}, bool) {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if v, ok := entry[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func TestNewJob_DefaultBatchSize(t *testing.T) {
	var buf bytes.Buffer
	job := NewJob(&mockReconciler{}, newTestLogger(&buf))

	if job.BatchSize != 200 {
		t.Errorf("BatchSize = %d, want 200", job.BatchSize)
	}
}

func TestJob_Run_PassesBatchSize(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockReconciler{}
	job := NewJob(mock, newTestLogger(&buf))
	job.BatchSize = 25

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if got := mock.lastLimit.Load(); got != 25 {
		t.Errorf("limit = %d, want 25", got)
	}
}

func TestJob_Run_LogsCompletedCount(t *testing.T) {
	var buf bytes.Buffer
	job := NewJob(&mockReconciler{completed: 7}, newTestLogger(&buf))

	_ = job.Run(context.Background())

	v, ok := findLogField(t, &buf, "completed_count")
	if !ok || v != float64(7) {
		t.Errorf("ログに completed_count=7 が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestJob_Run_ReturnsErrorOnFailure(t *testing.T) {
	var buf bytes.Buffer
	job := NewJob(&mockReconciler{err: errors.New("db down")}, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("エラーが返されるべき")
	}
	if !strings.Contains(buf.String(), "db down") {
		t.Errorf("ログにエラー内容が記録されていない: %s", buf.String())
	}
}

func TestJob_Schedule_InvalidSpec(t *testing.T) {
	var buf bytes.Buffer
	job := NewJob(&mockReconciler{}, newTestLogger(&buf))

	if _, err := job.Schedule(context.Background(), "not a cron", nil); err == nil {
		t.Fatal("不正なcron式はエラーになるべき")
	}
}

func TestJob_Start_RunsImmediatelyAndStops(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockReconciler{}
	job := NewJob(mock, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- job.Start(ctx, "@every 1h", time.UTC)
	}()

	deadline := time.After(2 * time.Second)
	for mock.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("起動直後の実行が行われなかった")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() がエラーを返した: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() がキャンセル後に戻らなかった")
	}
}
