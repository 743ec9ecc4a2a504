package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/manabiya/internal/metrics"
	"github.com/hitoshi/manabiya/internal/model"
)

// Dispatcher はNotifierを実装し、送出を非同期に行う。
// 呼び出し元のリクエストが終了しても送出は継続し、timeoutで打ち切られる。
// 送出の失敗はログとメトリクスに記録され、呼び出し元には返さない。
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(sender Sender, timeout time.Duration, logger *slog.Logger, mc metrics.MetricsCollector) *Dispatcher {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Dispatcher{
		sender:  sender,
		timeout: timeout,
		logger:  logger,
		metrics: mc,
		now:     time.Now,
	}
}

// SendEnrollmentConfirmation は受講登録完了通知を非同期に送出する。常にnilを返す。
func (d *Dispatcher) SendEnrollmentConfirmation(ctx context.Context, enrollment *model.Enrollment, course *model.Course, user *model.User) error {
	d.dispatch(ctx, NewEvent(KindEnrollmentConfirmed, enrollment, course, user, d.now()))
	return nil
}

// SendCourseCompleted はコース修了通知を非同期に送出する。常にnilを返す。
func (d *Dispatcher) SendCourseCompleted(ctx context.Context, enrollment *model.Enrollment, course *model.Course, user *model.User) error {
	d.dispatch(ctx, NewEvent(KindCourseCompleted, enrollment, course, user, d.now()))
	return nil
}

// Wait は送出中の通知がすべて終わるまで待機する。シャットダウン時に呼び出す。
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, event Event) {
	base := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		sendCtx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()

		if err := d.sender.Send(sendCtx, event); err != nil {
			d.metrics.RecordNotificationFailure(string(event.Kind))
			d.logger.WarnContext(sendCtx, "通知の送信に失敗しました",
				slog.String("kind", string(event.Kind)),
				slog.String("enrollment_id", event.EnrollmentID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// compile-time interface check
var _ Notifier = (*Dispatcher)(nil)
