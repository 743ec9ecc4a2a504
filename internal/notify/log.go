package notify

import (
	"context"
	"log/slog"
)

// LogNotifier はイベントを構造化ログとして出力するSender。
// 外部の送信先が設定されていない環境で使用する。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send はイベントをINFOレベルで記録する。
func (n *LogNotifier) Send(ctx context.Context, event Event) error {
	n.logger.InfoContext(ctx, "通知",
		slog.String("kind", string(event.Kind)),
		slog.String("enrollment_id", event.EnrollmentID),
		slog.String("user_id", event.UserID),
		slog.String("course_id", event.CourseID),
	)
	return nil
}
