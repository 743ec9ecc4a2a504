// Package notify は受講登録に関するイベント通知を提供する。
// 通知はベストエフォートで、失敗しても呼び出し元の処理は巻き戻さない。
package notify

import (
	"context"
	"time"

	"github.com/hitoshi/manabiya/internal/model"
)

// Kind は通知イベントの種類を表す。AMQPのルーティングキーとしても使用する。
type Kind string

const (
	// KindEnrollmentConfirmed は受講登録の完了通知。
	KindEnrollmentConfirmed Kind = "enrollment.confirmed"
	// KindCourseCompleted はコース修了通知。
	KindCourseCompleted Kind = "enrollment.completed"
)

// Notifier は受講登録ライフサイクルの通知送信インターフェース。
// 受講登録・進捗サービスはこのインターフェースにのみ依存する。
type Notifier interface {
	SendEnrollmentConfirmation(ctx context.Context, enrollment *model.Enrollment, course *model.Course, user *model.User) error
	SendCourseCompleted(ctx context.Context, enrollment *model.Enrollment, course *model.Course, user *model.User) error
}

// Sender は組み立て済みのイベントを外部へ送出するインターフェース。
type Sender interface {
	Send(ctx context.Context, event Event) error
}

// Event は外部へ送出される通知の本文。
type Event struct {
	Kind         Kind       `json:"kind"`
	EnrollmentID string     `json:"enrollment_id"`
	UserID       string     `json:"user_id"`
	UserEmail    string     `json:"user_email,omitempty"`
	UserName     string     `json:"user_name,omitempty"`
	CourseID     string     `json:"course_id"`
	CourseTitle  string     `json:"course_title,omitempty"`
	Price        string     `json:"price"`
	ExpiryDate   time.Time  `json:"expiry_date"`
	CompletedAt  *time.Time `json:"completed_at"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// NewEvent は受講登録・コース・ユーザーからイベントを組み立てる。
// courseとuserはnilでもよい。
func NewEvent(kind Kind, enrollment *model.Enrollment, course *model.Course, user *model.User, at time.Time) Event {
	ev := Event{
		Kind:         kind,
		EnrollmentID: enrollment.ID,
		UserID:       enrollment.UserID,
		CourseID:     enrollment.CourseID,
		Price:        enrollment.Price.StringFixed(2),
		ExpiryDate:   enrollment.ExpiryDate,
		CompletedAt:  enrollment.CompletionDate,
		OccurredAt:   at.UTC(),
	}
	if course != nil {
		ev.CourseTitle = course.Title
	}
	if user != nil {
		ev.UserEmail = user.Email
		ev.UserName = user.Name
	}
	return ev
}

// MultiSender は複数のSenderへ順に送出する。
// いずれかが失敗しても残りへの送出は継続し、最初のエラーを返す。
type MultiSender []Sender

// Send は全Senderへイベントを送出する。
func (m MultiSender) Send(ctx context.Context, event Event) error {
	var firstErr error
	for _, s := range m {
		if err := s.Send(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
