// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, enrollment, progress, payment, catalog, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeCourseNotFound        = "COURSE_NOT_FOUND"
	ErrCodeCourseNotPublished    = "COURSE_NOT_PUBLISHED"
	ErrCodeAlreadyEnrolled       = "ALREADY_ENROLLED"
	ErrCodeEnrollmentNotFound    = "ENROLLMENT_NOT_FOUND"
	ErrCodeLessonNotFound        = "LESSON_NOT_FOUND"
	ErrCodeInvalidProgressStatus = "INVALID_PROGRESS_STATUS"
	ErrCodeInvalidTimeSpent      = "INVALID_TIME_SPENT"
	ErrCodePaymentNotFound       = "PAYMENT_NOT_FOUND"
	ErrCodeInvalidPaymentStatus  = "INVALID_PAYMENT_STATUS"
	ErrCodeInvalidPaymentMethod  = "INVALID_PAYMENT_METHOD"
	ErrCodeInvoiceCollision      = "INVOICE_COLLISION"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// NewCourseNotFoundError はコース未検出エラーを生成する。
func NewCourseNotFoundError(courseID string) *APIError {
	return &APIError{
		Code:     ErrCodeCourseNotFound,
		Message:  fmt.Sprintf("指定されたコースが見つかりません: %s", courseID),
		Category: "catalog",
		Action:   "コースIDを確認してください。",
	}
}

// NewCourseNotPublishedError は公開されていないコースへの受講登録エラーを生成する。
func NewCourseNotPublishedError(courseID string) *APIError {
	return &APIError{
		Code:     ErrCodeCourseNotPublished,
		Message:  fmt.Sprintf("このコースは現在受講登録を受け付けていません: %s", courseID),
		Category: "enrollment",
		Action:   "公開中のコースを選択してください。",
	}
}

// NewAlreadyEnrolledError は同一コースへの重複受講登録エラーを生成する。
func NewAlreadyEnrolledError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyEnrolled,
		Message:  "このコースには既に受講登録済みです。",
		Category: "enrollment",
		Action:   "受講中のコース一覧から該当コースを確認してください。",
	}
}

// NewEnrollmentNotFoundError は受講登録が見つからない、またはアクセス権がない場合のエラーを生成する。
// 他ユーザーの受講登録の存在を漏らさないため、両者を区別しない。
func NewEnrollmentNotFoundError(enrollmentID string) *APIError {
	return &APIError{
		Code:     ErrCodeEnrollmentNotFound,
		Message:  fmt.Sprintf("受講登録が見つからないか、アクセス権がありません: %s", enrollmentID),
		Category: "enrollment",
		Action:   "受講登録IDを確認してください。",
	}
}

// NewLessonNotFoundError はレッスン未検出エラーを生成する。
// 受講中のコースに属さないレッスンも同じエラーとして扱う。
func NewLessonNotFoundError(lessonID string) *APIError {
	return &APIError{
		Code:     ErrCodeLessonNotFound,
		Message:  fmt.Sprintf("指定されたレッスンが見つかりません: %s", lessonID),
		Category: "progress",
		Action:   "受講中のコースに含まれるレッスンを指定してください。",
	}
}

// NewInvalidProgressStatusError は無効な進捗ステータスエラーを生成する。
func NewInvalidProgressStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProgressStatus,
		Message:  fmt.Sprintf("無効な進捗ステータスです: %s", status),
		Category: "validation",
		Action:   "ステータスには NotStarted、InProgress、Completed のいずれかを指定してください。",
	}
}

// NewInvalidTimeSpentError は無効な学習時間エラーを生成する。
func NewInvalidTimeSpentError(seconds int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTimeSpent,
		Message:  fmt.Sprintf("無効な学習時間です: %d", seconds),
		Category: "validation",
		Action:   "学習時間には0以上2147483647以下の秒数を指定してください。",
	}
}

// NewPaymentNotFoundError は支払い未検出エラーを生成する。
func NewPaymentNotFoundError(paymentID string) *APIError {
	return &APIError{
		Code:     ErrCodePaymentNotFound,
		Message:  fmt.Sprintf("指定された支払いが見つかりません: %s", paymentID),
		Category: "payment",
		Action:   "支払いIDを確認してください。",
	}
}

// NewInvalidPaymentStatusError は無効な支払いステータスエラーを生成する。
func NewInvalidPaymentStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPaymentStatus,
		Message:  fmt.Sprintf("無効な支払いステータスです: %s", status),
		Category: "validation",
		Action:   "ステータスには Pending、Completed、Failed、Refunded のいずれかを指定してください。",
	}
}

// NewInvalidPaymentMethodError は無効な支払い方法エラーを生成する。
func NewInvalidPaymentMethodError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPaymentMethod,
		Message:  fmt.Sprintf("無効な支払い方法です: %s", reason),
		Category: "validation",
		Action:   "支払い方法を指定してください（例: Bank, Card, Wallet）。",
	}
}

// NewInvoiceCollisionError は請求書番号の採番衝突エラーを生成する。
// 再試行で解消する一時的なエラー。
func NewInvoiceCollisionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvoiceCollision,
		Message:  "請求書番号の採番が競合しました。",
		Category: "payment",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  reason,
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を実行する権限がありません。",
		Category: "auth",
		Action:   "管理者に問い合わせてください。",
	}
}

// NewRateLimitExceededError はリクエスト頻度超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
