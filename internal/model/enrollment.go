package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EnrollmentStatus は受講登録の状態を表す。
type EnrollmentStatus string

const (
	// EnrollmentStatusPending は登録直後の状態。
	EnrollmentStatusPending EnrollmentStatus = "Pending"
	// EnrollmentStatusActive は支払い完了後の受講中状態。
	EnrollmentStatusActive EnrollmentStatus = "Active"
	// EnrollmentStatusCompleted は全レッスン完了後の状態。終端状態。
	EnrollmentStatusCompleted EnrollmentStatus = "Completed"
	// EnrollmentStatusCancelled はキャンセル済みの状態。終端状態。
	EnrollmentStatusCancelled EnrollmentStatus = "Cancelled"
)

// AllowsProgress は進捗の記録を受け付ける状態かを返す。
// 終端状態（Completed, Cancelled）では進捗を変更できない。
func (s EnrollmentStatus) AllowsProgress() bool {
	return s == EnrollmentStatusPending || s == EnrollmentStatusActive
}

// PaymentStatus は支払い状態を表す。受講登録と支払いの両方で使用する。
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "Pending"
	PaymentStatusCompleted PaymentStatus = "Completed"
	PaymentStatusFailed    PaymentStatus = "Failed"
	PaymentStatusRefunded  PaymentStatus = "Refunded"
)

// ParsePaymentStatus は文字列を支払い状態に変換する。未知の値の場合はfalseを返す。
func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	switch PaymentStatus(s) {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return PaymentStatus(s), true
	default:
		return "", false
	}
}

// Enrollment はユーザーのコース受講登録を表す。
// (UserID, CourseID) の組は一意。Priceは登録時点のスナップショットで以後変更しない。
type Enrollment struct {
	ID             string
	UserID         string
	CourseID       string
	Price          decimal.Decimal
	ExpiryDate     time.Time
	PaymentStatus  PaymentStatus
	Status         EnrollmentStatus
	CompletionDate *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EnrollmentWithCourse は受講登録とコース情報を結合したモデル。
type EnrollmentWithCourse struct {
	Enrollment
	Course Course
}
