// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/manabiya/internal/model"
)

// ErrDuplicate は一意制約に違反する挿入を表す。
// 呼び出し側はerrors.Isで判定し、競合として扱う。
var ErrDuplicate = errors.New("duplicate record")

// CatalogRepository はコース・レッスン・カテゴリの参照用インターフェース。
// カタログは外部で管理されるため、読み取り操作のみを提供する。
type CatalogRepository interface {
	// FindCourseByID は指定IDのコースを公開レッスン数付きで取得する。見つからない場合はnilを返す。
	FindCourseByID(ctx context.Context, id string) (*model.Course, error)

	// ListPublishedCourses は公開中のコース一覧を返す。categoryIDが空の場合は全カテゴリ。
	ListPublishedCourses(ctx context.Context, categoryID string) ([]*model.Course, error)

	// FindLessonByID は指定IDのレッスンを取得する。見つからない場合はnilを返す。
	FindLessonByID(ctx context.Context, id string) (*model.Lesson, error)

	// ListLessonsByCourse はコースのレッスンをorder_number昇順で返す。
	ListLessonsByCourse(ctx context.Context, courseID string, onlyPublished bool) ([]*model.Lesson, error)

	// CountPublishedLessons はコースの公開レッスン数を返す。
	CountPublishedLessons(ctx context.Context, courseID string) (int, error)

	// ListCategories はカテゴリ一覧を名前順で返す。
	ListCategories(ctx context.Context) ([]*model.Category, error)
}

// UserRepository はユーザーデータの参照用インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// EnrollmentRepository は受講登録データの永続化インターフェース。
type EnrollmentRepository interface {
	// FindByID は指定IDの受講登録を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Enrollment, error)

	// FindByUserAndCourse はユーザーIDとコースIDで受講登録を検索する。見つからない場合はnilを返す。
	FindByUserAndCourse(ctx context.Context, userID, courseID string) (*model.Enrollment, error)

	// Create は受講登録を作成する。(user_id, course_id) が重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, enrollment *model.Enrollment) error

	// ListByUserID はユーザーの受講登録をコース情報付きで作成日時の降順に返す。
	ListByUserID(ctx context.Context, userID string) ([]model.EnrollmentWithCourse, error)

	// MarkCompleted は受講中（Pending/Active）の受講登録をCompletedに遷移させる。
	// 既に終端状態の場合は何もせずfalseを返す。
	MarkCompleted(ctx context.Context, id string, completedAt time.Time) (bool, error)

	// UpdatePaymentStatus は受講登録のpayment_statusを上書きする。
	// activateがtrueの場合、Pending状態の受講登録をActiveに遷移させる。
	UpdatePaymentStatus(ctx context.Context, id string, status model.PaymentStatus, activate bool, updatedAt time.Time) error

	// ListOpenIDs は受講中（Pending/Active）の受講登録IDを更新日時の古い順に最大limit件返す。
	ListOpenIDs(ctx context.Context, limit int) ([]string, error)
}

// ProgressRepository はレッスン進捗データの永続化インターフェース。
type ProgressRepository interface {
	// FindByEnrollmentAndLesson は受講登録IDとレッスンIDで進捗を検索する。見つからない場合はnilを返す。
	FindByEnrollmentAndLesson(ctx context.Context, enrollmentID, lessonID string) (*model.Progress, error)

	// Create は進捗を作成する。(enrollment_id, lesson_id) が重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, progress *model.Progress) error

	// Update は進捗の状態・日時・学習時間を上書きする。
	Update(ctx context.Context, progress *model.Progress) error

	// ListByEnrollment は受講登録の全進捗を返す。
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]*model.Progress, error)

	// CountCompletedPublished は受講登録で完了済みかつ公開中のレッスン数を返す。
	// 分母（公開レッスン数）と同じ集合で数えるため、完了数が総数を超えることはない。
	CountCompletedPublished(ctx context.Context, enrollmentID string) (int, error)

	// ListCourseProgressByUser はユーザーの全受講登録についてコース別の進捗集計を返す。
	ListCourseProgressByUser(ctx context.Context, userID string) ([]model.CourseProgressRow, error)
}

// PaymentRepository は支払いデータの永続化インターフェース。
type PaymentRepository interface {
	// FindByID は指定IDの支払いを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Payment, error)

	// Create は支払いを作成する。invoice_codeが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, payment *model.Payment) error

	// UpdateStatus は支払いのステータスと取引IDを上書きする。
	// transactionIDがnilの場合は既存の値を維持する。対象が存在しない場合はnilを返す。
	UpdateStatus(ctx context.Context, id string, status model.PaymentStatus, transactionID *string, updatedAt time.Time) (*model.Payment, error)

	// ListByUserID はユーザーの支払い一覧を作成日時の降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Payment, error)

	// MaxInvoiceSequence は指定プレフィックスを持つ請求書番号の最大連番を返す。存在しない場合は0。
	MaxInvoiceSequence(ctx context.Context, prefix string) (int, error)
}

// InvoiceSequenceRepository は日別の請求書連番を払い出すインターフェース。
// 同一dayKeyに対する呼び出しは並行実行されても重複しない値を返す。
type InvoiceSequenceRepository interface {
	Next(ctx context.Context, dayKey string) (int, error)
}

// HealthChecker はデータストアの疎通確認用インターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}
