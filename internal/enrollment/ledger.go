// Package enrollment は受講登録の作成と参照を担う。
// 1ユーザー・1コースにつき受講登録は最大1件で、価格は登録時点の値を保持する。
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/manabiya/internal/metrics"
	"github.com/hitoshi/manabiya/internal/model"
	"github.com/hitoshi/manabiya/internal/notify"
	"github.com/hitoshi/manabiya/internal/repository"
)

// Ledger は受講登録のサービス層。
type Ledger struct {
	catalog     repository.CatalogRepository
	users       repository.UserRepository
	enrollments repository.EnrollmentRepository
	notifier    notify.Notifier
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
	tracer      trace.Tracer
	now         func() time.Time
}

// Option はLedgerの生成オプション。
type Option func(*Ledger)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger はLedgerの新しいインスタンスを生成する。
func NewLedger(
	catalog repository.CatalogRepository,
	users repository.UserRepository,
	enrollments repository.EnrollmentRepository,
	notifier notify.Notifier,
	logger *slog.Logger,
	mc metrics.MetricsCollector,
	opts ...Option,
) *Ledger {
	if mc == nil {
		mc = metrics.Nop{}
	}
	l := &Ledger{
		catalog:     catalog,
		users:       users,
		enrollments: enrollments,
		notifier:    notifier,
		logger:      logger,
		metrics:     mc,
		tracer:      otel.Tracer("manabiya/enrollment"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enroll はユーザーをコースに受講登録する。
// コースが公開中であること、同一コースに未登録であることを検証し、
// Pending状態の受講登録を作成した後、登録完了通知を非同期に送出する。
func (l *Ledger) Enroll(ctx context.Context, courseID, userID, paymentMethod string) (*model.EnrollmentWithCourse, error) {
	ctx, span := l.tracer.Start(ctx, "enrollment.enroll",
		trace.WithAttributes(
			attribute.String("course.id", courseID),
			attribute.String("user.id", userID),
			attribute.String("payment.method", paymentMethod),
		),
	)
	defer span.End()

	course, err := l.catalog.FindCourseByID(ctx, courseID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("コースの取得に失敗しました: %w", err)
	}
	if course == nil {
		l.metrics.RecordEnrollment(metrics.EnrollmentRejected)
		return nil, model.NewCourseNotFoundError(courseID)
	}
	if !course.IsEnrollable() {
		l.metrics.RecordEnrollment(metrics.EnrollmentRejected)
		return nil, model.NewCourseNotPublishedError(courseID)
	}

	existing, err := l.enrollments.FindByUserAndCourse(ctx, userID, courseID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("既存の受講登録の確認に失敗しました: %w", err)
	}
	if existing != nil {
		l.metrics.RecordEnrollment(metrics.EnrollmentConflict)
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return nil, model.NewAlreadyEnrolledError()
	}

	now := l.now()
	e := &model.Enrollment{
		ID:            uuid.New().String(),
		UserID:        userID,
		CourseID:      courseID,
		Price:         course.EffectivePrice(),
		ExpiryDate:    now.AddDate(1, 0, 0),
		PaymentStatus: model.PaymentStatusPending,
		Status:        model.EnrollmentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := l.enrollments.Create(ctx, e); err != nil {
		// 事前確認の後に並行リクエストが先に登録した場合
		if errors.Is(err, repository.ErrDuplicate) {
			l.metrics.RecordEnrollment(metrics.EnrollmentConflict)
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return nil, model.NewAlreadyEnrolledError()
		}
		span.RecordError(err)
		return nil, fmt.Errorf("受講登録の作成に失敗しました: %w", err)
	}

	l.metrics.RecordEnrollment(metrics.EnrollmentCreated)
	span.SetAttributes(attribute.String("enrollment.id", e.ID))
	l.logger.InfoContext(ctx, "受講登録を作成しました",
		slog.String("enrollment_id", e.ID),
		slog.String("course_id", courseID),
		slog.String("user_id", userID),
		slog.String("price", e.Price.StringFixed(2)),
	)

	l.sendConfirmation(ctx, e, course)

	return &model.EnrollmentWithCourse{Enrollment: *e, Course: *course}, nil
}

// sendConfirmation は登録完了通知を送出する。失敗は記録のみ行う。
func (l *Ledger) sendConfirmation(ctx context.Context, e *model.Enrollment, course *model.Course) {
	user, err := l.users.FindByID(ctx, e.UserID)
	if err != nil {
		l.logger.WarnContext(ctx, "通知用のユーザー取得に失敗しました",
			slog.String("user_id", e.UserID), slog.String("error", err.Error()))
		user = nil
	}
	if err := l.notifier.SendEnrollmentConfirmation(ctx, e, course, user); err != nil {
		l.metrics.RecordNotificationFailure(string(notify.KindEnrollmentConfirmed))
		l.logger.WarnContext(ctx, "受講登録完了通知の送信に失敗しました",
			slog.String("enrollment_id", e.ID), slog.String("error", err.Error()))
	}
}

// VerifyOwner は受講登録の所有者を検証して返す。
// requireActiveがtrueの場合、進捗を記録できる状態（Pending/Active）であることも要求する。
// 不存在・所有者不一致・状態不一致はすべてENROLLMENT_NOT_FOUNDとして区別せずに返す。
func (l *Ledger) VerifyOwner(ctx context.Context, enrollmentID, userID string, requireActive bool) (*model.Enrollment, error) {
	e, err := l.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("受講登録の取得に失敗しました: %w", err)
	}
	if e == nil || e.UserID != userID {
		return nil, model.NewEnrollmentNotFoundError(enrollmentID)
	}
	if requireActive && !e.Status.AllowsProgress() {
		return nil, model.NewEnrollmentNotFoundError(enrollmentID)
	}
	return e, nil
}

// GetEnrollment は所有者本人の受講登録をコース情報付きで返す。
func (l *Ledger) GetEnrollment(ctx context.Context, enrollmentID, userID string) (*model.EnrollmentWithCourse, error) {
	e, err := l.VerifyOwner(ctx, enrollmentID, userID, false)
	if err != nil {
		return nil, err
	}

	course, err := l.catalog.FindCourseByID(ctx, e.CourseID)
	if err != nil {
		return nil, fmt.Errorf("コースの取得に失敗しました: %w", err)
	}
	if course == nil {
		// コースは削除制約で保護されているため通常は到達しない
		return nil, fmt.Errorf("受講登録に対応するコースが存在しません: enrollment=%s course=%s", e.ID, e.CourseID)
	}

	return &model.EnrollmentWithCourse{Enrollment: *e, Course: *course}, nil
}

// ListEnrollments はユーザーの受講登録一覧を新しい順に返す。
func (l *Ledger) ListEnrollments(ctx context.Context, userID string) ([]model.EnrollmentWithCourse, error) {
	list, err := l.enrollments.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("受講登録一覧の取得に失敗しました: %w", err)
	}
	return list, nil
}
