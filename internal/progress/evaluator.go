package progress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/manabiya/internal/metrics"
	"github.com/hitoshi/manabiya/internal/model"
	"github.com/hitoshi/manabiya/internal/notify"
	"github.com/hitoshi/manabiya/internal/repository"
)

// LessonProgress はレッスン情報と進捗を結合した1行。
// 進捗が未作成のレッスンはNotStarted・学習時間0として扱う。
type LessonProgress struct {
	LessonID       string
	Title          string
	OrderNumber    int
	Duration       int
	Status         model.ProgressStatus
	StartDate      *time.Time
	CompletionDate *time.Time
	LastAccessDate *time.Time
	TimeSpent      int
}

// EnrollmentProgressDetail は受講登録の進捗詳細。
type EnrollmentProgressDetail struct {
	EnrollmentID         string
	CourseID             string
	CourseTitle          string
	Status               model.EnrollmentStatus
	CompletionDate       *time.Time
	TotalLessons         int
	CompletedLessons     int
	CompletionPercentage int
	Lessons              []LessonProgress
}

// UserCourseProgressSummary はユーザーのコース別進捗の要約。
type UserCourseProgressSummary struct {
	EnrollmentID         string
	CourseID             string
	CourseTitle          string
	Status               model.EnrollmentStatus
	TotalLessons         int
	CompletedLessons     int
	CompletionPercentage int
	LastAccessed         *time.Time
}

// Evaluator はコース修了の判定と進捗集計を行う。
type Evaluator struct {
	catalog     repository.CatalogRepository
	users       repository.UserRepository
	enrollments repository.EnrollmentRepository
	progress    repository.ProgressRepository
	verifier    OwnerVerifier
	notifier    notify.Notifier
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
	tracer      trace.Tracer
	now         func() time.Time
}

// NewEvaluator はEvaluatorの新しいインスタンスを生成する。
func NewEvaluator(
	catalog repository.CatalogRepository,
	users repository.UserRepository,
	enrollments repository.EnrollmentRepository,
	progress repository.ProgressRepository,
	verifier OwnerVerifier,
	notifier notify.Notifier,
	logger *slog.Logger,
	mc metrics.MetricsCollector,
	opts ...Option,
) *Evaluator {
	if mc == nil {
		mc = metrics.Nop{}
	}
	o := buildOptions(opts)
	return &Evaluator{
		catalog:     catalog,
		users:       users,
		enrollments: enrollments,
		progress:    progress,
		verifier:    verifier,
		notifier:    notifier,
		logger:      logger,
		metrics:     mc,
		tracer:      otel.Tracer("manabiya/progress"),
		now:         o.now,
	}
}

// CheckCourseCompletion は公開レッスンがすべて完了していれば受講登録をCompletedにする。
// 既にCompletedの場合は何もしない。何度呼び出しても結果は変わらない。
func (ev *Evaluator) CheckCourseCompletion(ctx context.Context, enrollmentID string) error {
	_, err := ev.evaluate(ctx, enrollmentID)
	return err
}

// evaluate は修了判定を行い、この呼び出しでCompletedに遷移したかを返す。
func (ev *Evaluator) evaluate(ctx context.Context, enrollmentID string) (bool, error) {
	ctx, span := ev.tracer.Start(ctx, "progress.check_completion",
		trace.WithAttributes(attribute.String("enrollment.id", enrollmentID)),
	)
	defer span.End()

	e, err := ev.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("受講登録の取得に失敗しました: %w", err)
	}
	if e == nil || !e.Status.AllowsProgress() {
		return false, nil
	}

	total, err := ev.catalog.CountPublishedLessons(ctx, e.CourseID)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("公開レッスン数の取得に失敗しました: %w", err)
	}
	completed, err := ev.progress.CountCompletedPublished(ctx, enrollmentID)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("完了レッスン数の取得に失敗しました: %w", err)
	}
	span.SetAttributes(
		attribute.Int("lessons.total", total),
		attribute.Int("lessons.completed", completed),
	)

	if total == 0 || completed < total {
		return false, nil
	}

	now := ev.now()
	marked, err := ev.enrollments.MarkCompleted(ctx, enrollmentID, now)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("受講登録の修了処理に失敗しました: %w", err)
	}
	if !marked {
		// 並行する判定が先に遷移させた
		return false, nil
	}

	ev.metrics.RecordCourseCompleted()
	ev.logger.InfoContext(ctx, "コースを修了しました",
		slog.String("enrollment_id", enrollmentID),
		slog.String("course_id", e.CourseID),
		slog.String("user_id", e.UserID),
	)

	e.Status = model.EnrollmentStatusCompleted
	e.CompletionDate = &now
	e.UpdatedAt = now
	ev.sendCompleted(ctx, e)

	return true, nil
}

func (ev *Evaluator) sendCompleted(ctx context.Context, e *model.Enrollment) {
	course, err := ev.catalog.FindCourseByID(ctx, e.CourseID)
	if err != nil {
		ev.logger.WarnContext(ctx, "通知用のコース取得に失敗しました",
			slog.String("course_id", e.CourseID), slog.String("error", err.Error()))
		course = nil
	}
	user, err := ev.users.FindByID(ctx, e.UserID)
	if err != nil {
		ev.logger.WarnContext(ctx, "通知用のユーザー取得に失敗しました",
			slog.String("user_id", e.UserID), slog.String("error", err.Error()))
		user = nil
	}
	if err := ev.notifier.SendCourseCompleted(ctx, e, course, user); err != nil {
		ev.metrics.RecordNotificationFailure(string(notify.KindCourseCompleted))
		ev.logger.WarnContext(ctx, "コース修了通知の送信に失敗しました",
			slog.String("enrollment_id", e.ID), slog.String("error", err.Error()))
	}
}

// ReconcileCompletions は受講中の受講登録を最大limit件再判定し、Completedに遷移した件数を返す。
// 進捗更新時の判定が失敗した受講登録を後から修了させるために定期実行する。
// 個別の判定失敗は記録して次へ進む。
func (ev *Evaluator) ReconcileCompletions(ctx context.Context, limit int) (int, error) {
	ids, err := ev.enrollments.ListOpenIDs(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("受講中の受講登録の取得に失敗しました: %w", err)
	}

	completed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}
		marked, err := ev.evaluate(ctx, id)
		if err != nil {
			ev.metrics.RecordCompletionCheckFailure()
			ev.logger.WarnContext(ctx, "修了の再判定に失敗しました",
				slog.String("enrollment_id", id), slog.String("error", err.Error()))
			continue
		}
		if marked {
			completed++
		}
	}
	return completed, nil
}

// GetEnrollmentProgress は受講登録のレッスン別進捗と完了率を返す。
// 所有者本人であれば受講登録の状態に関わらず参照できる。
func (ev *Evaluator) GetEnrollmentProgress(ctx context.Context, enrollmentID, userID string) (*EnrollmentProgressDetail, error) {
	e, err := ev.verifier.VerifyOwner(ctx, enrollmentID, userID, false)
	if err != nil {
		return nil, err
	}

	course, err := ev.catalog.FindCourseByID(ctx, e.CourseID)
	if err != nil {
		return nil, fmt.Errorf("コースの取得に失敗しました: %w", err)
	}
	lessons, err := ev.catalog.ListLessonsByCourse(ctx, e.CourseID, true)
	if err != nil {
		return nil, fmt.Errorf("レッスン一覧の取得に失敗しました: %w", err)
	}
	records, err := ev.progress.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("進捗一覧の取得に失敗しました: %w", err)
	}

	byLesson := make(map[string]*model.Progress, len(records))
	for _, p := range records {
		byLesson[p.LessonID] = p
	}

	detail := &EnrollmentProgressDetail{
		EnrollmentID:   e.ID,
		CourseID:       e.CourseID,
		Status:         e.Status,
		CompletionDate: e.CompletionDate,
		TotalLessons:   len(lessons),
		Lessons:        make([]LessonProgress, 0, len(lessons)),
	}
	if course != nil {
		detail.CourseTitle = course.Title
	}

	for _, l := range lessons {
		row := LessonProgress{
			LessonID:    l.ID,
			Title:       l.Title,
			OrderNumber: l.OrderNumber,
			Duration:    l.Duration,
			Status:      model.ProgressStatusNotStarted,
		}
		if p, ok := byLesson[l.ID]; ok {
			row.Status = p.Status
			row.StartDate = p.StartDate
			row.CompletionDate = p.CompletionDate
			row.LastAccessDate = p.LastAccessDate
			row.TimeSpent = p.TimeSpent
		}
		if row.Status == model.ProgressStatusCompleted {
			detail.CompletedLessons++
		}
		detail.Lessons = append(detail.Lessons, row)
	}
	detail.CompletionPercentage = CompletionPercentage(detail.CompletedLessons, detail.TotalLessons)

	return detail, nil
}

// GetUserCoursesProgress はユーザーの受講中・修了済みコースの進捗要約を返す。
// キャンセルされた受講登録は含めない。
func (ev *Evaluator) GetUserCoursesProgress(ctx context.Context, userID string) ([]UserCourseProgressSummary, error) {
	rows, err := ev.progress.ListCourseProgressByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("コース別進捗の取得に失敗しました: %w", err)
	}

	summaries := make([]UserCourseProgressSummary, 0, len(rows))
	for _, row := range rows {
		if row.Status == model.EnrollmentStatusCancelled {
			continue
		}
		pct := CompletionPercentage(row.CompletedLessons, row.TotalLessons)
		// 採点対象のレッスンがない修了済みコースは100%とする
		if row.Status == model.EnrollmentStatusCompleted && row.TotalLessons == 0 {
			pct = 100
		}
		summaries = append(summaries, UserCourseProgressSummary{
			EnrollmentID:         row.EnrollmentID,
			CourseID:             row.CourseID,
			CourseTitle:          row.CourseTitle,
			Status:               row.Status,
			TotalLessons:         row.TotalLessons,
			CompletedLessons:     row.CompletedLessons,
			CompletionPercentage: pct,
			LastAccessed:         row.LastAccessed,
		})
	}
	return summaries, nil
}

// compile-time interface check
var _ CompletionChecker = (*Evaluator)(nil)
