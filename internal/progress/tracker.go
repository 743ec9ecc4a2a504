package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/manabiya/internal/metrics"
	"github.com/hitoshi/manabiya/internal/model"
	"github.com/hitoshi/manabiya/internal/repository"
)

// accessDebounce は状態・学習時間に変化がない場合に最終アクセス日時を更新する最小間隔。
const accessDebounce = 60 * time.Second

// maxTimeSpent は学習時間（秒）の上限。progress.time_spentのINTEGER列に収まる最大値。
const maxTimeSpent = math.MaxInt32

// Tracker はレッスン進捗のサービス層。
type Tracker struct {
	catalog  repository.CatalogRepository
	progress repository.ProgressRepository
	verifier OwnerVerifier
	checker  CompletionChecker
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	tracer   trace.Tracer
	now      func() time.Time
}

// NewTracker はTrackerの新しいインスタンスを生成する。
func NewTracker(
	catalog repository.CatalogRepository,
	progress repository.ProgressRepository,
	verifier OwnerVerifier,
	checker CompletionChecker,
	logger *slog.Logger,
	mc metrics.MetricsCollector,
	opts ...Option,
) *Tracker {
	if mc == nil {
		mc = metrics.Nop{}
	}
	o := buildOptions(opts)
	return &Tracker{
		catalog:  catalog,
		progress: progress,
		verifier: verifier,
		checker:  checker,
		logger:   logger,
		metrics:  mc,
		tracer:   otel.Tracer("manabiya/progress"),
		now:      o.now,
	}
}

// FindOrCreate は受講登録・レッスンの進捗を取得し、存在しなければNotStartedで作成する。
// 並行する作成が一意制約に衝突した場合は、先に作成された行を読み直して返す。
func (t *Tracker) FindOrCreate(ctx context.Context, enrollmentID, lessonID string) (*model.Progress, error) {
	p, err := t.progress.FindByEnrollmentAndLesson(ctx, enrollmentID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("進捗の取得に失敗しました: %w", err)
	}
	if p != nil {
		return p, nil
	}

	now := t.now()
	p = &model.Progress{
		ID:           uuid.New().String(),
		EnrollmentID: enrollmentID,
		LessonID:     lessonID,
		Status:       model.ProgressStatusNotStarted,
		TimeSpent:    0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := t.progress.Create(ctx, p); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("進捗の作成に失敗しました: %w", err)
		}
		existing, err := t.progress.FindByEnrollmentAndLesson(ctx, enrollmentID, lessonID)
		if err != nil {
			return nil, fmt.Errorf("進捗の再取得に失敗しました: %w", err)
		}
		if existing == nil {
			return nil, fmt.Errorf("一意制約違反後に進捗が見つかりません: enrollment=%s lesson=%s", enrollmentID, lessonID)
		}
		return existing, nil
	}

	return p, nil
}

// UpdateLessonProgress はレッスンの進捗を更新し、永続化後の状態を返す。
// 状態は後退せず、開始日時・完了日時は初回の遷移時にのみ設定される。
// 結果がCompletedの場合はコース修了判定を行うが、その失敗は呼び出し元に返さない。
func (t *Tracker) UpdateLessonProgress(ctx context.Context, enrollmentID, lessonID, userID string, update model.ProgressUpdate) (*model.Progress, error) {
	return t.update(ctx, enrollmentID, lessonID, userID, update, false)
}

// StartLesson はレッスンをInProgressにする。状態が変わらない場合も最終アクセス日時を更新する。
func (t *Tracker) StartLesson(ctx context.Context, enrollmentID, lessonID, userID string) (*model.Progress, error) {
	status := string(model.ProgressStatusInProgress)
	return t.update(ctx, enrollmentID, lessonID, userID, model.ProgressUpdate{Status: &status}, true)
}

// CompleteLesson はレッスンをCompletedにする。
func (t *Tracker) CompleteLesson(ctx context.Context, enrollmentID, lessonID, userID string) (*model.Progress, error) {
	status := string(model.ProgressStatusCompleted)
	return t.update(ctx, enrollmentID, lessonID, userID, model.ProgressUpdate{Status: &status}, false)
}

func (t *Tracker) update(ctx context.Context, enrollmentID, lessonID, userID string, update model.ProgressUpdate, alwaysTouch bool) (*model.Progress, error) {
	ctx, span := t.tracer.Start(ctx, "progress.update",
		trace.WithAttributes(
			attribute.String("enrollment.id", enrollmentID),
			attribute.String("lesson.id", lessonID),
		),
	)
	defer span.End()

	var status *model.ProgressStatus
	if update.Status != nil {
		s, ok := model.ParseProgressStatus(*update.Status)
		if !ok {
			return nil, model.NewInvalidProgressStatusError(*update.Status)
		}
		status = &s
	}
	if update.TimeSpent != nil && (*update.TimeSpent < 0 || *update.TimeSpent > maxTimeSpent) {
		return nil, model.NewInvalidTimeSpentError(*update.TimeSpent)
	}

	enrollment, err := t.verifier.VerifyOwner(ctx, enrollmentID, userID, true)
	if err != nil {
		return nil, err
	}

	lesson, err := t.catalog.FindLessonByID(ctx, lessonID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("レッスンの取得に失敗しました: %w", err)
	}
	if lesson == nil || lesson.CourseID != enrollment.CourseID {
		return nil, model.NewLessonNotFoundError(lessonID)
	}

	current, err := t.FindOrCreate(ctx, enrollmentID, lessonID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := t.now()
	next, changed := applyUpdate(current, status, update.TimeSpent, now)
	if changed && next.Status != current.Status {
		t.metrics.RecordLessonTransition(string(next.Status))
		span.SetAttributes(attribute.String("progress.status", string(next.Status)))
	}

	if changed || alwaysTouch || accessExpired(current.LastAccessDate, now) {
		next.LastAccessDate = &now
		next.UpdatedAt = now
		if err := t.progress.Update(ctx, next); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("進捗の保存に失敗しました: %w", err)
		}
	}

	if next.Status == model.ProgressStatusCompleted {
		t.checkCompletion(ctx, enrollmentID)
	}

	// 並行更新の結果も含めて永続化済みの状態を返す
	stored, err := t.progress.FindByEnrollmentAndLesson(ctx, enrollmentID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("進捗の再取得に失敗しました: %w", err)
	}
	if stored == nil {
		return nil, fmt.Errorf("更新後の進捗が見つかりません: enrollment=%s lesson=%s", enrollmentID, lessonID)
	}
	return stored, nil
}

// checkCompletion はコース修了判定を行う。失敗はログとメトリクスに記録する。
func (t *Tracker) checkCompletion(ctx context.Context, enrollmentID string) {
	if err := t.checker.CheckCourseCompletion(ctx, enrollmentID); err != nil {
		t.metrics.RecordCompletionCheckFailure()
		t.logger.WarnContext(ctx, "コース修了判定に失敗しました",
			slog.String("enrollment_id", enrollmentID),
			slog.String("error", err.Error()),
		)
	}
}

// applyUpdate は現在の進捗に更新を適用したコピーと、状態または学習時間が変化したかを返す。
func applyUpdate(current *model.Progress, status *model.ProgressStatus, timeSpent *int, now time.Time) (*model.Progress, bool) {
	next := *current
	changed := false

	// 後退する遷移は無視する
	if status != nil && *status != current.Status && status.Rank() > current.Status.Rank() {
		next.Status = *status
		changed = true

		switch *status {
		case model.ProgressStatusInProgress:
			if next.StartDate == nil {
				next.StartDate = &now
			}
		case model.ProgressStatusCompleted:
			if next.CompletionDate == nil {
				next.CompletionDate = &now
			}
			if next.StartDate == nil {
				next.StartDate = next.CompletionDate
			}
		}
	}

	// 学習時間は単調非減少
	if timeSpent != nil && *timeSpent > current.TimeSpent {
		next.TimeSpent = *timeSpent
		changed = true
	}

	return &next, changed
}

func accessExpired(last *time.Time, now time.Time) bool {
	return last == nil || now.Sub(*last) > accessDebounce
}
