package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/manabiya/internal/model"
	"github.com/hitoshi/manabiya/internal/progress"
)

// ProgressTrackerInterface はレッスン進捗の更新に必要なサービスインターフェース。
type ProgressTrackerInterface interface {
	UpdateLessonProgress(ctx context.Context, enrollmentID, lessonID, userID string, update model.ProgressUpdate) (*model.Progress, error)
	StartLesson(ctx context.Context, enrollmentID, lessonID, userID string) (*model.Progress, error)
	CompleteLesson(ctx context.Context, enrollmentID, lessonID, userID string) (*model.Progress, error)
}

// ProgressReaderInterface は進捗集計の参照に必要なサービスインターフェース。
type ProgressReaderInterface interface {
	GetEnrollmentProgress(ctx context.Context, enrollmentID, userID string) (*progress.EnrollmentProgressDetail, error)
	GetUserCoursesProgress(ctx context.Context, userID string) ([]progress.UserCourseProgressSummary, error)
}

// ProgressHandler はレッスン進捗のHTTPハンドラー。
type ProgressHandler struct {
	tracker ProgressTrackerInterface
	reader  ProgressReaderInterface
}

// NewProgressHandler はProgressHandlerを生成する。
func NewProgressHandler(tracker ProgressTrackerInterface, reader ProgressReaderInterface) *ProgressHandler {
	return &ProgressHandler{tracker: tracker, reader: reader}
}

// UpdateLessonProgress はレッスン進捗を部分更新する。
// PUT /api/enrollments/:id/lessons/:lessonId/progress
func (h *ProgressHandler) UpdateLessonProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req progressUpdateRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	p, err := h.tracker.UpdateLessonProgress(r.Context(),
		chi.URLParam(r, "id"), chi.URLParam(r, "lessonId"), userID,
		model.ProgressUpdate{Status: req.Status, TimeSpent: req.TimeSpent},
	)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgressResponse(p))
}

// StartLesson はレッスンを学習中にする。
// POST /api/enrollments/:id/lessons/:lessonId/start
func (h *ProgressHandler) StartLesson(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.tracker.StartLesson)
}

// CompleteLesson はレッスンを完了にする。
// POST /api/enrollments/:id/lessons/:lessonId/complete
func (h *ProgressHandler) CompleteLesson(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.tracker.CompleteLesson)
}

func (h *ProgressHandler) transition(
	w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, enrollmentID, lessonID, userID string) (*model.Progress, error),
) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	p, err := fn(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lessonId"), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgressResponse(p))
}

// GetEnrollmentProgress は受講登録のレッスン別進捗と完了率を返す。
// GET /api/enrollments/:id/progress
func (h *ProgressHandler) GetEnrollmentProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	detail, err := h.reader.GetEnrollmentProgress(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentProgressResponse(detail))
}

// GetUserCoursesProgress はユーザーのコース別進捗要約を返す。
// GET /api/progress/courses
func (h *ProgressHandler) GetUserCoursesProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	summaries, err := h.reader.GetUserCoursesProgress(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]courseProgressSummaryResponse, len(summaries))
	for i, s := range summaries {
		resp[i] = toCourseProgressSummaryResponse(s)
	}
	writeJSON(w, http.StatusOK, resp)
}
