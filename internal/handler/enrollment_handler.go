package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/manabiya/internal/model"
)

// EnrollmentServiceInterface は受講登録ハンドラーが必要とするサービスインターフェース。
type EnrollmentServiceInterface interface {
	// Enroll はコースへの受講登録を作成する。
	Enroll(ctx context.Context, courseID, userID, paymentMethod string) (*model.EnrollmentWithCourse, error)
	// GetEnrollment は本人の受講登録をコース情報付きで返す。
	GetEnrollment(ctx context.Context, enrollmentID, userID string) (*model.EnrollmentWithCourse, error)
	// ListEnrollments はユーザーの受講登録一覧を返す。
	ListEnrollments(ctx context.Context, userID string) ([]model.EnrollmentWithCourse, error)
}

// EnrollmentHandler は受講登録のHTTPハンドラー。
type EnrollmentHandler struct {
	service EnrollmentServiceInterface
}

// NewEnrollmentHandler はEnrollmentHandlerを生成する。
func NewEnrollmentHandler(service EnrollmentServiceInterface) *EnrollmentHandler {
	return &EnrollmentHandler{service: service}
}

// Enroll はコースへの受講登録を処理する。ボディは省略可能。
// POST /api/courses/:id/enroll
func (h *EnrollmentHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req enrollRequest
	if !decodeJSONBody(w, r, &req, true) {
		return
	}

	enrollment, err := h.service.Enroll(r.Context(), chi.URLParam(r, "id"), userID, req.PaymentMethod)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEnrollmentResponse(enrollment))
}

// GetEnrollment は受講登録の詳細を返す。
// GET /api/enrollments/:id
func (h *EnrollmentHandler) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	enrollment, err := h.service.GetEnrollment(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentResponse(enrollment))
}

// ListEnrollments はユーザーの受講登録一覧を返す。
// GET /api/enrollments
func (h *EnrollmentHandler) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	enrollments, err := h.service.ListEnrollments(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]enrollmentResponse, len(enrollments))
	for i := range enrollments {
		resp[i] = toEnrollmentResponse(&enrollments[i])
	}
	writeJSON(w, http.StatusOK, resp)
}
