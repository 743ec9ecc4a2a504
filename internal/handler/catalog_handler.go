package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/manabiya/internal/model"
)

// CatalogServiceInterface はカタログハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	ListCourses(ctx context.Context, categoryID string) ([]*model.Course, error)
	GetCourse(ctx context.Context, courseID string) (*model.Course, error)
	ListLessons(ctx context.Context, courseID string) ([]*model.Lesson, error)
	ListCategories(ctx context.Context) ([]*model.Category, error)
}

// CatalogHandler はコース・レッスン・カテゴリ参照のHTTPハンドラー。
type CatalogHandler struct {
	service CatalogServiceInterface
}

// NewCatalogHandler はCatalogHandlerを生成する。
func NewCatalogHandler(service CatalogServiceInterface) *CatalogHandler {
	return &CatalogHandler{service: service}
}

// ListCourses は公開中のコース一覧を返す。
// GET /api/courses?category_id=xxx
func (h *CatalogHandler) ListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.ListCourses(r.Context(), r.URL.Query().Get("category_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]courseResponse, len(courses))
	for i, c := range courses {
		resp[i] = toCourseResponse(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCourse はコース詳細を返す。
// GET /api/courses/:id
func (h *CatalogHandler) GetCourse(w http.ResponseWriter, r *http.Request) {
	course, err := h.service.GetCourse(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCourseResponse(course))
}

// ListLessons はコースの公開レッスン一覧を返す。
// GET /api/courses/:id/lessons
func (h *CatalogHandler) ListLessons(w http.ResponseWriter, r *http.Request) {
	lessons, err := h.service.ListLessons(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]lessonResponse, len(lessons))
	for i, l := range lessons {
		resp[i] = toLessonResponse(l)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListCategories はカテゴリ一覧を返す。
// GET /api/categories
func (h *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]categoryResponse, len(categories))
	for i, c := range categories {
		resp[i] = categoryResponse{ID: c.ID, Name: c.Name, Slug: c.Slug}
	}
	writeJSON(w, http.StatusOK, resp)
}
