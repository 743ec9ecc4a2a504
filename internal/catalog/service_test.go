package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/manabiya/internal/model"
	"github.com/hitoshi/manabiya/internal/repository/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := memory.NewStore()
	catID := "cat-go"
	store.PutCategory(model.Category{ID: catID, Name: "Go", Slug: "go"})
	store.PutCourse(model.Course{ID: "c-pub", CategoryID: &catID, Title: "Go入門", Price: decimal.NewFromInt(100), Status: model.CourseStatusPublished})
	store.PutCourse(model.Course{ID: "c-draft", Title: "下書き", Price: decimal.NewFromInt(50), Status: model.CourseStatusDraft})
	store.PutLesson(model.Lesson{ID: "l2", CourseID: "c-pub", Title: "第2回", OrderNumber: 2, Status: model.LessonStatusPublished})
	store.PutLesson(model.Lesson{ID: "l1", CourseID: "c-pub", Title: "第1回", OrderNumber: 1, Status: model.LessonStatusPublished})
	store.PutLesson(model.Lesson{ID: "l3", CourseID: "c-pub", Title: "準備中", OrderNumber: 3, Status: model.LessonStatusDraft})
	return NewService(store.Catalog())
}

func TestListCourses_OnlyPublished(t *testing.T) {
	svc := newTestService(t)

	courses, err := svc.ListCourses(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(courses) != 1 || courses[0].ID != "c-pub" {
		t.Fatalf("expected only c-pub, got %+v", courses)
	}
	if courses[0].LessonCount != 2 {
		t.Errorf("LessonCount = %d, want 2", courses[0].LessonCount)
	}
}

func TestListCourses_CategoryFilter(t *testing.T) {
	svc := newTestService(t)

	courses, err := svc.ListCourses(context.Background(), "cat-other")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(courses) != 0 {
		t.Errorf("expected no courses, got %d", len(courses))
	}
}

func TestGetCourse_NotPublishedIsNotFound(t *testing.T) {
	svc := newTestService(t)

	for _, id := range []string{"c-draft", "missing"} {
		_, err := svc.GetCourse(context.Background(), id)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeCourseNotFound {
			t.Errorf("GetCourse(%q) error = %v, want COURSE_NOT_FOUND", id, err)
		}
	}
}

func TestListLessons_PublishedInOrder(t *testing.T) {
	svc := newTestService(t)

	lessons, err := svc.ListLessons(context.Background(), "c-pub")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lessons) != 2 {
		t.Fatalf("expected 2 lessons, got %d", len(lessons))
	}
	if lessons[0].ID != "l1" || lessons[1].ID != "l2" {
		t.Errorf("unexpected order: %s, %s", lessons[0].ID, lessons[1].ID)
	}
}

func TestListCategories(t *testing.T) {
	svc := newTestService(t)

	categories, err := svc.ListCategories(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(categories) != 1 || categories[0].Slug != "go" {
		t.Errorf("unexpected categories: %+v", categories)
	}
}
