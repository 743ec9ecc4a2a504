// Package catalog はコース・レッスン・カテゴリの参照ロジックを提供する。
package catalog

import (
	"context"
	"fmt"

	"github.com/hitoshi/manabiya/internal/model"
	"github.com/hitoshi/manabiya/internal/repository"
)

// Service はカタログ参照のサービス層。
// 利用者に見せるのは公開中のコースと公開レッスンのみ。
type Service struct {
	repo repository.CatalogRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.CatalogRepository) *Service {
	return &Service{repo: repo}
}

// ListCourses は公開中のコース一覧を返す。categoryIDが空の場合は全カテゴリ。
func (s *Service) ListCourses(ctx context.Context, categoryID string) ([]*model.Course, error) {
	courses, err := s.repo.ListPublishedCourses(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("コース一覧の取得に失敗しました: %w", err)
	}
	return courses, nil
}

// GetCourse は公開中のコースを取得する。
// 存在しない、または公開されていない場合はCOURSE_NOT_FOUNDを返す。
func (s *Service) GetCourse(ctx context.Context, courseID string) (*model.Course, error) {
	course, err := s.repo.FindCourseByID(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("コースの取得に失敗しました: %w", err)
	}
	if course == nil || !course.IsEnrollable() {
		return nil, model.NewCourseNotFoundError(courseID)
	}
	return course, nil
}

// ListLessons は公開中のコースの公開レッスンをorder_number順に返す。
func (s *Service) ListLessons(ctx context.Context, courseID string) ([]*model.Lesson, error) {
	if _, err := s.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	lessons, err := s.repo.ListLessonsByCourse(ctx, courseID, true)
	if err != nil {
		return nil, fmt.Errorf("レッスン一覧の取得に失敗しました: %w", err)
	}
	return lessons, nil
}

// ListCategories はカテゴリ一覧を返す。
func (s *Service) ListCategories(ctx context.Context) ([]*model.Category, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗しました: %w", err)
	}
	return categories, nil
}
