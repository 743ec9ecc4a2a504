package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/manabiya/internal/model"
)

// PostgresCatalogRepo はPostgreSQLを使用したカタログリポジトリ。
type PostgresCatalogRepo struct {
	db *sql.DB
}

// NewPostgresCatalogRepo はPostgresCatalogRepoを生成する。
func NewPostgresCatalogRepo(db *sql.DB) *PostgresCatalogRepo {
	return &PostgresCatalogRepo{db: db}
}

const courseColumns = `c.id, c.category_id, c.title, c.price, c.discount_price, c.status, c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM lessons l WHERE l.course_id = c.id AND l.status = 'Published')`

// scanCourse は1行をCourseに変換する。
func scanCourse(row interface{ Scan(...any) error }) (*model.Course, error) {
	c := &model.Course{}
	var categoryID sql.NullString
	var discount decimal.NullDecimal
	var status string
	if err := row.Scan(&c.ID, &categoryID, &c.Title, &c.Price, &discount, &status,
		&c.CreatedAt, &c.UpdatedAt, &c.LessonCount); err != nil {
		return nil, err
	}
	if categoryID.Valid {
		c.CategoryID = &categoryID.String
	}
	c.DiscountPrice = decimalPtr(discount)
	c.Status = model.CourseStatus(status)
	return c, nil
}

// decimalPtr はNULL許容の金額をポインタに変換する。
func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

// FindCourseByID は指定IDのコースを公開レッスン数付きで取得する。見つからない場合はnilを返す。
func (r *PostgresCatalogRepo) FindCourseByID(ctx context.Context, id string) (*model.Course, error) {
	c, err := scanCourse(r.db.QueryRowContext(ctx,
		`SELECT `+courseColumns+` FROM courses c WHERE c.id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コースの取得に失敗しました: %w", err)
	}
	return c, nil
}

// ListPublishedCourses は公開中のコース一覧をタイトル順で返す。
func (r *PostgresCatalogRepo) ListPublishedCourses(ctx context.Context, categoryID string) ([]*model.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses c WHERE c.status = 'Published'`
	args := []any{}
	if categoryID != "" {
		query += ` AND c.category_id = $1`
		args = append(args, categoryID)
	}
	query += ` ORDER BY c.title, c.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("コース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var courses []*model.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("コース行のスキャンに失敗しました: %w", err)
		}
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("コース一覧の読み取りに失敗しました: %w", err)
	}
	return courses, nil
}

// FindLessonByID は指定IDのレッスンを取得する。見つからない場合はnilを返す。
func (r *PostgresCatalogRepo) FindLessonByID(ctx context.Context, id string) (*model.Lesson, error) {
	l := &model.Lesson{}
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, course_id, title, order_number, duration, status, created_at, updated_at
		 FROM lessons WHERE id = $1`,
		id,
	).Scan(&l.ID, &l.CourseID, &l.Title, &l.OrderNumber, &l.Duration, &status, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("レッスンの取得に失敗しました: %w", err)
	}
	l.Status = model.LessonStatus(status)
	return l, nil
}

// ListLessonsByCourse はコースのレッスンをorder_number昇順で返す。
func (r *PostgresCatalogRepo) ListLessonsByCourse(ctx context.Context, courseID string, onlyPublished bool) ([]*model.Lesson, error) {
	query := `SELECT id, course_id, title, order_number, duration, status, created_at, updated_at
		 FROM lessons WHERE course_id = $1`
	if onlyPublished {
		query += ` AND status = 'Published'`
	}
	query += ` ORDER BY order_number`

	rows, err := r.db.QueryContext(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("レッスン一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var lessons []*model.Lesson
	for rows.Next() {
		l := &model.Lesson{}
		var status string
		if err := rows.Scan(&l.ID, &l.CourseID, &l.Title, &l.OrderNumber, &l.Duration, &status, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("レッスン行のスキャンに失敗しました: %w", err)
		}
		l.Status = model.LessonStatus(status)
		lessons = append(lessons, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("レッスン一覧の読み取りに失敗しました: %w", err)
	}
	return lessons, nil
}

// CountPublishedLessons はコースの公開レッスン数を返す。
func (r *PostgresCatalogRepo) CountPublishedLessons(ctx context.Context, courseID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lessons WHERE course_id = $1 AND status = 'Published'`,
		courseID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("公開レッスン数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// ListCategories はカテゴリ一覧を名前順で返す。
func (r *PostgresCatalogRepo) ListCategories(ctx context.Context) ([]*model.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, slug, created_at FROM categories ORDER BY name, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var categories []*model.Category
	for rows.Next() {
		c := &model.Category{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("カテゴリ行のスキャンに失敗しました: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の読み取りに失敗しました: %w", err)
	}
	return categories, nil
}

// compile-time interface check
var _ CatalogRepository = (*PostgresCatalogRepo)(nil)
