package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/manabiya/internal/database"
	"github.com/hitoshi/manabiya/internal/model"
)

// PostgresProgressRepo はPostgreSQLを使用したレッスン進捗リポジトリ。
type PostgresProgressRepo struct {
	db *sql.DB
}

// NewPostgresProgressRepo はPostgresProgressRepoを生成する。
func NewPostgresProgressRepo(db *sql.DB) *PostgresProgressRepo {
	return &PostgresProgressRepo{db: db}
}

const progressColumns = `id, enrollment_id, lesson_id, status, start_date, completion_date, last_access_date, time_spent, created_at, updated_at`

func scanProgress(row interface{ Scan(...any) error }) (*model.Progress, error) {
	p := &model.Progress{}
	var status string
	if err := row.Scan(&p.ID, &p.EnrollmentID, &p.LessonID, &status, &p.StartDate, &p.CompletionDate,
		&p.LastAccessDate, &p.TimeSpent, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = model.ProgressStatus(status)
	return p, nil
}

// FindByEnrollmentAndLesson は受講登録IDとレッスンIDで進捗を検索する。見つからない場合はnilを返す。
func (r *PostgresProgressRepo) FindByEnrollmentAndLesson(ctx context.Context, enrollmentID, lessonID string) (*model.Progress, error) {
	p, err := scanProgress(r.db.QueryRowContext(ctx,
		`SELECT `+progressColumns+` FROM progress WHERE enrollment_id = $1 AND lesson_id = $2`,
		enrollmentID, lessonID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("進捗の取得に失敗しました: %w", err)
	}
	return p, nil
}

// Create は進捗を作成する。(enrollment_id, lesson_id) が重複する場合はErrDuplicateを返す。
func (r *PostgresProgressRepo) Create(ctx context.Context, p *model.Progress) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO progress (`+progressColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.EnrollmentID, p.LessonID, string(p.Status), p.StartDate, p.CompletionDate,
		p.LastAccessDate, p.TimeSpent, p.CreatedAt, p.UpdatedAt,
	)
	if database.IsUniqueViolation(err, "") {
		return fmt.Errorf("進捗の作成に失敗しました: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("進捗の作成に失敗しました: %w", err)
	}
	return nil
}

// progressRankSQL は進捗状態を進行順の数値に変換するSQL式を返す。model.ProgressStatus.Rankと同じ順序。
func progressRankSQL(expr string) string {
	return `CASE ` + expr + ` WHEN 'Completed' THEN 2 WHEN 'InProgress' THEN 1 ELSE 0 END`
}

// Update は進捗の状態・日時・学習時間を更新する。
// 状態は現在より進んだ場合のみ書き込み、start_dateとcompletion_dateは一度設定されたら上書きしない。
// 同じ行への並行更新で古い読み取りに基づく書き込みが後着しても後退しない。
func (r *PostgresProgressRepo) Update(ctx context.Context, p *model.Progress) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE progress
		 SET status = CASE WHEN `+progressRankSQL("$2::text")+` > `+progressRankSQL("status")+`
		                   THEN $2::text ELSE status END,
		     start_date = COALESCE(start_date, $3),
		     completion_date = COALESCE(completion_date, $4),
		     last_access_date = $5,
		     time_spent = GREATEST(time_spent, $6),
		     updated_at = $7
		 WHERE id = $1`,
		p.ID, string(p.Status), p.StartDate, p.CompletionDate, p.LastAccessDate, p.TimeSpent, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("進捗の更新に失敗しました: %w", err)
	}
	return nil
}

// ListByEnrollment は受講登録の全進捗を返す。
func (r *PostgresProgressRepo) ListByEnrollment(ctx context.Context, enrollmentID string) ([]*model.Progress, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+progressColumns+` FROM progress WHERE enrollment_id = $1`,
		enrollmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("進捗一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var list []*model.Progress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("進捗行のスキャンに失敗しました: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("進捗一覧の読み取りに失敗しました: %w", err)
	}
	return list, nil
}

// CountCompletedPublished は受講登録で完了済みかつ公開中のレッスン数を返す。
func (r *PostgresProgressRepo) CountCompletedPublished(ctx context.Context, enrollmentID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM progress p
		 JOIN enrollments e ON e.id = p.enrollment_id
		 JOIN lessons l ON l.id = p.lesson_id AND l.course_id = e.course_id
		 WHERE p.enrollment_id = $1 AND p.status = 'Completed' AND l.status = 'Published'`,
		enrollmentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("完了レッスン数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// ListCourseProgressByUser はユーザーの全受講登録についてコース別の進捗集計を返す。
func (r *PostgresProgressRepo) ListCourseProgressByUser(ctx context.Context, userID string) ([]model.CourseProgressRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.id, e.course_id, c.title, e.status,
		        (SELECT COUNT(*) FROM lessons l
		          WHERE l.course_id = e.course_id AND l.status = 'Published'),
		        (SELECT COUNT(*) FROM progress p
		          JOIN lessons l ON l.id = p.lesson_id AND l.course_id = e.course_id
		          WHERE p.enrollment_id = e.id AND p.status = 'Completed' AND l.status = 'Published'),
		        (SELECT MAX(p.last_access_date) FROM progress p WHERE p.enrollment_id = e.id)
		 FROM enrollments e
		 JOIN courses c ON c.id = e.course_id
		 WHERE e.user_id = $1
		 ORDER BY e.created_at DESC, e.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("コース別進捗の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []model.CourseProgressRow
	for rows.Next() {
		var row model.CourseProgressRow
		var status string
		if err := rows.Scan(&row.EnrollmentID, &row.CourseID, &row.CourseTitle, &status,
			&row.TotalLessons, &row.CompletedLessons, &row.LastAccessed); err != nil {
			return nil, fmt.Errorf("コース別進捗行のスキャンに失敗しました: %w", err)
		}
		row.Status = model.EnrollmentStatus(status)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("コース別進捗の読み取りに失敗しました: %w", err)
	}
	return result, nil
}

// compile-time interface check
var _ ProgressRepository = (*PostgresProgressRepo)(nil)
