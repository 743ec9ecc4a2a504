package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/manabiya/internal/database"
	"github.com/hitoshi/manabiya/internal/model"
)

// PostgresEnrollmentRepo はPostgreSQLを使用した受講登録リポジトリ。
type PostgresEnrollmentRepo struct {
	db *sql.DB
}

// NewPostgresEnrollmentRepo はPostgresEnrollmentRepoを生成する。
func NewPostgresEnrollmentRepo(db *sql.DB) *PostgresEnrollmentRepo {
	return &PostgresEnrollmentRepo{db: db}
}

const enrollmentColumns = `id, user_id, course_id, price, expiry_date, payment_status, status, completion_date, created_at, updated_at`

func scanEnrollment(row interface{ Scan(...any) error }, e *model.Enrollment) error {
	var paymentStatus, status string
	if err := row.Scan(&e.ID, &e.UserID, &e.CourseID, &e.Price, &e.ExpiryDate, &paymentStatus, &status,
		&e.CompletionDate, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return err
	}
	e.PaymentStatus = model.PaymentStatus(paymentStatus)
	e.Status = model.EnrollmentStatus(status)
	return nil
}

// FindByID は指定IDの受講登録を取得する。見つからない場合はnilを返す。
func (r *PostgresEnrollmentRepo) FindByID(ctx context.Context, id string) (*model.Enrollment, error) {
	e := &model.Enrollment{}
	err := scanEnrollment(r.db.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`,
		id,
	), e)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("受講登録の取得に失敗しました: %w", err)
	}
	return e, nil
}

// FindByUserAndCourse はユーザーIDとコースIDで受講登録を検索する。見つからない場合はnilを返す。
func (r *PostgresEnrollmentRepo) FindByUserAndCourse(ctx context.Context, userID, courseID string) (*model.Enrollment, error) {
	e := &model.Enrollment{}
	err := scanEnrollment(r.db.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id = $1 AND course_id = $2`,
		userID, courseID,
	), e)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーとコースによる受講登録の検索に失敗しました: %w", err)
	}
	return e, nil
}

// Create は受講登録を作成する。(user_id, course_id) が重複する場合はErrDuplicateを返す。
func (r *PostgresEnrollmentRepo) Create(ctx context.Context, e *model.Enrollment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO enrollments (`+enrollmentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.UserID, e.CourseID, e.Price, e.ExpiryDate, string(e.PaymentStatus), string(e.Status),
		e.CompletionDate, e.CreatedAt, e.UpdatedAt,
	)
	if database.IsUniqueViolation(err, "") {
		return fmt.Errorf("受講登録の作成に失敗しました: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("受講登録の作成に失敗しました: %w", err)
	}
	return nil
}

// ListByUserID はユーザーの受講登録をコース情報付きで作成日時の降順に返す。
func (r *PostgresEnrollmentRepo) ListByUserID(ctx context.Context, userID string) ([]model.EnrollmentWithCourse, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.id, e.user_id, e.course_id, e.price, e.expiry_date, e.payment_status, e.status,
		        e.completion_date, e.created_at, e.updated_at,
		        `+courseColumns+`
		 FROM enrollments e
		 JOIN courses c ON c.id = e.course_id
		 WHERE e.user_id = $1
		 ORDER BY e.created_at DESC, e.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("受講登録一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []model.EnrollmentWithCourse
	for rows.Next() {
		var ewc model.EnrollmentWithCourse
		var paymentStatus, status, courseStatus string
		var categoryID sql.NullString
		var discount decimal.NullDecimal
		err := rows.Scan(
			&ewc.ID, &ewc.UserID, &ewc.CourseID, &ewc.Price, &ewc.ExpiryDate, &paymentStatus, &status,
			&ewc.CompletionDate, &ewc.CreatedAt, &ewc.UpdatedAt,
			&ewc.Course.ID, &categoryID, &ewc.Course.Title, &ewc.Course.Price, &discount, &courseStatus,
			&ewc.Course.CreatedAt, &ewc.Course.UpdatedAt, &ewc.Course.LessonCount,
		)
		if err != nil {
			return nil, fmt.Errorf("受講登録行のスキャンに失敗しました: %w", err)
		}
		ewc.PaymentStatus = model.PaymentStatus(paymentStatus)
		ewc.Status = model.EnrollmentStatus(status)
		ewc.Course.Status = model.CourseStatus(courseStatus)
		if categoryID.Valid {
			ewc.Course.CategoryID = &categoryID.String
		}
		ewc.Course.DiscountPrice = decimalPtr(discount)
		result = append(result, ewc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("受講登録一覧の読み取りに失敗しました: %w", err)
	}
	return result, nil
}

// MarkCompleted は受講中（Pending/Active）の受講登録をCompletedに遷移させる。
// 条件付きUPDATEのため、並行して呼ばれても完了日時は一度だけ設定される。
func (r *PostgresEnrollmentRepo) MarkCompleted(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE enrollments
		 SET status = 'Completed', completion_date = $2, updated_at = $2
		 WHERE id = $1 AND status IN ('Pending', 'Active')`,
		id, completedAt,
	)
	if err != nil {
		return false, fmt.Errorf("受講登録の完了更新に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// UpdatePaymentStatus は受講登録のpayment_statusを上書きする。
func (r *PostgresEnrollmentRepo) UpdatePaymentStatus(ctx context.Context, id string, status model.PaymentStatus, activate bool, updatedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE enrollments
		 SET payment_status = $2,
		     status = CASE WHEN $3 AND status = 'Pending' THEN 'Active' ELSE status END,
		     updated_at = $4
		 WHERE id = $1`,
		id, string(status), activate, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("受講登録の支払い状態更新に失敗しました: %w", err)
	}
	return nil
}

// ListOpenIDs は受講中（Pending/Active）の受講登録IDを更新日時の古い順に最大limit件返す。
func (r *PostgresEnrollmentRepo) ListOpenIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM enrollments
		 WHERE status IN ('Pending', 'Active')
		 ORDER BY updated_at, id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("受講中の受講登録の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("受講登録IDのスキャンに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("受講登録IDの読み取りに失敗しました: %w", err)
	}
	return ids, nil
}

// compile-time interface check
var _ EnrollmentRepository = (*PostgresEnrollmentRepo)(nil)
