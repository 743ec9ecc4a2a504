package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/manabiya/internal/database"
	"github.com/hitoshi/manabiya/internal/model"
)

// PostgresPaymentRepo はPostgreSQLを使用した支払いリポジトリ。
type PostgresPaymentRepo struct {
	db *sql.DB
}

// NewPostgresPaymentRepo はPostgresPaymentRepoを生成する。
func NewPostgresPaymentRepo(db *sql.DB) *PostgresPaymentRepo {
	return &PostgresPaymentRepo{db: db}
}

const paymentColumns = `id, invoice_code, enrollment_id, user_id, amount, payment_method, status, transaction_id, billing_info, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*model.Payment, error) {
	p := &model.Payment{}
	var status string
	var transactionID sql.NullString
	var billing []byte
	if err := row.Scan(&p.ID, &p.InvoiceCode, &p.EnrollmentID, &p.UserID, &p.Amount, &p.PaymentMethod,
		&status, &transactionID, &billing, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	if transactionID.Valid {
		p.TransactionID = &transactionID.String
	}
	if len(billing) > 0 {
		info := &model.BillingInfo{}
		if err := json.Unmarshal(billing, info); err != nil {
			return nil, fmt.Errorf("billing_infoの解析に失敗しました: %w", err)
		}
		p.BillingInfo = info
	}
	return p, nil
}

// FindByID は指定IDの支払いを取得する。見つからない場合はnilを返す。
func (r *PostgresPaymentRepo) FindByID(ctx context.Context, id string) (*model.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("支払いの取得に失敗しました: %w", err)
	}
	return p, nil
}

// Create は支払いを作成する。invoice_codeが重複する場合はErrDuplicateを返す。
func (r *PostgresPaymentRepo) Create(ctx context.Context, p *model.Payment) error {
	var billing sql.NullString
	if p.BillingInfo != nil {
		b, err := json.Marshal(p.BillingInfo)
		if err != nil {
			return fmt.Errorf("billing_infoのエンコードに失敗しました: %w", err)
		}
		billing = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.InvoiceCode, p.EnrollmentID, p.UserID, p.Amount, p.PaymentMethod, string(p.Status),
		p.TransactionID, billing, p.CreatedAt, p.UpdatedAt,
	)
	if database.IsUniqueViolation(err, "payments_invoice_code_key") {
		return fmt.Errorf("支払いの作成に失敗しました: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("支払いの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus は支払いのステータスと取引IDを上書きする。対象が存在しない場合はnilを返す。
func (r *PostgresPaymentRepo) UpdateStatus(ctx context.Context, id string, status model.PaymentStatus, transactionID *string, updatedAt time.Time) (*model.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`UPDATE payments
		 SET status = $2, transaction_id = COALESCE($3, transaction_id), updated_at = $4
		 WHERE id = $1
		 RETURNING `+paymentColumns,
		id, string(status), transactionID, updatedAt,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("支払い状態の更新に失敗しました: %w", err)
	}
	return p, nil
}

// ListByUserID はユーザーの支払い一覧を作成日時の降順で返す。
func (r *PostgresPaymentRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE user_id = $1 ORDER BY created_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("支払い一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var list []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("支払い行のスキャンに失敗しました: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("支払い一覧の読み取りに失敗しました: %w", err)
	}
	return list, nil
}

// MaxInvoiceSequence は指定プレフィックスを持つ請求書番号の最大連番を返す。存在しない場合は0。
// prefixは連番の直前までを含む（例: "HD-15062024-"）。
func (r *PostgresPaymentRepo) MaxInvoiceSequence(ctx context.Context, prefix string) (int, error) {
	var max int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(CAST(SUBSTRING(invoice_code FROM char_length($1::text) + 1) AS INTEGER)), 0)
		 FROM payments
		 WHERE invoice_code LIKE $1::text || '%'`,
		prefix,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("請求書連番の最大値の取得に失敗しました: %w", err)
	}
	return max, nil
}

// compile-time interface check
var _ PaymentRepository = (*PostgresPaymentRepo)(nil)
