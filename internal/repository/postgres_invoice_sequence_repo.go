package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresInvoiceSequenceRepo はinvoice_sequencesテーブルによる日別連番の払い出しを行う。
// 初回払い出し時は既存の支払いの最大連番から開始するため、カウンタ導入前のデータとも衝突しない。
type PostgresInvoiceSequenceRepo struct {
	db     *sql.DB
	prefix string
}

// NewPostgresInvoiceSequenceRepo はPostgresInvoiceSequenceRepoを生成する。
// prefixは請求書番号の先頭部分（例: "HD"）。
func NewPostgresInvoiceSequenceRepo(db *sql.DB, prefix string) *PostgresInvoiceSequenceRepo {
	return &PostgresInvoiceSequenceRepo{db: db, prefix: prefix}
}

// Next は指定日の次の連番を返す。UPSERTの行ロックにより同一日の呼び出しは直列化される。
func (r *PostgresInvoiceSequenceRepo) Next(ctx context.Context, dayKey string) (int, error) {
	codePrefix := r.prefix + "-" + dayKey + "-"

	var next int
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO invoice_sequences (day_key, last_value, updated_at)
		 VALUES ($1, (
		     SELECT COALESCE(MAX(CAST(SUBSTRING(invoice_code FROM char_length($2::text) + 1) AS INTEGER)), 0) + 1
		     FROM payments WHERE invoice_code LIKE $2::text || '%'
		 ), now())
		 ON CONFLICT (day_key) DO UPDATE
		 SET last_value = invoice_sequences.last_value + 1, updated_at = now()
		 RETURNING last_value`,
		dayKey, codePrefix,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("請求書連番の払い出しに失敗しました: %w", err)
	}
	return next, nil
}

// compile-time interface check
var _ InvoiceSequenceRepository = (*PostgresInvoiceSequenceRepo)(nil)
