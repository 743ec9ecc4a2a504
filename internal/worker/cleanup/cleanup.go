// Package cleanup は請求書連番テーブルの保守ジョブを提供する。
// invoice_sequencesは日ごとに1行増えるため、保持期間を過ぎた日の行を日次で削除する。
// 削除済みの日に再度払い出しが発生しても、既存の支払いの最大連番から再開するため番号は重複しない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SequenceCleanupJob は古い日付の請求書連番行を削除するジョブ。
type SequenceCleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 連番行の保持日数（デフォルト: 7）
}

// NewSequenceCleanupJob は新しいSequenceCleanupJobを生成する。
func NewSequenceCleanupJob(db Executor, logger *slog.Logger) *SequenceCleanupJob {
	return &SequenceCleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: 7,
	}
}

// Run は最終更新がRetentionDays日より前の連番行を削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *SequenceCleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	result, err := j.db.ExecContext(ctx,
		`DELETE FROM invoice_sequences WHERE updated_at < now() - $1::interval`,
		interval,
	)
	if err != nil {
		j.logger.Error("請求書連番クリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("請求書連番クリーンアップの実行に失敗: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("請求書連番クリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行した後、intervalごとに実行する。
// コンテキストがキャンセルされると戻る。失敗はログに残して次回に持ち越す。
func (j *SequenceCleanupJob) Start(ctx context.Context, interval time.Duration) {
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
