// Package reconcile はコース修了判定の定期再実行ジョブを提供する。
// 進捗更新時の修了判定はベストエフォートのため、失敗した受講登録をこのジョブで修了させる。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Reconciler は受講中の受講登録の修了判定を再実行する。progress.Evaluatorが実装する。
type Reconciler interface {
	ReconcileCompletions(ctx context.Context, limit int) (int, error)
}

// Job は修了判定の再実行ジョブ。
// 何度実行しても結果は変わらず、対象がない場合もエラーにならない。
type Job struct {
	reconciler Reconciler
	logger     *slog.Logger
	BatchSize  int // 1回の実行で判定する受講登録数（デフォルト: 200）
}

// NewJob は新しいJobを生成する。
func NewJob(reconciler Reconciler, logger *slog.Logger) *Job {
	return &Job{
		reconciler: reconciler,
		logger:     logger,
		BatchSize:  200,
	}
}

// Run は更新日時の古い受講中の受講登録からBatchSize件を再判定する。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	completed, err := j.reconciler.ReconcileCompletions(ctx, j.BatchSize)
	if err != nil {
		j.logger.Error("修了再判定ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("batch_size", j.BatchSize),
		)
		return fmt.Errorf("修了再判定の実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("修了再判定ジョブが完了しました",
		slog.Int("completed_count", completed),
		slog.Int("batch_size", j.BatchSize),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Schedule はcron式に従ってジョブを登録したスケジューラを返す。起動は呼び出し側で行う。
// 前回の実行が終わっていない場合、その回はスキップする。
func (j *Job) Schedule(ctx context.Context, spec string, loc *time.Location) (*cron.Cron, error) {
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(spec, func() {
		_ = j.Run(ctx)
	}); err != nil {
		return nil, fmt.Errorf("cron式が不正です: %q: %w", spec, err)
	}
	return c, nil
}

// Start は起動直後に1回実行した後、cron式に従って定期実行する。
// コンテキストがキャンセルされると、実行中のジョブの終了を待って戻る。
func (j *Job) Start(ctx context.Context, spec string, loc *time.Location) error {
	c, err := j.Schedule(ctx, spec, loc)
	if err != nil {
		return err
	}

	_ = j.Run(ctx)

	c.Start()
	j.logger.Info("修了再判定スケジューラを開始しました", slog.String("schedule", spec))

	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info("修了再判定スケジューラを停止しました")
	return nil
}
