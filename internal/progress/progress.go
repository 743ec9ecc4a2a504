// Package progress はレッスン単位の進捗記録と、コース修了の判定を担う。
package progress

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/manabiya/internal/model"
)

// OwnerVerifier は受講登録の所有者検証を行う。enrollment.Ledgerが実装する。
type OwnerVerifier interface {
	VerifyOwner(ctx context.Context, enrollmentID, userID string, requireActive bool) (*model.Enrollment, error)
}

// CompletionChecker は受講登録のコース修了判定を行う。Evaluatorが実装する。
type CompletionChecker interface {
	CheckCourseCompletion(ctx context.Context, enrollmentID string) error
}

type options struct {
	now func() time.Time
}

// Option はTrackerとEvaluatorの生成オプション。
type Option func(*options)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// CompletionPercentage は完了率を0〜100の整数で返す。
// 端数は四捨五入する。totalが0の場合は0。
func CompletionPercentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	ratio := decimal.NewFromInt(int64(completed)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total)))
	return int(ratio.Round(0).IntPart())
}
