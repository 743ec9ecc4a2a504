package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisSequenceTTL は日別カウンタキーの保持期間。日付が変わった後も時差を吸収できるよう2日保持する。
const redisSequenceTTL = 48 * time.Hour

// SequenceSeeder はカウンタ初期化時の開始値（既存の最大連番）を返す。
type SequenceSeeder func(ctx context.Context, dayKey string) (int, error)

// RedisInvoiceSequenceRepo はRedisのINCRによる日別連番の払い出しを行う。
// 複数のAPIインスタンス間で連番を共有する。
type RedisInvoiceSequenceRepo struct {
	client    redis.Cmdable
	keyPrefix string
	seed      SequenceSeeder
}

// NewRedisInvoiceSequenceRepo はRedisInvoiceSequenceRepoを生成する。
// seedがnilでない場合、その日の最初の払い出し時に既存の最大連番を加算する。
func NewRedisInvoiceSequenceRepo(client redis.Cmdable, keyPrefix string, seed SequenceSeeder) *RedisInvoiceSequenceRepo {
	return &RedisInvoiceSequenceRepo{client: client, keyPrefix: keyPrefix, seed: seed}
}

// Next は指定日の次の連番を返す。
func (r *RedisInvoiceSequenceRepo) Next(ctx context.Context, dayKey string) (int, error) {
	key := r.keyPrefix + dayKey

	next, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("請求書連番のINCRに失敗しました: %w", err)
	}

	if next == 1 {
		if err := r.client.Expire(ctx, key, redisSequenceTTL).Err(); err != nil {
			return 0, r.discard(ctx, key, fmt.Errorf("請求書連番の有効期限設定に失敗しました: %w", err))
		}
		if r.seed != nil {
			seeded, err := r.applySeed(ctx, key, dayKey)
			if err != nil {
				return 0, err
			}
			if seeded > 0 {
				next = seeded
			}
		}
	}

	return int(next), nil
}

// applySeed は当日の初回払い出し時に既存の最大連番をカウンタへ加算する。
// 失敗した場合はキーを削除し、次回の呼び出しで改めて初期化させる。
func (r *RedisInvoiceSequenceRepo) applySeed(ctx context.Context, key, dayKey string) (int64, error) {
	base, err := r.seed(ctx, dayKey)
	if err == nil && base <= 0 {
		return 0, nil
	}

	var next int64
	if err == nil {
		next, err = r.client.IncrBy(ctx, key, int64(base)).Result()
		if err != nil {
			err = fmt.Errorf("請求書連番の初期化に失敗しました: %w", err)
		}
	}
	if err != nil {
		return 0, r.discard(ctx, key, err)
	}
	return next, nil
}

// discard は初期化に失敗したカウンタキーを削除し、元のエラーを返す。
func (r *RedisInvoiceSequenceRepo) discard(ctx context.Context, key string, cause error) error {
	if err := r.client.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
		return errors.Join(cause, fmt.Errorf("請求書連番キーの削除に失敗しました: %w", err))
	}
	return cause
}

// compile-time interface check
var _ InvoiceSequenceRepository = (*RedisInvoiceSequenceRepo)(nil)
