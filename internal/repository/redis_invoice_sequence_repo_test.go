package repository

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// openTestRedis はテスト用Redisクライアントを返す。接続できない場合はスキップする。
func openTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("テスト用Redisに接続できません（スキップ）: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisInvoiceSequenceRepo_Next(t *testing.T) {
	client := openTestRedis(t)
	prefix := "test:invoice:" + uuid.New().String() + ":"
	repo := NewRedisInvoiceSequenceRepo(client, prefix, nil)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := repo.Next(ctx, "15062024")
		if err != nil {
			t.Fatalf("Next returned error: %v", err)
		}
		if got != want {
			t.Errorf("Next = %d, want %d", got, want)
		}
	}

	ttl, err := client.TTL(ctx, prefix+"15062024").Result()
	if err != nil {
		t.Fatalf("TTL returned error: %v", err)
	}
	if ttl <= 0 || ttl > redisSequenceTTL {
		t.Errorf("TTL = %v, want within (0, %v]", ttl, redisSequenceTTL)
	}
}

func TestRedisInvoiceSequenceRepo_SeedsOnFirstUse(t *testing.T) {
	client := openTestRedis(t)
	prefix := "test:invoice:" + uuid.New().String() + ":"
	seeded := 0
	repo := NewRedisInvoiceSequenceRepo(client, prefix, func(ctx context.Context, dayKey string) (int, error) {
		seeded++
		return 41, nil
	})
	ctx := context.Background()

	first, err := repo.Next(ctx, "01012025")
	if err != nil || first != 42 {
		t.Fatalf("Next = (%d, %v), want (42, nil)", first, err)
	}
	second, err := repo.Next(ctx, "01012025")
	if err != nil || second != 43 {
		t.Fatalf("Next = (%d, %v), want (43, nil)", second, err)
	}
	if seeded != 1 {
		t.Errorf("seeder called %d times, want 1", seeded)
	}
}

func TestRedisInvoiceSequenceRepo_SeedFailureResetsCounter(t *testing.T) {
	client := openTestRedis(t)
	prefix := "test:invoice:" + uuid.New().String() + ":"
	failSeed := true
	repo := NewRedisInvoiceSequenceRepo(client, prefix, func(ctx context.Context, dayKey string) (int, error) {
		if failSeed {
			return 0, errors.New("database is gone")
		}
		return 7, nil
	})
	ctx := context.Background()

	if _, err := repo.Next(ctx, "02012025"); err == nil {
		t.Fatal("Next should fail when the seeder fails")
	}
	exists, err := client.Exists(ctx, prefix+"02012025").Result()
	if err != nil {
		t.Fatalf("Exists returned error: %v", err)
	}
	if exists != 0 {
		t.Error("counter key should be removed after a failed seed")
	}

	// 次の呼び出しで改めて既存の最大連番から再開する
	failSeed = false
	got, err := repo.Next(ctx, "02012025")
	if err != nil || got != 8 {
		t.Fatalf("Next = (%d, %v), want (8, nil)", got, err)
	}
}
