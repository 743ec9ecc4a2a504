package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/manabiya/internal/catalog"
	"github.com/hitoshi/manabiya/internal/config"
	"github.com/hitoshi/manabiya/internal/database"
	"github.com/hitoshi/manabiya/internal/enrollment"
	"github.com/hitoshi/manabiya/internal/handler"
	"github.com/hitoshi/manabiya/internal/logger"
	"github.com/hitoshi/manabiya/internal/metrics"
	"github.com/hitoshi/manabiya/internal/middleware"
	"github.com/hitoshi/manabiya/internal/notify"
	"github.com/hitoshi/manabiya/internal/payment"
	"github.com/hitoshi/manabiya/internal/progress"
	"github.com/hitoshi/manabiya/internal/repository"
	"github.com/hitoshi/manabiya/internal/security"
	"github.com/hitoshi/manabiya/internal/tracing"
	"github.com/hitoshi/manabiya/internal/worker/cleanup"
	"github.com/hitoshi/manabiya/internal/worker/reconcile"
)

// redisInvoiceKeyPrefix はRedis上の請求書連番キーのプレフィックス。
const redisInvoiceKeyPrefix = "manabiya:invoice:"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// LOG_FILEが指定された場合はwriterとローテーションファイルの両方に出力する。
// 戻り値のio.Closerはプロセス終了時に閉じる。
func Init(w io.Writer) (*config.Config, io.Closer, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログを再構成する
	out, closer := logger.Output(w, cfg.LogFile)
	logger.SetupDefault(out, cfg.LogLevel)

	return cfg, closer, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, closer, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer closer.Close()

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("log_level", cfg.LogLevel.String()),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		migrateArgs, err := ParseMigrateArgs(args[1:])
		if err != nil {
			return err
		}
		return runMigrate(cfg, migrateArgs)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Ping(context.Background(), db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// newMetrics はプロセス専用のPrometheusレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newDispatcher は設定に応じた送出先を束ねた非同期通知ディスパッチャを生成する。
// ログ出力は常に有効で、Webhook・RabbitMQはURLが設定された場合のみ追加する。
// 戻り値の関数はディスパッチャの送出完了を待ってから呼び出す。
func newDispatcher(cfg *config.Config, mc metrics.MetricsCollector) (*notify.Dispatcher, func(), error) {
	log := slog.Default()
	senders := notify.MultiSender{notify.NewLogNotifier(log)}
	var closers []io.Closer

	if cfg.NotifyWebhookURL != "" {
		guard := security.NewWebhookGuard()
		if err := guard.ValidateURL(cfg.NotifyWebhookURL); err != nil {
			return nil, nil, fmt.Errorf("invalid NOTIFY_WEBHOOK_URL: %w", err)
		}
		senders = append(senders, notify.NewWebhookNotifier(guard.NewSafeClient(cfg.NotifyTimeout), cfg.NotifyWebhookURL))
		slog.Info("webhook notifier enabled")
	}

	if cfg.RabbitMQURL != "" {
		conn, err := amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
		}
		if err := notify.DeclareExchange(ch); err != nil {
			ch.Close()
			conn.Close()
			return nil, nil, err
		}
		senders = append(senders, notify.NewAMQPNotifier(ch))
		closers = append(closers, ch, conn)
		slog.Info("amqp notifier enabled", slog.String("exchange", notify.ExchangeName))
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("failed to close notifier connection", slog.String("error", err.Error()))
			}
		}
	}

	return notify.NewDispatcher(senders, cfg.NotifyTimeout, log, mc), closeAll, nil
}

// newSequencer は請求書連番の払い出し元を生成する。
// REDIS_URLが設定されていればRedisのINCRを使い、未設定ならPostgreSQLの連番テーブルを使う。
func newSequencer(cfg *config.Config, db *sql.DB, payments repository.PaymentRepository) (payment.Sequencer, func(), error) {
	if cfg.RedisURL == "" {
		return repository.NewPostgresInvoiceSequenceRepo(db, payment.InvoicePrefix), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// キー消失時はDB上の当日最大連番から再開する
	seed := func(ctx context.Context, dayKey string) (int, error) {
		return payments.MaxInvoiceSequence(ctx, payment.InvoicePrefix+"-"+dayKey+"-")
	}

	slog.Info("redis invoice sequencer enabled")
	return repository.NewRedisInvoiceSequenceRepo(client, redisInvoiceKeyPrefix, seed), func() { client.Close() }, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	log := slog.Default()

	// 1. トレーシング
	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to setup tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	// 2. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 3. メトリクス
	reg, mc := newMetrics()

	// 4. リポジトリの初期化
	catalogRepo := repository.NewPostgresCatalogRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)
	enrollmentRepo := repository.NewPostgresEnrollmentRepo(db)
	progressRepo := repository.NewPostgresProgressRepo(db)
	paymentRepo := repository.NewPostgresPaymentRepo(db)

	sequencer, closeSequencer, err := newSequencer(cfg, db, paymentRepo)
	if err != nil {
		return err
	}
	defer closeSequencer()

	// 5. 通知
	dispatcher, closeNotifier, err := newDispatcher(cfg, mc)
	if err != nil {
		return err
	}
	defer closeNotifier()

	// 6. ドメインサービスの初期化
	catalogService := catalog.NewService(catalogRepo)
	enrollmentLedger := enrollment.NewLedger(catalogRepo, userRepo, enrollmentRepo, dispatcher, log, mc)
	evaluator := progress.NewEvaluator(catalogRepo, userRepo, enrollmentRepo, progressRepo, enrollmentLedger, dispatcher, log, mc)
	tracker := progress.NewTracker(catalogRepo, progressRepo, enrollmentLedger, evaluator, log, mc)
	paymentLedger := payment.NewLedger(enrollmentRepo, paymentRepo, sequencer, security.NewTextSanitizer(), log, mc,
		payment.WithLocation(cfg.InvoiceLocation),
	)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitCheckout))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		JWTSecret:         []byte(cfg.JWTSecret),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           mc,
		MetricsHandler:    metrics.Handler(reg),
		HealthChecker:     db,

		CatalogService:    catalogService,
		EnrollmentService: enrollmentLedger,
		ProgressTracker:   tracker,
		ProgressReader:    evaluator,
		PaymentService:    paymentLedger,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// 送出中の通知を待ってから接続を閉じる
	dispatcher.Wait()

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、修了判定の再実行ジョブをcronスケジュールで、請求書連番の保守ジョブを日次で起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	log := slog.Default()

	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName + "-worker",
	})
	if err != nil {
		return fmt.Errorf("failed to setup tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリ・通知の初期化
	catalogRepo := repository.NewPostgresCatalogRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)
	enrollmentRepo := repository.NewPostgresEnrollmentRepo(db)
	progressRepo := repository.NewPostgresProgressRepo(db)

	// ワーカーはメトリクスを公開しないため、集計は破棄する
	dispatcher, closeNotifier, err := newDispatcher(cfg, metrics.Nop{})
	if err != nil {
		return err
	}
	defer closeNotifier()

	// 3. 修了判定ジョブの初期化
	enrollmentLedger := enrollment.NewLedger(catalogRepo, userRepo, enrollmentRepo, dispatcher, log, nil)
	evaluator := progress.NewEvaluator(catalogRepo, userRepo, enrollmentRepo, progressRepo, enrollmentLedger, dispatcher, log, nil)

	job := reconcile.NewJob(evaluator, log)
	job.BatchSize = cfg.ReconcileBatchSize

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.String("schedule", cfg.ReconcileSchedule),
		slog.Int("batch_size", cfg.ReconcileBatchSize),
	)

	// 請求書連番の保守ジョブを日次でバックグラウンド実行
	sequenceCleanup := cleanup.NewSequenceCleanupJob(db, log)
	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		sequenceCleanup.Start(ctx, 24*time.Hour)
	}()

	// スケジューラをメインgoroutineで実行（ブロッキング）
	if err := job.Start(ctx, cfg.ReconcileSchedule, time.UTC); err != nil {
		stop()
		<-cleanupDone
		return fmt.Errorf("failed to start reconcile scheduler: %w", err)
	}

	<-cleanupDone
	dispatcher.Wait()

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// upはすべての未適用マイグレーションを、downは指定ステップ数のロールバックを行う。
func runMigrate(cfg *config.Config, args MigrateArgs) error {
	slog.Info("running database migrations",
		slog.String("direction", string(args.Direction)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	var (
		version uint
		err     error
	)
	switch args.Direction {
	case MigrateDown:
		version, err = database.RollbackMigrations(cfg.DatabaseURL, args.Steps)
	default:
		version, err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
