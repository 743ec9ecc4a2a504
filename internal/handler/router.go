package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/manabiya/internal/metrics"
	"github.com/hitoshi/manabiya/internal/middleware"
	"github.com/hitoshi/manabiya/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	JWTSecret         []byte
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	HealthChecker     repository.HealthChecker

	// ドメインサービス
	CatalogService    CatalogServiceInterface
	EnrollmentService EnrollmentServiceInterface
	ProgressTracker   ProgressTrackerInterface
	ProgressReader    ProgressReaderInterface
	PaymentService    PaymentServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS
//	  → (/api) Auth → RateLimit(General) → [RateLimit(Checkout)] → [RequireRole]
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	catalogHandler := NewCatalogHandler(deps.CatalogService)
	enrollmentHandler := NewEnrollmentHandler(deps.EnrollmentService)
	progressHandler := NewProgressHandler(deps.ProgressTracker, deps.ProgressReader)
	paymentHandler := NewPaymentHandler(deps.PaymentService)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.JWTSecret))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// カタログ
		r.Get("/categories", catalogHandler.ListCategories)
		r.Route("/courses", func(r chi.Router) {
			r.Get("/", catalogHandler.ListCourses)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", catalogHandler.GetCourse)
				r.Get("/lessons", catalogHandler.ListLessons)

				// POST /api/courses/{id}/enroll - 受講登録（checkoutレート制限を追加）
				r.With(deps.RateLimiter.CheckoutMiddleware()).Post("/enroll", enrollmentHandler.Enroll)
			})
		})

		// 受講登録・進捗
		r.Route("/enrollments", func(r chi.Router) {
			r.Get("/", enrollmentHandler.ListEnrollments)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", enrollmentHandler.GetEnrollment)
				r.Get("/progress", progressHandler.GetEnrollmentProgress)

				r.Route("/lessons/{lessonId}", func(r chi.Router) {
					r.Put("/progress", progressHandler.UpdateLessonProgress)
					r.Post("/start", progressHandler.StartLesson)
					r.Post("/complete", progressHandler.CompleteLesson)
				})
			})
		})

		r.Get("/progress/courses", progressHandler.GetUserCoursesProgress)

		// 支払い
		r.Route("/payments", func(r chi.Router) {
			r.Get("/", paymentHandler.ListPayments)
			r.With(deps.RateLimiter.CheckoutMiddleware()).Post("/", paymentHandler.CreatePayment)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", paymentHandler.GetPayment)
				r.With(middleware.RequireRole(middleware.RoleAdmin, middleware.RoleGateway)).
					Put("/status", paymentHandler.UpdatePaymentStatus)
			})
		})
	})

	return r
}
