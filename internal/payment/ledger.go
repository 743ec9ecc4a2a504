// Package payment は受講登録に対する支払いと請求書番号の採番を担う。
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/manabiya/internal/metrics"
	"github.com/hitoshi/manabiya/internal/model"
	"github.com/hitoshi/manabiya/internal/repository"
	"github.com/hitoshi/manabiya/internal/security"
)

const (
	// InvoicePrefix は請求書番号の接頭辞。
	InvoicePrefix = "HD"

	// maxInvoiceAttempts は請求書番号が衝突した場合の最大試行回数。
	maxInvoiceAttempts = 3

	// maxPaymentMethodLength は支払い方法の最大文字数。
	maxPaymentMethodLength = 50

	dayKeyLayout = "02012006"
)

// Sequencer は日別の請求書連番を払い出す。
// 同一dayKeyに対する並行呼び出しは重複しない値を返さなければならない。
type Sequencer interface {
	Next(ctx context.Context, dayKey string) (int, error)
}

// DayKey は請求書番号の日付部分（DDMMYYYY）を返す。
func DayKey(t time.Time) string {
	return t.Format(dayKeyLayout)
}

// FormatInvoiceCode は請求書番号 HD-DDMMYYYY-NNNN を組み立てる。
func FormatInvoiceCode(dayKey string, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", InvoicePrefix, dayKey, seq)
}

// Ledger は支払いのサービス層。
type Ledger struct {
	enrollments repository.EnrollmentRepository
	payments    repository.PaymentRepository
	sequencer   Sequencer
	sanitizer   *security.TextSanitizer
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
	tracer      trace.Tracer
	now         func() time.Time
	location    *time.Location
}

// Option はLedgerの生成オプション。
type Option func(*Ledger)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation は請求書番号の日付境界に使うタイムゾーンを設定する。既定はUTC。
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.location = loc
		}
	}
}

// NewLedger はLedgerの新しいインスタンスを生成する。
func NewLedger(
	enrollments repository.EnrollmentRepository,
	payments repository.PaymentRepository,
	sequencer Sequencer,
	sanitizer *security.TextSanitizer,
	logger *slog.Logger,
	mc metrics.MetricsCollector,
	opts ...Option,
) *Ledger {
	if mc == nil {
		mc = metrics.Nop{}
	}
	l := &Ledger{
		enrollments: enrollments,
		payments:    payments,
		sequencer:   sequencer,
		sanitizer:   sanitizer,
		logger:      logger,
		metrics:     mc,
		tracer:      otel.Tracer("manabiya/payment"),
		now:         time.Now,
		location:    time.UTC,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreatePayment は受講登録に対するPending状態の支払いを作成する。
// 金額は受講登録の価格をそのまま使う。受講登録の状態は問わない。
func (l *Ledger) CreatePayment(ctx context.Context, enrollmentID, userID, method string, billing *model.BillingInfo) (*model.Payment, error) {
	ctx, span := l.tracer.Start(ctx, "payment.create",
		trace.WithAttributes(
			attribute.String("enrollment.id", enrollmentID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	method = l.sanitizer.SanitizeText(method)
	if method == "" {
		return nil, model.NewInvalidPaymentMethodError("支払い方法を指定してください。")
	}
	if utf8.RuneCountInString(method) > maxPaymentMethodLength {
		return nil, model.NewInvalidPaymentMethodError(fmt.Sprintf("支払い方法は%d文字以内で指定してください。", maxPaymentMethodLength))
	}

	e, err := l.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("受講登録の取得に失敗しました: %w", err)
	}
	if e == nil || e.UserID != userID {
		return nil, model.NewEnrollmentNotFoundError(enrollmentID)
	}

	now := l.now()
	dayKey := DayKey(now.In(l.location))
	billing = l.sanitizer.SanitizeBillingInfo(billing)

	for attempt := 1; attempt <= maxInvoiceAttempts; attempt++ {
		seq, err := l.sequencer.Next(ctx, dayKey)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("請求書連番の採番に失敗しました: %w", err)
		}

		p := &model.Payment{
			ID:            uuid.New().String(),
			InvoiceCode:   FormatInvoiceCode(dayKey, seq),
			EnrollmentID:  e.ID,
			UserID:        userID,
			Amount:        e.Price,
			PaymentMethod: method,
			Status:        model.PaymentStatusPending,
			BillingInfo:   billing,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		err = l.payments.Create(ctx, p)
		if err == nil {
			l.metrics.RecordPaymentCreated()
			span.SetAttributes(
				attribute.String("payment.id", p.ID),
				attribute.String("invoice.code", p.InvoiceCode),
				attribute.Int("invoice.attempts", attempt),
			)
			l.logger.InfoContext(ctx, "支払いを作成しました",
				slog.String("payment_id", p.ID),
				slog.String("invoice_code", p.InvoiceCode),
				slog.String("enrollment_id", e.ID),
				slog.String("amount", p.Amount.StringFixed(2)),
			)
			return p, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			span.RecordError(err)
			return nil, fmt.Errorf("支払いの作成に失敗しました: %w", err)
		}

		l.metrics.RecordInvoiceCollision()
		l.logger.WarnContext(ctx, "請求書番号が衝突しました",
			slog.String("invoice_code", p.InvoiceCode),
			slog.Int("attempt", attempt),
		)
	}

	span.SetAttributes(attribute.Bool("conflict.detected", true))
	return nil, model.NewInvoiceCollisionError()
}

// UpdatePaymentStatus は支払いのステータスを無条件に上書きする。
// 上書き後、受講登録のpayment_statusにも同じ値を反映し、
// Completedの場合はPendingの受講登録をActiveにする。
// 反映に失敗した場合はエラーを返す。同じ呼び出しを再実行すれば反映される。
func (l *Ledger) UpdatePaymentStatus(ctx context.Context, paymentID, status string, transactionID *string) (*model.Payment, error) {
	ctx, span := l.tracer.Start(ctx, "payment.update_status",
		trace.WithAttributes(
			attribute.String("payment.id", paymentID),
			attribute.String("payment.status", status),
		),
	)
	defer span.End()

	st, ok := model.ParsePaymentStatus(status)
	if !ok {
		return nil, model.NewInvalidPaymentStatusError(status)
	}

	if transactionID != nil {
		tx := l.sanitizer.SanitizeText(*transactionID)
		if tx == "" {
			transactionID = nil
		} else {
			transactionID = &tx
		}
	}

	now := l.now()
	p, err := l.payments.UpdateStatus(ctx, paymentID, st, transactionID, now)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("支払いステータスの更新に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewPaymentNotFoundError(paymentID)
	}

	activate := st == model.PaymentStatusCompleted
	if err := l.enrollments.UpdatePaymentStatus(ctx, p.EnrollmentID, st, activate, now); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("受講登録への支払いステータス反映に失敗しました: %w", err)
	}

	l.metrics.RecordPaymentStatus(string(st))
	l.logger.InfoContext(ctx, "支払いステータスを更新しました",
		slog.String("payment_id", p.ID),
		slog.String("enrollment_id", p.EnrollmentID),
		slog.String("status", string(st)),
	)

	return p, nil
}

// GetPayment は所有者本人の支払いを返す。
func (l *Ledger) GetPayment(ctx context.Context, paymentID, userID string) (*model.Payment, error) {
	p, err := l.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("支払いの取得に失敗しました: %w", err)
	}
	if p == nil || p.UserID != userID {
		return nil, model.NewPaymentNotFoundError(paymentID)
	}
	return p, nil
}

// ListPayments はユーザーの支払い一覧を新しい順に返す。
func (l *Ledger) ListPayments(ctx context.Context, userID string) ([]*model.Payment, error) {
	list, err := l.payments.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("支払い一覧の取得に失敗しました: %w", err)
	}
	return list, nil
}
