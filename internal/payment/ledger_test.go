package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/hitoshi/manabiya/internal/model"
	"github.com/hitoshi/manabiya/internal/repository/memory"
	"github.com/hitoshi/manabiya/internal/security"
)

// --- テスト用ヘルパー ---

type fixedSequencer struct {
	mu     sync.Mutex
	values []int
	calls  int
}

func (s *fixedSequencer) Next(ctx context.Context, dayKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.calls%len(s.values)]
	s.calls++
	return v, nil
}

type collisionCounter struct {
	mu         sync.Mutex
	collisions int
	statuses   []string
}

func (c *collisionCounter) RecordEnrollment(string)          {}
func (c *collisionCounter) RecordLessonTransition(string)    {}
func (c *collisionCounter) RecordCourseCompleted()           {}
func (c *collisionCounter) RecordCompletionCheckFailure()    {}
func (c *collisionCounter) RecordPaymentCreated()            {}
func (c *collisionCounter) RecordNotificationFailure(string) {}
func (c *collisionCounter) RecordHTTPStatus(int)             {}
func (c *collisionCounter) RecordHTTPLatency(time.Duration)  {}
func (c *collisionCounter) RecordInvoiceCollision() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collisions++
}
func (c *collisionCounter) RecordPaymentStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, status)
}

var scenarioDay = time.Date(2024, 6, 15, 11, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedEnrollment(t *testing.T, store *memory.Store, id, userID string, price decimal.Decimal) {
	t.Helper()
	store.PutCourse(model.Course{ID: "course-" + id, Title: "C", Price: price, Status: model.CourseStatusPublished})
	err := store.Enrollments().Create(context.Background(), &model.Enrollment{
		ID:            id,
		UserID:        userID,
		CourseID:      "course-" + id,
		Price:         price,
		ExpiryDate:    scenarioDay.AddDate(1, 0, 0),
		PaymentStatus: model.PaymentStatusPending,
		Status:        model.EnrollmentStatusPending,
		CreatedAt:     scenarioDay,
		UpdatedAt:     scenarioDay,
	})
	require.NoError(t, err)
}

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	seedEnrollment(t, store, "E", "U", decimal.NewFromInt(80))
	opts = append([]Option{WithClock(func() time.Time { return scenarioDay })}, opts...)
	l := NewLedger(store.Enrollments(), store.Payments(), store.InvoiceSequences(InvoicePrefix),
		security.NewTextSanitizer(), discardLogger(), nil, opts...)
	return l, store
}

func assertAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, code, apiErr.Code)
}

// --- 請求書番号 ---

func TestFormatInvoiceCode(t *testing.T) {
	assert.Equal(t, "HD-15062024-0001", FormatInvoiceCode(DayKey(scenarioDay), 1))
	assert.Equal(t, "HD-01012025-0042", FormatInvoiceCode("01012025", 42))
	assert.Equal(t, "HD-01012025-12345", FormatInvoiceCode("01012025", 12345))
}

func TestCreatePayment_SequentialInvoiceCodes(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := l.CreatePayment(ctx, "E", "U", "Bank", nil)
	require.NoError(t, err)
	assert.Equal(t, "HD-15062024-0001", first.InvoiceCode)
	assert.True(t, first.Amount.Equal(decimal.NewFromInt(80)))
	assert.Equal(t, model.PaymentStatusPending, first.Status)
	assert.Equal(t, "Bank", first.PaymentMethod)
	assert.Nil(t, first.TransactionID)
	assert.Nil(t, first.BillingInfo)

	second, err := l.CreatePayment(ctx, "E", "U", "Bank", nil)
	require.NoError(t, err)
	assert.Equal(t, "HD-15062024-0002", second.InvoiceCode)
}

func TestCreatePayment_NewDayRestartsSequence(t *testing.T) {
	now := scenarioDay
	l, _ := newTestLedger(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := l.CreatePayment(ctx, "E", "U", "Bank", nil)
	require.NoError(t, err)

	now = now.Add(24 * time.Hour)
	p, err := l.CreatePayment(ctx, "E", "U", "Bank", nil)
	require.NoError(t, err)
	assert.Equal(t, "HD-16062024-0001", p.InvoiceCode)
}

func TestCreatePayment_DayBoundaryUsesLocation(t *testing.T) {
	late := time.Date(2024, 6, 14, 20, 0, 0, 0, time.UTC)
	ict := time.FixedZone("ICT", 7*60*60)
	l, _ := newTestLedger(t, WithClock(func() time.Time { return late }), WithLocation(ict))

	p, err := l.CreatePayment(context.Background(), "E", "U", "Card", nil)
	require.NoError(t, err)
	assert.Equal(t, "HD-15062024-0001", p.InvoiceCode)
}

func TestCreatePayment_RetriesOnCollision(t *testing.T) {
	store := memory.NewStore()
	seedEnrollment(t, store, "E", "U", decimal.NewFromInt(80))
	seq := &fixedSequencer{values: []int{1, 1, 2}}
	mc := &collisionCounter{}
	l := NewLedger(store.Enrollments(), store.Payments(), seq, security.NewTextSanitizer(), discardLogger(), mc,
		WithClock(func() time.Time { return scenarioDay }))
	ctx := context.Background()

	_, err := l.CreatePayment(ctx, "E", "U", "Bank", nil)
	require.NoError(t, err)

	p, err := l.CreatePayment(ctx, "E", "U", "Bank", nil)
	require.NoError(t, err)
	assert.Equal(t, "HD-15062024-0002", p.InvoiceCode)
	assert.Equal(t, 1, mc.collisions)
}

func TestCreatePayment_GivesUpAfterRepeatedCollisions(t *testing.T) {
	store := memory.NewStore()
	seedEnrollment(t, store, "E", "U", decimal.NewFromInt(80))
	seq := &fixedSequencer{values: []int{1}}
	mc := &collisionCounter{}
	l := NewLedger(store.Enrollments(), store.Payments(), seq, security.NewTextSanitizer(), discardLogger(), mc,
		WithClock(func() time.Time { return scenarioDay }))
	ctx := context.Background()

	_, err := l.CreatePayment(ctx, "E", "U", "Bank", nil)
	require.NoError(t, err)

	_, err = l.CreatePayment(ctx, "E", "U", "Bank", nil)
	assertAPIError(t, err, model.ErrCodeInvoiceCollision)
	assert.Equal(t, maxInvoiceAttempts, mc.collisions)
}

func TestCreatePayment_ConcurrentCodesAreUnique(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := memory.NewStore()
		store.PutCourse(model.Course{ID: "c", Title: "C", Price: decimal.NewFromInt(1), Status: model.CourseStatusPublished})
		_ = store.Enrollments().Create(context.Background(), &model.Enrollment{
			ID: "E", UserID: "U", CourseID: "c", Price: decimal.NewFromInt(1),
			PaymentStatus: model.PaymentStatusPending, Status: model.EnrollmentStatusPending,
		})
		l := NewLedger(store.Enrollments(), store.Payments(), store.InvoiceSequences(InvoicePrefix),
			security.NewTextSanitizer(), discardLogger(), nil, WithClock(func() time.Time { return scenarioDay }))

		callers := rapid.IntRange(1, 20).Draw(t, "callers")
		codes := make([]string, callers)
		errs := make([]error, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				p, err := l.CreatePayment(context.Background(), "E", "U", "Bank", nil)
				errs[i] = err
				if p != nil {
					codes[i] = p.InvoiceCode
				}
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("caller %d: %v", i, err)
			}
		}
		sort.Strings(codes)
		for i, code := range codes {
			want := FormatInvoiceCode("15062024", i+1)
			if code != want {
				t.Fatalf("codes[%d] = %s, want %s", i, code, want)
			}
		}
	})
}

// --- 入力検証 ---

func TestCreatePayment_Validation(t *testing.T) {
	l, store := newTestLedger(t)
	seedEnrollment(t, store, "E2", "someone-else", decimal.NewFromInt(10))

	tests := []struct {
		name         string
		enrollmentID string
		method       string
		code         string
	}{
		{"空の支払い方法", "E", "", model.ErrCodeInvalidPaymentMethod},
		{"タグのみ", "E", "<b></b>", model.ErrCodeInvalidPaymentMethod},
		{"長すぎる支払い方法", "E", strings.Repeat("x", 51), model.ErrCodeInvalidPaymentMethod},
		{"存在しない受講登録", "missing", "Bank", model.ErrCodeEnrollmentNotFound},
		{"他ユーザーの受講登録", "E2", "Bank", model.ErrCodeEnrollmentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.CreatePayment(context.Background(), tt.enrollmentID, "U", tt.method, nil)
			assertAPIError(t, err, tt.code)
		})
	}
}

func TestCreatePayment_SanitizesInput(t *testing.T) {
	l, _ := newTestLedger(t)

	p, err := l.CreatePayment(context.Background(), "E", "U", "<script>x</script>Card", &model.BillingInfo{
		Name:    "<b>山田</b>",
		TaxCode: "0101234567",
	})
	require.NoError(t, err)
	assert.Equal(t, "Card", p.PaymentMethod)
	require.NotNil(t, p.BillingInfo)
	assert.Equal(t, "山田", p.BillingInfo.Name)
	assert.Equal(t, "0101234567", p.BillingInfo.TaxCode)
}

// --- ステータス更新 ---

func TestUpdatePaymentStatus_CompletedActivatesEnrollment(t *testing.T) {
	mc := &collisionCounter{}
	store := memory.NewStore()
	seedEnrollment(t, store, "E", "U", decimal.NewFromInt(80))
	l := NewLedger(store.Enrollments(), store.Payments(), store.InvoiceSequences(InvoicePrefix),
		security.NewTextSanitizer(), discardLogger(), mc, WithClock(func() time.Time { return scenarioDay }))
	ctx := context.Background()

	p, err := l.CreatePayment(ctx, "E", "U", "Bank", nil)
	require.NoError(t, err)

	tx := "TX-123"
	updated, err := l.UpdatePaymentStatus(ctx, p.ID, "Completed", &tx)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, updated.Status)
	require.NotNil(t, updated.TransactionID)
	assert.Equal(t, "TX-123", *updated.TransactionID)

	e, err := store.Enrollments().FindByID(ctx, "E")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, e.PaymentStatus)
	assert.Equal(t, model.EnrollmentStatusActive, e.Status)
	assert.Equal(t, []string{"Completed"}, mc.statuses)
}

func TestUpdatePaymentStatus_UnconstrainedOverwrite(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	p, err := l.CreatePayment(ctx, "E", "U", "Bank", nil)
	require.NoError(t, err)

	tx := "TX-1"
	_, err = l.UpdatePaymentStatus(ctx, p.ID, "Refunded", &tx)
	require.NoError(t, err)

	back, err := l.UpdatePaymentStatus(ctx, p.ID, "Pending", nil)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, back.Status)
	require.NotNil(t, back.TransactionID, "nil transaction id keeps the stored value")
	assert.Equal(t, "TX-1", *back.TransactionID)

	e, err := store.Enrollments().FindByID(ctx, "E")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, e.PaymentStatus)
	assert.Equal(t, model.EnrollmentStatusPending, e.Status, "only Completed activates")
}

func TestUpdatePaymentStatus_Errors(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.UpdatePaymentStatus(ctx, "missing", "Completed", nil)
	assertAPIError(t, err, model.ErrCodePaymentNotFound)

	_, err = l.UpdatePaymentStatus(ctx, "missing", "Paid", nil)
	assertAPIError(t, err, model.ErrCodeInvalidPaymentStatus)
}

// --- 参照 ---

func TestGetPayment_Ownership(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	p, err := l.CreatePayment(ctx, "E", "U", "Bank", nil)
	require.NoError(t, err)

	got, err := l.GetPayment(ctx, p.ID, "U")
	require.NoError(t, err)
	assert.Equal(t, p.InvoiceCode, got.InvoiceCode)

	_, err = l.GetPayment(ctx, p.ID, "intruder")
	assertAPIError(t, err, model.ErrCodePaymentNotFound)
}

func TestListPayments(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.CreatePayment(ctx, "E", "U", "Bank", nil)
		require.NoError(t, err)
	}

	list, err := l.ListPayments(ctx, "U")
	require.NoError(t, err)
	assert.Len(t, list, 3)

	none, err := l.ListPayments(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}
