package enrollment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/hitoshi/manabiya/internal/model"
	"github.com/hitoshi/manabiya/internal/repository"
	"github.com/hitoshi/manabiya/internal/repository/memory"
)

// --- テスト用モック ---

type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []*model.Enrollment
	users     []*model.User
	err       error
}

func (n *recordingNotifier) SendEnrollmentConfirmation(ctx context.Context, e *model.Enrollment, c *model.Course, u *model.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, e)
	n.users = append(n.users, u)
	return n.err
}

func (n *recordingNotifier) SendCourseCompleted(ctx context.Context, e *model.Enrollment, c *model.Course, u *model.User) error {
	return nil
}

type failingEnrollmentRepo struct {
	repository.EnrollmentRepository
	createErr error
}

func (r *failingEnrollmentRepo) FindByUserAndCourse(ctx context.Context, userID, courseID string) (*model.Enrollment, error) {
	return nil, nil
}

func (r *failingEnrollmentRepo) Create(ctx context.Context, e *model.Enrollment) error {
	return r.createErr
}

var fixedNow = time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedCatalog(store *memory.Store) {
	discount := decimal.NewFromInt(80)
	store.PutUser(model.User{ID: "user-u", Email: "u@example.com", Name: "U"})
	store.PutCourse(model.Course{ID: "course-c", Title: "Go入門", Price: decimal.NewFromInt(100), DiscountPrice: &discount, Status: model.CourseStatusPublished})
	store.PutCourse(model.Course{ID: "course-full", Title: "定価", Price: decimal.RequireFromString("49.90"), Status: model.CourseStatusPublished})
	store.PutCourse(model.Course{ID: "course-draft", Title: "準備中", Price: decimal.NewFromInt(10), Status: model.CourseStatusDraft})
	store.PutCourse(model.Course{ID: "course-archived", Title: "終了", Price: decimal.NewFromInt(10), Status: model.CourseStatusArchived})
	store.PutLesson(model.Lesson{ID: "l1", CourseID: "course-c", OrderNumber: 1, Status: model.LessonStatusPublished})
	store.PutLesson(model.Lesson{ID: "l2", CourseID: "course-c", OrderNumber: 2, Status: model.LessonStatusPublished})
}

func newTestLedger(t *testing.T) (*Ledger, *memory.Store, *recordingNotifier) {
	t.Helper()
	store := memory.NewStore()
	seedCatalog(store)
	n := &recordingNotifier{}
	l := NewLedger(store.Catalog(), store.Users(), store.Enrollments(), n, discardLogger(), nil,
		WithClock(func() time.Time { return fixedNow }))
	return l, store, n
}

func assertAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, code, apiErr.Code)
}

// --- Enroll ---

func TestEnroll_UsesDiscountPriceAndPendingState(t *testing.T) {
	l, _, n := newTestLedger(t)

	got, err := l.Enroll(context.Background(), "course-c", "user-u", "Bank")
	require.NoError(t, err)

	assert.True(t, got.Price.Equal(decimal.NewFromInt(80)), "price = %s", got.Price)
	assert.Equal(t, model.EnrollmentStatusPending, got.Status)
	assert.Equal(t, model.PaymentStatusPending, got.PaymentStatus)
	assert.Nil(t, got.CompletionDate)
	assert.Equal(t, time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC), got.ExpiryDate)
	assert.Equal(t, "Go入門", got.Course.Title)

	require.Len(t, n.confirmed, 1)
	assert.Equal(t, got.ID, n.confirmed[0].ID)
	require.NotNil(t, n.users[0])
	assert.Equal(t, "u@example.com", n.users[0].Email)
}

func TestEnroll_UsesListPriceWithoutDiscount(t *testing.T) {
	l, _, _ := newTestLedger(t)

	got, err := l.Enroll(context.Background(), "course-full", "user-u", "")
	require.NoError(t, err)
	assert.Equal(t, "49.90", got.Price.StringFixed(2))
}

func TestEnroll_SecondCallConflicts(t *testing.T) {
	l, _, n := newTestLedger(t)

	_, err := l.Enroll(context.Background(), "course-c", "user-u", "Bank")
	require.NoError(t, err)

	_, err = l.Enroll(context.Background(), "course-c", "user-u", "Bank")
	assertAPIError(t, err, model.ErrCodeAlreadyEnrolled)
	assert.Len(t, n.confirmed, 1, "conflict must not send a notification")
}

func TestEnroll_CourseValidation(t *testing.T) {
	l, _, _ := newTestLedger(t)

	tests := []struct {
		courseID string
		code     string
	}{
		{"missing", model.ErrCodeCourseNotFound},
		{"course-draft", model.ErrCodeCourseNotPublished},
		{"course-archived", model.ErrCodeCourseNotPublished},
	}
	for _, tt := range tests {
		t.Run(tt.courseID, func(t *testing.T) {
			_, err := l.Enroll(context.Background(), tt.courseID, "user-u", "")
			assertAPIError(t, err, tt.code)
		})
	}
}

func TestEnroll_DuplicateOnInsertIsConflict(t *testing.T) {
	store := memory.NewStore()
	seedCatalog(store)
	repo := &failingEnrollmentRepo{createErr: repository.ErrDuplicate}
	l := NewLedger(store.Catalog(), store.Users(), repo, &recordingNotifier{}, discardLogger(), nil)

	_, err := l.Enroll(context.Background(), "course-c", "user-u", "")
	assertAPIError(t, err, model.ErrCodeAlreadyEnrolled)
}

func TestEnroll_StorageErrorIsNotAPIError(t *testing.T) {
	store := memory.NewStore()
	seedCatalog(store)
	repo := &failingEnrollmentRepo{createErr: errors.New("connection reset")}
	l := NewLedger(store.Catalog(), store.Users(), repo, &recordingNotifier{}, discardLogger(), nil)

	_, err := l.Enroll(context.Background(), "course-c", "user-u", "")
	require.Error(t, err)
	var apiErr *model.APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestEnroll_NotificationFailureDoesNotFail(t *testing.T) {
	l, store, n := newTestLedger(t)
	n.err = errors.New("smtp down")

	got, err := l.Enroll(context.Background(), "course-c", "user-u", "")
	require.NoError(t, err)

	persisted, err := store.Enrollments().FindByID(context.Background(), got.ID)
	require.NoError(t, err)
	assert.NotNil(t, persisted, "enrollment must be kept when notification fails")
}

func TestEnroll_UnknownUserStillNotifies(t *testing.T) {
	l, _, n := newTestLedger(t)

	_, err := l.Enroll(context.Background(), "course-c", "user-unknown", "")
	require.NoError(t, err)
	require.Len(t, n.users, 1)
	assert.Nil(t, n.users[0])
}

func TestEnroll_PriceSnapshotSurvivesCourseChange(t *testing.T) {
	l, store, _ := newTestLedger(t)

	got, err := l.Enroll(context.Background(), "course-c", "user-u", "")
	require.NoError(t, err)

	store.PutCourse(model.Course{ID: "course-c", Title: "Go入門", Price: decimal.NewFromInt(300), Status: model.CourseStatusPublished})

	reloaded, err := l.GetEnrollment(context.Background(), got.ID, "user-u")
	require.NoError(t, err)
	assert.True(t, reloaded.Price.Equal(decimal.NewFromInt(80)))
	assert.True(t, reloaded.Course.Price.Equal(decimal.NewFromInt(300)))
}

func TestEnroll_ConcurrentCallsCreateOne(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := memory.NewStore()
		seedCatalog(store)
		l := NewLedger(store.Catalog(), store.Users(), store.Enrollments(), &recordingNotifier{}, discardLogger(), nil)

		callers := rapid.IntRange(2, 16).Draw(t, "callers")

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			conflicts int
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Enroll(context.Background(), "course-c", "user-u", "")
				mu.Lock()
				defer mu.Unlock()
				var apiErr *model.APIError
				switch {
				case err == nil:
					succeeded++
				case errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeAlreadyEnrolled:
					conflicts++
				}
			}()
		}
		wg.Wait()

		if succeeded != 1 {
			t.Fatalf("succeeded = %d, want 1", succeeded)
		}
		if conflicts != callers-1 {
			t.Fatalf("conflicts = %d, want %d", conflicts, callers-1)
		}
		list, _ := store.Enrollments().ListByUserID(context.Background(), "user-u")
		if len(list) != 1 {
			t.Fatalf("stored enrollments = %d, want 1", len(list))
		}
	})
}

// --- VerifyOwner / GetEnrollment ---

func TestVerifyOwner(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()

	got, err := l.Enroll(ctx, "course-c", "user-u", "")
	require.NoError(t, err)

	_, err = l.VerifyOwner(ctx, got.ID, "user-u", true)
	assert.NoError(t, err, "Pending enrollment accepts progress")

	_, err = l.VerifyOwner(ctx, got.ID, "someone-else", false)
	assertAPIError(t, err, model.ErrCodeEnrollmentNotFound)

	_, err = l.VerifyOwner(ctx, "missing", "user-u", false)
	assertAPIError(t, err, model.ErrCodeEnrollmentNotFound)

	ok, err := store.Enrollments().MarkCompleted(ctx, got.ID, fixedNow)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = l.VerifyOwner(ctx, got.ID, "user-u", true)
	assertAPIError(t, err, model.ErrCodeEnrollmentNotFound)

	e, err := l.VerifyOwner(ctx, got.ID, "user-u", false)
	require.NoError(t, err)
	assert.Equal(t, model.EnrollmentStatusCompleted, e.Status)
}

func TestGetEnrollment_OtherUserIsNotFound(t *testing.T) {
	l, _, _ := newTestLedger(t)

	got, err := l.Enroll(context.Background(), "course-c", "user-u", "")
	require.NoError(t, err)

	_, err = l.GetEnrollment(context.Background(), got.ID, "intruder")
	assertAPIError(t, err, model.ErrCodeEnrollmentNotFound)
}

func TestListEnrollments(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Enroll(ctx, "course-c", "user-u", "")
	require.NoError(t, err)
	_, err = l.Enroll(ctx, "course-full", "user-u", "")
	require.NoError(t, err)

	list, err := l.ListEnrollments(ctx, "user-u")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	empty, err := l.ListEnrollments(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
