// Package memory はrepositoryインターフェースのインメモリ実装を提供する。
// PostgreSQLスキーマと同じ一意制約・更新規則を再現し、サービス層のテストと開発用途に使用する。
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/manabiya/internal/model"
	"github.com/hitoshi/manabiya/internal/repository"
)

// Store は全エンティティを保持するインメモリストア。
type Store struct {
	mu sync.RWMutex

	users       map[string]model.User
	categories  map[string]model.Category
	courses     map[string]model.Course
	lessons     map[string]model.Lesson
	enrollments map[string]model.Enrollment
	progress    map[string]model.Progress
	payments    map[string]model.Payment
	sequences   map[string]int

	enrollmentKeys map[[2]string]string // (user_id, course_id) -> id
	progressKeys   map[[2]string]string // (enrollment_id, lesson_id) -> id
	invoiceCodes   map[string]string    // invoice_code -> id
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{
		users:          make(map[string]model.User),
		categories:     make(map[string]model.Category),
		courses:        make(map[string]model.Course),
		lessons:        make(map[string]model.Lesson),
		enrollments:    make(map[string]model.Enrollment),
		progress:       make(map[string]model.Progress),
		payments:       make(map[string]model.Payment),
		sequences:      make(map[string]int),
		enrollmentKeys: make(map[[2]string]string),
		progressKeys:   make(map[[2]string]string),
		invoiceCodes:   make(map[string]string),
	}
}

// PutUser はユーザーを登録または上書きする。
func (s *Store) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutCategory はカテゴリを登録または上書きする。
func (s *Store) PutCategory(c model.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
}

// PutCourse はコースを登録または上書きする。LessonCountは読み取り時に導出する。
func (s *Store) PutCourse(c model.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[c.ID] = c
}

// PutLesson はレッスンを登録または上書きする。
func (s *Store) PutLesson(l model.Lesson) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lessons[l.ID] = l
}

// Catalog はCatalogRepositoryとしてのビューを返す。
func (s *Store) Catalog() *CatalogRepo { return &CatalogRepo{s: s} }

// Users はUserRepositoryとしてのビューを返す。
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

// Enrollments はEnrollmentRepositoryとしてのビューを返す。
func (s *Store) Enrollments() *EnrollmentRepo { return &EnrollmentRepo{s: s} }

// Progress はProgressRepositoryとしてのビューを返す。
func (s *Store) Progress() *ProgressRepo { return &ProgressRepo{s: s} }

// Payments はPaymentRepositoryとしてのビューを返す。
func (s *Store) Payments() *PaymentRepo { return &PaymentRepo{s: s} }

// InvoiceSequences はInvoiceSequenceRepositoryとしてのビューを返す。
func (s *Store) InvoiceSequences(prefix string) *InvoiceSequenceRepo {
	return &InvoiceSequenceRepo{s: s, prefix: prefix}
}

// PingContext は常に成功する。
func (s *Store) PingContext(context.Context) error { return nil }

// publishedLessonCountLocked はコースの公開レッスン数を数える。呼び出し側でロックを保持すること。
func (s *Store) publishedLessonCountLocked(courseID string) int {
	n := 0
	for _, l := range s.lessons {
		if l.CourseID == courseID && l.Status == model.LessonStatusPublished {
			n++
		}
	}
	return n
}

func (s *Store) courseLocked(id string) (model.Course, bool) {
	c, ok := s.courses[id]
	if !ok {
		return c, false
	}
	c.LessonCount = s.publishedLessonCountLocked(id)
	return c, true
}

// CatalogRepo はインメモリのカタログリポジトリ。
type CatalogRepo struct{ s *Store }

func (r *CatalogRepo) FindCourseByID(_ context.Context, id string) (*model.Course, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.courseLocked(id)
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *CatalogRepo) ListPublishedCourses(_ context.Context, categoryID string) ([]*model.Course, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var list []*model.Course
	for id, c := range r.s.courses {
		if c.Status != model.CourseStatusPublished {
			continue
		}
		if categoryID != "" && (c.CategoryID == nil || *c.CategoryID != categoryID) {
			continue
		}
		c, _ = r.s.courseLocked(id)
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Title != list[j].Title {
			return list[i].Title < list[j].Title
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (r *CatalogRepo) FindLessonByID(_ context.Context, id string) (*model.Lesson, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.lessons[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (r *CatalogRepo) ListLessonsByCourse(_ context.Context, courseID string, onlyPublished bool) ([]*model.Lesson, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var list []*model.Lesson
	for _, l := range r.s.lessons {
		if l.CourseID != courseID {
			continue
		}
		if onlyPublished && l.Status != model.LessonStatusPublished {
			continue
		}
		l := l
		list = append(list, &l)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].OrderNumber < list[j].OrderNumber })
	return list, nil
}

func (r *CatalogRepo) CountPublishedLessons(_ context.Context, courseID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.publishedLessonCountLocked(courseID), nil
}

func (r *CatalogRepo) ListCategories(_ context.Context) ([]*model.Category, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var list []*model.Category
	for _, c := range r.s.categories {
		c := c
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// UserRepo はインメモリのユーザーリポジトリ。
type UserRepo struct{ s *Store }

func (r *UserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// EnrollmentRepo はインメモリの受講登録リポジトリ。
type EnrollmentRepo struct{ s *Store }

func (r *EnrollmentRepo) FindByID(_ context.Context, id string) (*model.Enrollment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.enrollments[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *EnrollmentRepo) FindByUserAndCourse(_ context.Context, userID, courseID string) (*model.Enrollment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.enrollmentKeys[[2]string{userID, courseID}]
	if !ok {
		return nil, nil
	}
	e := r.s.enrollments[id]
	return &e, nil
}

func (r *EnrollmentRepo) Create(_ context.Context, e *model.Enrollment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := [2]string{e.UserID, e.CourseID}
	if _, exists := r.s.enrollmentKeys[key]; exists {
		return repository.ErrDuplicate
	}
	if _, exists := r.s.enrollments[e.ID]; exists {
		return repository.ErrDuplicate
	}
	r.s.enrollments[e.ID] = *e
	r.s.enrollmentKeys[key] = e.ID
	return nil
}

func (r *EnrollmentRepo) ListByUserID(_ context.Context, userID string) ([]model.EnrollmentWithCourse, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var list []model.EnrollmentWithCourse
	for _, e := range r.s.enrollments {
		if e.UserID != userID {
			continue
		}
		c, ok := r.s.courseLocked(e.CourseID)
		if !ok {
			continue
		}
		list = append(list, model.EnrollmentWithCourse{Enrollment: e, Course: c})
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (r *EnrollmentRepo) MarkCompleted(_ context.Context, id string, completedAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok || !e.Status.AllowsProgress() {
		return false, nil
	}
	e.Status = model.EnrollmentStatusCompleted
	e.CompletionDate = &completedAt
	e.UpdatedAt = completedAt
	r.s.enrollments[id] = e
	return true, nil
}

func (r *EnrollmentRepo) UpdatePaymentStatus(_ context.Context, id string, status model.PaymentStatus, activate bool, updatedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok {
		return nil
	}
	e.PaymentStatus = status
	if activate && e.Status == model.EnrollmentStatusPending {
		e.Status = model.EnrollmentStatusActive
	}
	e.UpdatedAt = updatedAt
	r.s.enrollments[id] = e
	return nil
}

func (r *EnrollmentRepo) ListOpenIDs(_ context.Context, limit int) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var open []model.Enrollment
	for _, e := range r.s.enrollments {
		if e.Status.AllowsProgress() {
			open = append(open, e)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if !open[i].UpdatedAt.Equal(open[j].UpdatedAt) {
			return open[i].UpdatedAt.Before(open[j].UpdatedAt)
		}
		return open[i].ID < open[j].ID
	})
	var ids []string
	for i := 0; i < len(open) && i < limit; i++ {
		ids = append(ids, open[i].ID)
	}
	return ids, nil
}

// ProgressRepo はインメモリのレッスン進捗リポジトリ。
type ProgressRepo struct{ s *Store }

func (r *ProgressRepo) FindByEnrollmentAndLesson(_ context.Context, enrollmentID, lessonID string) (*model.Progress, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.progressKeys[[2]string{enrollmentID, lessonID}]
	if !ok {
		return nil, nil
	}
	p := r.s.progress[id]
	return &p, nil
}

func (r *ProgressRepo) Create(_ context.Context, p *model.Progress) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := [2]string{p.EnrollmentID, p.LessonID}
	if _, exists := r.s.progressKeys[key]; exists {
		return repository.ErrDuplicate
	}
	r.s.progress[p.ID] = *p
	r.s.progressKeys[key] = p.ID
	return nil
}

// Update はPostgreSQL実装と同様に、開始日時・完了日時は初回の値を保持し、学習時間は大きい方を残す。
func (r *ProgressRepo) Update(_ context.Context, p *model.Progress) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.progress[p.ID]
	if !ok {
		return nil
	}
	if p.Status.Rank() > cur.Status.Rank() {
		cur.Status = p.Status
	}
	if cur.StartDate == nil && p.StartDate != nil {
		t := *p.StartDate
		cur.StartDate = &t
	}
	if cur.CompletionDate == nil && p.CompletionDate != nil {
		t := *p.CompletionDate
		cur.CompletionDate = &t
	}
	if p.LastAccessDate != nil {
		t := *p.LastAccessDate
		cur.LastAccessDate = &t
	} else {
		cur.LastAccessDate = nil
	}
	if p.TimeSpent > cur.TimeSpent {
		cur.TimeSpent = p.TimeSpent
	}
	cur.UpdatedAt = p.UpdatedAt
	r.s.progress[p.ID] = cur
	return nil
}

func (r *ProgressRepo) ListByEnrollment(_ context.Context, enrollmentID string) ([]*model.Progress, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var list []*model.Progress
	for _, p := range r.s.progress {
		if p.EnrollmentID == enrollmentID {
			p := p
			list = append(list, &p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (r *ProgressRepo) CountCompletedPublished(_ context.Context, enrollmentID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.enrollments[enrollmentID]
	if !ok {
		return 0, nil
	}
	return r.s.completedPublishedLocked(e), nil
}

func (s *Store) completedPublishedLocked(e model.Enrollment) int {
	n := 0
	for _, p := range s.progress {
		if p.EnrollmentID != e.ID || p.Status != model.ProgressStatusCompleted {
			continue
		}
		l, ok := s.lessons[p.LessonID]
		if ok && l.CourseID == e.CourseID && l.Status == model.LessonStatusPublished {
			n++
		}
	}
	return n
}

func (r *ProgressRepo) ListCourseProgressByUser(_ context.Context, userID string) ([]model.CourseProgressRow, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var enrollments []model.Enrollment
	for _, e := range r.s.enrollments {
		if e.UserID == userID {
			enrollments = append(enrollments, e)
		}
	}
	sort.Slice(enrollments, func(i, j int) bool {
		if !enrollments[i].CreatedAt.Equal(enrollments[j].CreatedAt) {
			return enrollments[i].CreatedAt.After(enrollments[j].CreatedAt)
		}
		return enrollments[i].ID < enrollments[j].ID
	})

	rows := make([]model.CourseProgressRow, 0, len(enrollments))
	for _, e := range enrollments {
		c, ok := r.s.courses[e.CourseID]
		if !ok {
			continue
		}
		row := model.CourseProgressRow{
			EnrollmentID:     e.ID,
			CourseID:         e.CourseID,
			CourseTitle:      c.Title,
			Status:           e.Status,
			TotalLessons:     r.s.publishedLessonCountLocked(e.CourseID),
			CompletedLessons: r.s.completedPublishedLocked(e),
		}
		for _, p := range r.s.progress {
			if p.EnrollmentID != e.ID || p.LastAccessDate == nil {
				continue
			}
			if row.LastAccessed == nil || p.LastAccessDate.After(*row.LastAccessed) {
				t := *p.LastAccessDate
				row.LastAccessed = &t
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// PaymentRepo はインメモリの支払いリポジトリ。
type PaymentRepo struct{ s *Store }

func (r *PaymentRepo) FindByID(_ context.Context, id string) (*model.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *PaymentRepo) Create(_ context.Context, p *model.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.invoiceCodes[p.InvoiceCode]; exists {
		return repository.ErrDuplicate
	}
	r.s.payments[p.ID] = *p
	r.s.invoiceCodes[p.InvoiceCode] = p.ID
	return nil
}

func (r *PaymentRepo) UpdateStatus(_ context.Context, id string, status model.PaymentStatus, transactionID *string, updatedAt time.Time) (*model.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, nil
	}
	p.Status = status
	if transactionID != nil {
		tx := *transactionID
		p.TransactionID = &tx
	}
	p.UpdatedAt = updatedAt
	r.s.payments[id] = p
	return &p, nil
}

func (r *PaymentRepo) ListByUserID(_ context.Context, userID string) ([]*model.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var list []*model.Payment
	for _, p := range r.s.payments {
		if p.UserID == userID {
			p := p
			list = append(list, &p)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (r *PaymentRepo) MaxInvoiceSequence(_ context.Context, prefix string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.maxInvoiceSequenceLocked(prefix), nil
}

func (s *Store) maxInvoiceSequenceLocked(prefix string) int {
	max := 0
	for code := range s.invoiceCodes {
		if !strings.HasPrefix(code, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(code, prefix))
		if err == nil && n > max {
			max = n
		}
	}
	return max
}

// InvoiceSequenceRepo はインメモリの日別連番カウンタ。
type InvoiceSequenceRepo struct {
	s      *Store
	prefix string
}

// Next はPostgreSQL実装と同様に、初回は既存の支払いの最大連番+1を返す。
func (r *InvoiceSequenceRepo) Next(_ context.Context, dayKey string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.sequences[dayKey]
	if !ok {
		cur = r.s.maxInvoiceSequenceLocked(r.prefix + "-" + dayKey + "-")
	}
	cur++
	r.s.sequences[dayKey] = cur
	return cur, nil
}

// compile-time interface check
var (
	_ repository.CatalogRepository         = (*CatalogRepo)(nil)
	_ repository.UserRepository            = (*UserRepo)(nil)
	_ repository.EnrollmentRepository      = (*EnrollmentRepo)(nil)
	_ repository.ProgressRepository        = (*ProgressRepo)(nil)
	_ repository.PaymentRepository         = (*PaymentRepo)(nil)
	_ repository.InvoiceSequenceRepository = (*InvoiceSequenceRepo)(nil)
	_ repository.HealthChecker             = (*Store)(nil)
)
