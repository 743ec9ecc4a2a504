package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/manabiya/internal/model"
	"github.com/hitoshi/manabiya/internal/progress"
)

// --- カタログ ---

// courseResponse はコース情報のAPIレスポンス。金額は小数点以下2桁の文字列。
type courseResponse struct {
	ID            string    `json:"id"`
	CategoryID    *string   `json:"category_id"`
	Title         string    `json:"title"`
	Price         string    `json:"price"`
	DiscountPrice *string   `json:"discount_price"`
	Status        string    `json:"status"`
	LessonCount   int       `json:"lesson_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// lessonResponse はレッスン情報のAPIレスポンス。
type lessonResponse struct {
	ID          string `json:"id"`
	CourseID    string `json:"course_id"`
	Title       string `json:"title"`
	OrderNumber int    `json:"order_number"`
	Duration    int    `json:"duration"`
	Status      string `json:"status"`
}

// categoryResponse はカテゴリ情報のAPIレスポンス。
type categoryResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// --- 受講登録 ---

// enrollRequest は受講登録リクエストのボディ。
type enrollRequest struct {
	PaymentMethod string `json:"payment_method"`
}

// enrollmentResponse は受講登録のAPIレスポンス。Courseは登録時に結合したコース情報。
type enrollmentResponse struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	CourseID       string          `json:"course_id"`
	Price          string          `json:"price"`
	ExpiryDate     time.Time       `json:"expiry_date"`
	PaymentStatus  string          `json:"payment_status"`
	Status         string          `json:"status"`
	CompletionDate *time.Time      `json:"completion_date"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Course         *courseResponse `json:"course,omitempty"`
}

// --- 進捗 ---

// progressUpdateRequest は進捗更新リクエストのボディ。省略したフィールドは変更しない。
type progressUpdateRequest struct {
	Status    *string `json:"status"`
	TimeSpent *int    `json:"time_spent"`
}

// progressResponse はレッスン進捗のAPIレスポンス。
type progressResponse struct {
	ID             string     `json:"id"`
	EnrollmentID   string     `json:"enrollment_id"`
	LessonID       string     `json:"lesson_id"`
	Status         string     `json:"status"`
	StartDate      *time.Time `json:"start_date"`
	CompletionDate *time.Time `json:"completion_date"`
	LastAccessDate *time.Time `json:"last_access_date"`
	TimeSpent      int        `json:"time_spent"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// lessonProgressResponse はレッスンと進捗を結合した1行のAPIレスポンス。
type lessonProgressResponse struct {
	LessonID       string     `json:"lesson_id"`
	Title          string     `json:"title"`
	OrderNumber    int        `json:"order_number"`
	Duration       int        `json:"duration"`
	Status         string     `json:"status"`
	StartDate      *time.Time `json:"start_date"`
	CompletionDate *time.Time `json:"completion_date"`
	LastAccessDate *time.Time `json:"last_access_date"`
	TimeSpent      int        `json:"time_spent"`
}

// enrollmentProgressResponse は受講登録の進捗詳細のAPIレスポンス。
type enrollmentProgressResponse struct {
	EnrollmentID         string                   `json:"enrollment_id"`
	CourseID             string                   `json:"course_id"`
	CourseTitle          string                   `json:"course_title"`
	Status               string                   `json:"status"`
	CompletionDate       *time.Time               `json:"completion_date"`
	TotalLessons         int                      `json:"total_lessons"`
	CompletedLessons     int                      `json:"completed_lessons"`
	CompletionPercentage int                      `json:"completion_percentage"`
	Lessons              []lessonProgressResponse `json:"lessons"`
}

// courseProgressSummaryResponse はコース別進捗要約のAPIレスポンス。
type courseProgressSummaryResponse struct {
	EnrollmentID         string     `json:"enrollment_id"`
	CourseID             string     `json:"course_id"`
	CourseTitle          string     `json:"course_title"`
	Status               string     `json:"status"`
	TotalLessons         int        `json:"total_lessons"`
	CompletedLessons     int        `json:"completed_lessons"`
	CompletionPercentage int        `json:"completion_percentage"`
	LastAccessed         *time.Time `json:"last_accessed"`
}

// --- 支払い ---

// createPaymentRequest は支払い作成リクエストのボディ。
type createPaymentRequest struct {
	EnrollmentID  string             `json:"enrollment_id"`
	PaymentMethod string             `json:"payment_method"`
	BillingInfo   *model.BillingInfo `json:"billing_info"`
}

// updatePaymentStatusRequest は支払いステータス更新リクエストのボディ。
type updatePaymentStatusRequest struct {
	Status        string  `json:"status"`
	TransactionID *string `json:"transaction_id"`
}

// paymentResponse は支払いのAPIレスポンス。
type paymentResponse struct {
	ID            string             `json:"id"`
	InvoiceCode   string             `json:"invoice_code"`
	EnrollmentID  string             `json:"enrollment_id"`
	UserID        string             `json:"user_id"`
	Amount        string             `json:"amount"`
	PaymentMethod string             `json:"payment_method"`
	Status        string             `json:"status"`
	TransactionID *string            `json:"transaction_id"`
	BillingInfo   *model.BillingInfo `json:"billing_info"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// --- 変換 ---

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func toCourseResponse(c *model.Course) courseResponse {
	resp := courseResponse{
		ID:          c.ID,
		CategoryID:  c.CategoryID,
		Title:       c.Title,
		Price:       formatMoney(c.Price),
		Status:      string(c.Status),
		LessonCount: c.LessonCount,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if c.DiscountPrice != nil {
		dp := formatMoney(*c.DiscountPrice)
		resp.DiscountPrice = &dp
	}
	return resp
}

func toLessonResponse(l *model.Lesson) lessonResponse {
	return lessonResponse{
		ID:          l.ID,
		CourseID:    l.CourseID,
		Title:       l.Title,
		OrderNumber: l.OrderNumber,
		Duration:    l.Duration,
		Status:      string(l.Status),
	}
}

func toEnrollmentResponse(e *model.EnrollmentWithCourse) enrollmentResponse {
	course := toCourseResponse(&e.Course)
	return enrollmentResponse{
		ID:             e.ID,
		UserID:         e.UserID,
		CourseID:       e.CourseID,
		Price:          formatMoney(e.Price),
		ExpiryDate:     e.ExpiryDate,
		PaymentStatus:  string(e.PaymentStatus),
		Status:         string(e.Status),
		CompletionDate: e.CompletionDate,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
		Course:         &course,
	}
}

func toProgressResponse(p *model.Progress) progressResponse {
	return progressResponse{
		ID:             p.ID,
		EnrollmentID:   p.EnrollmentID,
		LessonID:       p.LessonID,
		Status:         string(p.Status),
		StartDate:      p.StartDate,
		CompletionDate: p.CompletionDate,
		LastAccessDate: p.LastAccessDate,
		TimeSpent:      p.TimeSpent,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func toEnrollmentProgressResponse(d *progress.EnrollmentProgressDetail) enrollmentProgressResponse {
	lessons := make([]lessonProgressResponse, len(d.Lessons))
	for i, l := range d.Lessons {
		lessons[i] = lessonProgressResponse{
			LessonID:       l.LessonID,
			Title:          l.Title,
			OrderNumber:    l.OrderNumber,
			Duration:       l.Duration,
			Status:         string(l.Status),
			StartDate:      l.StartDate,
			CompletionDate: l.CompletionDate,
			LastAccessDate: l.LastAccessDate,
			TimeSpent:      l.TimeSpent,
		}
	}
	return enrollmentProgressResponse{
		EnrollmentID:         d.EnrollmentID,
		CourseID:             d.CourseID,
		CourseTitle:          d.CourseTitle,
		Status:               string(d.Status),
		CompletionDate:       d.CompletionDate,
		TotalLessons:         d.TotalLessons,
		CompletedLessons:     d.CompletedLessons,
		CompletionPercentage: d.CompletionPercentage,
		Lessons:              lessons,
	}
}

func toCourseProgressSummaryResponse(s progress.UserCourseProgressSummary) courseProgressSummaryResponse {
	return courseProgressSummaryResponse{
		EnrollmentID:         s.EnrollmentID,
		CourseID:             s.CourseID,
		CourseTitle:          s.CourseTitle,
		Status:               string(s.Status),
		TotalLessons:         s.TotalLessons,
		CompletedLessons:     s.CompletedLessons,
		CompletionPercentage: s.CompletionPercentage,
		LastAccessed:         s.LastAccessed,
	}
}

func toPaymentResponse(p *model.Payment) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		InvoiceCode:   p.InvoiceCode,
		EnrollmentID:  p.EnrollmentID,
		UserID:        p.UserID,
		Amount:        formatMoney(p.Amount),
		PaymentMethod: p.PaymentMethod,
		Status:        string(p.Status),
		TransactionID: p.TransactionID,
		BillingInfo:   p.BillingInfo,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}
